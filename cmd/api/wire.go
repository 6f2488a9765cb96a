package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"promptcraft/internal/infra"
	"promptcraft/internal/infra/geoip"
	"promptcraft/internal/media"
	"promptcraft/internal/providers/a1111"
	"promptcraft/internal/providers/critic"
	"promptcraft/internal/providers/prompt"
	"promptcraft/internal/providers/synth"
	"promptcraft/internal/session"
	"promptcraft/internal/storage"
	"promptcraft/internal/tokenizer"
	"promptcraft/internal/usage"
)

type services struct {
	store    *storage.FileStore
	sessions *session.Manager
	tokens   tokenizer.Counter
	geo      *geoip.Resolver
	db       *pgxpool.Pool
}

func (s *services) close() {
	if s.db != nil {
		s.db.Close()
	}
	_ = s.geo.Close()
}

// build wires the collaborators. Missing credentials leave the matching
// collaborator unset; sessions then report it as a local service error.
func build(ctx context.Context, cfg *infra.Config, logger *infra.Logger) (*services, error) {
	svc := &services{}

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		return nil, err
	}
	svc.store = store
	loader := media.NewLoader(store, &http.Client{Timeout: cfg.SynthTimeout})

	newPrompts, err := buildPrompts(cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := session.Deps{
		Loader: loader,
		Pool:   session.NewPool(cfg.PoolSize),
		Timeouts: session.Timeouts{
			Prompt:  cfg.PromptTimeout,
			Synth:   cfg.SynthTimeout,
			Critic:  cfg.CriticTimeout,
			Refiner: cfg.RefinerTimeout,
		},
		TokenBudget:  cfg.TokenBudget,
		TickInterval: cfg.TickInterval,
		Logger:       logger,
	}

	if cfg.ReplicateAPIToken != "" {
		rep, err := synth.NewReplicate(synth.Options{
			APIToken:    cfg.ReplicateAPIToken,
			BaseURL:     cfg.ReplicateBaseURL,
			Model:       cfg.FluxModel,
			GuidedModel: cfg.FluxGuidedModel,
			HTTPClient:  &http.Client{Timeout: cfg.SynthTimeout},
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		deps.Synth = rep
	} else {
		logger.Warn().Msg("api: REPLICATE_API_TOKEN not set, image synthesis disabled")
	}

	c, err := buildCritic(ctx, cfg, loader, logger)
	if err != nil {
		return nil, err
	}
	if c != nil {
		deps.Critic = c
	}

	refiner, err := a1111.New(a1111.Options{
		BaseURL:    cfg.A1111BaseURL,
		Store:      store,
		Loader:     loader,
		HTTPClient: &http.Client{Timeout: cfg.RefinerTimeout},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	deps.Refiner = refiner

	svc.tokens = tokenizer.New(cfg.TokenizerURL, &http.Client{Timeout: cfg.PromptTimeout}, logger)
	deps.Tokens = svc.tokens

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if pool != nil {
		svc.db = pool
		recorder := usage.NewDBRecorder(infra.NewSQLRunner(pool, logger), logger)
		if err := recorder.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("usage schema: %w", err)
		}
		deps.Usage = recorder
	}

	geo, err := geoip.Open(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	svc.geo = geo

	svc.sessions = session.NewManager(deps, newPrompts, cfg.SessionTTL)
	return svc, nil
}

func buildPrompts(cfg *infra.Config, logger *infra.Logger) (func() session.PromptRefiner, error) {
	logger = infra.LoggerOrDiscard(logger)
	templates, err := prompt.LoadTemplates(cfg.PromptsFile)
	if err != nil {
		return nil, err
	}
	opts := prompt.Options{Templates: templates, Retention: prompt.ParseRetention(cfg.PromptRetention)}

	var completer prompt.Completer
	switch {
	case cfg.PromptProvider == "static":
		completer = prompt.NewStaticCompleter()
	case cfg.PromptProvider == "local":
		completer, err = prompt.NewChatCompleter(prompt.ChatOptions{
			Service:     "lmstudio",
			BaseURL:     cfg.LocalLLMBaseURL,
			Model:       cfg.LocalLLMModel,
			Sampling:    prompt.DefaultSampling(),
			Timeout:     cfg.PromptTimeout,
			Logger:      logger,
			KeyOptional: true,
		})
	case cfg.TogetherAPIKey == "":
		logger.Warn().Msg("api: TOGETHER_API_KEY not set, using the static prompt refiner")
		completer = prompt.NewStaticCompleter()
	default:
		completer, err = prompt.NewChatCompleter(prompt.ChatOptions{
			Service:  "together",
			APIKey:   cfg.TogetherAPIKey,
			BaseURL:  cfg.TogetherBaseURL,
			Model:    cfg.PromptModel,
			Sampling: prompt.DefaultSampling(),
			Timeout:  cfg.PromptTimeout,
			Logger:   logger,
		})
	}
	if err != nil {
		return nil, err
	}
	factory := prompt.NewFactory(completer, opts)
	return func() session.PromptRefiner { return factory() }, nil
}

func buildCritic(ctx context.Context, cfg *infra.Config, loader *media.Loader, logger *infra.Logger) (session.Critic, error) {
	httpClient := &http.Client{Timeout: cfg.CriticTimeout}
	switch cfg.CriticProvider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			logger.Warn().Msg("api: GEMINI_API_KEY not set, critique disabled")
			return nil, nil
		}
		return critic.NewGemini(ctx, critic.Options{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			Loader:     loader,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	default:
		if cfg.TogetherAPIKey == "" {
			logger.Warn().Msg("api: TOGETHER_API_KEY not set, critique disabled")
			return nil, nil
		}
		return critic.NewVision(critic.Options{
			APIKey:     cfg.TogetherAPIKey,
			BaseURL:    cfg.TogetherBaseURL,
			Model:      cfg.CriticModel,
			Loader:     loader,
			HTTPClient: httpClient,
			Logger:     logger,
		})
	}
}
