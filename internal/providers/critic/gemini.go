package critic

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"promptcraft/internal/domain"
	"promptcraft/internal/infra"
)

const geminiService = "gemini"

// Gemini critiques through the Gemini API. Images are always sent inline.
type Gemini struct {
	client *genai.Client
	model  string
	opts   Options
	logger *infra.Logger
}

func NewGemini(ctx context.Context, opts Options) (*Gemini, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("critic: gemini api key is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("critic: gemini requires an image loader")
	}
	opts = opts.withDefaults()
	cfg := &genai.ClientConfig{
		APIKey:     opts.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: opts.HTTPClient,
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{client: client, model: model, opts: opts, logger: infra.Component(opts.Logger, "critic")}, nil
}

func (g *Gemini) Critique(ctx context.Context, image domain.ImageRef) (string, error) {
	return g.generate(ctx, "critique", image, SystemPrompt, ImageCaption, g.opts.Critique)
}

func (g *Gemini) CheckText(ctx context.Context, image domain.ImageRef) (bool, string, error) {
	reply, err := g.generate(ctx, "check text", image, "", TextCheckPrompt, g.opts.Check)
	if err != nil {
		return false, "", err
	}
	ok, detail := parseCheck(reply)
	return ok, detail, nil
}

func (g *Gemini) generate(ctx context.Context, op string, image domain.ImageRef, system, text string, s Sampling) (string, error) {
	if image.IsZero() {
		return "", domain.Invalid("image", domain.ErrNoImages)
	}
	data, mime, err := g.opts.Loader.Load(ctx, image)
	if err != nil {
		return "", err
	}
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mime, Data: data}},
		genai.NewPartFromText(text),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(s.Temperature),
		MaxOutputTokens: int32(s.MaxTokens),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", domain.UpstreamStatus(geminiService, op, apiErr.Code, errors.New(apiErr.Message))
		}
		return "", domain.UpstreamFrom(geminiService, op, err)
	}
	reply := strings.TrimSpace(resp.Text())
	if reply == "" {
		return "", domain.Upstream(geminiService, op, domain.ErrEmptyResult)
	}
	g.logger.Debug().Str("model", g.model).Str("op", op).Dur("took", time.Since(start)).Msg("critic: gemini")
	return reply, nil
}

var _ Critic = (*Gemini)(nil)
