package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	CORSOrigins      []string

	StoragePath    string
	StorageBaseURL string

	PromptProvider  string
	PromptRetention string
	TogetherAPIKey  string
	TogetherBaseURL string
	PromptModel     string
	LocalLLMBaseURL string
	LocalLLMModel   string
	PromptsFile     string
	PromptTimeout   time.Duration

	CriticProvider string
	CriticModel    string
	GeminiAPIKey   string
	GeminiModel    string
	CriticTimeout  time.Duration

	ReplicateAPIToken string
	ReplicateBaseURL  string
	FluxModel         string
	FluxGuidedModel   string
	SynthTimeout      time.Duration

	A1111BaseURL   string
	RefinerTimeout time.Duration

	TokenizerURL string
	TokenBudget  int

	PoolSize     int
	SessionTTL   time.Duration
	TickInterval time.Duration

	DatabaseURL string
	GeoIPDBPath string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             port,
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSOrigins:      getEnvList("CORS_ORIGINS"),

		StoragePath:    getEnv("STORAGE_PATH", "./images"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", fmt.Sprintf("http://localhost:%s/images", port)),

		PromptProvider:  strings.ToLower(getEnv("PROMPT_PROVIDER", "together")),
		PromptRetention: strings.ToLower(getEnv("PROMPT_RETENTION", "conversation")),
		TogetherAPIKey:  os.Getenv("TOGETHER_API_KEY"),
		TogetherBaseURL: getEnv("TOGETHER_BASE_URL", "https://api.together.xyz/v1"),
		PromptModel:     getEnv("PROMPT_MODEL", "meta-llama/Llama-3.2-3B-Instruct-Turbo"),
		LocalLLMBaseURL: getEnv("LOCAL_LLM_BASE_URL", "http://localhost:1234/v1"),
		LocalLLMModel:   getEnv("LOCAL_LLM_MODEL", "lmstudio-community/Llama-3.2-3B-Instruct-GGUF"),
		PromptsFile:     os.Getenv("PROMPTS_FILE"),
		PromptTimeout:   time.Second * time.Duration(getEnvInt("PROMPT_TIMEOUT_SECONDS", 60)),

		CriticProvider: strings.ToLower(getEnv("CRITIC_PROVIDER", "together")),
		CriticModel:    getEnv("CRITIC_MODEL", "meta-llama/Llama-Vision-Free"),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		CriticTimeout:  time.Second * time.Duration(getEnvInt("CRITIC_TIMEOUT_SECONDS", 90)),

		ReplicateAPIToken: os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL:  getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		FluxModel:         getEnv("FLUX_MODEL", "black-forest-labs/flux-schnell"),
		FluxGuidedModel:   getEnv("FLUX_GUIDED_MODEL", "xlabs-ai/flux-dev-controlnet:f2c31c31d81278a91b2447a304dae654c64a5d5a70340fba811bb1cbd41019a2"),
		SynthTimeout:      time.Second * time.Duration(getEnvInt("SYNTH_TIMEOUT_SECONDS", 180)),

		A1111BaseURL:   getEnv("A1111_BASE_URL", "http://127.0.0.1:7860"),
		RefinerTimeout: time.Second * time.Duration(getEnvInt("REFINER_TIMEOUT_SECONDS", 300)),

		TokenizerURL: os.Getenv("TOKENIZER_URL"),
		TokenBudget:  getEnvInt("TOKEN_BUDGET", 256),

		PoolSize:     getEnvInt("POOL_SIZE", 4),
		SessionTTL:   time.Minute * time.Duration(getEnvInt("SESSION_TTL_MINUTES", 120)),
		TickInterval: time.Millisecond * time.Duration(getEnvInt("TICK_MILLIS", 100)),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),
	}

	switch cfg.PromptProvider {
	case "together", "local", "static":
	default:
		return nil, fmt.Errorf("PROMPT_PROVIDER must be one of together, local, static")
	}
	switch cfg.PromptRetention {
	case "conversation", "fresh":
	default:
		return nil, fmt.Errorf("PROMPT_RETENTION must be conversation or fresh")
	}
	switch cfg.CriticProvider {
	case "together", "gemini":
	default:
		return nil, fmt.Errorf("CRITIC_PROVIDER must be together or gemini")
	}
	if _, err := url.Parse(cfg.StorageBaseURL); err != nil {
		return nil, fmt.Errorf("STORAGE_BASE_URL is invalid: %w", err)
	}
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	if cfg.TokenBudget < 1 {
		return nil, fmt.Errorf("TOKEN_BUDGET must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
