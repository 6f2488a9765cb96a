package prompt

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"promptcraft/internal/domain"
	"promptcraft/internal/infra"
)

// Completer turns an ordered message list into the assistant's reply.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Sampling carries the generation parameters; zero values are omitted from
// the request so local servers use their own defaults.
type Sampling struct {
	MaxTokens   int
	Temperature float32
	TopP        float32
	Stop        []string
}

// DefaultSampling mirrors the hosted Llama 3.2 instruct settings.
func DefaultSampling() Sampling {
	return Sampling{
		MaxTokens:   512,
		Temperature: 0.7,
		TopP:        0.7,
		Stop:        []string{"<|eot_id|>", "<|eom_id|>"},
	}
}

// ChatOptions configures a ChatCompleter.
type ChatOptions struct {
	Service    string
	APIKey     string
	BaseURL    string
	Model      string
	Sampling   Sampling
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *infra.Logger

	// KeyOptional marks a local server that ignores the key (LM Studio).
	KeyOptional bool
}

// ChatCompleter calls an OpenAI-compatible chat completion endpoint
// (Together, LM Studio).
type ChatCompleter struct {
	service  string
	model    string
	sampling Sampling
	client   *openai.Client
	logger   *infra.Logger
}

func NewChatCompleter(opts ChatOptions) (*ChatCompleter, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("prompt: base url is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		return nil, errors.New("prompt: model is required")
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		if !opts.KeyOptional {
			return nil, errors.New("prompt: api key is required")
		}
		// LM Studio ignores the key but the header must be present.
		apiKey = "lm-studio"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	service := opts.Service
	if service == "" {
		service = "chat"
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	cfg.HTTPClient = httpClient
	return &ChatCompleter{
		service:  service,
		model:    model,
		sampling: opts.Sampling,
		client:   openai.NewClientWithConfig(cfg),
		logger:   infra.Component(opts.Logger, "prompt"),
	}, nil
}

// Model returns the configured model identifier.
func (c *ChatCompleter) Model() string { return c.model }

func (c *ChatCompleter) Complete(ctx context.Context, messages []Message) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens:   c.sampling.MaxTokens,
		Temperature: c.sampling.Temperature,
		TopP:        c.sampling.TopP,
		Stop:        c.sampling.Stop,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", chatError(c.service, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.Upstream(c.service, "chat", domain.ErrMalformedPayload)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", domain.Upstream(c.service, "chat", domain.ErrEmptyResult)
	}
	c.logger.Debug().
		Str("model", c.model).
		Int("messages", len(messages)).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Dur("took", time.Since(start)).
		Msg("prompt: chat completion")
	return text, nil
}

func chatError(service string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.UpstreamStatus(service, "chat", apiErr.HTTPStatusCode, errors.New(apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.UpstreamStatus(service, "chat", reqErr.HTTPStatusCode, reqErr.Err)
	}
	return domain.UpstreamFrom(service, "chat", err)
}

var _ Completer = (*ChatCompleter)(nil)
