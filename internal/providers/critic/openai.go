package critic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"promptcraft/internal/domain"
	"promptcraft/internal/infra"
	"promptcraft/internal/media"
)

// ImageLoader resolves local references to bytes so they can be inlined.
type ImageLoader interface {
	Load(ctx context.Context, ref domain.ImageRef) ([]byte, string, error)
}

// Options configures a vision critic.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	Critique   Sampling
	Check      Sampling
	Loader     ImageLoader
	HTTPClient *http.Client
	Logger     *infra.Logger
}

func (o Options) withDefaults() Options {
	if o.Critique.MaxTokens == 0 {
		o.Critique = DefaultCritiqueSampling()
	}
	if o.Check.MaxTokens == 0 {
		o.Check = DefaultCheckSampling()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	return o
}

const visionService = "vision"

// Vision critiques through an OpenAI-compatible chat endpoint that accepts
// image_url content parts (Together Llama Vision).
type Vision struct {
	client *openai.Client
	model  string
	opts   Options
	logger *infra.Logger
}

func NewVision(opts Options) (*Vision, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("critic: api key is required")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "meta-llama/Llama-Vision-Free"
	}
	opts = opts.withDefaults()
	cfg := openai.DefaultConfig(opts.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"); base != "" {
		cfg.BaseURL = base
	}
	cfg.HTTPClient = opts.HTTPClient
	return &Vision{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		opts:   opts,
		logger: infra.Component(opts.Logger, "critic"),
	}, nil
}

func (v *Vision) Critique(ctx context.Context, image domain.ImageRef) (string, error) {
	imageURL, err := v.imageURL(ctx, "critique", image)
	if err != nil {
		return "", err
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
		{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
			{Type: openai.ChatMessagePartTypeText, Text: ImageCaption},
		}},
	}
	return v.complete(ctx, "critique", messages, v.opts.Critique)
}

func (v *Vision) CheckText(ctx context.Context, image domain.ImageRef) (bool, string, error) {
	imageURL, err := v.imageURL(ctx, "check text", image)
	if err != nil {
		return false, "", err
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
			{Type: openai.ChatMessagePartTypeText, Text: TextCheckPrompt},
		}},
	}
	reply, err := v.complete(ctx, "check text", messages, v.opts.Check)
	if err != nil {
		return false, "", err
	}
	ok, detail := parseCheck(reply)
	return ok, detail, nil
}

// imageURL returns the remote URL as is, or a data URL for local files the
// upstream cannot reach.
func (v *Vision) imageURL(ctx context.Context, op string, image domain.ImageRef) (string, error) {
	if image.IsZero() {
		return "", domain.Invalid("image", domain.ErrNoImages)
	}
	if !image.IsLocal() {
		return image.URL, nil
	}
	if v.opts.Loader == nil {
		return "", domain.Local(op, errors.New("critic: image loader is not configured"))
	}
	data, mime, err := v.opts.Loader.Load(ctx, image)
	if err != nil {
		return "", err
	}
	return media.DataURL(mime, data), nil
}

func (v *Vision) complete(ctx context.Context, op string, messages []openai.ChatCompletionMessage, s Sampling) (string, error) {
	start := time.Now()
	resp, err := v.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       v.model,
		Messages:    messages,
		MaxTokens:   s.MaxTokens,
		Temperature: s.Temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", domain.UpstreamStatus(visionService, op, apiErr.HTTPStatusCode, errors.New(apiErr.Message))
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			return "", domain.UpstreamStatus(visionService, op, reqErr.HTTPStatusCode, reqErr.Err)
		}
		return "", domain.UpstreamFrom(visionService, op, err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.Upstream(visionService, op, domain.ErrMalformedPayload)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", domain.Upstream(visionService, op, domain.ErrEmptyResult)
	}
	v.logger.Debug().Str("model", v.model).Str("op", op).Dur("took", time.Since(start)).Msg("critic: completion")
	return text, nil
}

var _ Critic = (*Vision)(nil)
