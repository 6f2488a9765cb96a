package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"promptcraft/internal/domain"
	"promptcraft/internal/infra"
)

const serviceName = "replicate"

// ErrMissingToken indicates that the client was configured without credentials.
var ErrMissingToken = errors.New("replicate: api token is required")

// Options configures the Replicate client.
type Options struct {
	APIToken     string
	BaseURL      string
	Model        string
	GuidedModel  string
	Config       FluxConfig
	HTTPClient   *http.Client
	Logger       *infra.Logger
	PollInterval time.Duration
}

// Replicate runs flux models through the Replicate predictions API.
type Replicate struct {
	token        string
	baseURL      string
	model        string
	guidedModel  string
	config       FluxConfig
	httpClient   *http.Client
	logger       *infra.Logger
	pollInterval time.Duration
	now          func() time.Time
}

type createPrediction struct {
	Version string          `json:"version,omitempty"`
	Input   predictionInput `json:"input"`
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
}

// NewReplicate constructs a client with defaults for anything left empty.
func NewReplicate(opts Options) (*Replicate, error) {
	token := strings.TrimSpace(opts.APIToken)
	if token == "" {
		return nil, ErrMissingToken
	}
	cfg := opts.Config
	if cfg.Width == 0 {
		cfg = DefaultFluxConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "black-forest-labs/flux-schnell"
	}
	guided := strings.TrimSpace(opts.GuidedModel)
	if guided == "" {
		guided = "xlabs-ai/flux-dev-controlnet:f2c31c31d81278a91b2447a304dae654c64a5d5a70340fba811bb1cbd41019a2"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	return &Replicate{
		token:        token,
		baseURL:      baseURL,
		model:        model,
		guidedModel:  guided,
		config:       cfg,
		httpClient:   httpClient,
		logger:       infra.Component(opts.Logger, "synth"),
		pollInterval: poll,
		now:          time.Now,
	}, nil
}

// Synthesize runs one prediction and returns its image URLs.
func (c *Replicate) Synthesize(ctx context.Context, prompt string, steps int, controlImage string) ([]domain.ImageRef, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.Invalid("prompt", domain.ErrEmptyPrompt)
	}
	req := c.config.Request(prompt, steps, controlImage)
	model := c.model
	source := domain.SourceFlux
	if req.Guided() {
		model = c.guidedModel
		source = domain.SourceFluxGuided
	}

	endpoint, payload := c.predictionTarget(model, req)
	var pred prediction
	if err := c.do(ctx, http.MethodPost, endpoint, payload, &pred); err != nil {
		return nil, err
	}
	for !terminal(pred.Status) {
		if pred.URLs.Get == "" {
			return nil, domain.Upstream(serviceName, "poll", fmt.Errorf("prediction %s has no poll url", pred.ID))
		}
		select {
		case <-ctx.Done():
			return nil, domain.UpstreamFrom(serviceName, "poll", ctx.Err())
		case <-time.After(c.pollInterval):
		}
		if err := c.do(ctx, http.MethodGet, pred.URLs.Get, nil, &pred); err != nil {
			return nil, err
		}
	}
	if pred.Status != "succeeded" {
		return nil, domain.Upstream(serviceName, "predict", fmt.Errorf("prediction %s %s: %v", pred.ID, pred.Status, pred.Error))
	}

	urls, err := outputURLs(pred.Output)
	if err != nil {
		return nil, domain.Upstream(serviceName, "decode output", err)
	}
	if len(urls) == 0 {
		return nil, domain.Upstream(serviceName, "predict", domain.ErrEmptyResult)
	}
	created := c.now()
	refs := make([]domain.ImageRef, 0, len(urls))
	for _, u := range urls {
		refs = append(refs, domain.ImageRef{URL: u, Source: source, CreatedAt: created})
	}
	c.logger.Debug().
		Str("model", model).
		Str("prediction", pred.ID).
		Int("steps", req.Steps).
		Bool("guided", req.Guided()).
		Int("images", len(refs)).
		Msg("replicate: prediction succeeded")
	return refs, nil
}

// predictionTarget picks the endpoint for model. "owner/name:version"
// pins a version; "owner/name" runs the model's latest deployment.
func (c *Replicate) predictionTarget(model string, req GenerationRequest) (string, createPrediction) {
	payload := createPrediction{Input: req.input()}
	if _, version, ok := strings.Cut(model, ":"); ok && version != "" {
		payload.Version = version
		return c.baseURL + "/predictions", payload
	}
	return c.baseURL + "/models/" + model + "/predictions", payload
}

func (c *Replicate) do(ctx context.Context, method, endpoint string, payload any, out *prediction) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("replicate: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("replicate: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Prefer", "wait")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.UpstreamFrom(serviceName, "http request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.UpstreamFrom(serviceName, "read response", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
			return domain.UpstreamStatus(serviceName, "predict", resp.StatusCode, errors.New(detail.Detail))
		}
		return domain.UpstreamStatus(serviceName, "predict", resp.StatusCode, errors.New(strings.TrimSpace(string(raw))))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.Upstream(serviceName, "decode response", fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err))
	}
	return nil
}

func terminal(status string) bool {
	switch status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

// outputURLs accepts both the list and the single-string output shapes.
func outputURLs(raw json.RawMessage) ([]string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(trimmed, &list); err == nil {
		return compact(list), nil
	}
	var single string
	if err := json.Unmarshal(trimmed, &single); err == nil {
		return compact([]string{single}), nil
	}
	return nil, fmt.Errorf("%w: unexpected output %s", domain.ErrMalformedPayload, string(trimmed))
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var _ Synthesizer = (*Replicate)(nil)
