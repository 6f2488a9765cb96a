package tokenizer

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

const serviceName = "tokenizer"

// Remote counts with a text-embeddings-inference server loaded with the
// CLIP tokenizer.
type Remote struct {
	endpoint   string
	httpClient *http.Client
	logger     *infra.Logger
}

func NewRemote(baseURL string, httpClient *http.Client, logger *infra.Logger) *Remote {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Remote{
		endpoint:   strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/tokenize",
		httpClient: httpClient,
		logger:     infra.Component(logger, "tokenizer"),
	}
}

type tokenizeRequest struct {
	Inputs           string `json:"inputs"`
	AddSpecialTokens bool   `json:"add_special_tokens"`
}

type token struct {
	ID      int  `json:"id"`
	Special bool `json:"special"`
}

func (r *Remote) Count(ctx context.Context, text string) (int, error) {
	body, err := json.Marshal(tokenizeRequest{Inputs: text})
	if err != nil {
		return 0, fmt.Errorf("tokenizer: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("tokenizer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, domain.UpstreamFrom(serviceName, "tokenize", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, domain.UpstreamFrom(serviceName, "tokenize", err)
	}
	if resp.StatusCode >= 300 {
		return 0, domain.UpstreamStatus(serviceName, "tokenize", resp.StatusCode, errors.New(strings.TrimSpace(string(raw))))
	}
	var batches [][]token
	if err := json.Unmarshal(raw, &batches); err != nil {
		return 0, domain.Upstream(serviceName, "decode response", fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err))
	}
	if len(batches) == 0 {
		return 0, nil
	}
	n := 0
	for _, t := range batches[0] {
		if !t.Special {
			n++
		}
	}
	r.logger.Debug().Int("tokens", n).Msg("tokenizer: counted")
	return n, nil
}

var _ Counter = (*Remote)(nil)
