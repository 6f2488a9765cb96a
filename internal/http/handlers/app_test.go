package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"promptcraft/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unknown session", domain.ErrSessionNotFound, http.StatusNotFound, "not_found"},
		{"busy", fmt.Errorf("generate: %w", domain.ErrBusy), http.StatusConflict, "busy"},
		{"validation", domain.Invalid("prompt", domain.ErrEmptyPrompt), http.StatusBadRequest, "invalid"},
		{"upstream", domain.UpstreamStatus("replicate", "predict", 500, errors.New("boom")), http.StatusBadGateway, "upstream"},
		{"timeout", domain.UpstreamFrom("replicate", "predict", context.DeadlineExceeded), http.StatusGatewayTimeout, "upstream_timeout"},
		{"local service", domain.Local("img2img", errors.New("refused")), http.StatusServiceUnavailable, "local_service"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, code := statusFor(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("statusFor() = %d %q, want %d %q", status, code, tc.status, tc.code)
			}
		})
	}
}
