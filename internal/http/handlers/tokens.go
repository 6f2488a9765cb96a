package handlers

import (
	"net/http"
	"strings"

	"promptcraft/internal/domain/jsoncfg"
	"promptcraft/internal/tokenizer"
)

type tokensResponse struct {
	tokenizer.Report
	Approximate bool `json:"approximate"`
}

// CountTokens counts text against the prompt budget. A failing counter falls
// back to the local approximation.
func (a *App) CountTokens(w http.ResponseWriter, r *http.Request) {
	var req jsoncfg.TokenRequest
	if !a.decode(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	report, err := tokenizer.Measure(r.Context(), a.Tokens, text, a.TokenBudget)
	if err != nil {
		a.Logger.Warn().Err(err).Msg("http: token count failed, using approximation")
		report, _ = tokenizer.Measure(r.Context(), tokenizer.Approx{}, text, a.TokenBudget)
		a.json(w, http.StatusOK, tokensResponse{Report: report, Approximate: true})
		return
	}
	_, approx := a.Tokens.(tokenizer.Approx)
	a.json(w, http.StatusOK, tokensResponse{Report: report, Approximate: approx})
}
