// Package tokenizer measures prompts against the text encoder's token budget.
package tokenizer

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"promptcraft/internal/infra"
)

// DefaultBudget is the prompt length the image models attend to.
const DefaultBudget = 256

// Counter returns the number of encoder tokens in text.
type Counter interface {
	Count(ctx context.Context, text string) (int, error)
}

// Report is a measured prompt.
type Report struct {
	Count  int  `json:"count"`
	Budget int  `json:"budget"`
	Over   bool `json:"over"`
}

// Measure counts text and compares it to budget.
func Measure(ctx context.Context, c Counter, text string, budget int) (Report, error) {
	if budget <= 0 {
		budget = DefaultBudget
	}
	n, err := c.Count(ctx, text)
	if err != nil {
		return Report{}, err
	}
	return Report{Count: n, Budget: budget, Over: n > budget}, nil
}

// New returns a remote counter when url is set, otherwise the local
// approximation.
func New(url string, httpClient *http.Client, logger *infra.Logger) Counter {
	if strings.TrimSpace(url) == "" {
		return Approx{}
	}
	return NewRemote(url, httpClient, logger)
}

// CLIP pre-tokenization: contractions, letter runs, single digits and
// punctuation runs.
var pretokenize = regexp.MustCompile(`(?i)'s|'t|'re|'ve|'m|'ll|'d|\p{L}+|\p{N}|[^\s\p{L}\p{N}]+`)

// maxPieceRunes approximates the longest whole word in the BPE vocabulary.
const maxPieceRunes = 8

// Approx estimates CLIP BPE token counts without the vocabulary. Common
// words map to a single token; longer words split roughly every eight
// characters.
type Approx struct{}

func (Approx) Count(ctx context.Context, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	for _, piece := range pretokenize.FindAllString(strings.ToLower(text), -1) {
		runes := utf8.RuneCountInString(piece)
		n += (runes + maxPieceRunes - 1) / maxPieceRunes
	}
	return n, nil
}

var _ Counter = Approx{}
