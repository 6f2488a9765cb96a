// Package jsoncfg holds the JSON request bodies accepted by the HTTP API.
package jsoncfg

import (
	"strings"

	"promptcraft/internal/domain"
)

// MaxSteps caps step counts accepted from clients.
const MaxSteps = 50

// PromptRequest asks for a refined prompt from a seed idea.
type PromptRequest struct {
	Seed  string `json:"seed"`
	Style string `json:"style"`
}

// Validate trims the seed and resolves the style. An empty style is the
// default style.
func (p *PromptRequest) Validate() (domain.Style, error) {
	p.Seed = strings.TrimSpace(p.Seed)
	if p.Seed == "" {
		return "", domain.Invalid("seed", domain.ErrEmptySeed)
	}
	return domain.ParseStyle(p.Style)
}

// PromptEdit replaces the session prompt by hand.
type PromptEdit struct {
	Prompt string `json:"prompt"`
}

// CritiqueRequest folds a critique into the prompt. Empty means the
// session's last critique.
type CritiqueRequest struct {
	Critique string `json:"critique"`
}

// GenerateRequest asks for synthesized images. Zero steps picks the mode
// default.
type GenerateRequest struct {
	Steps  int  `json:"steps"`
	Guided bool `json:"guided"`
}

// Normalize clamps Steps into [0, MaxSteps].
func (g *GenerateRequest) Normalize() {
	if g.Steps < 0 {
		g.Steps = 0
	}
	if g.Steps > MaxSteps {
		g.Steps = MaxSteps
	}
}

// RefineRequest asks for an img2img pass over the selected image. An empty
// prompt falls back to the session prompt.
type RefineRequest struct {
	Prompt          string `json:"prompt"`
	FaceRestoration *bool  `json:"face_restoration"`
}

// Face reports whether face restoration is requested; it defaults to on.
func (r RefineRequest) Face() bool {
	if r.FaceRestoration == nil {
		return true
	}
	return *r.FaceRestoration
}

// SDXLRequest asks for a local text-to-image render.
type SDXLRequest struct {
	Prompt  string `json:"prompt"`
	Control bool   `json:"control"`
}

// SelectRequest moves the image selection.
type SelectRequest struct {
	Index *int `json:"index"`
}

// TokenRequest asks for a token count.
type TokenRequest struct {
	Text string `json:"text"`
}
