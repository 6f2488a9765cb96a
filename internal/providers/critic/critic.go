// Package critic asks a vision model for improvement suggestions on a
// rendered image.
package critic

import (
	"context"
	"strings"

	"promptcraft/internal/domain"
)

// Critic reviews images.
type Critic interface {
	// Critique returns free-text suggestions covering the rubric.
	Critique(ctx context.Context, image domain.ImageRef) (string, error)
	// CheckText reports whether text rendered in the image reads correctly.
	// When ok is false, detail carries the model's explanation.
	CheckText(ctx context.Context, image domain.ImageRef) (ok bool, detail string, err error)
}

// Rubric lists the aspects every critique considers.
var Rubric = []string{"composition", "pose", "lighting", "colour", "contrast", "scene"}

const (
	// SystemPrompt frames the reviewer persona.
	SystemPrompt = "You are a professional stable diffusion artist. make suggestions to improve the attached image. " +
		"Consider the composition, pose, lighting, colour, contrast, scene."
	// ImageCaption accompanies the image in the user turn.
	ImageCaption = "here is the image"
	// TextCheckPrompt asks for a read of any text in the image.
	TextCheckPrompt = "Read any text that appears in the attached image and determine whether it contains " +
		"nonsensical words. If there are no problems begin your response with " + OKSentinel + " : "
	// OKSentinel prefixes a reply that found no text problems.
	OKSentinel = "!@!"
)

// Sampling is the generation setup for vision calls.
type Sampling struct {
	MaxTokens   int
	Temperature float32
}

// DefaultCritiqueSampling keeps critiques focused.
func DefaultCritiqueSampling() Sampling {
	return Sampling{MaxTokens: 1024, Temperature: 0.1}
}

// DefaultCheckSampling is used for the text check.
func DefaultCheckSampling() Sampling {
	return Sampling{MaxTokens: 1024, Temperature: 0.3}
}

// parseCheck interprets a text-check reply.
func parseCheck(reply string) (bool, string) {
	reply = strings.TrimSpace(reply)
	if rest, ok := strings.CutPrefix(reply, OKSentinel); ok {
		return true, strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(rest), ":"))
	}
	return false, reply
}
