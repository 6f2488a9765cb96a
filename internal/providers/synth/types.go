package synth

import (
	"context"
	"errors"
	"strings"

	"promptcraft/internal/domain"
)

// Synthesizer renders a prompt into one or more images. A non-empty
// controlImage switches to guided generation conditioned on that image.
type Synthesizer interface {
	Synthesize(ctx context.Context, prompt string, steps int, controlImage string) ([]domain.ImageRef, error)
}

// ControlConfig holds the edge/depth conditioning applied in guided mode.
type ControlConfig struct {
	Type                 string
	GuidanceScale        float64
	Strength             float64
	DepthPreprocessor    string
	SoftEdgePreprocessor string
	ImageToImageStrength float64
	ReturnPreprocessed   bool
}

// FluxConfig enumerates the generation options with their defaults.
type FluxConfig struct {
	Width         int
	Height        int
	Guidance      float64
	OutputFormat  string
	OutputQuality int
	Control       ControlConfig
}

// DefaultFluxConfig returns the 1024x1024 png configuration with canny
// conditioning for guided mode.
func DefaultFluxConfig() FluxConfig {
	return FluxConfig{
		Width:         1024,
		Height:        1024,
		Guidance:      3.5,
		OutputFormat:  "png",
		OutputQuality: 100,
		Control: ControlConfig{
			Type:                 "canny",
			GuidanceScale:        2.5,
			Strength:             0.5,
			DepthPreprocessor:    "DepthAnything",
			SoftEdgePreprocessor: "HED",
			ImageToImageStrength: 0,
			ReturnPreprocessed:   false,
		},
	}
}

// Validate rejects configurations the image API would refuse.
func (c FluxConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 || c.Width%8 != 0 || c.Height%8 != 0 {
		return errors.New("synth: width and height must be positive multiples of 8")
	}
	if c.Guidance < 0 || c.Control.GuidanceScale < 0 {
		return errors.New("synth: guidance must not be negative")
	}
	if c.Control.Strength < 0 || c.Control.Strength > 1 {
		return errors.New("synth: control strength must be within [0,1]")
	}
	switch c.OutputFormat {
	case "png", "jpg", "webp":
	default:
		return errors.New("synth: output format must be png, jpg or webp")
	}
	if c.OutputQuality < 0 || c.OutputQuality > 100 {
		return errors.New("synth: output quality must be within [0,100]")
	}
	return nil
}

// GenerationRequest is the immutable input of one synthesis call.
type GenerationRequest struct {
	Prompt        string
	Width         int
	Height        int
	Steps         int
	Guidance      float64
	OutputFormat  string
	OutputQuality int
	Control       *ControlRequest
}

// ControlRequest is present only for guided generation.
type ControlRequest struct {
	Image string
	ControlConfig
}

// Request builds the GenerationRequest for one call. Conditioning is
// attached only when controlImage is non-empty.
func (c FluxConfig) Request(prompt string, steps int, controlImage string) GenerationRequest {
	req := GenerationRequest{
		Prompt:        strings.TrimSpace(prompt),
		Width:         c.Width,
		Height:        c.Height,
		Steps:         steps,
		Guidance:      c.Guidance,
		OutputFormat:  c.OutputFormat,
		OutputQuality: c.OutputQuality,
	}
	if img := strings.TrimSpace(controlImage); img != "" {
		req.Control = &ControlRequest{Image: img, ControlConfig: c.Control}
	}
	return req
}

// Guided reports whether the request carries a control image.
func (r GenerationRequest) Guided() bool { return r.Control != nil }

type predictionInput struct {
	Prompt            string  `json:"prompt"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Guidance          float64 `json:"guidance"`
	OutputFormat      string  `json:"output_format"`
	OutputQuality     int     `json:"output_quality"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	*controlInput
}

type controlInput struct {
	ControlImage           string  `json:"control_image"`
	ControlType            string  `json:"control_type"`
	GuidanceScale          float64 `json:"guidance_scale"`
	ControlStrength        float64 `json:"control_strength"`
	DepthPreprocessor      string  `json:"depth_preprocessor"`
	SoftEdgePreprocessor   string  `json:"soft_edge_preprocessor"`
	ImageToImageStrength   float64 `json:"image_to_image_strength"`
	ReturnPreprocessedImgs bool    `json:"return_preprocessed_image"`
}

func (r GenerationRequest) input() predictionInput {
	in := predictionInput{
		Prompt:            r.Prompt,
		Width:             r.Width,
		Height:            r.Height,
		Guidance:          r.Guidance,
		OutputFormat:      r.OutputFormat,
		OutputQuality:     r.OutputQuality,
		NumInferenceSteps: r.Steps,
	}
	if r.Control != nil {
		in.controlInput = &controlInput{
			ControlImage:           r.Control.Image,
			ControlType:            r.Control.Type,
			GuidanceScale:          r.Control.GuidanceScale,
			ControlStrength:        r.Control.Strength,
			DepthPreprocessor:      r.Control.DepthPreprocessor,
			SoftEdgePreprocessor:   r.Control.SoftEdgePreprocessor,
			ImageToImageStrength:   r.Control.ImageToImageStrength,
			ReturnPreprocessedImgs: r.Control.ReturnPreprocessed,
		}
	}
	return in
}
