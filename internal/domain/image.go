package domain

import (
	"strings"
	"time"
)

// ImageSource identifies which collaborator produced an image.
type ImageSource string

const (
	SourceFlux        ImageSource = "flux"
	SourceFluxGuided  ImageSource = "flux-guided"
	SourceSDXLImg2Img ImageSource = "sdxl-img2img"
	SourceSDXLUpscale ImageSource = "sdxl-upscale"
	SourceSDXLTxt2Img ImageSource = "sdxl-txt2img"
)

// ImageRef points at a produced image. URL is always set; LocalPath is set
// for images rendered by the local service and persisted in the asset store.
type ImageRef struct {
	URL       string      `json:"url"`
	LocalPath string      `json:"local_path,omitempty"`
	Source    ImageSource `json:"source"`
	CreatedAt time.Time   `json:"created_at"`
}

// IsLocal reports whether the image lives in the local asset store.
func (r ImageRef) IsLocal() bool {
	return strings.TrimSpace(r.LocalPath) != ""
}

// IsZero reports whether the reference is empty.
func (r ImageRef) IsZero() bool {
	return strings.TrimSpace(r.URL) == "" && !r.IsLocal()
}
