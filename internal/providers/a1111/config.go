package a1111

import "errors"

// Img2ImgConfig are the fixed img2img settings for refinement passes.
type Img2ImgConfig struct {
	Sampler           string
	Steps             int
	Seed              int
	CFGScale          float64
	Width             int
	Height            int
	DenoisingStrength float64
	FaceModel         string
}

func DefaultImg2ImgConfig() Img2ImgConfig {
	return Img2ImgConfig{
		Sampler:           "DPM++ SDE Karras",
		Steps:             8,
		Seed:              -1,
		CFGScale:          3,
		Width:             1024,
		Height:            1024,
		DenoisingStrength: 0.45,
		FaceModel:         "face_yolov8n.pt",
	}
}

func (c Img2ImgConfig) Validate() error {
	if c.Steps <= 0 || c.Width <= 0 || c.Height <= 0 {
		return errors.New("a1111: img2img steps and size must be positive")
	}
	if c.DenoisingStrength < 0 || c.DenoisingStrength > 1 {
		return errors.New("a1111: denoising strength must be within [0,1]")
	}
	return nil
}

// UpscaleConfig drives the extras endpoint.
type UpscaleConfig struct {
	ResizeMode           int
	GFPGANVisibility     float64
	CodeformerVisibility float64
	CodeformerWeight     float64
	Resize               float64
	Crop                 bool
	Upscaler             string
	UpscaleFirst         bool
}

// DefaultUpscaleConfig is a plain 4x ESRGAN pass with no face restorers.
func DefaultUpscaleConfig() UpscaleConfig {
	return UpscaleConfig{
		Resize:   4,
		Crop:     true,
		Upscaler: "ESRGAN_4x",
	}
}

func (c UpscaleConfig) Validate() error {
	if c.Resize < 1 {
		return errors.New("a1111: upscale factor must be at least 1")
	}
	if c.Upscaler == "" {
		return errors.New("a1111: upscaler is required")
	}
	return nil
}

// Txt2ImgConfig holds the SDXL text-to-image settings, including the hires
// fix and the canny ControlNet unit used with a control image.
type Txt2ImgConfig struct {
	Sampler  string
	Steps    int
	CFGScale float64
	Width    int
	Height   int

	Hires            bool
	FirstPhaseWidth  int
	FirstPhaseHeight int
	HiresScale       float64
	HiresUpscaler    string
	HiresDenoise     float64
	FaceRestoration  bool
	FaceModel        string
	ControlModule    string
	ControlModel     string
	ControlWeight    float64
	ControlMode      string
}

func DefaultTxt2ImgConfig() Txt2ImgConfig {
	return Txt2ImgConfig{
		Sampler:          "DPM++ SDE Karras",
		Steps:            8,
		CFGScale:         3,
		Width:            768,
		Height:           1024,
		Hires:            true,
		FirstPhaseWidth:  512,
		FirstPhaseHeight: 512,
		HiresScale:       2,
		HiresUpscaler:    "Latent",
		HiresDenoise:     0.7,
		FaceModel:        "face_yolov8n.pt",
		ControlModule:    "canny",
		ControlModel:     "diffusers_xl_canny_mid [112a778d]",
		ControlWeight:    0.5,
		ControlMode:      "Balanced",
	}
}

func (c Txt2ImgConfig) Validate() error {
	if c.Steps <= 0 || c.Width <= 0 || c.Height <= 0 {
		return errors.New("a1111: txt2img steps and size must be positive")
	}
	if c.Hires && c.HiresScale < 1 {
		return errors.New("a1111: hires scale must be at least 1")
	}
	return nil
}
