// Package a1111 drives a local AUTOMATIC1111 Stable Diffusion web UI for
// img2img refinement, ESRGAN upscaling and SDXL text-to-image renders.
package a1111

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"promptcraft/internal/domain"
	"promptcraft/internal/infra"
	"promptcraft/internal/storage"
)

const serviceName = "a1111"

// ImageLoader fetches source images, local or remote.
type ImageLoader interface {
	Load(ctx context.Context, ref domain.ImageRef) ([]byte, string, error)
}

// Options configures the client.
type Options struct {
	BaseURL    string
	Img2Img    Img2ImgConfig
	Upscale    UpscaleConfig
	Txt2Img    Txt2ImgConfig
	Store      *storage.FileStore
	Loader     ImageLoader
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to the web UI's /sdapi/v1 endpoints and writes every result
// into the asset store.
type Client struct {
	baseURL    string
	img2img    Img2ImgConfig
	upscale    UpscaleConfig
	txt2img    Txt2ImgConfig
	store      *storage.FileStore
	loader     ImageLoader
	httpClient *http.Client
	logger     *infra.Logger
	now        func() time.Time
}

type script struct {
	Args []map[string]any `json:"args"`
}

type img2imgPayload struct {
	Prompt            string            `json:"prompt"`
	SamplerName       string            `json:"sampler_name"`
	Steps             int               `json:"steps"`
	Seed              int               `json:"seed"`
	CFGScale          float64           `json:"cfg_scale"`
	Width             int               `json:"width"`
	Height            int               `json:"height"`
	DenoisingStrength float64           `json:"denoising_strength"`
	InitImages        []string          `json:"init_images"`
	AlwaysOnScripts   map[string]script `json:"alwayson_scripts"`
}

type upscalePayload struct {
	ResizeMode           int     `json:"resize_mode"`
	GFPGANVisibility     float64 `json:"gfpgan_visibility"`
	CodeformerVisibility float64 `json:"codeformer_visibility"`
	CodeformerWeight     float64 `json:"codeformer_weight"`
	UpscalingResize      float64 `json:"upscaling_resize"`
	UpscalingCrop        bool    `json:"upscaling_crop"`
	Upscaler1            string  `json:"upscaler_1"`
	UpscaleFirst         bool    `json:"upscale_first"`
	Image                string  `json:"image"`
}

type txt2imgPayload struct {
	Prompt            string            `json:"prompt"`
	Steps             int               `json:"steps"`
	CFGScale          float64           `json:"cfg_scale"`
	Width             int               `json:"width"`
	Height            int               `json:"height"`
	SamplerName       string            `json:"sampler_name"`
	EnableHR          bool              `json:"enable_hr"`
	FirstPhaseWidth   int               `json:"firstphase_width,omitempty"`
	FirstPhaseHeight  int               `json:"firstphase_height,omitempty"`
	HRScale           float64           `json:"hr_scale,omitempty"`
	HRUpscaler        string            `json:"hr_upscaler,omitempty"`
	HRSecondPassSteps *int              `json:"hr_second_pass_steps,omitempty"`
	DenoisingStrength float64           `json:"denoising_strength,omitempty"`
	AlwaysOnScripts   map[string]script `json:"alwayson_scripts,omitempty"`
}

type imagesResponse struct {
	Images []string `json:"images"`
}

type singleImageResponse struct {
	Image string `json:"image"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// New validates the configuration and applies defaults.
func New(opts Options) (*Client, error) {
	if opts.Store == nil {
		return nil, errors.New("a1111: asset store is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("a1111: image loader is required")
	}
	if opts.Img2Img.Steps == 0 {
		opts.Img2Img = DefaultImg2ImgConfig()
	}
	if opts.Upscale.Upscaler == "" {
		opts.Upscale = DefaultUpscaleConfig()
	}
	if opts.Txt2Img.Steps == 0 {
		opts.Txt2Img = DefaultTxt2ImgConfig()
	}
	for _, v := range []interface{ Validate() error }{opts.Img2Img, opts.Upscale, opts.Txt2Img} {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:7860"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Client{
		baseURL:    baseURL,
		img2img:    opts.Img2Img,
		upscale:    opts.Upscale,
		txt2img:    opts.Txt2Img,
		store:      opts.Store,
		loader:     opts.Loader,
		httpClient: httpClient,
		logger:     infra.Component(opts.Logger, "a1111"),
		now:        time.Now,
	}, nil
}

// RefineImage runs an img2img pass over source. faceRestoration enables the
// ADetailer face model.
func (c *Client) RefineImage(ctx context.Context, session, prompt string, source domain.ImageRef, faceRestoration bool) (domain.ImageRef, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.ImageRef{}, domain.Invalid("prompt", domain.ErrEmptyPrompt)
	}
	encoded, err := c.encodeSource(ctx, source)
	if err != nil {
		return domain.ImageRef{}, err
	}
	payload := img2imgPayload{
		Prompt:            prompt,
		SamplerName:       c.img2img.Sampler,
		Steps:             c.img2img.Steps,
		Seed:              c.img2img.Seed,
		CFGScale:          c.img2img.CFGScale,
		Width:             c.img2img.Width,
		Height:            c.img2img.Height,
		DenoisingStrength: c.img2img.DenoisingStrength,
		InitImages:        []string{encoded},
		AlwaysOnScripts:   map[string]script{},
	}
	if faceRestoration {
		payload.AlwaysOnScripts["ADetailer"] = script{Args: []map[string]any{{"ad_model": c.img2img.FaceModel}}}
	}
	var out imagesResponse
	if err := c.post(ctx, "img2img", "/sdapi/v1/img2img", payload, &out); err != nil {
		return domain.ImageRef{}, err
	}
	return c.save(ctx, "img2img", session, firstImage(out.Images), domain.SourceSDXLImg2Img)
}

// Upscale runs the 4x extras upscaler over source.
func (c *Client) Upscale(ctx context.Context, session string, source domain.ImageRef) (domain.ImageRef, error) {
	encoded, err := c.encodeSource(ctx, source)
	if err != nil {
		return domain.ImageRef{}, err
	}
	payload := upscalePayload{
		ResizeMode:           c.upscale.ResizeMode,
		GFPGANVisibility:     c.upscale.GFPGANVisibility,
		CodeformerVisibility: c.upscale.CodeformerVisibility,
		CodeformerWeight:     c.upscale.CodeformerWeight,
		UpscalingResize:      c.upscale.Resize,
		UpscalingCrop:        c.upscale.Crop,
		Upscaler1:            c.upscale.Upscaler,
		UpscaleFirst:         c.upscale.UpscaleFirst,
		Image:                encoded,
	}
	var out singleImageResponse
	if err := c.post(ctx, "upscale", "/sdapi/v1/extra-single-image", payload, &out); err != nil {
		return domain.ImageRef{}, err
	}
	return c.save(ctx, "upscale", session, out.Image, domain.SourceSDXLUpscale)
}

// Txt2Img renders prompt with SDXL. A non-nil control image adds the canny
// ControlNet unit.
func (c *Client) Txt2Img(ctx context.Context, session, prompt string, control *domain.ImageRef) (domain.ImageRef, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.ImageRef{}, domain.Invalid("prompt", domain.ErrEmptyPrompt)
	}
	cfg := c.txt2img
	payload := txt2imgPayload{
		Prompt:      prompt,
		Steps:       cfg.Steps,
		CFGScale:    cfg.CFGScale,
		Width:       cfg.Width,
		Height:      cfg.Height,
		SamplerName: cfg.Sampler,
	}
	if cfg.Hires {
		secondPass := 0
		payload.EnableHR = true
		payload.FirstPhaseWidth = cfg.FirstPhaseWidth
		payload.FirstPhaseHeight = cfg.FirstPhaseHeight
		payload.HRScale = cfg.HiresScale
		payload.HRUpscaler = cfg.HiresUpscaler
		payload.HRSecondPassSteps = &secondPass
		payload.DenoisingStrength = cfg.HiresDenoise
	}
	scripts := map[string]script{}
	if cfg.FaceRestoration {
		scripts["ADetailer"] = script{Args: []map[string]any{{"ad_model": cfg.FaceModel}}}
	}
	if control != nil && !control.IsZero() {
		encoded, err := c.encodeSource(ctx, *control)
		if err != nil {
			return domain.ImageRef{}, err
		}
		scripts["controlnet"] = script{Args: []map[string]any{{
			"is_img2img":   false,
			"enabled":      true,
			"image":        encoded,
			"module":       cfg.ControlModule,
			"model":        cfg.ControlModel,
			"weight":       cfg.ControlWeight,
			"control_mode": cfg.ControlMode,
		}}}
	}
	if len(scripts) > 0 {
		payload.AlwaysOnScripts = scripts
	}
	var out imagesResponse
	if err := c.post(ctx, "txt2img", "/sdapi/v1/txt2img", payload, &out); err != nil {
		return domain.ImageRef{}, err
	}
	return c.save(ctx, "txt2img", session, firstImage(out.Images), domain.SourceSDXLTxt2Img)
}

func (c *Client) encodeSource(ctx context.Context, source domain.ImageRef) (string, error) {
	if source.IsZero() {
		return "", domain.Invalid("image", domain.ErrNoImages)
	}
	data, _, err := c.loader.Load(ctx, source)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (c *Client) post(ctx context.Context, op, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("a1111: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("a1111: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(op, err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		msg := strings.TrimSpace(string(raw))
		if err := json.Unmarshal(raw, &detail); err == nil {
			if detail.Detail != "" {
				msg = detail.Detail
			} else if detail.Error != "" {
				msg = detail.Error
			}
		}
		return domain.Local(op, fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return domain.Local(op, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err))
	}
	c.logger.Debug().Str("op", op).Dur("took", time.Since(start)).Msg("a1111: request finished")
	return nil
}

// transportError reports deadline expiry as an upstream timeout and any
// other transport failure as the local service being unavailable.
func transportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.UpstreamFrom(serviceName, op, err)
	}
	return domain.Local(op, err)
}

// save decodes the base64 payload, checks it is an image and writes it to
// the asset store.
func (c *Client) save(ctx context.Context, op, session, encoded string, source domain.ImageSource) (domain.ImageRef, error) {
	if _, rest, ok := strings.Cut(encoded, ";base64,"); ok {
		encoded = rest
	}
	if strings.TrimSpace(encoded) == "" {
		return domain.ImageRef{}, domain.Local(op, domain.ErrEmptyResult)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return domain.ImageRef{}, domain.Local(op, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err))
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return domain.ImageRef{}, domain.Local(op, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err))
	}
	key, err := c.store.Write(ctx, storage.NewKey(session, string(source)), data)
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("a1111: store image: %w", err)
	}
	return domain.ImageRef{
		URL:       c.store.URL(key),
		LocalPath: c.store.Path(key),
		Source:    source,
		CreatedAt: c.now(),
	}, nil
}

func firstImage(images []string) string {
	if len(images) == 0 {
		return ""
	}
	return images[0]
}
