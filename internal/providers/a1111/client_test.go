package a1111

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"promptcraft/internal/domain"
	"promptcraft/internal/storage"
)

type stubLoader struct {
	refs []domain.ImageRef
	err  error
}

func (s *stubLoader) Load(ctx context.Context, ref domain.ImageRef) ([]byte, string, error) {
	s.refs = append(s.refs, ref)
	if s.err != nil {
		return nil, "", s.err
	}
	return []byte("source"), "image/png", nil
}

func tinyPNG(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("png.Encode returned error: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

type webUI struct {
	paths    []string
	payloads []map[string]any
	respond  func(w http.ResponseWriter, path string)
}

func (u *webUI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	u.paths = append(u.paths, r.URL.Path)
	u.payloads = append(u.payloads, body)
	w.Header().Set("Content-Type", "application/json")
	u.respond(w, r.URL.Path)
}

func newClient(t *testing.T, srv *httptest.Server, loader ImageLoader) (*Client, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/images")
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	c, err := New(Options{BaseURL: srv.URL, Store: store, Loader: loader, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return c, store
}

func TestRefineImageWithFaceRestoration(t *testing.T) {
	encoded := tinyPNG(t)
	ui := &webUI{respond: func(w http.ResponseWriter, _ string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{encoded}})
	}}
	srv := httptest.NewServer(ui)
	defer srv.Close()
	loader := &stubLoader{}
	c, store := newClient(t, srv, loader)

	src := domain.ImageRef{URL: "https://replicate.delivery/a.png", Source: domain.SourceFlux}
	ref, err := c.RefineImage(context.Background(), "s1", "a cat", src, true)
	if err != nil {
		t.Fatalf("RefineImage returned error: %v", err)
	}
	if ui.paths[0] != "/sdapi/v1/img2img" {
		t.Fatalf("path = %q", ui.paths[0])
	}
	p := ui.payloads[0]
	if p["sampler_name"] != "DPM++ SDE Karras" || p["steps"] != float64(8) || p["seed"] != float64(-1) ||
		p["cfg_scale"] != float64(3) || p["denoising_strength"] != 0.45 || p["width"] != float64(1024) {
		t.Fatalf("payload = %v", p)
	}
	initImages := p["init_images"].([]any)
	if initImages[0] != base64.StdEncoding.EncodeToString([]byte("source")) {
		t.Fatalf("init_images = %v", initImages)
	}
	scripts := p["alwayson_scripts"].(map[string]any)
	args := scripts["ADetailer"].(map[string]any)["args"].([]any)
	if args[0].(map[string]any)["ad_model"] != "face_yolov8n.pt" {
		t.Fatalf("ADetailer args = %v", args)
	}
	if ref.Source != domain.SourceSDXLImg2Img || !ref.IsLocal() {
		t.Fatalf("ref = %+v", ref)
	}
	if _, err := os.Stat(ref.LocalPath); err != nil {
		t.Fatalf("stored image missing: %v", err)
	}
	if key, ok := store.KeyFor(ref.LocalPath); !ok || store.URL(key) != ref.URL {
		t.Fatalf("url = %q does not match stored key", ref.URL)
	}
	if len(loader.refs) != 1 || loader.refs[0].URL != src.URL {
		t.Fatalf("loader refs = %+v", loader.refs)
	}
}

func TestRefineImageWithoutFaceRestoration(t *testing.T) {
	encoded := tinyPNG(t)
	ui := &webUI{respond: func(w http.ResponseWriter, _ string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{"data:image/png;base64," + encoded}})
	}}
	srv := httptest.NewServer(ui)
	defer srv.Close()
	c, _ := newClient(t, srv, &stubLoader{})

	if _, err := c.RefineImage(context.Background(), "s1", "a cat", domain.ImageRef{URL: "https://x/a.png"}, false); err != nil {
		t.Fatalf("RefineImage returned error: %v", err)
	}
	scripts := ui.payloads[0]["alwayson_scripts"].(map[string]any)
	if len(scripts) != 0 {
		t.Fatalf("alwayson_scripts = %v, want empty", scripts)
	}
}

func TestUpscale(t *testing.T) {
	encoded := tinyPNG(t)
	ui := &webUI{respond: func(w http.ResponseWriter, _ string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"image": encoded, "html_info": ""})
	}}
	srv := httptest.NewServer(ui)
	defer srv.Close()
	c, _ := newClient(t, srv, &stubLoader{})

	ref, err := c.Upscale(context.Background(), "s1", domain.ImageRef{URL: "http://localhost/images/x.png", LocalPath: "/tmp/x.png"})
	if err != nil {
		t.Fatalf("Upscale returned error: %v", err)
	}
	if ui.paths[0] != "/sdapi/v1/extra-single-image" {
		t.Fatalf("path = %q", ui.paths[0])
	}
	p := ui.payloads[0]
	if p["upscaling_resize"] != float64(4) || p["upscaler_1"] != "ESRGAN_4x" || p["upscaling_crop"] != true ||
		p["upscale_first"] != false || p["gfpgan_visibility"] != float64(0) || p["resize_mode"] != float64(0) {
		t.Fatalf("payload = %v", p)
	}
	if ref.Source != domain.SourceSDXLUpscale {
		t.Fatalf("source = %q", ref.Source)
	}
}

func TestTxt2ImgControlNet(t *testing.T) {
	encoded := tinyPNG(t)
	ui := &webUI{respond: func(w http.ResponseWriter, _ string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"images": []string{encoded}})
	}}
	srv := httptest.NewServer(ui)
	defer srv.Close()
	c, _ := newClient(t, srv, &stubLoader{})

	if _, err := c.Txt2Img(context.Background(), "s1", "a cat", nil); err != nil {
		t.Fatalf("Txt2Img returned error: %v", err)
	}
	plain := ui.payloads[0]
	if _, ok := plain["alwayson_scripts"]; ok {
		t.Fatalf("plain payload carries scripts: %v", plain)
	}
	if plain["enable_hr"] != true || plain["hr_upscaler"] != "Latent" || plain["hr_scale"] != float64(2) || plain["width"] != float64(768) {
		t.Fatalf("payload = %v", plain)
	}

	control := domain.ImageRef{URL: "https://x/a.png"}
	if _, err := c.Txt2Img(context.Background(), "s1", "a cat", &control); err != nil {
		t.Fatalf("Txt2Img returned error: %v", err)
	}
	unit := ui.payloads[1]["alwayson_scripts"].(map[string]any)["controlnet"].(map[string]any)["args"].([]any)[0].(map[string]any)
	if unit["model"] != "diffusers_xl_canny_mid [112a778d]" || unit["module"] != "canny" || unit["weight"] != 0.5 || unit["control_mode"] != "Balanced" {
		t.Fatalf("controlnet unit = %v", unit)
	}
}

func TestFailuresAreLocalServiceErrors(t *testing.T) {
	tests := []struct {
		name    string
		respond func(w http.ResponseWriter, path string)
	}{
		{"status", func(w http.ResponseWriter, _ string) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail":"CUDA out of memory"}`))
		}},
		{"empty images", func(w http.ResponseWriter, _ string) { _, _ = w.Write([]byte(`{"images":[]}`)) }},
		{"not an image", func(w http.ResponseWriter, _ string) {
			_, _ = w.Write([]byte(`{"images":["` + base64.StdEncoding.EncodeToString([]byte("nope")) + `"]}`))
		}},
		{"bad json", func(w http.ResponseWriter, _ string) { _, _ = w.Write([]byte(`<html>`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(&webUI{respond: tt.respond})
			defer srv.Close()
			c, _ := newClient(t, srv, &stubLoader{})
			_, err := c.RefineImage(context.Background(), "s1", "a cat", domain.ImageRef{URL: "https://x/a.png"}, true)
			if !domain.IsLocalService(err) {
				t.Fatalf("error = %v, want LocalServiceError", err)
			}
		})
	}
}

func TestUnreachableServiceIsLocalServiceError(t *testing.T) {
	srv := httptest.NewServer(&webUI{})
	c, _ := newClient(t, srv, &stubLoader{})
	srv.Close()
	_, err := c.Upscale(context.Background(), "s1", domain.ImageRef{URL: "https://x/a.png"})
	if !domain.IsLocalService(err) {
		t.Fatalf("error = %v, want LocalServiceError", err)
	}
}

func TestSourceFetchFailureIsUpstreamError(t *testing.T) {
	ui := &webUI{respond: func(w http.ResponseWriter, _ string) {}}
	srv := httptest.NewServer(ui)
	defer srv.Close()
	loader := &stubLoader{err: domain.UpstreamStatus("replicate.delivery", "download image", http.StatusNotFound, nil)}
	c, _ := newClient(t, srv, loader)

	_, err := c.RefineImage(context.Background(), "s1", "a cat", domain.ImageRef{URL: "https://x/a.png"}, false)
	if !domain.IsUpstream(err) {
		t.Fatalf("error = %v, want UpstreamError", err)
	}
	if len(ui.paths) != 0 {
		t.Fatal("web UI must not be called when the source cannot be fetched")
	}
}

func TestConfigValidation(t *testing.T) {
	bad := DefaultImg2ImgConfig()
	bad.DenoisingStrength = 2
	store, _ := storage.NewFileStore(t.TempDir(), "")
	_, err := New(Options{Store: store, Loader: &stubLoader{}, Img2Img: bad})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := New(Options{Loader: &stubLoader{}}); err == nil {
		t.Fatal("expected missing store error")
	}
}
