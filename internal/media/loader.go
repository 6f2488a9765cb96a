// Package media loads image bytes for a reference, whether it points at the
// local asset store or a remote URL.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"promptcraft/internal/domain"
	"promptcraft/internal/storage"
)

// MaxImageBytes bounds downloads.
const MaxImageBytes = 32 << 20

// Loader resolves image references to bytes.
type Loader struct {
	store      *storage.FileStore
	httpClient *http.Client
}

func NewLoader(store *storage.FileStore, httpClient *http.Client) *Loader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Loader{store: store, httpClient: httpClient}
}

// Load returns the image bytes and MIME type. Local references read the
// asset store; remote ones are downloaded and failures are UpstreamErrors.
func (l *Loader) Load(ctx context.Context, ref domain.ImageRef) ([]byte, string, error) {
	if ref.IsLocal() {
		key, ok := l.store.KeyFor(ref.LocalPath)
		if !ok {
			return nil, "", domain.Invalid("image", fmt.Errorf("path %q is outside the asset store", ref.LocalPath))
		}
		data, err := l.store.Read(ctx, key)
		if err != nil {
			return nil, "", fmt.Errorf("media: read local image: %w", err)
		}
		return data, GuessMIME(ref.LocalPath), nil
	}
	return l.download(ctx, ref.URL)
}

func (l *Loader) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(strings.TrimSpace(imageURL))
	if err != nil || parsed.Scheme == "" {
		return nil, "", domain.Invalid("image", fmt.Errorf("invalid image url %q", imageURL))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("media: build download request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, "", domain.UpstreamFrom(parsed.Host, "download image", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", domain.UpstreamStatus(parsed.Host, "download image", resp.StatusCode, nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, "", domain.UpstreamFrom(parsed.Host, "read image", err)
	}
	if len(data) > MaxImageBytes {
		return nil, "", domain.Upstream(parsed.Host, "read image", errors.New("image exceeds size limit"))
	}
	if len(data) == 0 {
		return nil, "", domain.Upstream(parsed.Host, "read image", domain.ErrEmptyResult)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = GuessMIME(parsed.Path)
	}
	return data, mime, nil
}

// GuessMIME infers an image MIME type from a file extension.
func GuessMIME(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}

// DataURL encodes data as a base64 data URL.
func DataURL(mime string, data []byte) string {
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}
