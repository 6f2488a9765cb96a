// Package zip bundles rendered images into a single archive download.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Asset is one archive entry.
type Asset struct {
	Filename string
	MIME     string
	Data     []byte
	Modified time.Time
}

// Write streams assets as a zip archive to w. Repeated file names get a
// numeric suffix so no entry is shadowed.
func Write(w io.Writer, assets []Asset) error {
	zw := zip.NewWriter(w)
	seen := make(map[string]int, len(assets))
	for _, asset := range assets {
		name := uniqueName(path.Base(strings.ReplaceAll(asset.Filename, "\\", "/")), seen)
		hdr := &zip.FileHeader{Name: name, Method: zip.Store}
		if !strings.HasPrefix(asset.MIME, "image/") {
			hdr.Method = zip.Deflate
		}
		if !asset.Modified.IsZero() {
			hdr.Modified = asset.Modified
		}
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := fw.Write(asset.Data); err != nil {
			return fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("zip: close: %w", err)
	}
	return nil
}

// ArchiveAssets returns the archive as bytes.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := Write(buf, assets); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func uniqueName(name string, seen map[string]int) string {
	if name == "" || name == "." || name == "/" {
		name = "image"
	}
	n := seen[name]
	seen[name] = n + 1
	if n == 0 {
		return name
	}
	ext := path.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
}
