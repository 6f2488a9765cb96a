package zip

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
)

func TestArchiveAssets(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "s1/img2img-1.png", MIME: "image/png", Data: []byte("one")},
		{Filename: "other/img2img-1.png", MIME: "image/png", Data: []byte("two")},
		{Filename: "prompt.txt", MIME: "text/plain", Data: []byte("a red fox")},
	})
	if err != nil {
		t.Fatalf("ArchiveAssets returned error: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	want := map[string]string{"img2img-1.png": "one", "img2img-1-1.png": "two", "prompt.txt": "a red fox"}
	if len(zr.File) != len(want) {
		t.Fatalf("entries = %d, want %d", len(zr.File), len(want))
	}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, _ := io.ReadAll(rc)
		rc.Close()
		if want[f.Name] != string(body) {
			t.Fatalf("%s = %q, want %q", f.Name, body, want[f.Name])
		}
	}
}
