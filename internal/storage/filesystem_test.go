package storage

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStoreWriteReadRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/images/")
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	key, err := store.Write(context.Background(), "/sess/../sess/out.png", []byte("png"))
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if key != "sess/out.png" {
		t.Fatalf("key = %q, want %q", key, "sess/out.png")
	}
	data, err := store.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if !bytes.Equal(data, []byte("png")) {
		t.Fatalf("data = %q", data)
	}
	if got := store.URL(key); got != "http://localhost:8080/images/sess/out.png" {
		t.Fatalf("URL = %q", got)
	}
	back, ok := store.KeyFor(store.Path(key))
	if !ok || back != key {
		t.Fatalf("KeyFor = %q, %v", back, ok)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	for _, key := range []string{"", "..", "../etc/passwd", "a/../../b"} {
		if _, err := store.Write(context.Background(), key, nil); err == nil {
			t.Fatalf("Write(%q) should fail", key)
		}
	}
	if _, ok := store.KeyFor(filepath.Join(filepath.Dir(store.BasePath()), "elsewhere.png")); ok {
		t.Fatal("KeyFor should reject paths outside the store")
	}
}

func TestFileStoreReadMissing(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore returned error: %v", err)
	}
	if _, err := store.Read(context.Background(), "nope.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Read error = %v, want ErrNotFound", err)
	}
}

func TestNewKeyIsScopedToSession(t *testing.T) {
	key := NewKey("abc", "img2img")
	if !strings.HasPrefix(key, "abc/img2img-") || !strings.HasSuffix(key, ".png") {
		t.Fatalf("NewKey = %q", key)
	}
	if NewKey("abc", "img2img") == key {
		t.Fatal("keys should be unique")
	}
}
