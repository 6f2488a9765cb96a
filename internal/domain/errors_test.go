package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorTaxonomyUnwraps(t *testing.T) {
	up := fmt.Errorf("wrap: %w", &UpstreamError{Service: "replicate", Op: "predict", Timeout: true, Err: context.DeadlineExceeded})
	if !IsUpstream(up) || !IsTimeout(up) {
		t.Fatalf("expected timed out upstream error, got %v", up)
	}
	if !errors.Is(up, context.DeadlineExceeded) {
		t.Fatal("upstream error should unwrap to its cause")
	}

	local := Local("img2img", errors.New("connection refused"))
	if !IsLocalService(local) || IsUpstream(local) {
		t.Fatalf("unexpected classification for %v", local)
	}

	invalid := Invalid("prompt", ErrEmptyPrompt)
	if !IsValidation(invalid) || !errors.Is(invalid, ErrEmptyPrompt) {
		t.Fatalf("unexpected classification for %v", invalid)
	}
}

func TestUpstreamErrorMessage(t *testing.T) {
	err := UpstreamStatus("together", "chat", 503, errors.New("overloaded"))
	want := "together chat: status 503: overloaded"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestParseStyle(t *testing.T) {
	tests := []struct {
		in   string
		want Style
		err  bool
	}{
		{in: "", want: DefaultStyle},
		{in: "2", want: StyleIllustration},
		{in: "Oil_Painting", want: StyleOilPainting},
		{in: "oil-painting", want: StyleOilPainting},
		{in: "9", err: true},
		{in: "watercolor", err: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseStyle(tc.in)
			if tc.err {
				if !errors.Is(err, ErrUnknownStyle) {
					t.Fatalf("ParseStyle(%q) error = %v, want ErrUnknownStyle", tc.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStyle(%q) returned error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseStyle(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
