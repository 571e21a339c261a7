package tile_encoder

import (
	"bytes"
	"image/png"
	"testing"

	"mvtview/internal/raster"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"png", PNG, false},
		{".PNG", PNG, false},
		{"jpg", JPEG, false},
		{"jpeg", JPEG, false},
		{"webp", WebP, false},
		{"gif", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestContentType(t *testing.T) {
	for f, want := range map[Format]string{PNG: "image/png", JPEG: "image/jpeg", WebP: "image/webp"} {
		if got := f.ContentType(); got != want {
			t.Errorf("%s.ContentType() = %q, want %q", f, got, want)
		}
	}
}

func TestEncodePNG(t *testing.T) {
	data, err := Encode(raster.NewCanvas(512, 512), PNG)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 512 || b.Dy() != 512 {
		t.Errorf("size = %dx%d, want 512x512", b.Dx(), b.Dy())
	}
}
