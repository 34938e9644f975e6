package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestDecodeBase64(t *testing.T) {
	plain := base64.StdEncoding.EncodeToString([]byte("hello"))
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", plain, "hello", false},
		{"data uri", "data:image/png;base64," + plain, "hello", false},
		{"unpadded", base64.RawStdEncoding.EncodeToString([]byte("hello")), "hello", false},
		{"whitespace", "  " + plain + "\n", "hello", false},
		{"empty", "", "", true},
		{"empty data uri", "data:image/png;base64,", "", true},
		{"no comma", "data:image/png;base64", "", true},
		{"garbage", "!!!not base64!!!", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBase64(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrDecode) {
					t.Fatalf("err = %v, want ErrDecode", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("DecodeBase64() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFitSize(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		wantW, wantH int
		wantMode     Resample
	}{
		{"within range", 320, 240, 320, 240, ResampleNone},
		{"landscape downscale", 1920, 1080, 480, 270, ResampleDown},
		{"portrait downscale", 600, 900, 320, 480, ResampleDown},
		{"small upscale", 100, 200, 224, 448, ResampleUp},
		{"square upscale", 112, 112, 224, 224, ResampleUp},
		{"long strip", 4000, 20, 480, 2, ResampleDown},
		{"extreme strip", 100000, 1, 480, 1, ResampleDown},
		{"wide strip", 2000, 100, 480, 24, ResampleDown},
		{"small strip", 300, 10, 480, 16, ResampleUp},
		{"tall small strip", 10, 300, 16, 480, ResampleUp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, mode := FitSize(tt.w, tt.h, 480, 224)
			if w != tt.wantW || h != tt.wantH || mode != tt.wantMode {
				t.Errorf("FitSize(%d,%d) = %d,%d,%v; want %d,%d,%v", tt.w, tt.h, w, h, mode, tt.wantW, tt.wantH, tt.wantMode)
			}
			if max(w, h) > 480 {
				t.Errorf("FitSize(%d,%d) = %dx%d exceeds 480", tt.w, tt.h, w, h)
			}
		})
	}
}

func TestMeanLuma(t *testing.T) {
	if got := MeanLuma(solid(4, 4, color.Black)); got != 0 {
		t.Errorf("black luma = %v", got)
	}
	if got := MeanLuma(solid(4, 4, color.White)); got != 255 {
		t.Errorf("white luma = %v", got)
	}
	got := MeanLuma(solid(4, 4, color.RGBA{R: 20, G: 20, B: 20, A: 255}))
	if math.Abs(got-20) > 1 {
		t.Errorf("dark luma = %v, want about 20", got)
	}
}

func TestImagingDecoder(t *testing.T) {
	dec := ImagingDecoder{MaxSide: 480, MinSide: 224}

	t.Run("downscales large frames", func(t *testing.T) {
		frame, err := dec.Decode("data:image/png;base64," + encodePNG(t, solid(960, 600, color.Gray{Y: 200})))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if b := frame.Image.Bounds(); b.Dx() != 480 || b.Dy() != 300 {
			t.Errorf("size = %v, want 480x300", b.Size())
		}
		if math.Abs(frame.Luma-200) > 1 {
			t.Errorf("luma = %v, want about 200", frame.Luma)
		}
		if len(frame.Digest) != 32 {
			t.Errorf("digest = %q", frame.Digest)
		}
	})

	t.Run("upscales tiny frames", func(t *testing.T) {
		frame, err := dec.Decode(encodePNG(t, solid(50, 50, color.White)))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if b := frame.Image.Bounds(); b.Dx() != 224 || b.Dy() != 224 {
			t.Errorf("size = %v, want 224x224", b.Size())
		}
	})

	t.Run("same bytes same digest", func(t *testing.T) {
		enc := encodePNG(t, solid(300, 300, color.Black))
		a, _ := dec.Decode(enc)
		b, _ := dec.Decode("data:image/png;base64," + enc)
		if a.Digest != b.Digest {
			t.Error("digest should not depend on the data uri prefix")
		}
	})

	t.Run("elongated frames stay under the ceiling", func(t *testing.T) {
		frame, err := dec.Decode(encodePNG(t, solid(20000, 2, color.White)))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if b := frame.Image.Bounds(); max(b.Dx(), b.Dy()) > 480 {
			t.Errorf("size = %v, want long side <= 480", b.Size())
		}
	})

	t.Run("rejects non images", func(t *testing.T) {
		_, err := dec.Decode(base64.StdEncoding.EncodeToString([]byte("plain text")))
		if !errors.Is(err, ErrDecode) {
			t.Errorf("err = %v, want ErrDecode", err)
		}
	})
}
