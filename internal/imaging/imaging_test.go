package imaging_test

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vbonduro/attrdetect/internal/imaging"
	"github.com/vbonduro/attrdetect/internal/imaging/imagingtest"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name         string
		data         []byte
		wantMIME     string
		wantDetected bool
	}{
		{
			name:         "JPEG",
			data:         []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},
			wantMIME:     "image/jpeg",
			wantDetected: true,
		},
		{
			name:         "PNG",
			data:         []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00},
			wantMIME:     "image/png",
			wantDetected: true,
		},
		{
			name:         "GIF is not accepted",
			data:         []byte("GIF89a"),
			wantDetected: false,
		},
		{
			name:         "WebP is not accepted",
			data:         append([]byte("RIFF\x00\x00\x00\x00WEBP"), make([]byte, 10)...),
			wantDetected: false,
		},
		{
			name:         "PDF disguised as image",
			data:         []byte("%PDF-1.4 malicious content"),
			wantDetected: false,
		},
		{
			name:         "empty",
			data:         []byte{},
			wantDetected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMIME, gotDetected := imaging.DetectFormat(tt.data)
			assert.Equal(t, tt.wantDetected, gotDetected)
			assert.Equal(t, tt.wantMIME, gotMIME)
		})
	}
}

func TestDecodeJPEG(t *testing.T) {
	img, err := imaging.Decode(imagingtest.JPEG(t, 512, 512))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.Format)
	assert.Equal(t, 512, img.Width())
	assert.Equal(t, 512, img.Height())
}

func TestDecodePNG(t *testing.T) {
	img, err := imaging.Decode(imagingtest.PNG(t, 40, 30))
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.Format)
	assert.Equal(t, 40, img.Width())
	assert.Equal(t, 30, img.Height())
	assert.Equal(t, color.RGBA{R: 3, G: 7, B: 0x80, A: 0xff}, img.RGB.RGBAAt(3, 7))
}

func TestDecodeDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 0x80})
	src.SetNRGBA(1, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 0})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := imaging.Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 0xff}, img.RGB.RGBAAt(0, 0))
	assert.Equal(t, uint8(0xff), img.RGB.RGBAAt(1, 0).A)
}

func TestDecodeUnsupported(t *testing.T) {
	_, err := imaging.Decode([]byte("GIF89a"))
	assert.ErrorIs(t, err, imaging.ErrUnsupportedFormat)
}

func TestDecodeCorrupt(t *testing.T) {
	// Correct JPEG magic, garbage afterwards.
	data := make([]byte, 64)
	copy(data, []byte{0xFF, 0xD8, 0xFF, 0xE0})

	_, err := imaging.Decode(data)
	require.Error(t, err)
	assert.NotErrorIs(t, err, imaging.ErrUnsupportedFormat)
}

func TestDecodePalettedKeepsStraightColour(t *testing.T) {
	src := image.NewPaletted(image.Rect(0, 0, 2, 1), color.Palette{
		color.NRGBA{R: 200, G: 100, B: 50, A: 0x40},
		color.NRGBA{R: 1, G: 2, B: 3, A: 0xff},
	})
	src.SetColorIndex(0, 0, 0)
	src.SetColorIndex(1, 0, 1)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := imaging.Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 0xff}, img.RGB.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 0xff}, img.RGB.RGBAAt(1, 0))
}

func TestDecodeRejectsOversizedDimensions(t *testing.T) {
	// A few hundred bytes claiming 20000x20000 pixels.
	_, err := imaging.Decode(imagingtest.OversizedPNG(t, 20000, 20000))
	require.Error(t, err)
	assert.ErrorIs(t, err, imaging.ErrTooManyPixels)
	assert.Contains(t, err.Error(), "20000x20000")
}

func TestDecodeLimit(t *testing.T) {
	data := imagingtest.JPEG(t, 40, 30)

	_, err := imaging.DecodeLimit(data, 40*30-1)
	assert.ErrorIs(t, err, imaging.ErrTooManyPixels)

	img, err := imaging.DecodeLimit(data, 40*30)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Width())

	_, err = imaging.DecodeLimit(data, 0)
	assert.NoError(t, err, "a zero budget disables the check")
}

func TestEncodeJPEG(t *testing.T) {
	for name, data := range map[string][]byte{
		"from jpeg": imagingtest.JPEG(t, 16, 16),
		"from png":  imagingtest.PNG(t, 16, 16),
	} {
		t.Run(name, func(t *testing.T) {
			img, err := imaging.Decode(data)
			require.NoError(t, err)

			out, err := imaging.EncodeJPEG(img)
			require.NoError(t, err)
			assert.Equal(t, "image/jpeg", http.DetectContentType(out))

			back, err := imaging.Decode(out)
			require.NoError(t, err)
			assert.Equal(t, 16, back.Width())
			assert.Equal(t, 16, back.Height())
		})
	}
}

func TestEncodeJPEGNil(t *testing.T) {
	_, err := imaging.EncodeJPEG(nil)
	assert.Error(t, err)
}
