// Package imaging turns uploaded bytes into an in-memory RGB pixel buffer and
// back into a wire encoding for the model backends. Pixels are never altered.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"

	"golang.org/x/image/draw"
)

// ErrUnsupportedFormat is returned for uploads that are not PNG or JPEG.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ErrTooManyPixels is returned when the header declares more pixels than the
// decode budget allows. Nothing is decoded in that case.
var ErrTooManyPixels = errors.New("image dimensions exceed the pixel limit")

// DefaultMaxPixels is the decode budget used by Decode, roughly 50 megapixels.
const DefaultMaxPixels = 50_000_000

const jpegQuality = 90

// allowedImageTypes is the set of MIME types accepted for uploads.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Image is a decoded upload. RGB is always fully opaque.
type Image struct {
	RGB    *image.RGBA
	Format string
}

func (i *Image) Width() int  { return i.RGB.Bounds().Dx() }
func (i *Image) Height() int { return i.RGB.Bounds().Dy() }

// DetectFormat returns the sniffed MIME type and true if data is an accepted
// image format, or ("", false) otherwise.
func DetectFormat(data []byte) (string, bool) {
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// Decode sniffs, decodes and converts data to RGB within DefaultMaxPixels.
func Decode(data []byte) (*Image, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel budget. The header is checked
// before any pixel data is decoded; maxPixels <= 0 disables the check.
func DecodeLimit(data []byte, maxPixels int64) (*Image, error) {
	mime, ok := DetectFormat(data)
	if !ok {
		return nil, ErrUnsupportedFormat
	}

	decodeConfig, decode := jpeg.DecodeConfig, jpeg.Decode
	if mime == "image/png" {
		decodeConfig, decode = png.DecodeConfig, png.Decode
	}

	cfg, err := decodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mime, err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d is over %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)
	}

	src, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", mime, err)
	}

	return &Image{RGB: toRGB(src), Format: mime}, nil
}

// toRGB copies src into a zero-origin RGBA buffer and drops the alpha channel,
// keeping the straight (non-premultiplied) colour of translucent pixels.
func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	if o, ok := src.(interface{ Opaque() bool }); ok && o.Opaque() {
		draw.Copy(dst, image.Point{}, src, b, draw.Src, nil)
		return dst
	}

	switch s := src.(type) {
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			row := s.Pix[s.PixOffset(b.Min.X, b.Min.Y+y):]
			out := dst.Pix[dst.PixOffset(0, y):]
			for i := 0; i < 4*b.Dx(); i += 4 {
				out[i], out[i+1], out[i+2], out[i+3] = row[i], row[i+1], row[i+2], 0xff
			}
		}
	case *image.Paletted:
		// Flatten the palette once instead of converting every pixel.
		flat := make([]color.RGBA, len(s.Palette))
		for i, c := range s.Palette {
			n := color.NRGBAModel.Convert(c).(color.NRGBA)
			flat[i] = color.RGBA{R: n.R, G: n.G, B: n.B, A: 0xff}
		}
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				idx := int(s.ColorIndexAt(b.Min.X+x, b.Min.Y+y))
				if idx < len(flat) {
					dst.SetRGBA(x, y, flat[idx])
				} else {
					dst.SetRGBA(x, y, color.RGBA{A: 0xff})
				}
			}
		}
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				dst.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
			}
		}
	}
	return dst
}

// EncodeJPEG serialises img as a quality 90 JPEG, the single wire format every
// backend sends.
func EncodeJPEG(img *Image) ([]byte, error) {
	if img == nil || img.RGB == nil {
		return nil, errors.New("nil image")
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img.RGB, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
