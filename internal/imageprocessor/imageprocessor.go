package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/example/weed-id/internal/tensor"
)

const (
	// InputSize is the edge length, in pixels, of the square model input.
	InputSize = 224
	// Channels is the number of color channels fed to the model.
	Channels = 3
	// DefaultMaxPixels bounds width*height of an accepted image.
	DefaultMaxPixels int64 = 25_000_000
)

// InputShape is the NHWC shape of a single-image batch.
var InputShape = tensor.Shape{1, InputSize, InputSize, Channels}

var supportedFormats = map[string]bool{
	"jpeg": true,
	"png":  true,
}

// Options tunes a Processor.
type Options struct {
	// MaxPixels rejects images whose header declares more pixels.
	// Zero means DefaultMaxPixels.
	MaxPixels int64
}

// Processor turns uploaded image bytes into model input tensors.
type Processor struct {
	resampler Resampler
	maxPixels int64
}

// NewProcessor builds a processor using resampler for the resize step.
// A nil resampler falls back to bilinear interpolation.
func NewProcessor(resampler Resampler, opts ...Options) *Processor {
	if resampler == nil {
		resampler = Bilinear
	}
	maxPixels := DefaultMaxPixels
	if len(opts) > 0 && opts[0].MaxPixels > 0 {
		maxPixels = opts[0].MaxPixels
	}
	return &Processor{resampler: resampler, maxPixels: maxPixels}
}

// MaxPixels returns the largest accepted width*height.
func (p *Processor) MaxPixels() int64 {
	return p.maxPixels
}

// Resampler returns the interpolation policy in use.
func (p *Processor) Resampler() Resampler {
	return p.resampler
}

// Tensor decodes r and produces a (1, 224, 224, 3) tensor scaled to [0, 1].
func (p *Processor) Tensor(r io.Reader) (tensor.Tensor, error) {
	img, _, err := p.Decode(r)
	if err != nil {
		return tensor.Tensor{}, err
	}
	return p.Preprocess(img)
}

// Preprocess converts an already decoded image into a model input tensor.
func (p *Processor) Preprocess(img image.Image) (tensor.Tensor, error) {
	rgb, err := ToRGB(img)
	if err != nil {
		return tensor.Tensor{}, err
	}
	resized := p.resampler.Resample(rgb, InputSize, InputSize)
	return Normalize(resized)
}

// Decode reads a JPEG or PNG image with the default pixel limit.
func Decode(r io.Reader) (image.Image, string, error) {
	return decode(r, DefaultMaxPixels)
}

// Decode reads a JPEG or PNG image. The header is checked against the
// processor's pixel limit before any pixel data is allocated. Every failure
// is a *DecodeError.
func (p *Processor) Decode(r io.Reader) (image.Image, string, error) {
	return decode(r, p.maxPixels)
}

func decode(r io.Reader, maxPixels int64) (image.Image, string, error) {
	if r == nil {
		return nil, "", &DecodeError{Err: errors.New("no image data")}
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", &DecodeError{Err: err}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, format, &DecodeError{Err: err}
	}
	if !supportedFormats[format] {
		return nil, format, &DecodeError{Format: format}
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, format, &DecodeError{
			Format: format,
			Err:    fmt.Errorf("%w: %dx%d is over %d pixels", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels),
		}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, format, &DecodeError{Err: err}
	}
	return img, format, nil
}

// DetectFormat reports the registered format name of an encoded image from
// its header alone.
func DetectFormat(data []byte) (string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", &DecodeError{Err: err}
	}
	return format, nil
}

// ToRGB copies the straight RGB values of img into an opaque RGBA buffer.
// Alpha is discarded rather than composited against a background.
func ToRGB(img image.Image) (*image.RGBA, error) {
	if img == nil {
		return nil, &UnsupportedModeError{Mode: "<nil>", Reason: "no image"}
	}
	mode := fmt.Sprintf("%T", img)
	if img.ColorModel() == nil {
		return nil, &UnsupportedModeError{Mode: mode, Reason: "unknown color model"}
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, &UnsupportedModeError{Mode: mode, Reason: "image has no pixels"}
	}

	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < bounds.Dy(); y++ {
			i := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], src.Pix[i:i+4*bounds.Dx()])
		}
	case interface{ Opaque() bool }:
		if src.Opaque() {
			draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Src)
			break
		}
		if err := copyStraight(dst, img, mode); err != nil {
			return nil, err
		}
	default:
		if err := copyStraight(dst, img, mode); err != nil {
			return nil, err
		}
	}

	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst, nil
}

// copyStraight converts pixel by pixel so that translucent pixels keep their
// unpremultiplied color.
func copyStraight(dst *image.RGBA, img image.Image, mode string) error {
	bounds := img.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			c, ok := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			if !ok {
				return &UnsupportedModeError{Mode: mode, Reason: "pixel has no RGB representation"}
			}
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
		}
	}
	return nil
}

// Normalize lays img out as a (1, height, width, 3) tensor with every
// channel value divided by 255.
func Normalize(img *image.RGBA) (tensor.Tensor, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	data := make([]float32, width*height*Channels)

	k := 0
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+4]
			data[k+0] = float32(px[0]) / 255.0
			data[k+1] = float32(px[1]) / 255.0
			data[k+2] = float32(px[2]) / 255.0
			k += Channels
		}
	}
	return tensor.New(tensor.Shape{1, height, width, Channels}, data)
}
