package imageprocessor

import (
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// Resampler scales an RGB image to exactly width x height pixels.
type Resampler interface {
	Name() string
	Resample(src *image.RGBA, width, height int) *image.RGBA
}

type scalerResampler struct {
	name   string
	scaler draw.Scaler
}

func (r scalerResampler) Name() string { return r.name }

func (r scalerResampler) Resample(src *image.RGBA, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	r.scaler.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

type lanczosResampler struct{}

func (lanczosResampler) Name() string { return "lanczos3" }

func (lanczosResampler) Resample(src *image.RGBA, width, height int) *image.RGBA {
	out := resize.Resize(uint(width), uint(height), src, resize.Lanczos3)
	if rgba, ok := out.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), out, out.Bounds().Min, draw.Src)
	return dst
}

var (
	// Bilinear is the default interpolation policy.
	Bilinear Resampler = scalerResampler{name: "bilinear", scaler: draw.BiLinear}
	// Nearest picks the closest source pixel.
	Nearest Resampler = scalerResampler{name: "nearest", scaler: draw.NearestNeighbor}
	// CatmullRom is a sharper bicubic filter.
	CatmullRom Resampler = scalerResampler{name: "catmullrom", scaler: draw.CatmullRom}
	// Lanczos3 resamples with a 3-lobe Lanczos window.
	Lanczos3 Resampler = lanczosResampler{}
)

var resamplers = map[string]Resampler{
	Bilinear.Name():   Bilinear,
	Nearest.Name():    Nearest,
	CatmullRom.Name(): CatmullRom,
	Lanczos3.Name():   Lanczos3,
}

// ResamplerByName looks up an interpolation policy, case-insensitively.
func ResamplerByName(name string) (Resampler, error) {
	r, ok := resamplers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown resize filter %q (want one of %s)", name, strings.Join(ResamplerNames(), ", "))
	}
	return r, nil
}

// ResamplerNames lists the known filter names in sorted order.
func ResamplerNames() []string {
	names := make([]string, 0, len(resamplers))
	for name := range resamplers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
