// Package imageio converts between image files and normalized CHW float32
// pixel data.
//
// Inputs may be PNG, JPEG, GIF, BMP, TIFF or WebP. They are composited over
// white, center-cropped to a square, resized with Catmull-Rom and scaled to
// [0, 1]. Outputs are always PNG.
package imageio

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// extensions lists the file suffixes treated as images when scanning a directory.
var extensions = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
	".webp": {},
}

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Decode opens and decodes an image file.
func Decode(path string) (image.Image, error) {
	//nolint:gosec // G304: dataset paths come from the user
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Load decodes path and returns channels x size x size values in [0, 1].
func Load(path string, size, channels int) ([]float32, error) {
	img, err := Decode(path)
	if err != nil {
		return nil, err
	}
	return ToCHW(Resize(CenterCrop(Composite(img)), size), channels), nil
}

// Composite draws img over an opaque white background.
func Composite(img image.Image) *image.RGBA {
	bounds := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, bounds.Min, draw.Over)
	return dst
}

// CenterCrop returns the largest centered square of img.
func CenterCrop(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == h {
		return img
	}

	side := min(w, h)
	offsetX := bounds.Min.X + (w-side)/2
	offsetY := bounds.Min.Y + (h-side)/2

	dst := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(offsetX, offsetY), draw.Src)
	return dst
}

// Resize scales img to size x size with Catmull-Rom interpolation.
func Resize(img image.Image, size int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == size && bounds.Dy() == size {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	return dst
}

// ToCHW converts img to planar float32 data in [0, 1]. With one channel the
// image is converted to luminance; with three the planes are R, G, B.
func ToCHW(img image.Image, channels int) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := w * h
	data := make([]float32, channels*plane)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(x+bounds.Min.X, y+bounds.Min.Y)
			i := y*w + x
			if channels == 1 {
				g := color.Gray16Model.Convert(c).(color.Gray16)
				data[i] = float32(g.Y) / 0xffff
				continue
			}
			r, g, b, _ := c.RGBA()
			data[i] = float32(r) / 0xffff
			data[plane+i] = float32(g) / 0xffff
			data[2*plane+i] = float32(b) / 0xffff
		}
	}
	return data
}

// FromCHW builds an image from planar data. Values are clamped to [0, 1].
func FromCHW(data []float32, channels, height, width int) (image.Image, error) {
	plane := height * width
	if channels != 1 && channels != 3 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	if len(data) != channels*plane {
		return nil, fmt.Errorf("expected %d values for %dx%dx%d, got %d", channels*plane, channels, height, width, len(data))
	}

	if channels == 1 {
		img := image.NewGray(image.Rect(0, 0, width, height))
		for i := range plane {
			img.Pix[i] = toByte(data[i])
		}
		return img, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := range plane {
		img.Pix[4*i+0] = toByte(data[i])
		img.Pix[4*i+1] = toByte(data[plane+i])
		img.Pix[4*i+2] = toByte(data[2*plane+i])
		img.Pix[4*i+3] = 0xff
	}
	return img, nil
}

// SavePNG encodes img to path.
func SavePNG(path string, img image.Image) (err error) {
	//nolint:gosec // G304: output paths come from the user
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := bufio.NewWriter(f)
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return w.Flush()
}

func toByte(v float32) uint8 {
	switch {
	case v != v || v <= 0: // NaN maps to black
		return 0
	case v >= 1:
		return 0xff
	default:
		return uint8(v*255 + 0.5)
	}
}
