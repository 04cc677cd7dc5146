package delivery

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"
)

// ErrCannotCompress means no quality/scale combination produced an
// encoding under the limit.
var ErrCannotCompress = errors.New("no encoding fits under the size limit")

// jpegQualities is the descending ladder tried at each scale step.
var jpegQualities = []int{92, 85, 75, 65, 55, 45, 35}

const (
	scaleSteps  = 4
	scaleFactor = 0.85
)

// encodeUnderLimit re-encodes the image at srcPath as a JPEG no larger
// than limit bytes, walking the quality ladder at the original scale and
// then at progressively smaller scales. The result is written to a new
// temp file owned by the caller.
func encodeUnderLimit(srcPath string, limit int64) (string, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open asset: %w", err)
	}
	src, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("decode asset: %w", err)
	}

	data, err := reencodeJPEG(src, limit)
	if err != nil {
		return "", err
	}

	out, err := os.CreateTemp("", "kie_compressed_*.jpg")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := out.Write(data); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("write compressed asset: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("close compressed asset: %w", err)
	}
	return out.Name(), nil
}

// reencodeJPEG searches quality × scale for the first encoding under
// limit bytes.
func reencodeJPEG(src image.Image, limit int64) ([]byte, error) {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	scale := 1.0

	current := src
	for step := 0; step < scaleSteps; step++ {
		if step > 0 {
			w := int(float64(width) * scale)
			h := int(float64(height) * scale)
			if w < 1 || h < 1 {
				break
			}
			current = resize(src, w, h)
		}
		for _, q := range jpegQualities {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, current, &jpeg.Options{Quality: q}); err != nil {
				return nil, fmt.Errorf("encode jpeg: %w", err)
			}
			if int64(buf.Len()) <= limit {
				return buf.Bytes(), nil
			}
		}
		scale *= scaleFactor
	}
	return nil, ErrCannotCompress
}

func resize(src image.Image, width, height int) image.Image {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
