package vision

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

// ErrDecode matches every DecodeError with errors.Is.
var ErrDecode = errors.New("malformed image payload")

// DecodeError reports a payload that could not be turned into a raster image.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrDecode, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrDecode, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Frame is a decoded image together with the bytes it came from.
type Frame struct {
	Image  image.Image
	Format string
	Data   []byte
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// DecodePayload accepts raw image bytes or a "data:image/...;base64," URL as
// sent by browser capture code and returns the raw image bytes.
func DecodePayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, &DecodeError{Reason: "empty payload"}
	}
	if !bytes.HasPrefix(payload, []byte("data:")) {
		return payload, nil
	}

	header, encoded, ok := strings.Cut(string(payload), ",")
	if !ok {
		return nil, &DecodeError{Reason: "data URL without payload"}
	}
	if !strings.HasSuffix(header, ";base64") {
		return nil, &DecodeError{Reason: "data URL is not base64 encoded"}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty payload"}
	}
	return data, nil
}

// DecodeImage decodes png, jpeg, gif, bmp or webp data. Images whose header
// declares more than constants.MaxImagePixels are rejected before any pixel
// buffer is allocated.
func DecodeImage(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty image"}
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "unsupported or corrupt image", Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Reason: "image has no pixels"}
	}
	if int64(cfg.Width)*int64(cfg.Height) > constants.MaxImagePixels {
		return nil, &DecodeError{Reason: fmt.Sprintf("image too large (%dx%d)", cfg.Width, cfg.Height)}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Reason: "unsupported or corrupt image", Err: err}
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, &DecodeError{Reason: "image has no pixels"}
	}
	return &Frame{Image: img, Format: format, Data: data}, nil
}

// ForDetection returns bytes suitable for the embedding server. Frames that
// already fit within maxEdge and are jpeg or png are passed through as-is;
// everything else is scaled down (keeping aspect ratio) and re-encoded as JPEG.
func (f *Frame) ForDetection(maxEdge int) ([]byte, error) {
	width, height := f.Width(), f.Height()
	fits := maxEdge <= 0 || (width <= maxEdge && height <= maxEdge)
	if fits && (f.Format == "jpeg" || f.Format == "png") {
		return f.Data, nil
	}

	src := f.Image
	if !fits {
		var newWidth, newHeight int
		if width > height {
			newWidth = maxEdge
			newHeight = max(1, int(float64(height)*float64(maxEdge)/float64(width)))
		} else {
			newHeight = maxEdge
			newWidth = max(1, int(float64(width)*float64(maxEdge)/float64(height)))
		}
		resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(resized, resized.Bounds(), f.Image, f.Image.Bounds(), draw.Over, nil)
		src = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
