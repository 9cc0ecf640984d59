package imageprocessor

import (
	"errors"
	"fmt"
)

// ErrTooManyPixels is wrapped by a *DecodeError when an image header
// declares more pixels than the processor accepts.
var ErrTooManyPixels = errors.New("image exceeds the pixel limit")

// DecodeError reports bytes that are not a valid JPEG or PNG encoding.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err == nil:
		return fmt.Sprintf("decode image: unsupported format %q", e.Format)
	case e.Format != "":
		return fmt.Sprintf("decode %s image: %v", e.Format, e.Err)
	default:
		return fmt.Sprintf("decode image: %v", e.Err)
	}
}

// Unwrap returns the decoder error, if any.
func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UnsupportedModeError reports a decoded image whose pixels cannot be
// expressed as 3-channel RGB.
type UnsupportedModeError struct {
	Mode   string
	Reason string
}

func (e *UnsupportedModeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("convert %s to RGB: %s", e.Mode, e.Reason)
}
