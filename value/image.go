package value

import (
	"bytes"

	"github.com/wippyai/fxn/errors"
)

// Bitmap is an interleaved 8-bit image. Channels is 1, 3 or 4.
type Bitmap struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

// FromImage creates an image value with shape (height, width, channels).
func FromImage(img Bitmap, flags Flags) (*Value, error) {
	if img.Width < 0 || img.Height < 0 {
		return nil, errors.InvalidArgument(errors.PhaseMarshal, "image dimensions must be non-negative")
	}
	return FromBytes(Image, img.Data, []int{img.Height, img.Width, img.Channels}, flags)
}

func (v *Value) bitmap(data []byte) Bitmap {
	return Bitmap{
		Data:     bytes.Clone(data),
		Height:   v.shape[0],
		Width:    v.shape[1],
		Channels: v.shape[2],
	}
}
