package video

import (
	"fmt"
)

// PixelFormat identifies the sample layout of an Image.
type PixelFormat int

const (
	PixFmtY8 PixelFormat = iota
	PixFmtRGB8
	PixFmtY16
	PixFmtYF32
	PixFmtRGBF32
)

func (p PixelFormat) String() string {
	switch p {
	case PixFmtY8:
		return "Y8"
	case PixFmtRGB8:
		return "RGB8"
	case PixFmtY16:
		return "Y16"
	case PixFmtYF32:
		return "YF32"
	case PixFmtRGBF32:
		return "RGBF32"
	}
	return fmt.Sprintf("PixelFormat(%d)", int(p))
}

// ComponentsPerPixel returns 1 for luma formats and 3 for RGB formats.
func (p PixelFormat) ComponentsPerPixel() int {
	switch p {
	case PixFmtRGB8, PixFmtRGBF32:
		return 3
	}
	return 1
}

// BytesPerComponent returns the storage size of one sample component.
func (p PixelFormat) BytesPerComponent() int {
	switch p {
	case PixFmtY16:
		return 2
	case PixFmtYF32, PixFmtRGBF32:
		return 4
	}
	return 1
}

func (p PixelFormat) valid() bool {
	return p >= PixFmtY8 && p <= PixFmtRGBF32
}

// Format describes the geometry and pixel layout of an Image.
type Format struct {
	Width, Height int
	PixelFormat   PixelFormat
}

func (f Format) String() string {
	return fmt.Sprintf("%dx%d %v", f.Width, f.Height, f.PixelFormat)
}

// Components is the number of sample components in one row.
func (f Format) Components() int {
	return f.Width * f.PixelFormat.ComponentsPerPixel()
}

// Stride is the number of bytes in one row.
func (f Format) Stride() int {
	return f.Components() * f.PixelFormat.BytesPerComponent()
}

// Len is the total number of sample components in an image of this format.
func (f Format) Len() int {
	return f.Components() * f.Height
}

func (f Format) validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: %v", ErrBadFormat, f)
	}
	if !f.PixelFormat.valid() {
		return fmt.Errorf("%w: %v", ErrBadFormat, f)
	}
	return nil
}

// Image owns a contiguous sample buffer. Exactly one of the typed backing
// slices is populated, chosen by the pixel format's component size.
type Image struct {
	format Format

	u8  []uint8
	u16 []uint16
	f32 []float32
}

// NewImage allocates a zeroed image. Images are allocated once by a
// FrameBuffer and reused for the lifetime of the slot.
func NewImage(f Format) *Image {
	i := &Image{format: f}
	switch f.PixelFormat.BytesPerComponent() {
	case 1:
		i.u8 = make([]uint8, f.Len())
	case 2:
		i.u16 = make([]uint16, f.Len())
	case 4:
		i.f32 = make([]float32, f.Len())
	}
	return i
}

func (i *Image) Format() Format {
	return i.format
}

// Uint8 returns the backing samples of an 8-bit image.
func (i *Image) Uint8() []uint8 {
	if i.u8 == nil {
		panic(fmt.Sprintf("image %v has no 8-bit samples", i.format))
	}
	return i.u8
}

// Uint16 returns the backing samples of a 16-bit image.
func (i *Image) Uint16() []uint16 {
	if i.u16 == nil {
		panic(fmt.Sprintf("image %v has no 16-bit samples", i.format))
	}
	return i.u16
}

// Float32 returns the backing samples of a float image.
func (i *Image) Float32() []float32 {
	if i.f32 == nil {
		panic(fmt.Sprintf("image %v has no float samples", i.format))
	}
	return i.f32
}

// CopyFrom overwrites the samples of i with those of src. Both images must
// share the same format.
func (i *Image) CopyFrom(src *Image) {
	if src.format != i.format {
		panic(fmt.Sprintf("copy from %v into %v", src.format, i.format))
	}
	copy(i.u8, src.u8)
	copy(i.u16, src.u16)
	copy(i.f32, src.f32)
}

func (i *Image) Clone() *Image {
	n := NewImage(i.format)
	n.CopyFrom(i)
	return n
}
