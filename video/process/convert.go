package process

import (
	"fmt"

	"flowcam/video"
)

// NewToF32 converts every image of the upstream slot to float samples,
// keeping the component count. 8 bit samples are scaled by 1/256 and 16 bit
// samples by 1/65536.
func NewToF32(upstream video.Stage, slots int) (*video.Processor, error) {
	n := upstream.ImagesPerSlot()
	formats := make([]video.Format, n)
	for i := range formats {
		f := upstream.Format(i)
		switch f.PixelFormat {
		case video.PixFmtY8, video.PixFmtY16, video.PixFmtYF32:
			f.PixelFormat = video.PixFmtYF32
		case video.PixFmtRGB8, video.PixFmtRGBF32:
			f.PixelFormat = video.PixFmtRGBF32
		default:
			return nil, fmt.Errorf("to f32 from %v: %w", f, video.ErrBadFormat)
		}
		formats[i] = f
	}

	return video.NewProcessor(video.ProcessorOptions{
		Name:        upstream.Name() + "-f32",
		Upstream:    []video.Stage{upstream},
		Formats:     formats,
		BufferSlots: slots,
	}, func(in []*video.Slot, out *video.Slot) {
		for i, src := range in[0].Images {
			dst := out.Images[i].Float32()
			switch src.Format().PixelFormat {
			case video.PixFmtY8, video.PixFmtRGB8:
				for j, v := range src.Uint8() {
					dst[j] = float32(v) * (1.0 / 256)
				}
			case video.PixFmtY16:
				for j, v := range src.Uint16() {
					dst[j] = float32(v) * (1.0 / 65536)
				}
			default:
				copy(dst, src.Float32())
			}
		}
	})
}

func toUint8(v float32) uint8 {
	switch {
	case v >= 255:
		return 255
	case v <= 0:
		return 0
	}
	return uint8(v + 0.5)
}

// NewToRGB8 converts every image of the upstream slot to 8 bit RGB. Float
// samples are taken as [0,1), 16 bit samples are reduced to their high byte,
// and the result is multiplied by scale and clamped.
func NewToRGB8(upstream video.Stage, scale float32, slots int) (*video.Processor, error) {
	n := upstream.ImagesPerSlot()
	formats := make([]video.Format, n)
	for i := range formats {
		f := upstream.Format(i)
		if f.PixelFormat < video.PixFmtY8 || f.PixelFormat > video.PixFmtRGBF32 {
			return nil, fmt.Errorf("to rgb8 from %v: %w", f, video.ErrBadFormat)
		}
		f.PixelFormat = video.PixFmtRGB8
		formats[i] = f
	}

	return video.NewProcessor(video.ProcessorOptions{
		Name:        upstream.Name() + "-rgb8",
		Upstream:    []video.Stage{upstream},
		Formats:     formats,
		BufferSlots: slots,
	}, func(in []*video.Slot, out *video.Slot) {
		for i, src := range in[0].Images {
			dst := out.Images[i].Uint8()
			switch src.Format().PixelFormat {
			case video.PixFmtY8:
				for j, v := range src.Uint8() {
					c := toUint8(float32(v) * scale)
					dst[3*j], dst[3*j+1], dst[3*j+2] = c, c, c
				}
			case video.PixFmtY16:
				for j, v := range src.Uint16() {
					c := toUint8(float32(v) * (scale / 256))
					dst[3*j], dst[3*j+1], dst[3*j+2] = c, c, c
				}
			case video.PixFmtYF32:
				for j, v := range src.Float32() {
					c := toUint8(v * (256 * scale))
					dst[3*j], dst[3*j+1], dst[3*j+2] = c, c, c
				}
			case video.PixFmtRGB8:
				for j, v := range src.Uint8() {
					dst[j] = toUint8(float32(v) * scale)
				}
			case video.PixFmtRGBF32:
				for j, v := range src.Float32() {
					dst[j] = toUint8(v * (256 * scale))
				}
			}
		}
	})
}
