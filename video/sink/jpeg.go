package sink

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"flowcam/video"
)

// ToMat copies an 8-bit gray or RGB image into a new gray or BGR Mat.
func ToMat(img *video.Image) (gocv.Mat, error) {
	f := img.Format()
	var mt gocv.MatType
	switch f.PixelFormat {
	case video.PixFmtY8:
		mt = gocv.MatTypeCV8UC1
	case video.PixFmtRGB8:
		mt = gocv.MatTypeCV8UC3
	default:
		return gocv.Mat{}, fmt.Errorf("mat from %v: %w", f.PixelFormat, video.ErrBadFormat)
	}

	m := gocv.NewMatWithSize(f.Height, f.Width, mt)
	b, err := m.DataPtrUint8()
	if err != nil {
		m.Close()
		return gocv.Mat{}, err
	}
	copy(b, img.Uint8())
	if f.PixelFormat == video.PixFmtRGB8 {
		// OpenCV expects BGR ordering.
		gocv.CvtColor(m, &m, gocv.ColorBGRToRGB)
	}
	return m, nil
}

func encode(m gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, m)
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}

// EncodeJPEG compresses an 8-bit gray or RGB image.
func EncodeJPEG(img *video.Image) ([]byte, error) {
	m, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	return encode(m)
}

// EncodeThumbnail scales the image to size before compressing it.
func EncodeThumbnail(img *video.Image, size image.Point) ([]byte, error) {
	m, err := ToMat(img)
	if err != nil {
		return nil, err
	}
	defer m.Close()

	t := gocv.NewMat()
	defer t.Close()
	gocv.Resize(m, &t, size, 0, 0, gocv.InterpolationArea)
	return encode(t)
}
