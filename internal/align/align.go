// Package align warps detected faces into the fixed-size input of the face embedder.
package align

import (
	"errors"
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// FaceSize is the side of the square embedder input.
const FaceSize = 112

// minEyeDistance is the inter-eye distance, in pixels, below which the
// similarity transform is unstable and a plain crop is used instead.
const minEyeDistance = 1.0

// Reference eye positions of the standard 112×112 ArcFace template.
var (
	templateLeftEye  = recognition.Point{X: 38.2946, Y: 51.6963}
	templateRightEye = recognition.Point{X: 73.5318, Y: 51.5014}
)

// ErrEmptyFace is returned when the detection box does not overlap the frame.
var ErrEmptyFace = errors.New("face box is outside the frame")

// Aligner maps faces onto the template using the eye landmarks.
type Aligner struct {
	Size   int
	Interp draw.Interpolator
}

// New returns an aligner producing FaceSize×FaceSize images.
func New() *Aligner {
	return &Aligner{Size: FaceSize, Interp: draw.BiLinear}
}

// Align returns the aligned face for det. Without usable eye landmarks the
// detection box is cropped and scaled instead.
func (a *Aligner) Align(frame image.Image, det recognition.Detection) (image.Image, error) {
	size := a.Size
	if size <= 0 {
		size = FaceSize
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))

	le, re := det.Landmarks[recognition.LeftEye], det.Landmarks[recognition.RightEye]
	if det.Landmarks.IsZero() || math.Hypot(re.X-le.X, re.Y-le.Y) < minEyeDistance {
		return a.crop(dst, frame, det.Box)
	}

	s2d := EyeTransform(le, re, float64(size)/FaceSize)
	a.interp().Transform(dst, s2d, frame, frame.Bounds(), draw.Src, nil)
	return dst, nil
}

func (a *Aligner) interp() draw.Interpolator {
	if a.Interp == nil {
		return draw.BiLinear
	}
	return a.Interp
}

// crop scales the detection box, clamped to the frame, to fill dst.
func (a *Aligner) crop(dst *image.RGBA, frame image.Image, box recognition.Box) (image.Image, error) {
	r := box.Rect(frame.Bounds())
	if r.Empty() {
		return nil, fmt.Errorf("%w: %+v", ErrEmptyFace, box)
	}
	a.interp().Scale(dst, dst.Bounds(), frame, r, draw.Src, nil)
	return dst, nil
}

// EyeTransform returns the similarity transform (rotation, uniform scale and
// translation) taking the frame's eye points onto the template eyes, with the
// template scaled by scale.
func EyeTransform(leftEye, rightEye recognition.Point, scale float64) f64.Aff3 {
	tl := recognition.Point{X: templateLeftEye.X * scale, Y: templateLeftEye.Y * scale}
	tr := recognition.Point{X: templateRightEye.X * scale, Y: templateRightEye.Y * scale}

	// Complex division (tr - tl) / (re - le) gives a + bi = scale·e^{iθ}.
	sx, sy := rightEye.X-leftEye.X, rightEye.Y-leftEye.Y
	dx, dy := tr.X-tl.X, tr.Y-tl.Y
	den := sx*sx + sy*sy
	a := (dx*sx + dy*sy) / den
	b := (dy*sx - dx*sy) / den

	tx := tl.X - (a*leftEye.X - b*leftEye.Y)
	ty := tl.Y - (b*leftEye.X + a*leftEye.Y)

	return f64.Aff3{
		a, -b, tx,
		b, a, ty,
	}
}

// Apply maps p through m.
func Apply(m f64.Aff3, p recognition.Point) recognition.Point {
	return recognition.Point{
		X: m[0]*p.X + m[1]*p.Y + m[2],
		Y: m[3]*p.X + m[4]*p.Y + m[5],
	}
}
