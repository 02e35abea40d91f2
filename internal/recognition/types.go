// Package recognition runs the per-frame face recognition pipeline and keeps
// recent results alive between full detection passes.
package recognition

import (
	"context"
	"errors"
	"image"
	"math"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// ErrInvalidConfig is returned for a non-positive skip interval or TTL.
var ErrInvalidConfig = errors.New("invalid recognition configuration")

// MinFaceSize is the smallest box side, in pixels, that is kept from the detector.
const MinFaceSize = 5

// Landmark indices within Landmarks.
const (
	LeftEye = iota
	RightEye
	Nose
	Mouth
	LeftCheek
	RightCheek
	NumLandmarks
)

// Display box padding around the landmark extent.
const (
	landmarkPadding   = 20
	landmarkExpandTop = 0.40
	landmarkExpandBot = 0.45
)

// Box is an axis-aligned rectangle in frame pixels.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Corners returns [x1, y1, x2, y2] as used by facematch.ComputeIoU.
func (b Box) Corners() []float64 {
	return []float64{b.X1, b.Y1, b.X2, b.Y2}
}

// Rect returns the integer rectangle covering the box, clipped to bounds.
func (b Box) Rect(bounds image.Rectangle) image.Rectangle {
	r := image.Rect(
		int(math.Floor(b.X1)), int(math.Floor(b.Y1)),
		int(math.Ceil(b.X2)), int(math.Ceil(b.Y2)),
	)
	return r.Intersect(bounds)
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Landmarks holds the six facial keypoints: eyes, nose, mouth and cheeks.
type Landmarks [NumLandmarks]Point

// IsZero reports whether no landmarks were provided.
func (l Landmarks) IsZero() bool {
	return l == Landmarks{}
}

// DisplayBox returns the overlay rectangle derived from the landmark extent,
// padded and stretched towards the forehead and chin, clipped to a w×h frame.
func (l Landmarks) DisplayBox(w, h int) Box {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range l {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}

	minX = max(0, minX-landmarkPadding)
	maxX = min(float64(w-1), maxX+landmarkPadding)
	minY = max(0, minY-landmarkPadding)
	maxY = min(float64(h-1), maxY+landmarkPadding)

	height := maxY - minY
	return Box{
		X1: max(0, minX),
		Y1: max(0, minY-height*landmarkExpandTop),
		X2: min(float64(w), maxX),
		Y2: min(float64(h), maxY+height*landmarkExpandBot),
	}
}

// Detection is one face reported by a Detector.
type Detection struct {
	Box        Box       `json:"box"`
	Confidence float64   `json:"confidence"`
	Landmarks  Landmarks `json:"landmarks"`
}

// CachedDetection is a recognized face kept across frames.
type CachedDetection struct {
	Box        Box       `json:"box"`
	DisplayBox Box       `json:"display_box"`
	Name       string    `json:"name"`
	Label      int64     `json:"label"`
	Confidence float64   `json:"confidence"`
	Similarity float64   `json:"similarity"`
	Landmarks  Landmarks `json:"landmarks"`
	TTL        int       `json:"ttl"`
}

// Known reports whether the detection was matched to an identity.
func (d CachedDetection) Known() bool {
	return d.Label > database.NoLabel
}

// Detector finds faces in a frame.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
}

// Aligner produces the embedder input for one detection.
type Aligner interface {
	Align(frame image.Image, det Detection) (image.Image, error)
}

// Embedder computes a face embedding.
type Embedder interface {
	Embed(ctx context.Context, face image.Image) ([]float32, error)
}

// Searcher resolves an embedding to an identity.
type Searcher interface {
	Match(embedding []float32) (database.SearchResult, error)
}
