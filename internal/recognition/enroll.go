package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ErrNoFace is returned when an enrollment photo contains no usable face.
var ErrNoFace = errors.New("no face found in image")

// Enroller computes reference embeddings from enrollment photos.
type Enroller struct {
	detector Detector
	aligner  Aligner
	embedder Embedder
}

// NewEnroller creates an enroller from the same components a Stream uses.
func NewEnroller(detector Detector, aligner Aligner, embedder Embedder) *Enroller {
	return &Enroller{detector: detector, aligner: aligner, embedder: embedder}
}

// Embed returns the embedding of the largest face in img.
func (e *Enroller) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	detections, err := e.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}

	best := -1
	bestArea := 0.0
	for i, d := range detections {
		if d.Box.Width() < MinFaceSize || d.Box.Height() < MinFaceSize {
			continue
		}
		if area := d.Box.Width() * d.Box.Height(); area > bestArea {
			best, bestArea = i, area
		}
	}
	if best < 0 {
		return nil, ErrNoFace
	}

	face, err := e.aligner.Align(img, detections[best])
	if err != nil {
		return nil, fmt.Errorf("aligning face: %w", err)
	}
	embedding, err := e.embedder.Embed(ctx, face)
	if err != nil {
		return nil, fmt.Errorf("embedding face: %w", err)
	}
	return embedding, nil
}
