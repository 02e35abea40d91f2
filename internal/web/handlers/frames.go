package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"mime"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/inference"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// FramesHandler feeds uploaded frames into the recognition stream.
type FramesHandler struct {
	stream *recognition.Stream
}

// NewFramesHandler creates a new frames handler
func NewFramesHandler(stream *recognition.Stream) *FramesHandler {
	return &FramesHandler{stream: stream}
}

// frameBytes returns the raw image from either a multipart "frame" field or the body itself.
func frameBytes(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return readBody(w, r, constants.MaxFrameSize)
	}

	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxFrameSize)
	if err := r.ParseMultipartForm(constants.MaxFrameSize); err != nil {
		return nil, err
	}
	file, _, err := r.FormFile("frame")
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// Process runs one frame through the stream and returns the overlay state and
// any attendance events it produced.
func (h *FramesHandler) Process(w http.ResponseWriter, r *http.Request) {
	data, err := frameBytes(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read frame")
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "empty frame")
		return
	}

	frame, err := inference.DecodeImage(data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unsupported image format")
		return
	}

	result, err := h.stream.Process(r.Context(), frame)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "frame processing cancelled")
		return
	case err != nil:
		log.Printf("Frames: %v", err)
		respondError(w, http.StatusBadGateway, "face detection failed")
		return
	}

	if result.Detections == nil {
		result.Detections = []recognition.CachedDetection{}
	}
	respondJSON(w, http.StatusOK, result)
}
