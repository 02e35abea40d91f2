package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// stubDetector returns fixed detections
type stubDetector struct {
	detections []recognition.Detection
	err        error
}

func (d *stubDetector) Detect(ctx context.Context, frame image.Image) ([]recognition.Detection, error) {
	return d.detections, d.err
}

type stubAligner struct{}

func (stubAligner) Align(frame image.Image, det recognition.Detection) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 8, 8)), nil
}

// stubEmbedder returns the same embedding for every face
type stubEmbedder struct {
	embedding []float32
	err       error
}

func (e *stubEmbedder) Embed(ctx context.Context, face image.Image) ([]float32, error) {
	return e.embedding, e.err
}

// testIndex creates a 4-dim exact index persisted to a mock store
func testIndex(t *testing.T) (*database.IdentityIndex, *mock.MockIdentityStore) {
	t.Helper()
	index, err := database.NewIdentityIndex(database.IndexConfig{
		Dim:       4,
		Capacity:  16,
		Threshold: 0.8,
		Backend:   database.BackendExact,
	})
	if err != nil {
		t.Fatalf("NewIdentityIndex failed: %v", err)
	}
	store := mock.NewMockIdentityStore()
	index.SetStore(store)
	return index, store
}

// mustInsert registers an identity or fails the test
func mustInsert(t *testing.T, index *database.IdentityIndex, name string, embedding []float32) int64 {
	t.Helper()
	label, err := index.Insert(name, embedding)
	if err != nil {
		t.Fatalf("Insert(%q) failed: %v", name, err)
	}
	return label
}

// oneFace is a detection large enough to survive filtering
func oneFace() []recognition.Detection {
	return []recognition.Detection{{
		Box:        recognition.Box{X1: 8, Y1: 8, X2: 40, Y2: 40},
		Confidence: 0.9,
	}}
}

// testStream wires a stream that runs a full pass on every frame
func testStream(t *testing.T, index *database.IdentityIndex, detector recognition.Detector, embedder recognition.Embedder, sink *mock.MockSink) *recognition.Stream {
	t.Helper()
	opts := recognition.DefaultStreamOptions()
	opts.SkipInterval = 1
	opts.TTL = 1
	opts.Cooldown = time.Minute

	var s attendance.Sink
	if sink != nil {
		s = sink
	}
	stream, err := recognition.NewStream(opts, detector, stubAligner{}, embedder, index, s)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	return stream
}

// pngBytes encodes a blank 64x64 PNG
func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 64))); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("json.Marshal failed: %v", err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
