package inference

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/recognition"
)

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: 200, G: 150, B: 100, A: 255})
		}
	}
	return img
}

// readUpload checks the multipart upload and decodes the image.
func readUpload(t *testing.T, r *http.Request) image.Image {
	t.Helper()
	file, header, err := r.FormFile("file")
	if err != nil {
		t.Fatalf("expected multipart file: %v", err)
	}
	defer file.Close()
	if ct := header.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg part, got %q", ct)
	}
	data, _ := io.ReadAll(file)
	img, err := DecodeImage(data)
	if err != nil {
		t.Fatalf("failed to decode upload: %v", err)
	}
	return img
}

func TestDetect_PixelCoordinates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/detect/face" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("max_detections") != "25" || q.Get("conf_threshold") != "0.5" || q.Get("iou_threshold") != "0.3" {
			t.Errorf("unexpected detector params: %v", q)
		}
		readUpload(t, r)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"width":  320,
			"height": 240,
			"faces": []map[string]any{{
				"bbox":      []float64{10, 20, 110, 140},
				"det_score": 0.93,
				"landmarks": [][]float64{{40, 60}, {80, 60}, {60, 80}, {60, 110}, {30, 80}, {90, 80}},
			}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, DetectorSettings{MaxDetections: 25, ConfThreshold: 0.5, IoUThreshold: 0.3}, 0)
	dets, err := client.Detect(context.Background(), solidImage(320, 240))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	if len(dets) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(dets))
	}
	want := recognition.Box{X1: 10, Y1: 20, X2: 110, Y2: 140}
	if dets[0].Box != want {
		t.Errorf("expected box %+v, got %+v", want, dets[0].Box)
	}
	if dets[0].Confidence != 0.93 {
		t.Errorf("expected confidence 0.93, got %v", dets[0].Confidence)
	}
	if dets[0].Landmarks[recognition.RightEye] != (recognition.Point{X: 80, Y: 60}) {
		t.Errorf("unexpected right eye: %+v", dets[0].Landmarks[recognition.RightEye])
	}
}

func TestDetect_NormalizedAndDownscaled(t *testing.T) {
	var uploaded image.Rectangle
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploaded = readUpload(t, r).Bounds()
		json.NewEncoder(w).Encode(map[string]any{
			"normalized": true,
			"faces": []map[string]any{{
				"bbox":      []float64{0.25, 0.5, 0.5, 1},
				"det_score": 0.8,
			}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, DetectorSettings{}, 0)
	client.SetMaxFrameSize(200)

	dets, err := client.Detect(context.Background(), solidImage(400, 200))
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if uploaded.Dx() != 200 || uploaded.Dy() != 100 {
		t.Errorf("expected 200x100 upload, got %v", uploaded)
	}

	want := recognition.Box{X1: 100, Y1: 100, X2: 200, Y2: 200}
	if dets[0].Box != want {
		t.Errorf("expected box %+v in frame pixels, got %+v", want, dets[0].Box)
	}
	if !dets[0].Landmarks.IsZero() {
		t.Error("expected no landmarks")
	}
}

func TestDetect_BadResponses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"detail":"model not loaded"}`},
		{"invalid json", http.StatusOK, `not json`},
		{"short bbox", http.StatusOK, `{"faces":[{"bbox":[1,2,3],"det_score":0.9}]}`},
		{"wrong landmark count", http.StatusOK, `{"faces":[{"bbox":[1,2,30,40],"det_score":0.9,"landmarks":[[1,2],[3,4]]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, time.Second, DetectorSettings{}, 0)
			if _, err := client.Detect(context.Background(), solidImage(50, 50)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEmbed_NormalizesOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face/aligned" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if img := readUpload(t, r); img.Bounds().Dx() != 112 {
			t.Errorf("expected 112px face, got %v", img.Bounds())
		}
		json.NewEncoder(w).Encode(map[string]any{"dim": 4, "embedding": []float32{3, 4, 0, 0}, "model": "arcface"})
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, DetectorSettings{}, 4)
	emb, err := client.Embed(context.Background(), solidImage(112, 112))
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	if math.Abs(float64(emb[0])-0.6) > 1e-6 || math.Abs(float64(emb[1])-0.8) > 1e-6 {
		t.Errorf("expected normalized [0.6 0.8 0 0], got %v", emb)
	}
}

func TestEmbed_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		dim     int
		wantErr error
		wantMsg string
	}{
		{"empty embedding", `{"embedding":[]}`, 0, ErrEmptyEmbedding, ""},
		{"wrong dimension", `{"embedding":[1,0,0]}`, 4, nil, "expected 4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL, time.Second, DetectorSettings{}, tt.dim)
			_, err := client.Embed(context.Background(), solidImage(112, 112))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected error containing %q, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	healthy := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", time.Second, DetectorSettings{}, 0)
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
	healthy = false
	if err := client.Health(context.Background()); err == nil {
		t.Error("expected error for unhealthy server")
	}
}

func TestDownscale(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
		wantScale    float64
	}{
		{"fits", 100, 80, 200, 100, 80, 1},
		{"landscape", 400, 200, 200, 200, 100, 2},
		{"portrait", 300, 600, 150, 75, 150, 4},
		{"disabled", 4000, 3000, 0, 4000, 3000, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, scale := Downscale(image.NewRGBA(image.Rect(0, 0, tt.w, tt.h)), tt.max)
			if img.Bounds().Dx() != tt.wantW || img.Bounds().Dy() != tt.wantH {
				t.Errorf("expected %dx%d, got %v", tt.wantW, tt.wantH, img.Bounds())
			}
			if scale != tt.wantScale {
				t.Errorf("expected scale %v, got %v", tt.wantScale, scale)
			}
		})
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"bmp", []byte{0x42, 0x4D, 0, 0, 0, 0, 0, 0}, "image/bmp"},
		{"short", []byte{0xFF}, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectMIMEType(tt.data); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
