// Package inference talks to the face inference server, which hosts the face
// detector and the ArcFace embedder.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

const (
	defaultInferenceURL = "http://localhost:8000"
	defaultTimeout      = 30 * time.Second

	// DefaultMaxFrameSize bounds the longer side of frames sent for detection.
	DefaultMaxFrameSize = 1280
)

var (
	// ErrEmptyEmbedding is returned when the server sends no embedding.
	ErrEmptyEmbedding = errors.New("empty embedding returned")
	// ErrBadLandmarks is returned when a face carries a landmark count other than six.
	ErrBadLandmarks = errors.New("unexpected landmark count")
)

// DetectorSettings are forwarded to the detector model.
type DetectorSettings struct {
	MaxDetections int
	ConfThreshold float64
	IoUThreshold  float64
}

// Client implements recognition.Detector and recognition.Embedder over HTTP.
type Client struct {
	baseURL      string
	client       *http.Client
	detector     DetectorSettings
	dim          int
	maxFrameSize int
}

// NewClient creates a client. dim, when positive, is the embedding dimension
// every response must have.
func NewClient(baseURL string, timeout time.Duration, detector DetectorSettings, dim int) *Client {
	if baseURL == "" {
		baseURL = defaultInferenceURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		client:       &http.Client{Timeout: timeout},
		detector:     detector,
		dim:          dim,
		maxFrameSize: DefaultMaxFrameSize,
	}
}

// SetMaxFrameSize changes the downscale limit for detection uploads. Zero disables downscaling.
func (c *Client) SetMaxFrameSize(size int) {
	c.maxFrameSize = size
}

// embeddingResponse represents the response from the embedding endpoint
type embeddingResponse struct {
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// faceResponse is one detected face. Box is [x1, y1, x2, y2]; landmarks are
// six [x, y] pairs: eyes, nose, mouth and cheeks.
type faceResponse struct {
	BBox      []float64   `json:"bbox"`
	DetScore  float64     `json:"det_score"`
	Landmarks [][]float64 `json:"landmarks"`
}

// detectResponse represents the response from the detection endpoint. When
// Normalized is set, coordinates are fractions of the image size.
type detectResponse struct {
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Normalized bool           `json:"normalized"`
	Faces      []faceResponse `json:"faces"`
}

// postMultipartImage constructs a multipart form with the image data and posts it to the given endpoint.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// Detect finds faces in frame. Coordinates are returned in frame pixels.
func (c *Client) Detect(ctx context.Context, frame image.Image) ([]recognition.Detection, error) {
	upload, scale := Downscale(frame, c.maxFrameSize)
	data, err := EncodeJPEG(upload)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	if c.detector.MaxDetections > 0 {
		params.Set("max_detections", strconv.Itoa(c.detector.MaxDetections))
	}
	if c.detector.ConfThreshold > 0 {
		params.Set("conf_threshold", strconv.FormatFloat(c.detector.ConfThreshold, 'f', -1, 64))
	}
	params.Set("iou_threshold", strconv.FormatFloat(c.detector.IoUThreshold, 'f', -1, 64))

	body, err := c.postMultipartImage(ctx, "/detect/face?"+params.Encode(), data)
	if err != nil {
		return nil, err
	}

	var resp detectResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// Map server coordinates back onto the original frame.
	sx, sy := scale, scale
	if resp.Normalized {
		b := upload.Bounds()
		sx, sy = float64(b.Dx())*scale, float64(b.Dy())*scale
	}
	origin := frame.Bounds().Min

	detections := make([]recognition.Detection, 0, len(resp.Faces))
	for i, f := range resp.Faces {
		if len(f.BBox) != 4 {
			return nil, fmt.Errorf("face %d: bbox has %d values, want 4", i, len(f.BBox))
		}
		det := recognition.Detection{
			Box: recognition.Box{
				X1: f.BBox[0]*sx + float64(origin.X),
				Y1: f.BBox[1]*sy + float64(origin.Y),
				X2: f.BBox[2]*sx + float64(origin.X),
				Y2: f.BBox[3]*sy + float64(origin.Y),
			},
			Confidence: f.DetScore,
		}
		switch len(f.Landmarks) {
		case 0:
		case recognition.NumLandmarks:
			for j, p := range f.Landmarks {
				if len(p) != 2 {
					return nil, fmt.Errorf("face %d: %w: point %d has %d values", i, ErrBadLandmarks, j, len(p))
				}
				det.Landmarks[j] = recognition.Point{
					X: p[0]*sx + float64(origin.X),
					Y: p[1]*sy + float64(origin.Y),
				}
			}
		default:
			return nil, fmt.Errorf("face %d: %w: %d", i, ErrBadLandmarks, len(f.Landmarks))
		}
		detections = append(detections, det)
	}
	return detections, nil
}

// Embed computes the unit-norm embedding of an aligned face.
func (c *Client) Embed(ctx context.Context, face image.Image) ([]float32, error) {
	data, err := EncodeJPEG(face)
	if err != nil {
		return nil, err
	}

	body, err := c.postMultipartImage(ctx, "/embed/face/aligned", data)
	if err != nil {
		return nil, err
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, ErrEmptyEmbedding
	}
	if c.dim > 0 && len(embResp.Embedding) != c.dim {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(embResp.Embedding), c.dim)
	}

	return facematch.Normalize(embResp.Embedding), nil
}

// Health checks that the inference server is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
