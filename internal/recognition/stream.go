package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/facematch"
)

// Failure stages reported in FrameResult.
const (
	StageAlign  = "align"
	StageEmbed  = "embed"
	StageSearch = "search"
	StageSink   = "sink"
)

// Failure describes a problem with one face or one attendance event. It does
// not abort the frame.
type Failure struct {
	Stage   string `json:"stage"`
	Label   int64  `json:"label,omitempty"`
	Message string `json:"message"`
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	Frame      uint64             `json:"frame"`
	Refreshed  bool               `json:"refreshed"`
	Detections []CachedDetection  `json:"detections"`
	Events     []attendance.Event `json:"events"`
	Failures   []Failure          `json:"failures,omitempty"`
}

// StreamOptions configures a Stream.
type StreamOptions struct {
	SkipInterval  int
	TTL           int
	Cooldown      time.Duration
	MaxDetections int     // 0 keeps every detection
	IoUThreshold  float64 // overlap above which the weaker box is suppressed
}

// DefaultStreamOptions returns the standard settings.
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		SkipInterval:  DefaultSkipInterval,
		TTL:           DefaultTTL,
		Cooldown:      attendance.DefaultCooldown,
		MaxDetections: 25,
		IoUThreshold:  0.3,
	}
}

// Stream processes frames one at a time: it reuses cached results between full
// passes, recognizes faces on full passes and logs attendance for known identities.
type Stream struct {
	mu        sync.Mutex
	frame     uint64
	cache     *Cache
	debouncer *attendance.Debouncer
	opts      StreamOptions

	detector Detector
	aligner  Aligner
	embedder Embedder
	searcher Searcher
	sink     attendance.Sink

	// Now returns the event timestamp. Defaults to time.Now.
	Now func() time.Time
}

// NewStream wires the pipeline. A nil sink disables attendance logging.
func NewStream(opts StreamOptions, detector Detector, aligner Aligner, embedder Embedder, searcher Searcher, sink attendance.Sink) (*Stream, error) {
	if detector == nil || aligner == nil || embedder == nil || searcher == nil {
		return nil, errors.New("stream requires a detector, aligner, embedder and searcher")
	}
	cache, err := NewCache(opts.SkipInterval, opts.TTL)
	if err != nil {
		return nil, err
	}

	return &Stream{
		cache:     cache,
		debouncer: attendance.NewDebouncer(opts.Cooldown),
		opts:      opts,
		detector:  detector,
		aligner:   aligner,
		embedder:  embedder,
		searcher:  searcher,
		sink:      sink,
		Now:       time.Now,
	}, nil
}

// Process handles one frame. Detector failures abort the frame and are returned;
// per-face and sink failures are reported in the result.
func (s *Stream) Process(ctx context.Context, frame image.Image) (*FrameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame++
	result := &FrameResult{Frame: s.frame}

	s.cache.Age()
	if !s.cache.NeedsRefresh() {
		result.Detections = s.cache.Entries()
		return result, nil
	}
	result.Refreshed = true

	detections, err := s.detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", s.frame, err)
	}

	bounds := frame.Bounds()
	entries := make([]CachedDetection, 0, len(detections))
	for _, det := range detections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, failure := s.recognize(ctx, frame, det)
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
		}
		if det.Landmarks.IsZero() {
			entry.DisplayBox = entry.Box
		} else {
			entry.DisplayBox = det.Landmarks.DisplayBox(bounds.Dx(), bounds.Dy())
		}
		entries = append(entries, entry)
	}
	s.cache.Replace(entries)
	result.Detections = s.cache.Entries()

	s.logAttendance(ctx, result)
	return result, nil
}

// detect runs the detector and drops tiny and overlapping boxes.
func (s *Stream) detect(ctx context.Context, frame image.Image) ([]Detection, error) {
	raw, err := s.detector.Detect(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detecting faces: %w", err)
	}

	var (
		kept   []Detection
		boxes  [][]float64
		scores []float64
	)
	for _, d := range raw {
		if d.Box.Width() < MinFaceSize || d.Box.Height() < MinFaceSize {
			continue
		}
		kept = append(kept, d)
		boxes = append(boxes, d.Box.Corners())
		scores = append(scores, d.Confidence)
	}

	order := facematch.NonMaxSuppression(boxes, scores, s.opts.IoUThreshold)
	if s.opts.MaxDetections > 0 && len(order) > s.opts.MaxDetections {
		order = order[:s.opts.MaxDetections]
	}

	result := make([]Detection, 0, len(order))
	for _, i := range order {
		result = append(result, kept[i])
	}
	return result, nil
}

// recognize aligns, embeds and searches one face. On failure the face is kept
// as Unknown and the failure is returned.
func (s *Stream) recognize(ctx context.Context, frame image.Image, det Detection) (CachedDetection, *Failure) {
	entry := CachedDetection{
		Box:        det.Box,
		Name:       database.UnknownName,
		Label:      database.NoLabel,
		Confidence: det.Confidence,
		Landmarks:  det.Landmarks,
	}

	face, err := s.aligner.Align(frame, det)
	if err != nil {
		return entry, &Failure{Stage: StageAlign, Message: err.Error()}
	}
	embedding, err := s.embedder.Embed(ctx, face)
	if err != nil {
		return entry, &Failure{Stage: StageEmbed, Message: err.Error()}
	}
	match, err := s.searcher.Match(embedding)
	if err != nil {
		return entry, &Failure{Stage: StageSearch, Message: err.Error()}
	}

	entry.Similarity = match.Similarity
	if match.Found {
		entry.Name = match.Name
		entry.Label = match.Label
	}
	return entry, nil
}

// logAttendance consults the debouncer for every known identity of a full pass
// and writes an event for each one it lets through.
func (s *Stream) logAttendance(ctx context.Context, result *FrameResult) {
	now := s.Now()

	var seen []int64
	for _, d := range result.Detections {
		if !d.Known() || slices.Contains(seen, d.Label) {
			continue
		}
		seen = append(seen, d.Label)

		if !s.debouncer.ShouldLog(d.Label, now) {
			continue
		}
		event := attendance.NewEvent(d.Label, d.Name, now)
		if s.sink != nil {
			if err := s.sink.Record(ctx, event); err != nil {
				log.Printf("Attendance: failed to record %s (label %d): %v", d.Name, d.Label, err)
				result.Failures = append(result.Failures, Failure{Stage: StageSink, Label: d.Label, Message: err.Error()})
				continue
			}
		}
		result.Events = append(result.Events, event)
	}
}

// Settings returns the current skip interval, TTL and cooldown.
func (s *Stream) Settings() StreamOptions {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := s.opts
	opts.SkipInterval, opts.TTL = s.cache.Settings()
	opts.Cooldown = s.debouncer.Cooldown()
	return opts
}

// Reconfigure changes the skip interval, TTL and cooldown between frames.
// Zero values leave a setting unchanged.
func (s *Stream) Reconfigure(interval, ttl int, cooldown time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	curInterval, curTTL := s.cache.Settings()
	if interval == 0 {
		interval = curInterval
	}
	if ttl == 0 {
		ttl = curTTL
	}
	if err := checkSettings(interval, ttl); err != nil {
		return err
	}
	if cooldown < 0 {
		return fmt.Errorf("%w: cooldown must not be negative", ErrInvalidConfig)
	}

	if err := s.cache.SetTTL(ttl); err != nil {
		return err
	}
	if err := s.cache.SetInterval(interval); err != nil {
		return err
	}
	if cooldown > 0 {
		s.debouncer.SetCooldown(cooldown)
	}
	return nil
}

// Forget drops cached detections and attendance state for a deleted identity.
func (s *Stream) Forget(label int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Reset()
	s.debouncer.Forget(label)
}
