package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/face-attendance/internal/align"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/inference"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// loadConfig loads the configuration and prints validation warnings to stderr.
func loadConfig() (*config.Config, error) {
	cfg := config.Load()
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}
	return cfg, nil
}

// resources tracks connections opened during startup so commands can close
// them in reverse order.
type resources struct {
	cfg     *config.Config
	pgPool  *postgres.Pool
	closers []func()

	// degraded lets a long-running command start without a readable identity
	// store or attendance log. CLI commands that save the index leave it off
	// so an unreadable store is never overwritten with an empty one.
	degraded bool
}

func newResources(cfg *config.Config) *resources {
	return &resources{cfg: cfg}
}

func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// postgresPool connects and migrates once, shared by the identity store and
// the attendance sink.
func (r *resources) postgresPool() (*postgres.Pool, error) {
	if r.pgPool != nil {
		return r.pgPool, nil
	}
	fmt.Fprintf(os.Stderr, "Connecting to PostgreSQL database...\n")
	pool, err := postgres.Initialize(&r.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	r.pgPool = pool
	r.closers = append(r.closers, func() { pool.Close() })
	return pool, nil
}

// openIndex builds the identity index and restores it from the configured store.
func (r *resources) openIndex(ctx context.Context) (*database.IdentityIndex, error) {
	cfg := r.cfg
	index, err := database.NewIdentityIndex(database.IndexConfig{
		Dim:       cfg.Index.Dim,
		Capacity:  cfg.Index.Capacity,
		Threshold: cfg.Index.Threshold,
		Backend:   cfg.Index.Backend,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Index.Store == "postgres" {
		if _, err := r.postgresPool(); err != nil {
			return nil, err
		}
	}
	store, err := database.GetIdentityStore(ctx, cfg.Index.Store, cfg.Index.StorePath, cfg.Index.Dim)
	if err != nil {
		return nil, err
	}
	index.SetStore(store)

	if !r.degraded {
		report, err := index.Restore(ctx)
		if err != nil {
			return nil, err
		}
		printLoadReport(report)
		return index, nil
	}
	printLoadReport(restoreIndex(ctx, index))
	return index, nil
}

func printLoadReport(report database.LoadReport) {
	for _, line := range describeLoadReport(report) {
		fmt.Fprintln(os.Stderr, line)
	}
}

// restoreIndex loads the index from its store. A store that cannot be read
// leaves the index empty and is reported as a diagnostic instead of an error.
func restoreIndex(ctx context.Context, index *database.IdentityIndex) database.LoadReport {
	report, err := index.Restore(ctx)
	if err != nil {
		report.Diagnostics = append(report.Diagnostics, database.Diagnostic{
			Message: fmt.Sprintf("identity store unreadable, starting empty: %v", err),
			Err:     err,
		})
	}
	return report
}

func describeLoadReport(report database.LoadReport) []string {
	var lines []string
	for _, d := range report.Diagnostics {
		switch {
		case errors.Is(d.Err, database.ErrStoreNotFound):
			lines = append(lines, "No identity store found, starting empty")
		case d.Err != nil:
			lines = append(lines, "Warning: "+d.Message)
		default:
			lines = append(lines, "Warning: skipped identity record: "+d.String())
		}
	}
	if report.Loaded > 0 || report.Skipped > 0 {
		lines = append(lines, fmt.Sprintf("Loaded %d identities (%d skipped)", report.Loaded, report.Skipped))
	}
	return lines
}

// openSink opens the configured attendance sink. The Lister is nil for sinks
// that cannot be read back.
func (r *resources) openSink(ctx context.Context) (attendance.Sink, attendance.Lister, error) {
	cfg := r.cfg
	switch cfg.Attendance.Sink {
	case "postgres":
		pool, err := r.postgresPool()
		if err != nil {
			return nil, nil, err
		}
		repo := postgres.NewAttendanceRepository(pool)
		fmt.Fprintf(os.Stderr, "Attendance log: PostgreSQL\n")
		return repo, repo, nil

	case "mariadb":
		pool, err := mariadb.NewPool(cfg.Database.MariaDBDSN)
		if err != nil {
			return nil, nil, err
		}
		r.closers = append(r.closers, func() { pool.Close() })
		repo, err := mariadb.NewAttendanceRepository(ctx, pool)
		if err != nil {
			return nil, nil, err
		}
		fmt.Fprintf(os.Stderr, "Attendance log: MariaDB\n")
		return repo, repo, nil

	case "csv":
		csvLog, err := attendance.OpenCSVLog(cfg.Attendance.LogPath)
		if err != nil {
			if !r.degraded {
				return nil, nil, err
			}
			fmt.Fprintf(os.Stderr, "Warning: attendance log unavailable, events will be reported as failed: %v\n", err)
			return attendance.NewUnavailableSink(err), nil, nil
		}
		r.closers = append(r.closers, func() { csvLog.Close() })
		fmt.Fprintf(os.Stderr, "Attendance log: %s\n", csvLog.Path())
		return csvLog, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown attendance sink %q", cfg.Attendance.Sink)
	}
}

// newInferenceClient creates the detector/embedder client.
func newInferenceClient(cfg *config.Config) *inference.Client {
	client := inference.NewClient(cfg.Inference.URL, cfg.Inference.Timeout, inference.DetectorSettings{
		MaxDetections: cfg.Detector.MaxDetections,
		ConfThreshold: cfg.Detector.ConfThreshold,
		IoUThreshold:  cfg.Detector.IoUThreshold,
	}, cfg.Index.Dim)
	client.SetMaxFrameSize(cfg.Inference.MaxFrameSize)
	return client
}

// newStream wires the recognition stream. A nil sink disables attendance logging.
func newStream(cfg *config.Config, client *inference.Client, index *database.IdentityIndex, sink attendance.Sink) (*recognition.Stream, error) {
	opts := recognition.StreamOptions{
		SkipInterval:  cfg.Stream.SkipInterval,
		TTL:           cfg.Stream.TTL,
		Cooldown:      cfg.Attendance.Cooldown,
		MaxDetections: cfg.Detector.MaxDetections,
		IoUThreshold:  cfg.Detector.IoUThreshold,
	}
	return recognition.NewStream(opts, client, align.New(), client, index, sink)
}

// newEnroller creates an enroller backed by the inference client.
func newEnroller(client *inference.Client) *recognition.Enroller {
	return recognition.NewEnroller(client, align.New(), client)
}

// checkInference warns when the inference server cannot be reached.
func checkInference(ctx context.Context, client *inference.Client) bool {
	if err := client.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: inference server unavailable: %v\n", err)
		return false
	}
	return true
}

var errNoEmbeddingSource = errors.New("either --image or --embedding is required")
