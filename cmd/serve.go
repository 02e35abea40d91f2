package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Attendance API server.
The server accepts camera frames, recognizes registered identities, logs
attendance and exposes identity management endpoints.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// saveIndex persists the identity index during shutdown.
func saveIndex(ctx context.Context, index *database.IdentityIndex) {
	if err := index.Save(ctx); err != nil {
		fmt.Printf("Warning: failed to save identities: %v\n", err)
		return
	}
	fmt.Printf("Saved %d identities\n", index.Count())
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := newResources(cfg)
	res.degraded = true
	defer res.Close()

	index, err := res.openIndex(ctx)
	if err != nil {
		return fmt.Errorf("failed to open identity index: %w", err)
	}
	sink, lister, err := res.openSink(ctx)
	if err != nil {
		return fmt.Errorf("failed to open attendance log: %w", err)
	}

	client := newInferenceClient(cfg)
	checkInference(ctx, client)

	stream, err := newStream(cfg, client, index, sink)
	if err != nil {
		return fmt.Errorf("failed to create recognition stream: %w", err)
	}

	deps := web.Dependencies{
		Index:     index,
		Stream:    stream,
		Enroller:  newEnroller(client),
		Inference: client,
	}
	if lister != nil {
		deps.Attendance = lister
	}
	server := web.NewServer(cfg, deps)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
		saveIndex(shutdownCtx, index)
	}()

	fmt.Printf("Starting Face Attendance API on http://%s\n", cfg.Web.Addr())
	fmt.Printf("Identities: %d, match threshold %.2f, skip interval %d, cache TTL %d\n",
		index.Count(), cfg.Index.Threshold, cfg.Stream.SkipInterval, cfg.Stream.TTL)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	<-done
	return nil
}
