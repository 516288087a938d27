// Capture daemon - orchestrates tab capture pipelines and the local control surface
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/truelens/capture/internal/api"
	"github.com/truelens/capture/internal/bus"
	"github.com/truelens/capture/internal/config"
	apperrors "github.com/truelens/capture/internal/errors"
	"github.com/truelens/capture/internal/media"
	"github.com/truelens/capture/internal/pipeline"
	"github.com/truelens/capture/internal/poll"
	"github.com/truelens/capture/internal/resilience"
	"github.com/truelens/capture/internal/server"
	"github.com/truelens/capture/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "lensd",
		Short:         "TrueLens capture daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")

	root.AddCommand(newRunCmd(&configPath))
	root.AddCommand(newResultsCmd(&configPath))
	root.AddCommand(newLanguagesCmd(&configPath))
	root.AddCommand(newHealthCmd(&configPath))
	return root
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load(), nil
	}
	return config.LoadFile(path)
}

func newClient(cfg *config.Config) *api.Client {
	return api.New(cfg.BackendURL, seconds(cfg.RequestTimeoutSeconds)).
		WithSaveRetry(resilience.FixedRetryConfig(cfg.SaveRetryAttempts, millis(cfg.SaveRetryDelayMillis)))
}

func newRunCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the capture daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address override")
	return cmd
}

func run(cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	snaps, err := store.Open(cfg.SnapshotPath)
	if err != nil {
		return err
	}
	defer func() { _ = snaps.Close() }()

	client := newClient(cfg)
	b := bus.New(cfg.MessageRetryCount, millis(cfg.MessageRetryDelayMillis))
	poller := poll.New(client, poll.Config{
		NotReadyInterval: seconds(cfg.PollNotReadySeconds),
		StageInterval:    seconds(cfg.PollStageSeconds),
		MaxAttempts:      cfg.PollMaxAttempts,
	})
	defer poller.Stop()

	// Audio capture is optional: a host without a capture device still
	// serves OCR, selection, and keyframe pipelines.
	var streams media.StreamProvider
	if provider, err := media.NewPortAudioProvider(cfg.SampleRate); err != nil {
		slog.Warn("audio capture unavailable", "error", err)
	} else {
		streams = provider
		defer func() { _ = provider.Close() }()
	}

	controller := pipeline.New(cfg, client, snaps, streams, media.NewBusElements(b), b, poller)
	srv := server.New(controller, poller)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("capture daemon starting", "http", cfg.HTTPAddr, "backend", cfg.BackendURL)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	controller.Close(shutdownCtx)
	slog.Info("shutdown complete")
	return nil
}

func newResultsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "results <session-id>",
		Short: "Fetch the analysis result for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			res, err := newClient(cfg).Results(cmd.Context(), args[0])
			if apperrors.IsCode(err, apperrors.CodeNotFound) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "results not ready yet")
				return nil
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "session %s  stage %d/%d  claims %d\n", res.SessionID, res.Stage, api.StageFinal, res.TotalClaims)
			for i, c := range res.Claims {
				_, _ = fmt.Fprintf(out, "\n%d. [%s] %s\n", i+1, c.Verdict, c.Claim)
				if c.Explanation != "" {
					_, _ = fmt.Fprintf(out, "   %s\n", c.Explanation)
				}
				for _, src := range c.Sources {
					_, _ = fmt.Fprintf(out, "   - %s\n", src)
				}
			}
			return nil
		},
	}
}

func newLanguagesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List supported target languages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			langs, err := newClient(cfg).Languages(cmd.Context())
			if err != nil {
				return err
			}
			for _, l := range langs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%-6s %s (%s)\n", l.Code, l.Name, l.NativeName)
			}
			return nil
		},
	}
}

func newHealthCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the verification backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			h, err := newClient(cfg).Health(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "status: %s  version: %s\n", h.Status, h.Version)
			if !h.Healthy() {
				return fmt.Errorf("backend unhealthy: %s", h.Status)
			}
			return nil
		},
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
