package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesmerkit/mesmerd/internal/daemon"
	"github.com/mesmerkit/mesmerd/internal/scheduler"
	"github.com/mesmerkit/mesmerd/internal/server"
	"github.com/mesmerkit/mesmerd/internal/version"
)

// serveCmd hosts the session engine behind the control API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session engine with the control API",
	Long: `Run the session engine as a long-lived service: sessions are started,
paused, and stopped over the HTTP control API, session events stream over
a websocket feed, and configured cron schedules start cuelists
automatically.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "control API bind address")
	serveCmd.Flags().Int("port", 0, "control API port")
	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := slog.Default()

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	sched := scheduler.New(cfg.Schedules, func(ctx context.Context, cuelist string) error {
		return d.StartSession(cuelist, 0)
	}).WithLogger(logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	srv := server.New(cfg.Server, d, logger, version.Short())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", slog.String("error", err.Error()))
	}
	return nil
}
