package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mesmerkit/mesmerd/internal/daemon"
	"github.com/mesmerkit/mesmerd/internal/events"
)

var executeDurationOverride time.Duration

// executeCmd runs a cuelist to completion.
var executeCmd = &cobra.Command{
	Use:   "execute <cuelist.json>",
	Short: "Run a cuelist to completion",
	Long: `Validate and run a cuelist from start to finish, exiting 0 when the
session finishes and non-zero on validation or runtime failure. Visual
output is headless; audio plays when a device is available.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

func init() {
	executeCmd.Flags().DurationVar(&executeDurationOverride, "duration-override", 0,
		"replace every cue's duration (e.g. 2s) for shortened runs")
	executeCmd.Flags().Int("tick-rate", 0, "engine ticks per second")
	executeCmd.Flags().String("themes", "", "theme collection file")
	executeCmd.Flags().String("playback-dir", "", "playback definitions directory")
	mustBindPFlag("engine.tick_rate", executeCmd.Flags().Lookup("tick-rate"))
	mustBindPFlag("assets.themes_file", executeCmd.Flags().Lookup("themes"))
	mustBindPFlag("assets.playback_dir", executeCmd.Flags().Lookup("playback-dir"))
	rootCmd.AddCommand(executeCmd)
}

func runExecute(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	d, err := daemon.New(cfg, slog.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	sub := d.Events().Subscribe(256)
	defer d.Events().Unsubscribe(sub.ID)

	if err := d.StartSession(args[0], executeDurationOverride); err != nil {
		cmd.SilenceUsage = true
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("interrupted")
		case ev := <-sub.Events:
			switch ev.Type {
			case events.TypeSessionFinished:
				return nil
			case events.TypeSessionStopped:
				return fmt.Errorf("session stopped before finishing")
			}
		}
	}
}
