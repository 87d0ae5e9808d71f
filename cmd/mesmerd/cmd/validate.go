package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesmerkit/mesmerd/internal/models"
)

// validateCmd checks a cuelist file and reports every problem found.
var validateCmd = &cobra.Command{
	Use:   "validate <cuelist.json>",
	Short: "Validate a cuelist file",
	Long: `Validate a cuelist file and list every problem found, not just the
first. When a playback directory is configured, playback references are
checked against it as well.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := args[0]
	cuelist, err := models.LoadCuelist(path)
	if err != nil {
		return err
	}

	problems := cuelist.Validate()

	if dir := viper.GetString("assets.playback_dir"); dir != "" {
		if playbacks, err := models.LoadPlaybackDir(dir); err != nil {
			fmt.Fprintf(os.Stderr, "warning: cannot check playback references: %v\n", err)
		} else {
			problems = append(problems, checkPlaybackRefs(cuelist, playbacks)...)
		}
	}

	if len(problems) == 0 {
		fmt.Printf("%s: OK (%d cues)\n", path, len(cuelist.Cues))
		return nil
	}

	for _, p := range problems {
		fmt.Fprintf(os.Stderr, "%s: %s: %s\n", path, p.Field, p.Message)
	}
	cmd.SilenceUsage = true
	return fmt.Errorf("%d validation problems", len(problems))
}

// checkPlaybackRefs verifies every pool entry names a loadable playback.
func checkPlaybackRefs(cuelist *models.Cuelist, playbacks map[string]*models.Playback) models.ValidationErrors {
	var errs models.ValidationErrors
	for i, cue := range cuelist.Cues {
		for j, entry := range cue.PlaybackPool {
			if _, ok := playbacks[entry.Playback]; !ok {
				errs = append(errs, models.ValidationError{
					Field:   fmt.Sprintf("cues[%d].playback_pool[%d].playback", i, j),
					Message: fmt.Sprintf("unknown playback %q", entry.Playback),
				})
			}
		}
	}
	return errs
}
