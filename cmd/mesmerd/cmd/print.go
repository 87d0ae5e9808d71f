package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mesmerkit/mesmerd/internal/models"
)

var printFormat string

// printCmd dumps the parsed structure of a cuelist.
var printCmd = &cobra.Command{
	Use:   "print <cuelist.json>",
	Short: "Print the parsed structure of a cuelist",
	Long: `Parse a cuelist and print its structure: cues, durations, playback
pools with weights, selection modes, transitions, and audio tracks.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrint,
}

func init() {
	printCmd.Flags().StringVar(&printFormat, "format", "json", "output format (json, yaml)")
	rootCmd.AddCommand(printCmd)
}

func runPrint(cmd *cobra.Command, args []string) error {
	cuelist, err := models.LoadCuelist(args[0])
	if err != nil {
		return err
	}

	switch printFormat {
	case "json":
		out, err := json.MarshalIndent(cuelist, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "yaml":
		out, err := yaml.Marshal(cuelist)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
	default:
		return fmt.Errorf("unknown format %q (expected json or yaml)", printFormat)
	}
	return nil
}
