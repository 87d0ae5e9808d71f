package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesmerkit/mesmerd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  "Commands for inspecting mesmerd configuration.",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the default configuration",
	Long: `Dump the default configuration values in YAML format.

Redirect this output to a file to create a configuration template:

  mesmerd config dump > .mesmerd.yaml

Configuration can be set via config file (.mesmerd.yaml, /etc/mesmerd),
environment variables with the MESMERD_ prefix and underscores for
nesting (engine.tick_rate -> MESMERD_ENGINE_TICK_RATE), or command-line
flags where available.`,
	RunE: runConfigDump,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  "Show the merged configuration after file, environment, and flags.",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigDump(cmd *cobra.Command, args []string) error {
	v := viper.New()
	config.SetDefaults(v)
	return dumpSettings(v.AllSettings())
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	return dumpSettings(viper.AllSettings())
}

func dumpSettings(settings map[string]any) error {
	out, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshaling configuration: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
