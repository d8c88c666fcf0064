package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Maestro - AI task orchestration engine",
	Long: `Maestro executes dependency-ordered AI task plans across multiple
model providers. It routes each task to the best provider by cost,
performance or quality, retries and falls back on failure, and can fuse
answers from several providers into a consensus.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.maestro/maestro.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd exposes the root command for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the build version string.
func GetVersion() string {
	return version
}
