package main

import (
	"fmt"
	"os"

	"github.com/danmuck/holoctl/internal/logging"
	"github.com/spf13/cobra"
)

var version = "0.0.1"

var rootCmd = &cobra.Command{
	Use:   "holoctl",
	Short: "Supervisory control and configuration validation for the holography sensor",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		logging.ConfigureRuntime()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "holoctl: %v\n", err)
		os.Exit(1)
	}
}
