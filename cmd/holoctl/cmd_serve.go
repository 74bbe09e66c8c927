package main

import (
	"github.com/danmuck/holoctl/internal/service"
	"github.com/spf13/cobra"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control endpoint and HTTP surface until interrupted",
	RunE: func(*cobra.Command, []string) error {
		cfg, err := loadServiceConfig(serveConfigPath)
		if err != nil {
			return err
		}
		return service.NewServiceWithConfig(cfg).Run()
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "cmd/holoctl/config.toml", "service config path")
}
