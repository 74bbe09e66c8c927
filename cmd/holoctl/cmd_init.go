package main

import (
	"fmt"

	"github.com/danmuck/holoctl/internal/config"
	"github.com/spf13/cobra"
)

var (
	initKind  string
	initForce bool
)

var initCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write a config template for holoctl or the simulated engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteTemplate(args[0], initKind, initForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s config to %s\n", initKind, args[0])
		return nil
	},
}

func init() {
	initCmd.Flags().StringVarP(&initKind, "kind", "k", "holoctl", "config kind: holoctl|engine")
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}
