package app

import (
	"github.com/centrifugal/gocomet/internal/config"

	"github.com/spf13/cobra"
)

// Gocomet is a root command: subscribes to channels of gocomet server and
// forwards received updates to configured sinks.
func Gocomet() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "gocomet",
		Short: "gocomet",
		Long:  "gocomet – subscribe to gocomet server channels and forward updates to sinks",
		Run: func(cmd *cobra.Command, args []string) {
			Run(cmd, configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "config.json", "path to config file")
	config.DefineFlags(cmd)
	return cmd
}
