package cli

import (
	"fmt"
	"runtime"

	"github.com/centrifugal/gocomet/internal/build"

	"github.com/spf13/cobra"
)

func Version() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "gocomet version information",
		Long:  `Print the version information of gocomet`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(versionString())
		},
	}
}

func versionString() string {
	return fmt.Sprintf("gocomet v%s (Go version: %s)", build.Version, runtime.Version())
}
