package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openledger/imageledger/internal/buildinfo"
)

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := buildinfo.Get()
			fmt.Fprintf(cmd.OutOrStdout(), "imageledger %s (built %s, %s)\n", info.Version, info.BuildDate, info.GoVersion)
		},
	}
}
