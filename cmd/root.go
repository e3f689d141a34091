package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openledger/imageledger/internal/app"
	"github.com/openledger/imageledger/internal/conf"
)

// startApp opens the runtime dependencies. Tests replace it to inject
// transports.
var startApp = app.Start

// globalFlags are the persistent flags of the root command.
type globalFlags struct {
	configFile string
	debug      bool
}

// RootCommand creates and returns the root command
func RootCommand() *cobra.Command {
	g := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "imageledger",
		Short: "Open-licensed image catalog ingestion",
		Long: `imageledger pulls image metadata from open collection APIs, normalizes
licenses and identifiers, and keeps a record store and a search index in step.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.configFile, "config", "", "Path to config.yaml (default: search ., ~/.config/imageledger, /etc/imageledger)")
	rootCmd.PersistentFlags().BoolVarP(&g.debug, "debug", "d", false, "Enable debug output")

	rootCmd.AddCommand(
		ingestCommand(g),
		syncCommand(g),
		reindexCommand(g),
		providersCommand(),
		configCommand(g),
		versionCommand(),
	)

	return rootCmd
}

// start loads settings with the command's flag bindings on top of the
// global ones and opens the runtime dependencies.
func (g *globalFlags) start(ctx context.Context, cmd *cobra.Command, bindings ...conf.FlagBinding) (*app.App, error) {
	bindings = append(bindings, conf.FlagBinding{Key: "debug", Flag: cmd.Root().PersistentFlags().Lookup("debug")})
	return startApp(ctx, app.Options{
		ConfigFile: g.configFile,
		Bindings:   bindings,
	})
}

// bind returns a binding of key to the named local flag of cmd.
func bind(cmd *cobra.Command, key, flag string) conf.FlagBinding {
	return conf.FlagBinding{Key: key, Flag: cmd.Flags().Lookup(flag)}
}
