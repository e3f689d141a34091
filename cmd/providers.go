package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openledger/imageledger/internal/license"
	"github.com/openledger/imageledger/internal/provider"
)

func providersCommand() *cobra.Command {
	var licenses bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List the registered providers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printProviders(cmd.OutOrStdout(), provider.NewDefaultRegistry(), provider.DefaultLicenseTable(), licenses)
		},
	}
	cmd.Flags().BoolVar(&licenses, "licenses", false, "Show each provider's native license values")

	return cmd
}

func printProviders(w io.Writer, reg *provider.Registry, table *license.Table, withLicenses bool) error {
	if !withLicenses {
		for _, name := range reg.Names() {
			if _, err := fmt.Fprintln(w, name); err != nil {
				return err
			}
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tVERSION\tLICENSES")
	for _, name := range reg.Names() {
		native := table.Native(name)
		codes := make([]string, 0, len(native))
		for code, value := range native {
			codes = append(codes, fmt.Sprintf("%s=%s", code, value))
		}
		slices.Sort(codes)
		version := table.Version(name)
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, version, strings.Join(codes, " "))
	}
	return tw.Flush()
}
