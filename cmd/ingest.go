package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/ingest"
	"github.com/openledger/imageledger/internal/logger"
	"github.com/openledger/imageledger/internal/notification"
	"github.com/openledger/imageledger/internal/observability/metrics"
	"github.com/openledger/imageledger/internal/provider"
)

// Provider specific flags and the config keys they override.
var (
	licenseKeys = map[string]string{
		provider.FlickrName:        "providers.flickr.licenses",
		provider.FiveHundredPxName: "providers.500px.licenses",
	}
	fileKeys = map[string]string{
		provider.NYPLName: "providers.nypl.file",
	}
	workerKeys = map[string]string{
		provider.MetName: "providers.met.workers",
	}
)

type ingestFlags struct {
	startPage int
	perPage   int
	search    string
}

func ingestCommand(g *globalFlags) *cobra.Command {
	f := &ingestFlags{}

	cmd := &cobra.Command{
		Use:   "ingest <provider>",
		Short: "Ingest images from a provider",
		Long: `Walk a provider's listing, normalize every record and commit the result
in chunks to the record store and the search index.

Examples:
  imageledger ingest flickr --licenses ALL-\$ --max-results 2000
  imageledger ingest nypl --file export.ndjson
  imageledger ingest met --workers 8`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: provider.NewDefaultRegistry().Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, g, f, args[0])
		},
	}

	cmd.Flags().Int("chunk-size", ingest.DefaultChunkSize, "Records committed per chunk")
	cmd.Flags().Int("max-results", 5000, "Cap on raw records pulled from API providers (0 = unlimited)")
	cmd.Flags().Bool("check-existing", false, "Skip records already in the store before insert")
	cmd.Flags().String("file", "", "Read records from an export file instead of the API (nypl)")
	cmd.Flags().Int("workers", 4, "Concurrent detail fetches (met)")
	cmd.Flags().StringSlice("licenses", nil, "License selection, e.g. ALL-$ or BY,BY-SA (flickr, 500px)")
	cmd.Flags().IntVar(&f.startPage, "start-page", 1, "First page to fetch")
	cmd.Flags().IntVar(&f.perPage, "per-page", 0, "Records per page (0 = provider default)")
	cmd.Flags().StringVar(&f.search, "search", "", "Search term passed to the provider")

	return cmd
}

// providerBindings maps the provider specific flags onto the chosen
// provider's config keys. Setting a flag the provider does not read is an
// error.
func providerBindings(cmd *cobra.Command, name string) ([]conf.FlagBinding, error) {
	var bindings []conf.FlagBinding
	for flag, keys := range map[string]map[string]string{
		"licenses": licenseKeys,
		"file":     fileKeys,
		"workers":  workerKeys,
	} {
		key, ok := keys[name]
		if !ok {
			if cmd.Flags().Changed(flag) {
				return nil, errors.Newf("--%s is not supported by provider %s", flag, name).
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}
			continue
		}
		bindings = append(bindings, bind(cmd, key, flag))
	}
	return bindings, nil
}

func runIngest(cmd *cobra.Command, g *globalFlags, f *ingestFlags, name string) error {
	ctx := cmd.Context()

	bindings, err := providerBindings(cmd, name)
	if err != nil {
		return err
	}
	bindings = append(bindings,
		bind(cmd, "ingest.chunk_size", "chunk-size"),
		bind(cmd, "ingest.max_results", "max-results"),
		bind(cmd, "ingest.check_existing", "check-existing"),
	)

	a, err := g.start(ctx, cmd, bindings...)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.Logger.Module("cli")

	h, err := a.Registry.New(name, a.ProviderDeps())
	if err != nil {
		return err
	}

	coord, err := ingest.NewCoordinator(&ingest.Config{
		Images: a.Images,
		Tags:   a.Tags,
		Index:  a.Index,
		Metrics: func(p string) metrics.Recorder {
			return a.Recorder("ingest", p)
		},
		Logger: a.Logger,
	})
	if err != nil {
		return err
	}

	settings := a.Settings.Ingest
	res, err := coord.Ingest(ctx, h, ingest.Options{
		ChunkSize:     settings.ChunkSize,
		MaxResults:    settings.MaxResults,
		StartPage:     f.startPage,
		PerPage:       f.perPage,
		Search:        f.search,
		CheckExisting: settings.CheckExisting,
	})

	log.Info(fmt.Sprintf("ingested %d records from %s", res.Committed, name),
		logger.String("run_id", res.RunID),
		logger.Int("attempted", res.Attempted),
		logger.Int("skipped", res.Skipped),
		logger.Int("malformed", res.Malformed),
		logger.Int("conflicts", res.Conflicts),
		logger.Duration("duration", res.Duration))

	a.Notify(ctx, &notification.Summary{
		Command:  "ingest",
		Provider: name,
		RunID:    res.RunID,
		Duration: res.Duration,
		Counts: []notification.Count{
			{Name: "attempted", Value: res.Attempted},
			{Name: "committed", Value: res.Committed},
			{Name: "skipped", Value: res.Skipped},
			{Name: "malformed", Value: res.Malformed},
			{Name: "duplicates", Value: res.Duplicates},
			{Name: "conflicting chunks", Value: res.Conflicts},
			{Name: "index failures", Value: res.IndexFailures},
		},
		Err: err,
	})
	return err
}
