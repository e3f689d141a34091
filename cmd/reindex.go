package cmd

import (
	"github.com/spf13/cobra"

	"github.com/openledger/imageledger/internal/logger"
	"github.com/openledger/imageledger/internal/notification"
	"github.com/openledger/imageledger/internal/reindex"
)

type reindexFlags struct {
	recreate bool
}

func reindexCommand(g *globalFlags) *cobra.Command {
	f := &reindexFlags{}

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from the record store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReindex(cmd, g, f)
		},
	}

	cmd.Flags().Int("chunk-size", reindex.DefaultChunkSize, "Width of each id range")
	cmd.Flags().Int("workers", reindex.DefaultWorkers, "Concurrent range workers")
	cmd.Flags().BoolVar(&f.recreate, "recreate", false, "Drop and recreate the index first")

	return cmd
}

func runReindex(cmd *cobra.Command, g *globalFlags, f *reindexFlags) error {
	ctx := cmd.Context()

	a, err := g.start(ctx, cmd,
		bind(cmd, "reindex.chunk_size", "chunk-size"),
		bind(cmd, "reindex.workers", "workers"),
	)
	if err != nil {
		return err
	}
	defer a.Close()

	settings := a.Settings.Reindex
	r, err := reindex.NewReindexer(&reindex.Config{
		Images:     a.Images,
		Index:      a.Index,
		MaxRetries: settings.MaxRetries,
		RetryWait:  settings.RetryWait,
		Metrics:    a.Recorder("reindex", ""),
		Logger:     a.Logger,
	})
	if err != nil {
		return err
	}

	res, err := r.Run(ctx, reindex.Options{
		ChunkSize: settings.ChunkSize,
		Workers:   settings.Workers,
		Recreate:  f.recreate,
	})

	a.Logger.Module("cli").Info("reindex finished",
		logger.Int("indexed", res.Indexed),
		logger.Int("ranges", res.Ranges),
		logger.Duration("duration", res.Duration))

	a.Notify(ctx, &notification.Summary{
		Command:  "reindex",
		Duration: res.Duration,
		Counts: []notification.Count{
			{Name: "ranges", Value: res.Ranges},
			{Name: "indexed", Value: res.Indexed},
			{Name: "retries", Value: res.Retries},
		},
		Err: err,
	})
	return err
}
