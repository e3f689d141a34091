package cmd

import (
	"github.com/spf13/cobra"

	"github.com/openledger/imageledger/internal/logger"
	"github.com/openledger/imageledger/internal/notification"
	"github.com/openledger/imageledger/internal/refresh"
)

func syncCommand(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Check stored images against their source",
		Long: `Probe every live image URL, oldest sync first. Images whose URL no longer
answers 2xx are marked removed and dropped from the search index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, g)
		},
	}

	cmd.Flags().Int("chunk-size", refresh.DefaultChunkSize, "Images loaded per batch")
	cmd.Flags().Bool("with-fingerprinting", false, "Compute a perceptual hash for images without one")
	cmd.Flags().Int("lanes", refresh.DefaultLanes, "Concurrent probe lanes")
	cmd.Flags().Int("limit", 0, "Sync at most this many images (0 = all)")

	return cmd
}

func runSync(cmd *cobra.Command, g *globalFlags) error {
	ctx := cmd.Context()

	a, err := g.start(ctx, cmd,
		bind(cmd, "sync.chunk_size", "chunk-size"),
		bind(cmd, "sync.with_fingerprinting", "with-fingerprinting"),
		bind(cmd, "sync.lanes", "lanes"),
		bind(cmd, "sync.limit", "limit"),
	)
	if err != nil {
		return err
	}
	defer a.Close()

	settings := a.Settings.Sync
	var fp refresh.Fingerprinter
	if settings.WithFingerprint {
		fp = refresh.NewAverageHash(a.Client)
	}

	s, err := refresh.NewSyncer(&refresh.Config{
		Images:        a.Images,
		Index:         a.Index,
		Client:        a.Client,
		Fingerprinter: fp,
		ProbeTimeout:  settings.ProbeTimeout,
		Metrics:       a.Recorder("sync", ""),
		Logger:        a.Logger,
	})
	if err != nil {
		return err
	}

	res, err := s.Sync(ctx, refresh.Options{
		ChunkSize:       settings.ChunkSize,
		Lanes:           settings.Lanes,
		Limit:           settings.Limit,
		WithFingerprint: settings.WithFingerprint,
	})

	a.Logger.Module("cli").Info("sync finished",
		logger.Int("checked", res.Checked),
		logger.Int("removed", res.Removed),
		logger.Int("fingerprinted", res.Fingerprinted),
		logger.Duration("duration", res.Duration))

	a.Notify(ctx, &notification.Summary{
		Command:  "sync",
		Duration: res.Duration,
		Counts: []notification.Count{
			{Name: "checked", Value: res.Checked},
			{Name: "removed", Value: res.Removed},
			{Name: "fingerprinted", Value: res.Fingerprinted},
			{Name: "index failures", Value: res.IndexFailures},
		},
		Err: err,
	})
	return err
}
