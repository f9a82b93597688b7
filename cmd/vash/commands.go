package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vash"
	"github.com/hupe1980/vash/blobstore"
	"github.com/hupe1980/vash/match"
)

func newTrainCmd(a *app) *cobra.Command {
	var (
		size        int
		seed        int64
		metric      string
		compression string
		output      string
	)

	cmd := &cobra.Command{
		Use:   "train <file-list>",
		Short: "Train a vocabulary over the listed videos and commit the run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(output); err != nil {
				return err
			}
			paths, err := loadFileList(args[0])
			if err != nil {
				return err
			}

			var opts []vash.Option
			flags := cmd.Flags()
			if flags.Changed("words") {
				opts = append(opts, vash.WithVocabularySize(size))
			}
			if flags.Changed("seed") {
				opts = append(opts, vash.WithSeed(seed))
			}
			if flags.Changed("metric") {
				m, err := match.ParseMetric(metric)
				if err != nil {
					return err
				}
				opts = append(opts, vash.WithMetric(m))
			}
			if flags.Changed("compression") {
				c, err := blobstore.ParseCompression(compression)
				if err != nil {
					return fmt.Errorf("%w: %w", vash.ErrInvalidConfiguration, err)
				}
				opts = append(opts, vash.WithCompression(c))
			}

			ctx := cmd.Context()
			idx, err := a.openIndex(ctx, opts...)
			if err != nil {
				return err
			}
			report, err := idx.Train(ctx, paths)
			if err != nil {
				return err
			}
			for _, s := range report.Skipped {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %v\n", s.Identity, s.Err)
			}
			return renderTrain(cmd.OutOrStdout(), output, newTrainOutput(report))
		},
	}

	cmd.Flags().IntVarP(&size, "words", "k", 0, "Vocabulary size (overrides vocabulary.size)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "k-means seed (overrides vocabulary.seed)")
	cmd.Flags().StringVar(&metric, "metric", "", "Similarity metric recorded for the run: cosine, intersection, tfidf")
	cmd.Flags().StringVar(&compression, "compression", "", "Blob compression: none, lz4, zstd")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table, json, yaml")
	return cmd
}

func newTestCmd(a *app) *cobra.Command {
	var (
		topK   int
		output string
	)

	cmd := &cobra.Command{
		Use:   "test <query-video>",
		Short: "Rank the committed database against a query video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(output); err != nil {
				return err
			}
			var opts []vash.Option
			if cmd.Flags().Changed("top") {
				opts = append(opts, vash.WithTopK(topK))
			}

			ctx := cmd.Context()
			idx, err := a.openIndex(ctx, opts...)
			if err != nil {
				return err
			}
			report, err := idx.Query(ctx, args[0])
			if errors.Is(err, vash.ErrNoSnapshot) {
				return fmt.Errorf("%w: run vash train first", err)
			}
			if err != nil {
				return err
			}
			return renderQuery(cmd.OutOrStdout(), output, newQueryOutput(args[0], report))
		},
	}

	cmd.Flags().IntVarP(&topK, "top", "n", 0, "Number of results, 0 for all (overrides match.top_k)")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table, json, yaml")
	return cmd
}

func newInfoCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "info",
		Short: "List committed training runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(output); err != nil {
				return err
			}
			ctx := cmd.Context()
			idx, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			runs, err := idx.Runs(ctx)
			if err != nil {
				return err
			}
			var current uint64
			m, err := idx.Current(ctx)
			switch {
			case err == nil:
				current = m.ID
			case !errors.Is(err, vash.ErrNoSnapshot):
				return err
			}
			return renderRuns(cmd.OutOrStdout(), output, newRunOutputs(runs, current))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table, json, yaml")
	return cmd
}

func newPruneCmd(a *app) *cobra.Command {
	var (
		keep   int
		output string
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old training runs",
		Long:  "Delete all but the newest runs. The committed run is never deleted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(output); err != nil {
				return err
			}
			ctx := cmd.Context()
			idx, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			pruned, err := idx.Prune(ctx, keep)
			if err != nil {
				return err
			}
			return renderRuns(cmd.OutOrStdout(), output, newRunOutputs(pruned, 0))
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 1, "Number of newest runs to keep")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format: table, json, yaml")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
