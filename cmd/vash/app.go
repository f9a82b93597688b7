package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vash"
	"github.com/hupe1980/vash/blobstore"
	"github.com/hupe1980/vash/codec"
	"github.com/hupe1980/vash/internal/config"
	"github.com/hupe1980/vash/internal/observability"
	"github.com/hupe1980/vash/match"
	"github.com/hupe1980/vash/resource"
)

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	logLevel   string

	cfg     *config.Config
	logger  *vash.Logger
	tracing *observability.TracerProvider
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "vash",
		Short:         "Bag-of-visual-words video retrieval",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.shutdown(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file path (default ./vash.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log.level")

	rootCmd.AddCommand(
		newTrainCmd(a),
		newTestCmd(a),
		newInfoCmd(a),
		newPruneCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	a.cfg = cfg
	if cfg.Log.Format == "json" {
		a.logger = vash.NewJSONLogger(level)
	} else {
		a.logger = vash.NewTextLogger(level)
	}

	a.tracing, err = observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "vash",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	return nil
}

func (a *app) shutdown(ctx context.Context) error {
	if a.tracing == nil {
		return nil
	}
	return a.tracing.Shutdown(context.WithoutCancel(ctx))
}

// openIndex builds an Index from the loaded configuration. Extra options
// are applied last.
func (a *app) openIndex(ctx context.Context, extra ...vash.Option) (*vash.Index, error) {
	cfg := a.cfg
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}

	compression, err := blobstore.ParseCompression(cfg.Store.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vash.ErrInvalidConfiguration, err)
	}
	c, ok := codec.ByName(cfg.Store.Codec)
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec %q", vash.ErrInvalidConfiguration, cfg.Store.Codec)
	}
	metric, err := match.ParseMetric(cfg.Match.Metric)
	if err != nil {
		return nil, err
	}
	vc, err := cfg.VocabularyConfig()
	if err != nil {
		return nil, err
	}

	opts := []vash.Option{
		vash.WithDimension(cfg.Feature.Dimension),
		vash.WithMaxOrientations(cfg.Feature.MaxOrientations),
		vash.WithVocabularyConfig(vc),
		vash.WithMetric(metric),
		vash.WithTopK(cfg.Match.TopK),
		vash.WithCompression(compression),
		vash.WithCodec(c),
		vash.WithResourceController(resource.NewController(cfg.ResourceConfig())),
		vash.WithLogger(a.logger),
	}
	return vash.New(store, append(opts, extra...)...)
}
