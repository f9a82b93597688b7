package vash

import (
	"log/slog"
	"time"

	"github.com/hupe1980/vash/blobstore"
	"github.com/hupe1980/vash/codec"
	"github.com/hupe1980/vash/feature"
	"github.com/hupe1980/vash/match"
	"github.com/hupe1980/vash/resource"
	"github.com/hupe1980/vash/vocabulary"
)

type options struct {
	source           feature.Source
	limits           feature.Limits
	vocabulary       vocabulary.Config
	metric           match.Metric
	topK             int
	compression      blobstore.Compression
	codec            codec.Codec
	resources        *resource.Controller
	metricsCollector MetricsCollector
	logger           *Logger
	phaseHook        func(Pipeline, Phase)
	now              func() time.Time
}

// Option configures an Index.
type Option func(*options)

// WithSource sets where video features come from. The default reads
// descriptor dump files (see feature.FileSource).
func WithSource(src feature.Source) Option {
	return func(o *options) {
		o.source = src
	}
}

// WithDimension sets the descriptor length. The default is 128.
func WithDimension(dim int) Option {
	return func(o *options) {
		o.limits.Dimension = dim
	}
}

// WithMaxOrientations caps the descriptors per keypoint. The default is 4.
func WithMaxOrientations(n int) Option {
	return func(o *options) {
		o.limits.MaxOrientations = n
	}
}

// WithVocabularySize sets the number of visual words (K).
func WithVocabularySize(k int) Option {
	return func(o *options) {
		o.vocabulary.Size = k
	}
}

// WithVocabularyConfig replaces the whole training configuration. Its
// Dimension is overridden by WithDimension and its Workers by the resource
// controller.
func WithVocabularyConfig(cfg vocabulary.Config) Option {
	return func(o *options) {
		o.vocabulary = cfg
	}
}

// WithSeed sets the k-means seed.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.vocabulary.Seed = seed
	}
}

// WithMetric sets the metric recorded for new runs. Queries always use the
// metric of the committed run.
func WithMetric(m match.Metric) Option {
	return func(o *options) {
		o.metric = m
	}
}

// WithTopK truncates query results. Zero returns the whole database.
func WithTopK(k int) Option {
	return func(o *options) {
		o.topK = k
	}
}

// WithCompression compresses the vocabulary and database blobs of new runs.
func WithCompression(c blobstore.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithCodec configures the codec used for new manifests.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithResourceController bounds workers, pool memory and blob IO.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &vash.BasicMetricsCollector{}
//	idx, _ := vash.New(store, vash.WithMetricsCollector(metrics))
//	// ... train and query ...
//	stats := metrics.GetStats()
//	fmt.Printf("Queries: %d, Avg latency: %dns\n", stats.QueryCount, stats.QueryAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithPhaseHook registers fn to observe every phase transition.
func WithPhaseHook(fn func(Pipeline, Phase)) Option {
	return func(o *options) {
		o.phaseHook = fn
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		limits:           feature.DefaultLimits(),
		vocabulary:       vocabulary.DefaultConfig(),
		metric:           match.Cosine,
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		now:              time.Now,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	o.vocabulary.Dimension = o.limits.Dimension
	if o.resources == nil {
		o.resources = resource.NewController(resource.Config{})
	}
	o.vocabulary.Workers = o.resources.Workers()
	if o.source == nil {
		// The orientation cap is applied by the index, against the limits of
		// the run being built or queried.
		src := feature.NewFileSource(feature.Limits{Dimension: o.limits.Dimension})
		src.IO = o.resources
		o.source = src
	}
	return o
}
