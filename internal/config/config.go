// Package config loads the command line configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/vash/blobstore"
	"github.com/hupe1980/vash/codec"
	"github.com/hupe1980/vash/feature"
	"github.com/hupe1980/vash/match"
	"github.com/hupe1980/vash/resource"
	"github.com/hupe1980/vash/vocabulary"
)

// EnvPrefix prefixes every environment override, e.g. VASH_STORE_TYPE.
const EnvPrefix = "VASH"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all command line configuration.
type Config struct {
	Store      StoreConfig      `mapstructure:"store" yaml:"store"`
	Feature    FeatureConfig    `mapstructure:"feature" yaml:"feature"`
	Vocabulary VocabularyConfig `mapstructure:"vocabulary" yaml:"vocabulary"`
	Match      MatchConfig      `mapstructure:"match" yaml:"match"`
	Resources  ResourceConfig   `mapstructure:"resources" yaml:"resources"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Tracing    TracingConfig    `mapstructure:"tracing" yaml:"tracing"`
}

// StoreConfig selects where runs are kept.
type StoreConfig struct {
	// Type is one of "local", "s3" or "minio".
	Type        string      `mapstructure:"type" yaml:"type"`
	Path        string      `mapstructure:"path" yaml:"path"`
	Compression string      `mapstructure:"compression" yaml:"compression"`
	Codec       string      `mapstructure:"codec" yaml:"codec"`
	S3          S3Config    `mapstructure:"s3" yaml:"s3"`
	MinIO       MinIOConfig `mapstructure:"minio" yaml:"minio"`
}

type S3Config struct {
	Bucket   string `mapstructure:"bucket" yaml:"bucket"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// CommitTable routes the CURRENT pointer through DynamoDB when set.
	CommitTable string `mapstructure:"commit_table" yaml:"commit_table"`
	PartSizeMB  int64  `mapstructure:"part_size_mb" yaml:"part_size_mb"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"-"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

type FeatureConfig struct {
	Dimension       int `mapstructure:"dimension" yaml:"dimension"`
	MaxOrientations int `mapstructure:"max_orientations" yaml:"max_orientations"`
}

type VocabularyConfig struct {
	Size          int    `mapstructure:"size" yaml:"size"`
	MaxIterations int    `mapstructure:"max_iterations" yaml:"max_iterations"`
	Seed          int64  `mapstructure:"seed" yaml:"seed"`
	Init          string `mapstructure:"init" yaml:"init"`
}

type MatchConfig struct {
	Metric string `mapstructure:"metric" yaml:"metric"`
	TopK   int    `mapstructure:"top_k" yaml:"top_k"`
}

type ResourceConfig struct {
	Workers         int   `mapstructure:"workers" yaml:"workers"`
	MemoryLimitMB   int64 `mapstructure:"memory_limit_mb" yaml:"memory_limit_mb"`
	IOLimitMBPerSec int64 `mapstructure:"io_limit_mb_per_sec" yaml:"io_limit_mb_per_sec"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	Environment string  `mapstructure:"environment" yaml:"environment"`
}

func setDefaults(v *viper.Viper) {
	vc := vocabulary.DefaultConfig()
	s3c := map[string]any{
		"bucket": "", "prefix": "", "region": "", "endpoint": "",
		"commit_table": "", "part_size_mb": 8, "concurrency": 5,
	}
	minioc := map[string]any{
		"endpoint": "", "bucket": "", "prefix": "", "access_key": "", "secret_key": "", "use_ssl": true,
	}

	v.SetDefault("store.type", "local")
	v.SetDefault("store.path", ".vash")
	v.SetDefault("store.compression", blobstore.CompressionNone.String())
	v.SetDefault("store.codec", codec.Default.Name())
	for k, val := range s3c {
		v.SetDefault("store.s3."+k, val)
	}
	for k, val := range minioc {
		v.SetDefault("store.minio."+k, val)
	}

	v.SetDefault("feature.dimension", feature.DefaultDimension)
	v.SetDefault("feature.max_orientations", feature.DefaultMaxOrientations)

	v.SetDefault("vocabulary.size", vc.Size)
	v.SetDefault("vocabulary.max_iterations", vc.MaxIterations)
	v.SetDefault("vocabulary.seed", vc.Seed)
	v.SetDefault("vocabulary.init", "random")

	v.SetDefault("match.metric", match.Cosine.String())
	v.SetDefault("match.top_k", 0)

	v.SetDefault("resources.workers", 0)
	v.SetDefault("resources.memory_limit_mb", 0)
	v.SetDefault("resources.io_limit_mb_per_sec", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.environment", "development")
}

// Load reads configuration from the YAML file at path, if any, and from
// VASH_ environment variables. An empty path looks for vash.yaml in the
// working directory and falls back to defaults when there is none.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	} else {
		v.SetConfigName("vash")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that the library would otherwise reject late.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Type {
	case "local":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is empty"))
		}
	case "s3":
		if c.Store.S3.Bucket == "" {
			errs = append(errs, errors.New("store.s3.bucket is empty"))
		}
	case "minio":
		if c.Store.MinIO.Endpoint == "" || c.Store.MinIO.Bucket == "" {
			errs = append(errs, errors.New("store.minio needs endpoint and bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.type %q", c.Store.Type))
	}
	if _, err := blobstore.ParseCompression(c.Store.Compression); err != nil {
		errs = append(errs, err)
	}
	if _, ok := codec.ByName(c.Store.Codec); !ok {
		errs = append(errs, fmt.Errorf("unknown store.codec %q", c.Store.Codec))
	}
	if _, err := match.ParseMetric(c.Match.Metric); err != nil {
		errs = append(errs, err)
	}
	if _, err := vocabulary.ParseInit(c.Vocabulary.Init); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate %.2f outside [0, 1]", c.Tracing.SampleRate))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// VocabularyConfig returns the trainer configuration. Workers are left to
// the index, which takes them from the resource controller.
func (c *Config) VocabularyConfig() (vocabulary.Config, error) {
	strategy, err := vocabulary.ParseInit(c.Vocabulary.Init)
	if err != nil {
		return vocabulary.Config{}, err
	}
	vc := vocabulary.DefaultConfig()
	vc.Size = c.Vocabulary.Size
	vc.Dimension = c.Feature.Dimension
	vc.MaxIterations = c.Vocabulary.MaxIterations
	vc.Seed = c.Vocabulary.Seed
	vc.Init = strategy
	return vc, nil
}

// ResourceConfig returns the resource limits in bytes.
func (c *Config) ResourceConfig() resource.Config {
	const mb = 1 << 20
	return resource.Config{
		Workers:            c.Resources.Workers,
		MemoryLimitBytes:   c.Resources.MemoryLimitMB * mb,
		IOLimitBytesPerSec: c.Resources.IOLimitMBPerSec * mb,
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log.level %q", s)
	}
	return level, nil
}

// YAML renders the configuration. Secrets are omitted.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
