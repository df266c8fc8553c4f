// Package config loads the YAML configuration of the indexfastq command.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/tamirms/indexedfastq"
)

type Config struct {
	Build   BuildConfig   `yaml:"build"`
	Serve   ServeConfig   `yaml:"serve"`
	Logging LoggingConfig `yaml:"logging"`
}

type BuildConfig struct {
	Workers          int      `yaml:"workers"`
	Hasher           string   `yaml:"hasher"`
	Seed             uint64   `yaml:"seed"`
	NameMode         string   `yaml:"name_mode"`
	Duplicates       string   `yaml:"duplicates"`
	MaxLineLength    ByteSize `yaml:"max_line_length"`
	CompressionLevel int      `yaml:"compression_level"`
}

type ServeConfig struct {
	Listen          string   `yaml:"listen"`
	MetricsPath     string   `yaml:"metrics_path"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxBatchNames   int      `yaml:"max_batch_names"`
	Workers         int      `yaml:"workers"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Build.Options(); err != nil {
		return err
	}
	if c.Build.CompressionLevel < flate.HuffmanOnly || c.Build.CompressionLevel > flate.BestCompression {
		return fmt.Errorf("build.compression_level must be between %d and %d, got %d",
			flate.HuffmanOnly, flate.BestCompression, c.Build.CompressionLevel)
	}

	if c.Serve.Listen == "" {
		return fmt.Errorf("serve.listen is required")
	}
	if !strings.HasPrefix(c.Serve.MetricsPath, "/") {
		return fmt.Errorf("serve.metrics_path must start with '/', got %q", c.Serve.MetricsPath)
	}
	if c.Serve.MaxBatchNames <= 0 {
		return fmt.Errorf("serve.max_batch_names must be > 0")
	}
	if c.Serve.Workers <= 0 {
		return fmt.Errorf("serve.workers must be > 0")
	}
	if c.Serve.ShutdownTimeout <= 0 {
		return fmt.Errorf("serve.shutdown_timeout must be > 0")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// Options converts the build section into library options.
func (b BuildConfig) Options() ([]indexedfastq.BuildOption, error) {
	hasher, err := indexedfastq.ParseHasher(b.Hasher)
	if err != nil {
		return nil, fmt.Errorf("build.hasher: %w", err)
	}
	mode, err := indexedfastq.ParseNameMode(b.NameMode)
	if err != nil {
		return nil, fmt.Errorf("build.name_mode: %w", err)
	}
	dups, err := indexedfastq.ParseDuplicatePolicy(b.Duplicates)
	if err != nil {
		return nil, fmt.Errorf("build.duplicates: %w", err)
	}
	if b.Workers < 0 {
		return nil, fmt.Errorf("build.workers must be >= 0, got %d", b.Workers)
	}
	if b.MaxLineLength < 0 || int64(b.MaxLineLength) > int64(^uint32(0)) {
		return nil, fmt.Errorf("build.max_line_length out of range: %d", b.MaxLineLength)
	}
	return []indexedfastq.BuildOption{
		indexedfastq.WithWorkers(b.Workers),
		indexedfastq.WithHasher(hasher),
		indexedfastq.WithGlobalSeed(b.Seed),
		indexedfastq.WithNameMode(mode),
		indexedfastq.WithDuplicatePolicy(dups),
		indexedfastq.WithMaxLineLength(int(b.MaxLineLength)),
	}, nil
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5s", "1m".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize wraps int64 for YAML unmarshaling of strings like "1MB", "64KB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		var n int64
		if err2 := value.Decode(&n); err2 != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	parsed, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

var byteSuffixes = []struct {
	suffix string
	mult   int64
}{
	{"KB", 1 << 10},
	{"MB", 1 << 20},
	{"GB", 1 << 30},
	{"B", 1},
}

func parseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	mult := int64(1)
	num := s
	for _, bs := range byteSuffixes {
		if strings.HasSuffix(s, bs.suffix) {
			mult = bs.mult
			num = strings.TrimSpace(strings.TrimSuffix(s, bs.suffix))
			break
		}
	}

	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * mult, nil
}
