package config

import (
	"time"

	"github.com/klauspost/compress/flate"
)

func DefaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			Workers:          0,
			Hasher:           "xxh3",
			Seed:             0x1234567890abcdef,
			NameMode:         "full-line",
			Duplicates:       "reject",
			MaxLineLength:    ByteSize(64 * 1024 * 1024), // 64MB
			CompressionLevel: flate.DefaultCompression,
		},
		Serve: ServeConfig{
			Listen:          ":8080",
			MetricsPath:     "/metrics",
			ReadTimeout:     Duration(10 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(5 * time.Second),
			MaxBatchNames:   10000,
			Workers:         8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
