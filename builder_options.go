package indexedfastq

import (
	"fmt"

	"github.com/sirupsen/logrus"

	ifqerrors "github.com/tamirms/indexedfastq/errors"
	"github.com/tamirms/indexedfastq/internal/fastq"
)

// NameMode selects which part of a FASTQ header line is the record name.
type NameMode = fastq.NameMode

const (
	// NameFullLine uses the whole header line after '@'. Default.
	NameFullLine = fastq.NameFullLine
	// NameFirstField uses the header up to the first space or tab.
	NameFirstField = fastq.NameFirstField
)

// ParseNameMode parses "full-line" or "first-field".
func ParseNameMode(s string) (NameMode, error) {
	return fastq.ParseNameMode(s)
}

// DuplicatePolicy decides what Build does when a name occurs more than once.
type DuplicatePolicy uint8

const (
	// DuplicateReject fails the build with a *errors.DuplicateKeyError. Default.
	DuplicateReject DuplicatePolicy = iota
	// DuplicateKeepLast keeps the record appearing last in the source and
	// logs a warning for every record dropped.
	DuplicateKeepLast
)

func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicateReject:
		return "reject"
	case DuplicateKeepLast:
		return "keep-last"
	default:
		return fmt.Sprintf("DuplicatePolicy(%d)", uint8(p))
	}
}

// ParseDuplicatePolicy is the inverse of DuplicatePolicy.String.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case "reject", "":
		return DuplicateReject, nil
	case "keep-last":
		return DuplicateKeepLast, nil
	default:
		return 0, fmt.Errorf("%w: unknown duplicate policy %q", ifqerrors.ErrInvalidOption, s)
	}
}

// BuildOption is a functional option for configuring builds.
type BuildOption func(*buildConfig)

type buildConfig struct {
	workers       int
	hasher        Hasher
	globalSeed    uint64
	duplicates    DuplicatePolicy
	nameMode      NameMode
	maxLineLength int
	logger        logrus.FieldLogger
	metrics       *Metrics
}

func defaultBuildConfig() *buildConfig {
	return &buildConfig{
		workers:    0,                  // Default to single-threaded; use WithWorkers(n) to parallelize
		globalSeed: 0x1234567890abcdef, // Arbitrary default; overridden via WithGlobalSeed
		logger:     logrus.StandardLogger(),
	}
}

func (c *buildConfig) validate() error {
	if c.workers < 0 {
		return fmt.Errorf("%w: negative worker count %d", ifqerrors.ErrInvalidOption, c.workers)
	}
	if !c.hasher.valid() {
		return fmt.Errorf("%w: unknown hasher %d", ifqerrors.ErrInvalidOption, c.hasher)
	}
	if !c.nameMode.Valid() {
		return fmt.Errorf("%w: unknown name mode %d", ifqerrors.ErrInvalidOption, c.nameMode)
	}
	if c.duplicates > DuplicateKeepLast {
		return fmt.Errorf("%w: unknown duplicate policy %d", ifqerrors.ErrInvalidOption, c.duplicates)
	}
	if c.maxLineLength < 0 {
		return fmt.Errorf("%w: negative line limit %d", ifqerrors.ErrInvalidOption, c.maxLineLength)
	}
	return nil
}

// WithWorkers sets the number of goroutines solving hash partitions.
func WithWorkers(n int) BuildOption {
	return func(c *buildConfig) {
		c.workers = n
	}
}

// WithHasher selects the name hash.
func WithHasher(h Hasher) BuildOption {
	return func(c *buildConfig) {
		c.hasher = h
	}
}

// WithGlobalSeed sets the name hash seed.
func WithGlobalSeed(seed uint64) BuildOption {
	return func(c *buildConfig) {
		c.globalSeed = seed
	}
}

// WithDuplicatePolicy sets how repeated names are handled.
func WithDuplicatePolicy(p DuplicatePolicy) BuildOption {
	return func(c *buildConfig) {
		c.duplicates = p
	}
}

// WithNameMode sets which part of the header line is the record name.
func WithNameMode(m NameMode) BuildOption {
	return func(c *buildConfig) {
		c.nameMode = m
	}
}

// WithMaxLineLength bounds a single FASTQ line. Zero keeps the default.
func WithMaxLineLength(n int) BuildOption {
	return func(c *buildConfig) {
		c.maxLineLength = n
	}
}

// WithLogger sets the build logger. Defaults to the logrus standard logger.
func WithLogger(l logrus.FieldLogger) BuildOption {
	return func(c *buildConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithBuildMetrics records build counters into m.
func WithBuildMetrics(m *Metrics) BuildOption {
	return func(c *buildConfig) {
		c.metrics = m
	}
}

// OpenOption is a functional option for Open.
type OpenOption func(*openConfig)

type openConfig struct {
	logger  logrus.FieldLogger
	metrics *Metrics
}

func defaultOpenConfig() *openConfig {
	return &openConfig{
		logger: logrus.StandardLogger(),
	}
}

// WithMetrics records fetch counters into m.
func WithMetrics(m *Metrics) OpenOption {
	return func(c *openConfig) {
		c.metrics = m
	}
}

// WithOpenLogger sets the logger used by the index.
func WithOpenLogger(l logrus.FieldLogger) OpenOption {
	return func(c *openConfig) {
		if l != nil {
			c.logger = l
		}
	}
}
