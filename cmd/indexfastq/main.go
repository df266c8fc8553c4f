// Command indexfastq builds and queries name indexes over BGZF-compressed
// FASTQ files.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tamirms/indexedfastq/internal/config"
)

const (
	exitOK      = 0
	exitUsage   = 1
	exitFailure = 2

	indexSuffix = ".fqi"
)

// usageError marks errors caused by how the command was invoked.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// GlobalOptions holds the flags shared by every command.
type GlobalOptions struct {
	ConfigFile string
	LogLevel   string
	LogFormat  string
}

var (
	globalOptions GlobalOptions
	cfg           *config.Config
)

// cmdRoot is the base command when no other command has been specified.
var cmdRoot = &cobra.Command{
	Use:   "indexfastq",
	Short: "Random access to FASTQ records by name",
	Long: `
indexfastq builds a minimal perfect hash index over the record names of a
BGZF-compressed FASTQ file and fetches single records from it by name without
decompressing the rest of the file.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(exitOK)
	},
}

func init() {
	f := cmdRoot.PersistentFlags()
	f.StringVar(&globalOptions.ConfigFile, "config", "", "YAML configuration `file`")
	f.StringVar(&globalOptions.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&globalOptions.LogFormat, "log-format", "", "log format (text, json)")

	cmdRoot.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})
}

// setup loads the configuration and applies the logging settings. Flags
// given on the command line win over the file.
func setup(cmd *cobra.Command) error {
	c, err := config.Load(globalOptions.ConfigFile)
	if err != nil {
		return usageError{err}
	}
	if globalOptions.LogLevel != "" {
		c.Logging.Level = globalOptions.LogLevel
	}
	if globalOptions.LogFormat != "" {
		c.Logging.Format = globalOptions.LogFormat
	}
	if err := c.Validate(); err != nil {
		return usageError{err}
	}
	cfg = c

	level, _ := log.ParseLevel(cfg.Logging.Level)
	log.SetLevel(level)
	log.SetOutput(cmd.ErrOrStderr())
	if cfg.Logging.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// argsBetween is cobra.RangeArgs with usage errors.
func argsBetween(min, max int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(min, max)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// argsAtLeast is cobra.MinimumNArgs with usage errors.
func argsAtLeast(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.MinimumNArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ue usageError
	if errors.As(err, &ue) {
		return exitUsage
	}
	return exitFailure
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmdRoot.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "indexfastq: %v\n", err)
	}
	os.Exit(exitCode(err))
}
