package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tamirms/indexedfastq"
	"github.com/tamirms/indexedfastq/internal/serve"
)

var cmdServe = &cobra.Command{
	Use:   "serve SOURCE INDEX_PREFIX",
	Short: "Serve records over HTTP",
	Long: `
The "serve" command opens an index and answers lookups over HTTP:

  GET  /reads/{name}  the record as FASTQ, or 404
  POST /reads         newline separated names, the found records as FASTQ
  GET  /healthz       liveness and record count
  GET  /metrics       Prometheus metrics

EXIT STATUS
===========

Exit status is 0 after a clean shutdown, 1 on a usage error and 2 if the
index could not be opened or the listener failed.
`,
	DisableAutoGenTag: true,
	Args:              argsBetween(2, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if serveOptions.Listen != "" {
			cfg.Serve.Listen = serveOptions.Listen
		}
		return runServe(cmd.Context(), args[0], args[1]+indexSuffix)
	},
}

// ServeOptions bundles the flags of the serve command.
type ServeOptions struct {
	Listen string
}

var serveOptions ServeOptions

func init() {
	cmdRoot.AddCommand(cmdServe)

	f := cmdServe.Flags()
	f.StringVar(&serveOptions.Listen, "listen", "", "listen `address`, overrides serve.listen")
}

func runServe(ctx context.Context, source, indexPath string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	idx, err := indexedfastq.Open(source, indexPath,
		indexedfastq.WithMetrics(indexedfastq.NewMetrics(reg)),
		indexedfastq.WithOpenLogger(log.StandardLogger()))
	if err != nil {
		return err
	}
	defer idx.Close()

	log.WithFields(log.Fields{
		"source":  source,
		"index":   indexPath,
		"records": idx.Len(),
	}).Info("index opened")
	return serve.Run(ctx, cfg.Serve, idx, reg, log.StandardLogger())
}
