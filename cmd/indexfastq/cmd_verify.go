package main

import (
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tamirms/indexedfastq"
)

var cmdVerify = &cobra.Command{
	Use:   "verify SOURCE INDEX_PREFIX",
	Short: "Check an index against its checksums and source",
	Long: `
The "verify" command opens INDEX_PREFIX.fqi over SOURCE, which checks the
header, layout and source size, then re-computes the footer checksums.

EXIT STATUS
===========

Exit status is 0 if the index is intact, 1 on a usage error and 2 if any
check failed.
`,
	DisableAutoGenTag: true,
	Args:              argsBetween(2, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVerify(args[0], args[1]+indexSuffix, cmd.OutOrStdout())
	},
}

func init() {
	cmdRoot.AddCommand(cmdVerify)
}

func runVerify(source, indexPath string, w io.Writer) error {
	idx, err := indexedfastq.Open(source, indexPath, indexedfastq.WithOpenLogger(log.StandardLogger()))
	if err != nil {
		return err
	}
	defer idx.Close()

	if err := idx.Verify(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: ok (%d records)\n", indexPath, idx.Len())
	return nil
}
