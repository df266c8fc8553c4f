package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tamirms/indexedfastq"
)

var cmdStats = &cobra.Command{
	Use:   "stats INDEX_PREFIX",
	Short: "Show index statistics",
	Long: `
The "stats" command prints the header fields and sizes of INDEX_PREFIX.fqi.
The source file is not needed.
`,
	DisableAutoGenTag: true,
	Args:              argsBetween(1, 1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats(args[0]+indexSuffix, cmd.OutOrStdout())
	},
}

func init() {
	cmdRoot.AddCommand(cmdStats)
}

func runStats(indexPath string, w io.Writer) error {
	st, err := indexedfastq.GetStats(indexPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "index:           %s\n", indexPath)
	fmt.Fprintf(w, "records:         %d\n", st.NumRecords)
	fmt.Fprintf(w, "hasher:          %s\n", st.Hasher)
	fmt.Fprintf(w, "name mode:       %s\n", st.NameMode)
	fmt.Fprintf(w, "hash bytes:      %d\n", st.HashBytes)
	fmt.Fprintf(w, "bits per record: %.2f\n", st.BitsPerRecord)
	fmt.Fprintf(w, "index size:      %d\n", st.IndexSize)
	fmt.Fprintf(w, "source size:     %d\n", st.SourceSize)
	return nil
}
