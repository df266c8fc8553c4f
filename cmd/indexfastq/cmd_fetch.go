package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tamirms/indexedfastq"
)

var cmdFetch = &cobra.Command{
	Use:   "fetch SOURCE INDEX_PREFIX [NAME...]",
	Short: "Print records by name",
	Long: `
The "fetch" command prints the records with the given names as FASTQ. Names
can also be read one per line from a file with --names-from ("-" for stdin).
Each name that is not in the index is reported as "record not found" on
stderr.

EXIT STATUS
===========

Exit status is 0 if every lookup completed, whether or not the record was
found, 1 on a usage error and 2 if the index could not be read.
`,
	DisableAutoGenTag: true,
	Args:              argsAtLeast(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		names := args[2:]
		if fetchOptions.NamesFrom != "" {
			more, err := readNames(fetchOptions.NamesFrom, cmd.InOrStdin())
			if err != nil {
				return err
			}
			names = append(names, more...)
		}
		if len(names) == 0 {
			return usageError{fmt.Errorf("no names given")}
		}
		return runFetch(cmd.Context(), args[0], args[1]+indexSuffix, names, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// FetchOptions bundles the flags of the fetch command.
type FetchOptions struct {
	NamesFrom string
	Workers   int
}

var fetchOptions FetchOptions

func init() {
	cmdRoot.AddCommand(cmdFetch)

	f := cmdFetch.Flags()
	f.StringVar(&fetchOptions.NamesFrom, "names-from", "", "read names from `file`, one per line")
	f.IntVar(&fetchOptions.Workers, "workers", 1, "parallel lookups")
}

func readNames(path string, stdin io.Reader) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var names []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if name := strings.TrimSuffix(sc.Text(), "\r"); name != "" {
			names = append(names, name)
		}
	}
	return names, sc.Err()
}

func runFetch(ctx context.Context, source, indexPath string, names []string, stdout, stderr io.Writer) error {
	idx, err := indexedfastq.Open(source, indexPath, indexedfastq.WithOpenLogger(log.StandardLogger()))
	if err != nil {
		return err
	}
	defer idx.Close()

	out := bufio.NewWriter(stdout)

	if fetchOptions.Workers <= 1 {
		for _, name := range names {
			rec, ok, err := idx.Fetch(name)
			if err != nil {
				return fmt.Errorf("fetch %q: %w", name, err)
			}
			if !ok {
				fmt.Fprintf(stderr, "record not found: %s\n", name)
				continue
			}
			// Write errors stick in out and surface from Flush.
			out.WriteString(rec.String())
		}
		return flushOutput(out)
	}

	recs, err := idx.FetchParallel(ctx, names, fetchOptions.Workers)
	if err != nil {
		return err
	}
	// Records come back in request order with misses dropped.
	i := 0
	for _, name := range names {
		if i < len(recs) && recs[i].Name == name {
			out.WriteString(recs[i].String())
			i++
			continue
		}
		fmt.Fprintf(stderr, "record not found: %s\n", name)
	}
	log.Debugf("fetched %d of %d records", len(recs), len(names))
	return flushOutput(out)
}

func flushOutput(out *bufio.Writer) error {
	if err := out.Flush(); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}
