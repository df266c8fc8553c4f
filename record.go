package indexedfastq

import "strings"

// Record is one FASTQ record as read back from the source.
type Record struct {
	Name     string
	Sequence string
	Quality  string
}

// String renders the record as a four-line FASTQ entry.
func (r Record) String() string {
	var b strings.Builder
	b.Grow(len(r.Name) + len(r.Sequence) + len(r.Quality) + 6)
	b.WriteByte('@')
	b.WriteString(r.Name)
	b.WriteByte('\n')
	b.WriteString(r.Sequence)
	b.WriteString("\n+\n")
	b.WriteString(r.Quality)
	b.WriteByte('\n')
	return b.String()
}
