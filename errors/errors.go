// Package errors defines all exported error sentinels for the indexedfastq module.
//
// This is the single source of truth for error values. The top-level
// indexedfastq package and the internal codec, parser and hash packages all
// import from here, so errors.Is checks work across package boundaries.
package errors

import (
	"errors"
	"fmt"
)

// Source errors
var (
	ErrMalformedRecord       = errors.New("indexedfastq: malformed FASTQ record")
	ErrUnexpectedEndOfStream = errors.New("indexedfastq: unexpected end of stream inside a record")
	ErrNotBGZF               = errors.New("indexedfastq: source is not BGZF compressed")
	ErrInvalidBGZF           = errors.New("indexedfastq: invalid BGZF block")
	ErrSourceMismatch        = errors.New("indexedfastq: source file does not match the one the index was built from")
)

// Build errors
var (
	ErrDuplicateKey            = errors.New("indexedfastq: duplicate record name")
	ErrTooManyRecords          = errors.New("indexedfastq: record count exceeds maximum")
	ErrRecordTooLong           = errors.New("indexedfastq: record exceeds maximum length")
	ErrUnsortedInput           = errors.New("indexedfastq: hash keys are not sorted by partition")
	ErrIndistinguishableHashes = errors.New("indexedfastq: distinct names share a 128-bit hash")
	ErrPilotSearchExhausted    = errors.New("indexedfastq: pilot search exhausted - retry with different seed")
	ErrInvalidOption           = errors.New("indexedfastq: invalid option")
)

// Index errors. Every layout or integrity failure wraps ErrCorruptIndex so
// callers can test for "rebuild needed" with a single errors.Is.
var (
	ErrCorruptIndex   = errors.New("indexedfastq: index data is corrupted")
	ErrInvalidMagic   = fmt.Errorf("%w: invalid magic number", ErrCorruptIndex)
	ErrInvalidVersion = fmt.Errorf("%w: unsupported version", ErrCorruptIndex)
	ErrTruncatedFile  = fmt.Errorf("%w: index file is truncated", ErrCorruptIndex)
	ErrChecksumFailed = fmt.Errorf("%w: checksum verification failed", ErrCorruptIndex)
)

// Query errors
var (
	ErrIndexClosed = errors.New("indexedfastq: index is closed")
)

// DuplicateKeyError reports the record name that occurred more than once.
type DuplicateKeyError struct {
	Name string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s: %q", ErrDuplicateKey.Error(), e.Name)
}

// Unwrap makes errors.Is(err, ErrDuplicateKey) hold.
func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}
