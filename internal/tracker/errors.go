package tracker

import (
	"errors"
	"strings"

	"github.com/calvinalkan/habits/internal/storage"
)

var (
	// ErrMissingHeader is returned by writes to a document without a
	// frontmatter header. Nothing is written.
	ErrMissingHeader = errors.New("document has no frontmatter header")

	// ErrInvalidDate is returned when a date argument matches neither the
	// display format nor any fallback format.
	ErrInvalidDate = errors.New("invalid date")
)

// Error is returned by the write path and by document reads. It carries the
// document and the operation:
//
//	write habits/run.md: document has no frontmatter header (doc_id=habits/run.md op=write)
//
// Use [errors.Is] for the sentinels and [errors.As] to get the fields.
type Error struct {
	ID  storage.ID
	Op  string
	Err error
}

// Error formats as "<cause> (doc_id=X op=Y)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var parts []string

	if e.ID != "" {
		parts = append(parts, "doc_id="+string(e.ID))
	}

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	if len(parts) == 0 {
		return cause
	}

	suffix := "(" + strings.Join(parts, " ") + ")"
	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

func withContext(err error, id storage.ID, op string) error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return err
	}

	return &Error{ID: id, Op: op, Err: err}
}
