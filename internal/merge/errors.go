package merge

import (
	"errors"
	"fmt"
)

// CategoryError means a category produced no output in this pass.
type CategoryError struct {
	Category string
	Stage    string // "read_custom", "parse_custom", "load_source", "parse_source"
	Locator  string
	Cause    error
}

func (e *CategoryError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("category %q: %s %s: %v", e.Category, e.Stage, e.Locator, e.Cause)
}

func (e *CategoryError) Unwrap() error { return e.Cause }

// WriteError is fatal for the whole pass.
type WriteError struct {
	Path  string
	Cause error
}

func (e *WriteError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("write %s: %v", e.Path, e.Cause)
}

func (e *WriteError) Unwrap() error { return e.Cause }

// ErrCategoriesFailed is wrapped by the error Run returns when one or more
// categories were dropped but the remaining outputs were written.
var ErrCategoriesFailed = errors.New("one or more categories failed")
