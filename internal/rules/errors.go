package rules

import "fmt"

// ParseError reports a rule document that could not be read at all.
// Individual malformed entries never produce it.
type ParseError struct {
	Code    string
	Message string
	Source  string
	Line    int // 1-based; 0 means "not set"
	Cause   error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	where := e.Source
	if e.Line > 0 {
		where = fmt.Sprintf("%s:%d", e.Source, e.Line)
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, where)
	}
	return fmt.Sprintf("%s: %s (%s): %v", e.Code, e.Message, where, e.Cause)
}

func (e *ParseError) Unwrap() error { return e.Cause }

type RuleError struct {
	Code    string
	Message string
	Hint    string
	Cause   error
}

func (e *RuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }
