package rules

import (
	"errors"
	"fmt"

	"guarddog/internal/model"
)

var (
	// ErrNotEnabled is returned for categories that are absent or disabled
	ErrNotEnabled = errors.New("category not enabled")

	// ErrParseSkip marks a record check skipped because a field could not be parsed
	ErrParseSkip = errors.New("record field unparsable, check skipped")
)

// MalformedDocumentError reports a rule document that is not well-formed
// structured data. It aborts the session.
type MalformedDocumentError struct {
	Err error
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("malformed rule document: %v", e.Err)
}

func (e *MalformedDocumentError) Unwrap() error {
	return e.Err
}

// ValidationError reports a rule that failed validation
type ValidationError struct {
	Category model.Category
	Rule     string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.Rule == "" {
		return fmt.Sprintf("invalid rule category %s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("invalid rule %s.%s: %v", e.Category, e.Rule, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(category model.Category, rule string, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Category: category, Rule: rule, Err: fmt.Errorf(format, args...)}
}
