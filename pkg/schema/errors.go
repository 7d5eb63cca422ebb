package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies a validation error.
type ErrorType string

const (
	// TypeSchema marks a field that fails its variant's structural shape.
	TypeSchema ErrorType = "schema"
	// TypeBusiness marks a rule violation: bad regex, inverted range, duplicate ids, bad values.
	TypeBusiness ErrorType = "business"
	// TypeDependency marks a cycle among calculated fields.
	TypeDependency ErrorType = "dependency"
)

// FormField is the pseudo field name used for errors that concern the whole list.
const FormField = "form"

// ValidationError is a single field-level problem.
type ValidationError struct {
	Field   string    `json:"field"`
	Message string    `json:"message"`
	Type    ErrorType `json:"type"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors is a collection of validation errors that implements error.
type Errors []ValidationError

// Error summarizes the first few errors.
func (es Errors) Error() string {
	if len(es) == 0 {
		return ""
	}
	const maxShown = 3
	b := &strings.Builder{}
	lim := min(len(es), maxShown)
	for i := 0; i < lim; i++ {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(es[i].Error())
	}
	if len(es) > lim {
		fmt.Fprintf(b, "; ... (total %d)", len(es))
	}
	return b.String()
}

// OfType returns the errors with the given classification.
func (es Errors) OfType(t ErrorType) Errors {
	var out Errors
	for _, e := range es {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Only reports whether es is non-empty and every error has type t.
func (es Errors) Only(t ErrorType) bool {
	if len(es) == 0 {
		return false
	}
	for _, e := range es {
		if e.Type != t {
			return false
		}
	}
	return true
}

// AsErrors extracts Errors from an error using errors.As.
func AsErrors(err error) (Errors, bool) {
	if err == nil {
		return nil, false
	}
	var es Errors
	if errors.As(err, &es) {
		return es, true
	}
	return nil, false
}

// Result is the outcome of validating a field list.
type Result struct {
	Valid  bool   `json:"valid"`
	Errors Errors `json:"errors"`
}

// Err returns the errors as an error, or nil when the result is valid.
func (r Result) Err() error {
	if r.Valid {
		return nil
	}
	return r.Errors
}

func newResult(errs Errors) Result {
	if errs == nil {
		errs = Errors{}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func schemaErr(field, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Message: "Schema error: " + fmt.Sprintf(format, args...), Type: TypeSchema}
}

func businessErr(field, format string, args ...any) ValidationError {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Type: TypeBusiness}
}
