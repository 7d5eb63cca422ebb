package forms

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dlovans/formengine/pkg/engine"
	"github.com/dlovans/formengine/pkg/schema"
	"github.com/dlovans/formengine/pkg/version"
)

// Code identifies a service error independently of its message.
type Code string

const (
	CodeFormNotFound         Code = "FORM_NOT_FOUND"
	CodeFormAlreadyDeleted   Code = "FORM_ALREADY_DELETED"
	CodeInvalidSchema        Code = "INVALID_SCHEMA"
	CodeInvalidSchemaVersion Code = "INVALID_SCHEMA_VERSION"
	CodeCircularDependency   Code = "CIRCULAR_DEPENDENCY_ERROR"
	CodeVersionNotFound      Code = "SCHEMA_VERSION_NOT_FOUND"
	CodeSchemaOutdated       Code = "SCHEMA_OUTDATED"
	CodeEmptySchema          Code = "EMPTY_SCHEMA"
	CodeMissingRequired      Code = "MISSING_REQUIRED"
	CodeInconsistentData     Code = "INCONSISTENT_DATA"
	CodeSubmitNotFound       Code = "SUBMIT_NOT_FOUND"
	CodeSubmitAlreadyRemoved Code = "SUBMIT_ALREADY_REMOVED"
	CodeInactiveForm         Code = "INACTIVE_FORM"
	CodeInvalidParam         Code = "INVALID_PARAM"
	CodeInvalidFilter        Code = "INVALID_FILTER"
	CodeInvalidPage          Code = "INVALID_PAGE"
)

// Error is an expected refusal. Status is the HTTP status a transport should
// answer with.
type Error struct {
	Code    Code          `json:"error"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Field   string        `json:"field,omitempty"`
	Errors  schema.Errors `json:"errors,omitempty"`
	// Err is the underlying cause, if any.
	Err error `json:"-"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if len(e.Errors) > 0 {
		msg += ": " + e.Errors.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether err is an *Error with the given code.
func IsCode(err error, code Code) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

func formNotFound(id string) *Error {
	return &Error{
		Code:    CodeFormNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("The form '%s' does not exist or is inactive.", id),
	}
}

func invalidParam(field, format string, args ...any) *Error {
	return &Error{
		Code:    CodeInvalidParam,
		Status:  http.StatusUnprocessableEntity,
		Message: fmt.Sprintf(format, args...),
		Field:   field,
	}
}

// schemaRejected converts a rejected draft into the service error for it.
func schemaRejected(err error) error {
	var obs *version.ObsoleteVersionError
	if errors.As(err, &obs) {
		return &Error{
			Code:    CodeInvalidSchemaVersion,
			Status:  http.StatusUnprocessableEntity,
			Message: fmt.Sprintf("The schema version %d is lower or equal to the current version of the form.", obs.Proposed),
			Err:     err,
		}
	}
	var inv *version.InvalidSchemaError
	if errors.As(err, &inv) {
		if inv.Errors.Only(schema.TypeDependency) {
			return &Error{
				Code:    CodeCircularDependency,
				Status:  http.StatusUnprocessableEntity,
				Message: inv.Errors[0].Message,
				Field:   inv.Errors[0].Field,
				Errors:  inv.Errors,
				Err:     err,
			}
		}
		return &Error{
			Code:    CodeInvalidSchema,
			Status:  http.StatusUnprocessableEntity,
			Message: "There are errors in the new schema.",
			Errors:  inv.Errors,
			Err:     err,
		}
	}
	return err
}

// CalculationRefused converts an engine failure into the service error for it.
// Other errors are returned unchanged.
func CalculationRefused(err error) error {
	f, ok := engine.AsFailure(err)
	if !ok {
		return err
	}
	code := map[engine.Kind]Code{
		engine.KindEmptySchema:           CodeEmptySchema,
		engine.KindMissingRequired:       CodeMissingRequired,
		engine.KindBusinessInconsistency: CodeInconsistentData,
		engine.KindInvalidSchema:         CodeInvalidSchema,
		engine.KindCircularDependency:    CodeCircularDependency,
	}[f.Kind]
	if code == "" {
		code = CodeInconsistentData
	}
	return &Error{
		Code:    code,
		Status:  http.StatusUnprocessableEntity,
		Message: f.Message,
		Errors:  f.Errors,
		Err:     err,
	}
}
