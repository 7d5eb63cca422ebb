package cli

import (
	"errors"
	"fmt"

	"github.com/dlovans/formengine/pkg/forms"
)

// Exit codes. Anything not listed exits with ExitError.
const (
	ExitOK            = 0
	ExitError         = 1 // usage, I/O, database
	ExitInvalidSchema = 2 // schema rejected by validate, lint, create or update
	ExitRefused       = 3 // answers refused by the engine
	ExitNotFound      = 4 // form, submission or version missing or inactive
	ExitMismatch      = 5 // verify found stored values that do not replay
)

// SilentExitError ends a command that has already printed its outcome.
type SilentExitError struct {
	Code int
}

func (e *SilentExitError) Error() string {
	return fmt.Sprintf("exit %d", e.Code)
}

// NewSilentExit creates a SilentExitError with the given exit code.
func NewSilentExit(code int) *SilentExitError {
	return &SilentExitError{Code: code}
}

// IsSilentExit checks if an error is a SilentExitError and returns its code.
// Returns 0 and false if err is nil or not a SilentExitError.
func IsSilentExit(err error) (int, bool) {
	if err == nil {
		return 0, false
	}
	var se *SilentExitError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// exitCode classifies a service refusal.
func exitCode(e *forms.Error) int {
	switch e.Code {
	case forms.CodeInvalidSchema, forms.CodeInvalidSchemaVersion, forms.CodeCircularDependency, forms.CodeEmptySchema:
		return ExitInvalidSchema
	case forms.CodeFormNotFound, forms.CodeSubmitNotFound, forms.CodeVersionNotFound:
		return ExitNotFound
	case forms.CodeMissingRequired, forms.CodeInconsistentData, forms.CodeSchemaOutdated, forms.CodeInactiveForm:
		return ExitRefused
	}
	return ExitError
}
