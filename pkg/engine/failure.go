package engine

import (
	"errors"
	"fmt"

	"github.com/dlovans/formengine/pkg/schema"
)

// Kind classifies why a calculation was refused.
type Kind string

const (
	KindEmptySchema           Kind = "empty_schema"
	KindMissingRequired       Kind = "missing_required"
	KindBusinessInconsistency Kind = "business_inconsistency"
	KindInvalidSchema         Kind = "invalid_schema"
	KindCircularDependency    Kind = "circular_dependency"
)

// Failure is the structured result of a refused calculation. It carries the
// field-level errors so that a caller can report them without parsing text.
type Failure struct {
	Kind    Kind          `json:"kind"`
	Message string        `json:"message"`
	Errors  schema.Errors `json:"errors,omitempty"`
}

func (f *Failure) Error() string {
	if len(f.Errors) == 0 {
		return f.Message
	}
	return fmt.Sprintf("%s %s", f.Message, f.Errors.Error())
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Messages returned with each failure kind.
const (
	MsgEmptySchema     = "Form does not have any fields defined"
	MsgMissingRequired = "Some required fields were not completed."
	MsgInconsistent    = "Inconsistent data detected."
	MsgInvalidSchema   = "The form schema is invalid."
	MsgRequiredField   = "Required field was not provided."
)
