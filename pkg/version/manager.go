package version

import (
	"errors"
	"time"

	"github.com/dlovans/formengine/pkg/schema"
)

// State is the stage of a proposed schema.
type State string

const (
	StateDraft     State = "draft"
	StateValidated State = "validated"
	StateCommitted State = "committed"
	StateRejected  State = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRejected
}

var (
	// ErrNotValidated is returned when committing a draft that has not passed validation.
	ErrNotValidated = errors.New("draft has not been validated")
	// ErrCommitted is returned when committing a draft a second time.
	ErrCommitted = errors.New("draft already committed")
)

// InvalidSchemaError rejects a draft whose fields fail schema validation.
type InvalidSchemaError struct {
	Errors schema.Errors
}

func (e *InvalidSchemaError) Error() string {
	return "invalid schema: " + e.Errors.Error()
}

// Draft is a proposed new version on its way into a history.
type Draft struct {
	Number int
	Fields []schema.Field
	State  State
	// Err is set when State is StateRejected.
	Err error

	base    *History
	version Version
}

// Manager drives drafts through their states.
type Manager struct {
	now func() time.Time
}

// NewManager returns a manager that stamps committed versions with now.
// A nil now uses time.Now.
func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{now: now}
}

// Propose starts a draft of version number against h. A number that does not
// exceed the current version rejects the draft before any field validation.
func (m *Manager) Propose(h *History, number int, fields []schema.Field) *Draft {
	d := &Draft{Number: number, Fields: schema.CloneFields(fields), State: StateDraft, base: h}
	if cur := h.CurrentNumber(); number <= cur {
		d.reject(&ObsoleteVersionError{Proposed: number, Current: cur})
	}
	return d
}

// Validate runs schema validation on a draft.
func (m *Manager) Validate(d *Draft) error {
	if d.State != StateDraft {
		if d.Err != nil {
			return d.Err
		}
		return nil
	}
	if res := schema.Validate(d.Fields); !res.Valid {
		d.reject(&InvalidSchemaError{Errors: res.Errors})
		return d.Err
	}
	d.State = StateValidated
	return nil
}

// Commit appends a validated draft to its history and returns the new history.
func (m *Manager) Commit(d *Draft) (*History, Version, error) {
	switch d.State {
	case StateRejected:
		return nil, Version{}, d.Err
	case StateCommitted:
		return nil, d.version, ErrCommitted
	case StateDraft:
		return nil, Version{}, ErrNotValidated
	}

	v := Version{Number: d.Number, Fields: d.Fields, CreatedAt: m.now().UTC()}
	next, err := d.base.Append(v)
	if err != nil {
		d.reject(err)
		return nil, Version{}, err
	}
	d.version = v
	d.State = StateCommitted
	return next, v, nil
}

// Advance proposes, validates and commits in one step.
func (m *Manager) Advance(h *History, number int, fields []schema.Field) (*History, Version, error) {
	d := m.Propose(h, number, fields)
	if err := m.Validate(d); err != nil {
		return nil, Version{}, err
	}
	return m.Commit(d)
}

func (d *Draft) reject(err error) {
	d.State = StateRejected
	d.Err = err
}
