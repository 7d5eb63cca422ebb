// Package version keeps the append-only schema history of a form and moves
// proposed schemas through draft, validated, committed or rejected.
package version

import (
	"errors"
	"fmt"
	"time"

	"github.com/dlovans/formengine/pkg/schema"
)

// Version is an immutable schema snapshot.
type Version struct {
	Number    int            `json:"schema_version"`
	Fields    []schema.Field `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
}

var (
	// ErrVersionNotFound is returned by Accepts for a number not in the history.
	ErrVersionNotFound = errors.New("schema version not found")
	// ErrVersionOutdated is returned by Accepts for any version but the current one.
	ErrVersionOutdated = errors.New("schema version is no longer accepted for new submissions")
)

// ObsoleteVersionError rejects a proposed number that does not exceed the current one.
type ObsoleteVersionError struct {
	Proposed int
	Current  int
}

func (e *ObsoleteVersionError) Error() string {
	return fmt.Sprintf("schema version %d is lower or equal to the current version %d", e.Proposed, e.Current)
}

// History is the ordered list of a form's versions. It is never modified in
// place; Append returns a new History. A nil *History is empty.
type History struct {
	versions []Version
}

// NewHistory builds a history from versions in creation order. Numbers must
// be positive and strictly increasing.
func NewHistory(versions ...Version) (*History, error) {
	h := &History{}
	for _, v := range versions {
		next, err := h.Append(v)
		if err != nil {
			return nil, err
		}
		h = next
	}
	return h, nil
}

// Len returns the number of versions.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.versions)
}

// Current returns a copy of the most recently created version.
func (h *History) Current() (Version, bool) {
	if h.Len() == 0 {
		return Version{}, false
	}
	return h.versions[len(h.versions)-1].clone(), true
}

// CurrentNumber returns the current version number, or 0 for an empty history.
func (h *History) CurrentNumber() int {
	if h.Len() == 0 {
		return 0
	}
	return h.versions[len(h.versions)-1].Number
}

// Find returns a copy of the version with the given number.
func (h *History) Find(n int) (Version, bool) {
	if i := h.index(n); i >= 0 {
		return h.versions[i].clone(), true
	}
	return Version{}, false
}

func (h *History) index(n int) int {
	if h == nil {
		return -1
	}
	for i, v := range h.versions {
		if v.Number == n {
			return i
		}
	}
	return -1
}

// Versions returns copies of the versions in creation order.
func (h *History) Versions() []Version {
	if h == nil {
		return nil
	}
	out := make([]Version, len(h.versions))
	for i, v := range h.versions {
		out[i] = v.clone()
	}
	return out
}

func (v Version) clone() Version {
	v.Fields = schema.CloneFields(v.Fields)
	return v
}

// Append returns a new history ending with v. The fields are copied so that
// later changes by the caller do not reach the snapshot.
func (h *History) Append(v Version) (*History, error) {
	if v.Number <= 0 {
		return nil, fmt.Errorf("schema version must be positive, got %d", v.Number)
	}
	if cur := h.CurrentNumber(); v.Number <= cur {
		return nil, &ObsoleteVersionError{Proposed: v.Number, Current: cur}
	}
	v.Fields = schema.CloneFields(v.Fields)
	next := make([]Version, h.Len(), h.Len()+1)
	if h != nil {
		copy(next, h.versions)
	}
	return &History{versions: append(next, v)}, nil
}

// Accepts reports whether new submissions may target version n. Only the
// current version is open.
func (h *History) Accepts(n int) error {
	if h.index(n) < 0 {
		return ErrVersionNotFound
	}
	if n < h.CurrentNumber() {
		return ErrVersionOutdated
	}
	return nil
}
