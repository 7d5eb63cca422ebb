// Package forms stores forms and their submissions: it resolves the schema
// version a submission targets, runs the engine and persists the result
// through a Repository.
package forms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dlovans/formengine/pkg/version"
)

// Repository errors.
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a version number or id already exists.
	ErrConflict = errors.New("conflict")
)

// Form is a stored form. SchemaVersion is the current version number.
type Form struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	SchemaVersion int        `json:"schema_version"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Submission is a stored submission. Data holds answers and calculated values.
type Submission struct {
	ID            string         `json:"id"`
	FormID        string         `json:"form_id"`
	SchemaVersion int            `json:"schema_version"`
	Data          map[string]any `json:"data"`
	Active        bool           `json:"active"`
	CreatedAt     time.Time      `json:"created_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

// Order directions and sort keys for ListForms.
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"

	SortName      = "name"
	SortCreatedAt = "created_at"
)

// FormQuery selects active forms. Offset and Limit are set by the service.
type FormQuery struct {
	Name          string
	SchemaVersion int
	SortBy        string
	Order         string
	Offset        int
	Limit         int
}

// Filter matches a top-level key of a stored submission.
type Filter struct {
	Field string
	Value string
}

// SubmissionQuery selects active submissions, newest first.
type SubmissionQuery struct {
	SchemaVersion int
	Filters       []Filter
	Offset        int
	Limit         int
}

// Matches reports whether data satisfies every filter.
func (q SubmissionQuery) Matches(data map[string]any) bool {
	for _, f := range q.Filters {
		if !matchValue(data[f.Field], f.Value) {
			return false
		}
	}
	return true
}

// matchValue compares a stored value with a filter taken from a query string.
func matchValue(stored any, want string) bool {
	switch v := stored.(type) {
	case nil:
		return want == "" || want == "null"
	case string:
		return v == want
	case bool:
		b, err := strconv.ParseBool(want)
		return err == nil && b == v
	case float64:
		n, err := strconv.ParseFloat(want, 64)
		return err == nil && n == v
	case []any:
		for _, item := range v {
			if matchValue(item, want) {
				return true
			}
		}
		return false
	default:
		return fmt.Sprint(v) == want
	}
}

// FiltersFromQuery collects field_<id>=<value> pairs, as sent by list clients.
func FiltersFromQuery(params map[string]string) []Filter {
	var out []Filter
	for k, v := range params {
		if id, ok := strings.CutPrefix(k, "field_"); ok && id != "" {
			out = append(out, Filter{Field: id, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// Repository persists forms, versions and submissions. Get methods return
// ErrNotFound; inactive records are returned and left to the caller.
type Repository interface {
	CreateForm(ctx context.Context, f Form, v version.Version) error
	GetForm(ctx context.Context, id string) (Form, error)
	ListForms(ctx context.Context, q FormQuery) ([]Form, int, error)
	// AppendVersion stores v and updates the form's name and description.
	// It returns ErrConflict if the version number exists.
	AppendVersion(ctx context.Context, f Form, v version.Version) error
	Versions(ctx context.Context, formID string) ([]version.Version, error)
	DeleteForm(ctx context.Context, id string, at time.Time) error

	CreateSubmission(ctx context.Context, s Submission) error
	GetSubmission(ctx context.Context, formID, id string) (Submission, error)
	ListSubmissions(ctx context.Context, formID string, q SubmissionQuery) ([]Submission, int, error)
	DeleteSubmission(ctx context.Context, id string, at time.Time) error
}
