package forms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dlovans/formengine/pkg/engine"
	"github.com/dlovans/formengine/pkg/schema"
	"github.com/dlovans/formengine/pkg/version"
)

// Limits on form documents and list queries.
const (
	MaxNameLength        = 255
	MaxDescriptionLength = 500
	MaxFields            = 100
	DefaultPageLength    = 20
	MaxPageLength        = 100
)

// Service runs form operations against a Repository.
type Service struct {
	repo     Repository
	engine   *engine.Engine
	versions *version.Manager
	now      func() time.Time
	log      *slog.Logger
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithEngine sets the engine used for submissions.
func WithEngine(e *engine.Engine) Option {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithClock sets the time source for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithIDs sets the generator for form and submission ids.
func WithIDs(next func() string) Option {
	return func(s *Service) { s.newID = next }
}

// NewService returns a service over repo. Unless WithEngine is given, the
// engine shares the service clock and logger.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:  repo,
		now:   time.Now,
		log:   slog.New(slog.DiscardHandler),
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = engine.New(engine.WithClock(s.now), engine.WithLogger(s.log))
	}
	s.versions = version.NewManager(s.now)
	return s
}

// Created is the result of CreateForm.
type Created struct {
	ID            string    `json:"id"`
	SchemaVersion int       `json:"schema_version"`
	Message       string    `json:"message"`
	CreatedAt     time.Time `json:"created_at"`
}

// CreateForm validates doc and stores it as version 1 of a new form.
func (s *Service) CreateForm(ctx context.Context, doc schema.Document) (*Created, error) {
	if err := checkDocument(doc); err != nil {
		return nil, err
	}
	_, v, err := s.versions.Advance(nil, 1, doc.Fields)
	if err != nil {
		return nil, schemaRejected(err)
	}

	now := s.now().UTC()
	f := Form{
		ID:            s.newID(),
		Name:          doc.Name,
		Description:   doc.Description,
		SchemaVersion: v.Number,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateForm(ctx, f, v); err != nil {
		return nil, fmt.Errorf("create form: %w", err)
	}
	s.log.Info("form created", "form_id", f.ID, "fields", len(v.Fields))
	return &Created{ID: f.ID, SchemaVersion: v.Number, Message: "Created form successfully", CreatedAt: now}, nil
}

// Updated is the result of UpdateSchema.
type Updated struct {
	ID              string    `json:"id"`
	Message         string    `json:"message"`
	PreviousVersion int       `json:"previous_schema_version"`
	NewVersion      int       `json:"new_schema_version"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UpdateSchema commits doc as a new version of the form. doc.SchemaVersion
// must exceed the current version.
func (s *Service) UpdateSchema(ctx context.Context, id string, doc schema.Document) (*Updated, error) {
	if doc.SchemaVersion == nil {
		return nil, invalidParam("schema_version", "The parameter \"schema_version\" is required.")
	}
	if err := checkDocument(doc); err != nil {
		return nil, err
	}
	f, err := s.activeForm(ctx, id)
	if err != nil {
		return nil, err
	}
	h, err := s.history(ctx, id)
	if err != nil {
		return nil, err
	}

	prev := h.CurrentNumber()
	_, v, err := s.versions.Advance(h, *doc.SchemaVersion, doc.Fields)
	if err != nil {
		return nil, schemaRejected(err)
	}

	f.Name, f.Description = doc.Name, doc.Description
	f.SchemaVersion = v.Number
	f.UpdatedAt = v.CreatedAt
	if err := s.repo.AppendVersion(ctx, f, v); err != nil {
		if errors.Is(err, ErrConflict) {
			// Another writer committed this number first.
			return nil, schemaRejected(&version.ObsoleteVersionError{Proposed: v.Number, Current: v.Number})
		}
		return nil, fmt.Errorf("append version: %w", err)
	}
	s.log.Info("schema updated", "form_id", id, "from", prev, "to", v.Number)
	return &Updated{
		ID:              id,
		Message:         "Schema version updated successfully.",
		PreviousVersion: prev,
		NewVersion:      v.Number,
		UpdatedAt:       v.CreatedAt,
	}, nil
}

// FormView is a form with its current schema.
type FormView struct {
	Form
	Fields []schema.Field `json:"fields"`
}

// GetForm returns an active form with its current version.
func (s *Service) GetForm(ctx context.Context, id string) (*FormView, error) {
	f, err := s.activeForm(ctx, id)
	if err != nil {
		return nil, err
	}
	h, err := s.history(ctx, id)
	if err != nil {
		return nil, err
	}
	cur, ok := h.Current()
	if !ok {
		return nil, &Error{
			Code:    CodeFormNotFound,
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("The form with ID \"%s\" was not found or has no versions.", id),
		}
	}
	f.SchemaVersion = cur.Number
	return &FormView{Form: f, Fields: cur.Fields}, nil
}

// History returns every version of an active form.
func (s *Service) History(ctx context.Context, id string) (*version.History, error) {
	if _, err := s.activeForm(ctx, id); err != nil {
		return nil, err
	}
	return s.history(ctx, id)
}

// ListFormsRequest selects a page of active forms.
type ListFormsRequest struct {
	Name          string
	SchemaVersion int
	Page          int
	PageLength    int
	SortBy        string
	Order         string
}

// FormPage is one page of forms.
type FormPage struct {
	Page       int    `json:"page_active"`
	TotalPages int    `json:"total_pages"`
	Total      int    `json:"total_items"`
	Forms      []Form `json:"forms"`
}

// ListForms returns a page of active forms.
func (s *Service) ListForms(ctx context.Context, req ListFormsRequest) (*FormPage, error) {
	page, length, err := paging(req.Page, req.PageLength)
	if err != nil {
		return nil, err
	}
	switch req.SortBy {
	case "":
		req.SortBy = SortCreatedAt
	case SortName, SortCreatedAt:
	default:
		return nil, &Error{
			Code:    CodeInvalidFilter,
			Status:  http.StatusUnprocessableEntity,
			Message: fmt.Sprintf("The parameter 'order_by' must be one of '%s' or '%s'.", SortName, SortCreatedAt),
		}
	}
	if req.Order != OrderDesc {
		req.Order = OrderAsc
	}

	forms, total, err := s.repo.ListForms(ctx, FormQuery{
		Name:          req.Name,
		SchemaVersion: req.SchemaVersion,
		SortBy:        req.SortBy,
		Order:         req.Order,
		Offset:        (page - 1) * length,
		Limit:         length,
	})
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	return &FormPage{Page: page, TotalPages: pages(total, length), Total: total, Forms: forms}, nil
}

// DeleteForm soft-deletes a form.
func (s *Service) DeleteForm(ctx context.Context, id string) error {
	f, err := s.repo.GetForm(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return formNotFound(id)
	}
	if err != nil {
		return fmt.Errorf("get form: %w", err)
	}
	if !f.Active {
		return &Error{
			Code:    CodeFormAlreadyDeleted,
			Status:  http.StatusConflict,
			Message: fmt.Sprintf("The form with ID \"%s\" is already deleted.", id),
		}
	}
	if err := s.repo.DeleteForm(ctx, id, s.now().UTC()); err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	s.log.Info("form deleted", "form_id", id)
	return nil
}

// SubmitRequest is a submission. A nil SchemaVersion targets the current version.
type SubmitRequest struct {
	SchemaVersion *int           `json:"schema_version,omitempty"`
	Answers       map[string]any `json:"answers"`
}

// Receipt is the result of a successful submission.
type Receipt struct {
	SubmissionID  string         `json:"submission_id"`
	SchemaVersion int            `json:"schema_version"`
	Message       string         `json:"message"`
	Calculated    map[string]any `json:"calculated"`
	ExecutedAt    time.Time      `json:"executed_at"`
}

// Submit runs req against the targeted version and stores the merged data.
func (s *Service) Submit(ctx context.Context, id string, req SubmitRequest) (*Receipt, error) {
	if _, err := s.activeForm(ctx, id); err != nil {
		return nil, err
	}
	h, err := s.history(ctx, id)
	if err != nil {
		return nil, err
	}

	target, err := resolveVersion(h, req.SchemaVersion)
	if err != nil {
		return nil, err
	}

	answers := req.Answers
	if answers == nil {
		answers = map[string]any{}
	}
	out, err := s.engine.Calculate(target.Fields, answers)
	if err != nil {
		s.log.Debug("submission refused", "form_id", id, "schema_version", target.Number, "error", err)
		return nil, CalculationRefused(err)
	}

	sub := Submission{
		ID:            s.newID(),
		FormID:        id,
		SchemaVersion: target.Number,
		Data:          out.Data,
		Active:        true,
		CreatedAt:     out.ExecutedAt,
	}
	if err := s.repo.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("store submission: %w", err)
	}
	s.log.Info("submission stored", "form_id", id, "submission_id", sub.ID, "schema_version", target.Number)
	return &Receipt{
		SubmissionID:  sub.ID,
		SchemaVersion: target.Number,
		Message:       "Registration submit successfully.",
		Calculated:    out.Calculated,
		ExecutedAt:    out.ExecutedAt,
	}, nil
}

func resolveVersion(h *version.History, requested *int) (version.Version, error) {
	if requested == nil {
		cur, ok := h.Current()
		if !ok {
			return version.Version{}, &Error{Code: CodeEmptySchema, Status: http.StatusUnprocessableEntity, Message: engine.MsgEmptySchema}
		}
		return cur, nil
	}
	switch err := h.Accepts(*requested); {
	case errors.Is(err, version.ErrVersionNotFound):
		return version.Version{}, &Error{Code: CodeVersionNotFound, Status: http.StatusNotFound, Message: "Schema version not found", Err: err}
	case errors.Is(err, version.ErrVersionOutdated):
		return version.Version{}, &Error{
			Code:    CodeSchemaOutdated,
			Status:  http.StatusUnprocessableEntity,
			Message: "The specified schema version is no longer accepted for new submissions.",
			Err:     err,
		}
	}
	v, _ := h.Find(*requested)
	return v, nil
}

// ListSubmissionsRequest selects a page of a form's submissions.
type ListSubmissionsRequest struct {
	Page              int
	PageLength        int
	SchemaVersion     int
	IncludeCalculated bool
	Filters           []Filter
}

// SubmissionView is a stored submission split back into answers and
// calculated values.
type SubmissionView struct {
	ID            string         `json:"id_submit"`
	CreatedAt     time.Time      `json:"created_at"`
	SchemaVersion int            `json:"schema_version"`
	Answers       map[string]any `json:"answers"`
	Calculated    map[string]any `json:"calculated,omitempty"`
}

// SubmissionPage is one page of submissions.
type SubmissionPage struct {
	Page       int              `json:"page"`
	PageLength int              `json:"length_page"`
	Total      int              `json:"total"`
	Results    []SubmissionView `json:"results"`
}

// ListSubmissions returns a page of active submissions for an active form,
// newest first.
func (s *Service) ListSubmissions(ctx context.Context, id string, req ListSubmissionsRequest) (*SubmissionPage, error) {
	if _, err := s.activeForm(ctx, id); err != nil {
		return nil, err
	}
	page, length, err := paging(req.Page, req.PageLength)
	if err != nil {
		return nil, err
	}
	h, err := s.history(ctx, id)
	if err != nil {
		return nil, err
	}

	subs, total, err := s.repo.ListSubmissions(ctx, id, SubmissionQuery{
		SchemaVersion: req.SchemaVersion,
		Filters:       req.Filters,
		Offset:        (page - 1) * length,
		Limit:         length,
	})
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	if total > 0 && page > pages(total, length) {
		return nil, &Error{Code: CodeInvalidPage, Status: http.StatusUnprocessableEntity, Message: fmt.Sprintf("Page %d contains no results.", page)}
	}

	results := make([]SubmissionView, 0, len(subs))
	for _, sub := range subs {
		results = append(results, split(h, sub, req.IncludeCalculated))
	}
	return &SubmissionPage{Page: page, PageLength: length, Total: total, Results: results}, nil
}

// split separates calculated keys using the version the submission was made against.
func split(h *version.History, sub Submission, includeCalculated bool) SubmissionView {
	calc := map[string]bool{}
	if v, ok := h.Find(sub.SchemaVersion); ok {
		for _, f := range v.Fields {
			if f.IsCalculated() {
				calc[f.ID] = true
			}
		}
	}
	view := SubmissionView{
		ID:            sub.ID,
		CreatedAt:     sub.CreatedAt,
		SchemaVersion: sub.SchemaVersion,
		Answers:       map[string]any{},
	}
	calculated := map[string]any{}
	for k, v := range sub.Data {
		if calc[k] {
			calculated[k] = v
		} else {
			view.Answers[k] = v
		}
	}
	if includeCalculated && len(calculated) > 0 {
		view.Calculated = calculated
	}
	return view
}

// DeleteSubmission soft-deletes a submission of an active form.
func (s *Service) DeleteSubmission(ctx context.Context, formID, id string) error {
	if _, err := s.activeForm(ctx, formID); err != nil {
		return err
	}
	sub, err := s.submission(ctx, formID, id)
	if err != nil {
		return err
	}
	if !sub.Active {
		return &Error{
			Code:    CodeSubmitAlreadyRemoved,
			Status:  http.StatusConflict,
			Message: "The submit is already inactive. No further action has been taken.",
		}
	}
	if err := s.repo.DeleteSubmission(ctx, id, s.now().UTC()); err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	s.log.Info("submission deleted", "form_id", formID, "submission_id", id)
	return nil
}

// VerifySubmission replays a stored submission against the version it was
// made with and reports whether its calculated values still match.
func (s *Service) VerifySubmission(ctx context.Context, formID, id string) (bool, error) {
	f, err := s.repo.GetForm(ctx, formID)
	if errors.Is(err, ErrNotFound) {
		return false, formNotFound(formID)
	}
	if err != nil {
		return false, fmt.Errorf("get form: %w", err)
	}
	sub, err := s.submission(ctx, f.ID, id)
	if err != nil {
		return false, err
	}
	h, err := s.history(ctx, f.ID)
	if err != nil {
		return false, err
	}
	v, ok := h.Find(sub.SchemaVersion)
	if !ok {
		return false, &Error{Code: CodeVersionNotFound, Status: http.StatusNotFound, Message: "Schema version not found"}
	}
	return s.engine.Verify(v.Fields, sub.Data)
}

func (s *Service) activeForm(ctx context.Context, id string) (Form, error) {
	f, err := s.repo.GetForm(ctx, id)
	if errors.Is(err, ErrNotFound) || (err == nil && !f.Active) {
		return Form{}, formNotFound(id)
	}
	if err != nil {
		return Form{}, fmt.Errorf("get form: %w", err)
	}
	return f, nil
}

func (s *Service) submission(ctx context.Context, formID, id string) (Submission, error) {
	sub, err := s.repo.GetSubmission(ctx, formID, id)
	if errors.Is(err, ErrNotFound) {
		return Submission{}, &Error{
			Code:    CodeSubmitNotFound,
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("The submit '%s' was not found for the form '%s'.", id, formID),
		}
	}
	if err != nil {
		return Submission{}, fmt.Errorf("get submission: %w", err)
	}
	return sub, nil
}

func (s *Service) history(ctx context.Context, id string) (*version.History, error) {
	vs, err := s.repo.Versions(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load versions: %w", err)
	}
	h, err := version.NewHistory(vs...)
	if err != nil {
		return nil, fmt.Errorf("form %s: %w", id, err)
	}
	return h, nil
}

func checkDocument(doc schema.Document) error {
	if doc.Name == "" || len([]rune(doc.Name)) > MaxNameLength {
		return invalidParam("name", "The parameter \"name\" must have between 1 and %d characters.", MaxNameLength)
	}
	if len([]rune(doc.Description)) > MaxDescriptionLength {
		return invalidParam("description", "The parameter \"description\" must have at most %d characters.", MaxDescriptionLength)
	}
	if len(doc.Fields) == 0 || len(doc.Fields) > MaxFields {
		return invalidParam("fields", "The form must have between 1 and %d fields.", MaxFields)
	}
	return nil
}

func paging(page, length int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if length == 0 {
		length = DefaultPageLength
	}
	if page < 1 {
		return 0, 0, invalidParam("page", "The parameter \"page\" must be greater than or equal to 1.")
	}
	if length < 1 || length > MaxPageLength {
		return 0, 0, invalidParam("length_page", "The parameter \"length_page\" must be less than or equal to %d.", MaxPageLength)
	}
	return page, length, nil
}

func pages(total, length int) int {
	return (total + length - 1) / length
}
