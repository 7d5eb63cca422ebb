package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/dlovans/formengine/pkg/forms"
)

const submissionColumns = `id, form_id, schema_version, data, is_active, created_at, deleted_at`

// CreateSubmission stores a submission.
func (s *Store) CreateSubmission(ctx context.Context, sub forms.Submission) error {
	data, err := json.Marshal(sub.Data)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	_, err = s.exec(ctx, s.db,
		`INSERT INTO form_submissions(`+submissionColumns+`) VALUES(?,?,?,?,?,?,NULL)`,
		sub.ID, sub.FormID, sub.SchemaVersion, string(data), boolInt(sub.Active), formatTime(sub.CreatedAt))
	if err != nil {
		if isConflict(err) {
			return forms.ErrConflict
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// GetSubmission returns a submission of a form, active or not.
func (s *Store) GetSubmission(ctx context.Context, formID, id string) (forms.Submission, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+submissionColumns+` FROM form_submissions WHERE id = ? AND form_id = ?`, id, formID)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return forms.Submission{}, forms.ErrNotFound
	}
	return sub, err
}

// ListSubmissions returns a window of a form's active submissions, newest
// first, and the number of matches. Field filters apply to the decoded data,
// so they are evaluated here rather than in SQL.
func (s *Store) ListSubmissions(ctx context.Context, formID string, q forms.SubmissionQuery) ([]forms.Submission, int, error) {
	query := `SELECT ` + submissionColumns + ` FROM form_submissions WHERE form_id = ? AND is_active = 1`
	args := []any{formID}
	if q.SchemaVersion > 0 {
		query += ` AND schema_version = ?`
		args = append(args, q.SchemaVersion)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var (
		out   []forms.Submission
		total int
	)
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		if !q.Matches(sub.Data) {
			continue
		}
		if total >= q.Offset && (q.Limit <= 0 || len(out) < q.Limit) {
			out = append(out, sub)
		}
		total++
	}
	return out, total, rows.Err()
}

// DeleteSubmission marks a submission inactive.
func (s *Store) DeleteSubmission(ctx context.Context, id string, at time.Time) error {
	res, err := s.exec(ctx, s.db, `UPDATE form_submissions SET is_active = 0, deleted_at = ? WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("delete submission: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return forms.ErrNotFound
	}
	return nil
}

func scanSubmission(row scanner) (forms.Submission, error) {
	var (
		sub     forms.Submission
		data    string
		active  int64
		created string
		deleted sql.NullString
	)
	if err := row.Scan(&sub.ID, &sub.FormID, &sub.SchemaVersion, &data, &active, &created, &deleted); err != nil {
		return forms.Submission{}, err
	}
	if err := json.Unmarshal([]byte(data), &sub.Data); err != nil {
		return forms.Submission{}, fmt.Errorf("decode submission %s: %w", sub.ID, err)
	}
	sub.Active = active != 0
	var err error
	if sub.CreatedAt, err = parseTime(created); err != nil {
		return forms.Submission{}, err
	}
	if sub.DeletedAt, err = parseNullTime(deleted); err != nil {
		return forms.Submission{}, err
	}
	return sub, nil
}
