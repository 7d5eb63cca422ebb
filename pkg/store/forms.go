package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/dlovans/formengine/pkg/forms"
	"github.com/dlovans/formengine/pkg/schema"
	"github.com/dlovans/formengine/pkg/version"
)

const currentVersionExpr = `COALESCE((SELECT MAX(v.schema_version) FROM form_versions v WHERE v.form_id = f.id), 0)`

const formColumns = `f.id, f.name, f.description, f.is_active, f.created_at, f.updated_at, f.deleted_at, ` + currentVersionExpr

// CreateForm stores a form and its first version.
func (s *Store) CreateForm(ctx context.Context, f forms.Form, v version.Version) error {
	fields, err := json.Marshal(v.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = s.exec(ctx, tx, `INSERT INTO forms(id, name, description, is_active, created_at, updated_at) VALUES(?,?,?,?,?,?)`,
		f.ID, f.Name, f.Description, boolInt(f.Active), formatTime(f.CreatedAt), formatTime(f.UpdatedAt))
	if err != nil {
		if isConflict(err) {
			return forms.ErrConflict
		}
		return fmt.Errorf("insert form: %w", err)
	}
	if err := s.insertVersion(ctx, tx, f.ID, v, fields); err != nil {
		return err
	}
	return tx.Commit()
}

// GetForm returns a form, active or not.
func (s *Store) GetForm(ctx context.Context, id string) (forms.Form, error) {
	row := s.queryRow(ctx, s.db, `SELECT `+formColumns+` FROM forms f WHERE f.id = ?`, id)
	f, err := scanForm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return forms.Form{}, forms.ErrNotFound
	}
	return f, err
}

var sortColumns = map[string]string{
	forms.SortName:      "f.name",
	forms.SortCreatedAt: "f.created_at",
}

// ListForms returns a window of active forms and the number of matches.
func (s *Store) ListForms(ctx context.Context, q forms.FormQuery) ([]forms.Form, int, error) {
	where := []string{"f.is_active = 1"}
	var args []any
	if q.Name != "" {
		where = append(where, "LOWER(f.name) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Name)+"%")
	}
	if q.SchemaVersion > 0 {
		where = append(where, currentVersionExpr+" = ?")
		args = append(args, q.SchemaVersion)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM forms f WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count forms: %w", err)
	}

	col, ok := sortColumns[q.SortBy]
	if !ok {
		col = sortColumns[forms.SortCreatedAt]
	}
	dir := "ASC"
	if q.Order == forms.OrderDesc {
		dir = "DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = forms.DefaultPageLength
	}

	rows, err := s.query(ctx, s.db,
		`SELECT `+formColumns+` FROM forms f WHERE `+cond+` ORDER BY `+col+` `+dir+`, f.id LIMIT ? OFFSET ?`,
		append(args, limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("query forms: %w", err)
	}
	defer rows.Close()

	var out []forms.Form
	for rows.Next() {
		f, err := scanForm(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}

// AppendVersion stores v as the form's newest version. The number must
// exceed every stored one; otherwise forms.ErrConflict is returned.
func (s *Store) AppendVersion(ctx context.Context, f forms.Form, v version.Version) error {
	fields, err := json.Marshal(v.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	unlock, err := s.lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if s.driver == DriverPostgres {
		var id string
		err := s.queryRow(ctx, tx, `SELECT id FROM forms WHERE id = ? FOR UPDATE`, f.ID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return forms.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock form: %w", err)
		}
	}

	var current int
	if err := s.queryRow(ctx, tx, `SELECT COALESCE(MAX(schema_version), 0) FROM form_versions WHERE form_id = ?`, f.ID).Scan(&current); err != nil {
		return fmt.Errorf("current version: %w", err)
	}
	if v.Number <= current {
		return forms.ErrConflict
	}

	res, err := s.exec(ctx, tx, `UPDATE forms SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		f.Name, f.Description, formatTime(f.UpdatedAt), f.ID)
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return forms.ErrNotFound
	}
	if err := s.insertVersion(ctx, tx, f.ID, v, fields); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("version appended", "form_id", f.ID, "schema_version", v.Number)
	return nil
}

func (s *Store) insertVersion(ctx context.Context, tx *sql.Tx, formID string, v version.Version, fields []byte) error {
	_, err := s.exec(ctx, tx, `INSERT INTO form_versions(form_id, schema_version, fields, created_at) VALUES(?,?,?,?)`,
		formID, v.Number, string(fields), formatTime(v.CreatedAt))
	if err != nil {
		if isConflict(err) {
			return forms.ErrConflict
		}
		return fmt.Errorf("insert version: %w", err)
	}
	return nil
}

// Versions returns a form's versions in ascending order.
func (s *Store) Versions(ctx context.Context, formID string) ([]version.Version, error) {
	rows, err := s.query(ctx, s.db, `SELECT schema_version, fields, created_at FROM form_versions WHERE form_id = ? ORDER BY schema_version`, formID)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var out []version.Version
	for rows.Next() {
		var (
			v       version.Version
			fields  string
			created string
		)
		if err := rows.Scan(&v.Number, &fields, &created); err != nil {
			return nil, err
		}
		if v.Fields, err = fieldsOf(fields); err != nil {
			return nil, fmt.Errorf("decode version %d: %w", v.Number, err)
		}
		if v.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteForm marks a form inactive.
func (s *Store) DeleteForm(ctx context.Context, id string, at time.Time) error {
	ts := formatTime(at)
	res, err := s.exec(ctx, s.db, `UPDATE forms SET is_active = 0, deleted_at = ?, updated_at = ? WHERE id = ?`, ts, ts, id)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return forms.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanForm(row scanner) (forms.Form, error) {
	var (
		f                forms.Form
		active           int64
		created, updated string
		deleted          sql.NullString
	)
	if err := row.Scan(&f.ID, &f.Name, &f.Description, &active, &created, &updated, &deleted, &f.SchemaVersion); err != nil {
		return forms.Form{}, err
	}
	f.Active = active != 0
	var err error
	if f.CreatedAt, err = parseTime(created); err != nil {
		return forms.Form{}, err
	}
	if f.UpdatedAt, err = parseTime(updated); err != nil {
		return forms.Form{}, err
	}
	if f.DeletedAt, err = parseNullTime(deleted); err != nil {
		return forms.Form{}, err
	}
	return f, nil
}

// fieldsOf decodes a stored field list.
func fieldsOf(data string) ([]schema.Field, error) {
	var fields []schema.Field
	err := json.Unmarshal([]byte(data), &fields)
	return fields, err
}
