package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/dlovans/formengine/pkg/forms"
)

const orderSchema = `{
	"name": "Order",
	"fields": [
		{"id": "price", "label": "Price", "type": "number", "required": true},
		{"id": "qty", "label": "Quantity", "type": "number", "required": true, "validations": [{"type": "min", "value": 1}]},
		{"id": "total", "label": "Total", "type": "calculated", "formula": "price * qty", "dependencies": ["price", "qty"], "precision": 2}
	]
}`

const cyclicSchema = `[
	{"id": "a", "label": "A", "type": "calculated", "formula": "b + 1", "dependencies": ["b"]},
	{"id": "b", "label": "B", "type": "calculated", "formula": "a + 1", "dependencies": ["a"]}
]`

// execute runs formctl in an empty working directory so that no config or
// env file is picked up.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func decode(t *testing.T, out string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(out), &m); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	return m
}

func wantExit(t *testing.T, err error, code int) {
	t.Helper()
	got, ok := IsSilentExit(err)
	if !ok || got != code {
		t.Fatalf("err = %v, want silent exit %d", err, code)
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	valid := writeFile(t, dir, "order.json", orderSchema)
	cyclic := writeFile(t, dir, "cyclic.json", cyclicSchema)

	out, err := execute(t, "", "validate", valid, "--json")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if decode(t, out)["valid"] != true {
		t.Errorf("output = %s", out)
	}

	out, err = execute(t, "", "validate", cyclic, "--json")
	wantExit(t, err, ExitInvalidSchema)
	res := decode(t, out)
	if res["valid"] != false {
		t.Errorf("output = %s", out)
	}
	if errs, _ := res["errors"].([]any); len(errs) == 0 {
		t.Errorf("expected errors, got %s", out)
	}
}

func TestValidateYAMLFromStdin(t *testing.T) {
	t.Chdir(t.TempDir())
	doc := `
name: Survey
fields:
  - id: age
    label: Age
    type: number
`
	// stdin has no extension, so it is read as JSON
	if _, err := execute(t, doc, "validate"); err == nil {
		t.Error("YAML on stdin should fail to decode as JSON")
	}
}

func TestLint(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "order.json", orderSchema)

	out, err := execute(t, "", "lint", path)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if !strings.Contains(out, "No issues found") {
		t.Errorf("output = %q", out)
	}

	cyclic := writeFile(t, dir, "cyclic.json", cyclicSchema)
	_, err = execute(t, "", "lint", cyclic)
	wantExit(t, err, ExitInvalidSchema)
}

func TestCalc(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "order.json", orderSchema)

	out, err := execute(t, `{"price": 9.99, "qty": 3}`, "calc", path, "--json")
	if err != nil {
		t.Fatalf("calc: %v", err)
	}
	calculated, _ := decode(t, out)["calculated"].(map[string]any)
	if calculated["total"] != 29.97 {
		t.Errorf("total = %v, want 29.97", calculated["total"])
	}

	out, err = execute(t, `{"price": 9.99}`, "calc", path, "--json")
	wantExit(t, err, ExitRefused)
	if code := decode(t, out)["error"]; code != "MISSING_REQUIRED" {
		t.Errorf("error = %v, want MISSING_REQUIRED", code)
	}

	if _, err := execute(t, `{}`, "calc", path, "--date", "yesterday"); err == nil {
		t.Error("invalid --date should fail")
	}
}

func TestEval(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "arithmetic",
			args: []string{"eval", "round(price * qty, 2)", "--var", "price=9.99", "--var", "qty=3"},
			want: "29.97",
		},
		{
			name: "comparison",
			args: []string{"eval", "age >= 18", "--var", "age=21"},
			want: "true",
		},
		{
			name: "date difference",
			args: []string{"eval", "end - start", "--var", "start=2024-01-01", "--var", "end=2024-01-31"},
			want: "30",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, "", tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			if got := strings.TrimSpace(out); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := execute(t, "", "eval", "x + 1", "--var", "novalue"); err == nil {
		t.Error("malformed --var should fail")
	}
	if _, err := execute(t, "", "eval", "missing + 1"); err == nil {
		t.Error("unknown variable should fail")
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "order.json", orderSchema)
	good := writeFile(t, dir, "good.json", `{"price": 2, "qty": 3, "total": 6}`)
	bad := writeFile(t, dir, "bad.json", `{"price": 2, "qty": 3, "total": 7}`)

	if _, err := execute(t, "", "verify", path, good); err != nil {
		t.Errorf("verify good: %v", err)
	}
	out, err := execute(t, "", "verify", path, bad, "--json")
	wantExit(t, err, ExitMismatch)
	if decode(t, out)["verified"] != false {
		t.Errorf("output = %s", out)
	}
}

func TestStoredFormLifecycle(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "order.json", orderSchema)
	db := []string{"--db-dsn", "file:" + filepath.Join(dir, "forms.db"), "--json"}
	run := func(stdin string, args ...string) (string, error) {
		return execute(t, stdin, append(args, db...)...)
	}

	out, err := run("", "form", "create", path)
	if err != nil {
		t.Fatalf("form create: %v", err)
	}
	created := decode(t, out)
	id, _ := created["id"].(string)
	if id == "" || created["schema_version"] != 1.0 {
		t.Fatalf("created = %s", out)
	}

	out, err = run(`{"price": 9.99, "qty": 3}`, "submit", id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	receipt := decode(t, out)
	subID, _ := receipt["submission_id"].(string)
	if calc, _ := receipt["calculated"].(map[string]any); calc["total"] != 29.97 {
		t.Errorf("receipt = %s", out)
	}

	out, err = run(`{"price": 1, "qty": 0}`, "submit", id)
	wantExit(t, err, ExitRefused)
	if code := decode(t, out)["error"]; code != "INCONSISTENT_DATA" {
		t.Errorf("error = %v, want INCONSISTENT_DATA", code)
	}

	out, err = run("", "submissions", "list", id, "--calculated")
	if err != nil {
		t.Fatalf("submissions list: %v", err)
	}
	if page := decode(t, out); page["total"] != 1.0 {
		t.Errorf("page = %s", out)
	}

	if _, err := run("", "submissions", "verify", id, subID); err != nil {
		t.Errorf("submissions verify: %v", err)
	}

	out, err = run("", "form", "update", id, path, "--version", "1")
	wantExit(t, err, ExitInvalidSchema)
	if code := decode(t, out)["error"]; code != "INVALID_SCHEMA_VERSION" {
		t.Errorf("error = %v, want INVALID_SCHEMA_VERSION", code)
	}

	out, err = run("", "form", "update", id, path, "--version", "2")
	if err != nil {
		t.Fatalf("form update: %v", err)
	}
	if decode(t, out)["new_schema_version"] != 2.0 {
		t.Errorf("updated = %s", out)
	}

	out, err = run("", "submit", id, "--version", "1")
	wantExit(t, err, ExitRefused)
	if code := decode(t, out)["error"]; code != "SCHEMA_OUTDATED" {
		t.Errorf("error = %v, want SCHEMA_OUTDATED", code)
	}

	if _, err := run("", "submissions", "delete", id, subID); err != nil {
		t.Errorf("submissions delete: %v", err)
	}
	out, err = run("", "submissions", "delete", id, subID)
	wantExit(t, err, ExitError)
	if code := decode(t, out)["error"]; code != "SUBMIT_ALREADY_REMOVED" {
		t.Errorf("error = %v, want SUBMIT_ALREADY_REMOVED", code)
	}

	if _, err := run("", "form", "delete", id); err != nil {
		t.Fatalf("form delete: %v", err)
	}
	out, err = run("", "form", "show", id)
	wantExit(t, err, ExitNotFound)
	if code := decode(t, out)["error"]; code != "FORM_NOT_FOUND" {
		t.Errorf("error = %v, want FORM_NOT_FOUND", code)
	}
}

func TestConfigShow(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, "formengine.toml", "[log]\nlevel = \"debug\"\n")

	out, err := execute(t, "", "config", "show", "--json", "--log-format", "json")
	if err != nil {
		t.Fatal(err)
	}
	settings := decode(t, out)
	if settings["log.level"] != "debug" || settings["log.format"] != "json" || settings["db.driver"] != "sqlite" {
		t.Errorf("settings = %s", out)
	}

	if _, err := execute(t, "", "config", "show", "--db-driver", "mysql"); err == nil {
		t.Error("unsupported driver should fail")
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		code forms.Code
		want int
	}{
		{forms.CodeInvalidSchema, ExitInvalidSchema},
		{forms.CodeCircularDependency, ExitInvalidSchema},
		{forms.CodeInvalidSchemaVersion, ExitInvalidSchema},
		{forms.CodeMissingRequired, ExitRefused},
		{forms.CodeSchemaOutdated, ExitRefused},
		{forms.CodeFormNotFound, ExitNotFound},
		{forms.CodeVersionNotFound, ExitNotFound},
		{forms.CodeInvalidPage, ExitError},
		{forms.CodeSubmitAlreadyRemoved, ExitError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := exitCode(&forms.Error{Code: tt.code}); got != tt.want {
				t.Errorf("exitCode(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"3", 3.0},
		{"true", true},
		{"null", nil},
		{"hello", "hello"},
		{"1970-01-11", 10.0},
	}
	for _, tt := range tests {
		if got := parseLiteral(tt.in); got != tt.want {
			t.Errorf("parseLiteral(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
