package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// inTempDir runs the test from an empty directory so default files are absent.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	inTempDir(t)
	cfg, err := Load("", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Errorf("Load() = %+v, want defaults", cfg)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := inTempDir(t)
	path := writeFile(t, dir, "custom.toml", `
[db]
driver = "postgres"
dsn = "postgres://file"

[log]
level = "debug"
`)
	env := writeFile(t, dir, "custom.env", "FORMENGINE_DB_DSN=postgres://dotenv\nFORMENGINE_LOG_FORMAT=json\n")
	t.Setenv("FORMENGINE_LOG_FORMAT", "text")

	cfg, err := Load(path, env)
	if err != nil {
		t.Fatal(err)
	}
	want := Config{
		DB:  DBConfig{Driver: "postgres", DSN: "postgres://dotenv"},
		Log: LogConfig{Level: "debug", Format: "text"},
	}
	if cfg != want {
		t.Errorf("Load = %+v, want %+v", cfg, want)
	}
}

func TestLoadReadsDefaultFiles(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, dir, DefaultPath, "[log]\nlevel = \"warn\"\n")
	writeFile(t, dir, DefaultEnvFile, "FORMENGINE_DB_DSN=file:other.db\n")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "warn" || cfg.DB.DSN != "file:other.db" {
		t.Errorf("Load = %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := inTempDir(t)
	tests := []struct {
		name string
		path string
		env  string
		want string
	}{
		{"missing explicit file", filepath.Join(dir, "none.toml"), "", "reading config"},
		{"missing explicit env", "", filepath.Join(dir, "none.env"), "reading env file"},
		{"unknown key", writeFile(t, dir, "bad.toml", "[db]\nhost = \"x\"\n"), "", "unknown key"},
		{"bad driver", writeFile(t, dir, "driver.toml", "[db]\ndriver = \"mysql\"\n"), "", "db.driver"},
		{"bad level", writeFile(t, dir, "level.toml", "[log]\nlevel = \"loud\"\n"), "", "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.path, tt.env)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestSetGet(t *testing.T) {
	cfg := Default()
	for _, key := range Keys {
		if err := cfg.Set(key, "x-"+key); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
		got, err := cfg.Get(key)
		if err != nil || got != "x-"+key {
			t.Errorf("Get(%s) = %q, %v", key, got, err)
		}
	}
	if err := cfg.Set("db.host", "x"); err == nil {
		t.Error("Set should reject unknown keys")
	}
}

func TestEnvName(t *testing.T) {
	if got := EnvName("db.dsn"); got != "FORMENGINE_DB_DSN" {
		t.Errorf("EnvName = %q", got)
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Default()
	cfg.Log.Format = "json"
	cfg.Log.Level = "warn"
	log, err := cfg.Logger(&buf)
	if err != nil {
		t.Fatal(err)
	}
	log.Info("dropped")
	log.Warn("kept", "form_id", "f1")
	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, `"form_id":"f1"`) {
		t.Errorf("log output = %q", out)
	}
}

func TestWriteRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := Default().Write(&buf); err != nil {
		t.Fatal(err)
	}
	var got Config
	if _, err := toml.Decode(buf.String(), &got); err != nil {
		t.Fatal(err)
	}
	if got != Default() {
		t.Errorf("decoded %+v", got)
	}
}
