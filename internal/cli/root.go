// Package cli implements the formctl commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/dlovans/formengine/internal/style"
	"github.com/dlovans/formengine/pkg/config"
	"github.com/dlovans/formengine/pkg/forms"
	"github.com/dlovans/formengine/pkg/store"
)

// Command groups.
const (
	GroupSchema = "schema"
	GroupStore  = "store"
)

// app is the state shared by every command of one invocation.
type app struct {
	configPath string
	envFile    string
	jsonOut    bool
	// flag overrides keyed by config key
	overrides map[string]*string

	cfg config.Config
	log *slog.Logger
	now func() time.Time
}

// flagKeys maps global flags to the settings they override.
var flagKeys = map[string]string{
	"db-driver":  "db.driver",
	"db-dsn":     "db.dsn",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// NewRootCmd builds the formctl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{now: time.Now, overrides: map[string]*string{}}

	root := &cobra.Command{
		Use:   "formctl",
		Short: "Validate form schemas, run submissions and manage stored forms",
		Long: `formctl validates form schemas, evaluates formulas and runs submissions
through the calculation engine. The form and submissions commands work
against a SQLite or Postgres database.

Settings are read from formengine.toml, .env and FORMENGINE_* environment
variables; global flags override all of them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default formengine.toml if present)")
	pf.StringVar(&a.envFile, "env-file", "", "env file (default .env if present)")
	pf.BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	for flag, key := range flagKeys {
		a.overrides[key] = pf.String(flag, "", "override "+key)
	}

	root.AddGroup(
		&cobra.Group{ID: GroupSchema, Title: "Schema Commands:"},
		&cobra.Group{ID: GroupStore, Title: "Stored Form Commands:"},
	)
	root.AddCommand(
		newValidateCmd(a),
		newLintCmd(a),
		newCalcCmd(a),
		newEvalCmd(a),
		newVerifyCmd(a),
		newFormCmd(a),
		newSubmitCmd(a),
		newSubmissionsCmd(a),
		newConfigCmd(a),
	)
	return root
}

// Execute runs formctl and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		if code, ok := IsSilentExit(err); ok {
			return code
		}
		fmt.Fprintf(os.Stderr, "%s %v\n", style.ErrorPrefix, err)
		return ExitError
	}
	return ExitOK
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, a.envFile)
	if err != nil {
		return err
	}
	for flag, key := range flagKeys {
		if cmd.Flags().Changed(flag) {
			if err := cfg.Set(key, *a.overrides[key]); err != nil {
				return err
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	log, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	return nil
}

// service opens the configured database. The caller must call the returned close.
func (a *app) service(ctx context.Context) (*forms.Service, func(), error) {
	st, err := store.Open(ctx, a.cfg.DB.Driver, a.cfg.DB.DSN, store.WithLogger(a.log))
	if err != nil {
		return nil, nil, err
	}
	svc := forms.NewService(st, forms.WithLogger(a.log), forms.WithClock(a.now))
	return svc, func() {
		if err := st.Close(); err != nil {
			a.log.Warn("failed to close database", "error", err)
		}
	}, nil
}

// readInput reads a file, or standard input for "-" or "".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// reportError prints an expected refusal and turns it into a silent exit.
// Other errors are returned unchanged.
func (a *app) reportError(cmd *cobra.Command, err error) error {
	e, ok := forms.AsError(err)
	if !ok {
		if e, ok = forms.AsError(forms.CalculationRefused(err)); !ok {
			return err
		}
	}
	w := cmd.OutOrStdout()
	if a.jsonOut {
		if perr := printJSON(w, e); perr != nil {
			return perr
		}
		return NewSilentExit(exitCode(e))
	}
	fmt.Fprintf(w, "%s %s %s\n", style.ErrorPrefix, style.Error.Render(string(e.Code)), e.Message)
	if e.Field != "" {
		fmt.Fprintf(w, "  %s %s\n", style.Dim.Render("field:"), style.Key.Render(e.Field))
	}
	printFieldErrors(w, e.Errors)
	return NewSilentExit(exitCode(e))
}
