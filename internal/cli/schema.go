package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dlovans/formengine/internal/style"
	"github.com/dlovans/formengine/pkg/engine"
	"github.com/dlovans/formengine/pkg/formula"
	"github.com/dlovans/formengine/pkg/lint"
	"github.com/dlovans/formengine/pkg/schema"
)

func readFields(cmd *cobra.Command, path string) ([]schema.Field, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	return schema.DecodeFields(data, schema.EncodingFor(path))
}

func readAnswers(cmd *cobra.Command, path string) (map[string]any, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}
	return schema.DecodeAnswers(data, schema.EncodingFor(path))
}

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "validate [FILE]",
		GroupID: GroupSchema,
		Short:   "Check a form schema for structural, business and dependency errors",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := readFields(cmd, argOrStdin(args, 0))
			if err != nil {
				return err
			}
			res := schema.Validate(fields)
			a.log.Debug("validated schema", "fields", len(fields), "errors", len(res.Errors))

			w := cmd.OutOrStdout()
			if a.jsonOut {
				if err := printJSON(w, res); err != nil {
					return err
				}
			} else if res.Valid {
				fmt.Fprintf(w, "%s Schema is valid (%d fields)\n", style.SuccessPrefix, len(fields))
			} else {
				fmt.Fprintf(w, "%s Schema is invalid\n", style.ErrorPrefix)
				printFieldErrors(w, res.Errors)
			}
			if !res.Valid {
				return NewSilentExit(ExitInvalidSchema)
			}
			return nil
		},
	}
}

func newLintCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "lint [FILE]",
		GroupID: GroupSchema,
		Short:   "Report schema errors and likely mistakes",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := argOrStdin(args, 0)
			data, err := readInput(cmd, path)
			if err != nil {
				return err
			}
			result, err := lint.Run(data, schema.EncodingFor(path))
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if a.jsonOut {
				if err := printJSON(w, result); err != nil {
					return err
				}
			} else {
				printIssues(w, result)
			}
			if !result.Valid {
				return NewSilentExit(ExitInvalidSchema)
			}
			return nil
		},
	}
}

func printIssues(w io.Writer, result *lint.Result) {
	if len(result.Issues) == 0 {
		fmt.Fprintf(w, "%s No issues found\n", style.SuccessPrefix)
		return
	}
	for _, issue := range result.Issues {
		location := ""
		if issue.Field != "" {
			location = fmt.Sprintf(" [field: %s]", style.Key.Render(issue.Field))
		}
		if issue.Rule != "" {
			location += style.Dim.Render(fmt.Sprintf(" [rule: %s]", issue.Rule))
		}
		fmt.Fprintf(w, "%s %s%s: %s\n", style.Severity(issue.Severity), issue.Severity, location, issue.Message)
	}
	fmt.Fprintf(w, "\n%d errors, %d warnings, %d info\n",
		result.Count(lint.SeverityError), result.Count(lint.SeverityWarning), result.Count(lint.SeverityInfo))
}

func newCalcCmd(a *app) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:     "calc SCHEMA [ANSWERS]",
		GroupID: GroupSchema,
		Short:   "Run answers through the engine and print the calculated fields",
		Long: `calc validates the schema, checks the answers against it and evaluates every
calculated field in dependency order. ANSWERS defaults to standard input.`,
		Example: `  formctl calc order.yaml answers.json
  echo '{"price": 9.99, "qty": 3}' | formctl calc order.yaml --date 2025-01-31`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseDate(date, a.now)
			if err != nil {
				return err
			}
			fields, err := readFields(cmd, args[0])
			if err != nil {
				return err
			}
			answers, err := readAnswers(cmd, argOrStdin(args, 1))
			if err != nil {
				return err
			}

			eng := engine.New(engine.WithClock(now), engine.WithLogger(a.log), engine.WithSchemaValidation())
			out, err := eng.Calculate(fields, answers)
			if err != nil {
				return a.reportError(cmd, err)
			}

			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, out)
			}
			fmt.Fprintf(w, "%s Calculated %d fields\n", style.SuccessPrefix, len(out.Calculated))
			printValues(w, out.Calculated)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "evaluate as of this date (YYYY-MM-DD or RFC 3339)")
	return cmd
}

func newEvalCmd(a *app) *cobra.Command {
	var (
		vars     []string
		varsFile string
	)
	cmd := &cobra.Command{
		Use:     "eval EXPRESSION",
		GroupID: GroupSchema,
		Short:   "Evaluate a formula expression",
		Example: `  formctl eval 'round(price * qty, 2)' --var price=9.99 --var qty=3
  formctl eval 'age >= 18' --vars answers.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := map[string]any{}
			if varsFile != "" {
				answers, err := readAnswers(cmd, varsFile)
				if err != nil {
					return err
				}
				for k, v := range answers {
					if days, ok := engine.EpochDays(v); ok {
						v = days
					}
					ctx[k] = v
				}
			}
			for _, kv := range vars {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --var %q: want name=value", kv)
				}
				ctx[k] = parseLiteral(v)
			}

			v, err := formula.Evaluate(args[0], ctx)
			if err != nil {
				return err
			}
			a.log.Debug("evaluated expression", "expression", args[0], "vars", len(ctx))

			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, map[string]any{"expression": args[0], "value": v})
			}
			fmt.Fprintln(w, formatValue(v))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&vars, "var", nil, "variable as name=value (repeatable)")
	cmd.Flags().StringVar(&varsFile, "vars", "", "JSON or YAML file of variables")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "verify SCHEMA DATA",
		GroupID: GroupSchema,
		Short:   "Replay stored submission data and check its calculated values",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := readFields(cmd, args[0])
			if err != nil {
				return err
			}
			data, err := readAnswers(cmd, args[1])
			if err != nil {
				return err
			}
			eng := engine.New(engine.WithClock(a.now), engine.WithLogger(a.log))
			ok, verr := eng.Verify(fields, data)
			return printVerdict(cmd, a.jsonOut, ok, verr)
		},
	}
}

func printVerdict(cmd *cobra.Command, jsonOut, ok bool, verr error) error {
	w := cmd.OutOrStdout()
	if jsonOut {
		out := map[string]any{"verified": ok}
		if verr != nil {
			out["reason"] = verr.Error()
		}
		if err := printJSON(w, out); err != nil {
			return err
		}
	} else if ok {
		fmt.Fprintf(w, "%s Submission verified: calculated values match\n", style.SuccessPrefix)
	} else {
		fmt.Fprintf(w, "%s Verification failed: %v\n", style.ErrorPrefix, verr)
	}
	if !ok {
		return NewSilentExit(ExitMismatch)
	}
	return nil
}

func printFieldErrors(w io.Writer, errs schema.Errors) {
	for _, e := range errs {
		field := e.Field
		if field == "" {
			field = schema.FormField
		}
		fmt.Fprintf(w, "  %s %s %s %s\n", style.ArrowPrefix, style.Key.Render(field), e.Message, style.Dim.Render("("+string(e.Type)+")"))
	}
}

func printValues(w io.Writer, values map[string]any) {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %s\n", style.Key.Render(k), formatValue(values[k]))
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return fmt.Sprintf("%q", x)
	case float64:
		return formulaNumber(x)
	}
	return fmt.Sprint(v)
}

func formulaNumber(x float64) string {
	if x == float64(int64(x)) {
		return fmt.Sprintf("%d", int64(x))
	}
	return fmt.Sprintf("%g", x)
}

// parseLiteral reads a --var value as a number, a boolean, null or a string.
func parseLiteral(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, ok := schema.NumberValue(s); ok {
		return n
	}
	if days, ok := engine.EpochDays(s); ok {
		return days
	}
	return s
}

func parseDate(s string, now func() time.Time) (func() time.Time, error) {
	if s == "" {
		return now, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid date format '%s'", s)
		}
	}
	return func() time.Time { return t }, nil
}

func argOrStdin(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return "-"
}
