package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dlovans/formengine/internal/style"
	"github.com/dlovans/formengine/pkg/forms"
	"github.com/dlovans/formengine/pkg/schema"
)

func newFormCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "form",
		GroupID: GroupStore,
		Short:   "Create, update and inspect stored forms",
		RunE:    requireSubcommand,
	}
	cmd.AddCommand(
		newFormCreateCmd(a),
		newFormUpdateCmd(a),
		newFormShowCmd(a),
		newFormListCmd(a),
		newFormHistoryCmd(a),
		newFormDeleteCmd(a),
	)
	return cmd
}

// requireSubcommand rejects a parent command run without a subcommand.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\n%s", cmd.UsageString())
	}
	return fmt.Errorf("unknown command %q for %q", args[0], cmd.CommandPath())
}

func readDocument(cmd *cobra.Command, path string) (schema.Document, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return schema.Document{}, err
	}
	doc, err := schema.DecodeDocument(data, schema.EncodingFor(path))
	if err != nil {
		return schema.Document{}, err
	}
	return *doc, nil
}

func newFormCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create [FILE]",
		Short: "Store a new form from a JSON or YAML document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, argOrStdin(args, 0))
			if err != nil {
				return err
			}
			svc, done, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			created, err := svc.CreateForm(cmd.Context(), doc)
			if err != nil {
				return a.reportError(cmd, err)
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, created)
			}
			fmt.Fprintf(w, "%s %s %s (schema version %d)\n",
				style.SuccessPrefix, created.Message, style.Key.Render(created.ID), created.SchemaVersion)
			return nil
		},
	}
}

func newFormUpdateCmd(a *app) *cobra.Command {
	var number int
	cmd := &cobra.Command{
		Use:   "update FORM_ID [FILE]",
		Short: "Commit a new schema version for a form",
		Long: `update validates the document and commits it as the form's next schema
version. The version number comes from --version or the document's
schema_version and must be greater than the current one.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, argOrStdin(args, 1))
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("version") {
				doc.SchemaVersion = &number
			}
			svc, done, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			updated, err := svc.UpdateSchema(cmd.Context(), args[0], doc)
			if err != nil {
				return a.reportError(cmd, err)
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, updated)
			}
			fmt.Fprintf(w, "%s %s %s: version %d %s %d\n", style.SuccessPrefix, updated.Message,
				style.Key.Render(updated.ID), updated.PreviousVersion, style.ArrowPrefix, updated.NewVersion)
			return nil
		},
	}
	cmd.Flags().IntVar(&number, "version", 0, "schema version to commit")
	return cmd
}

func newFormShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show FORM_ID",
		Short: "Print a form and its current fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			view, err := svc.GetForm(cmd.Context(), args[0])
			if err != nil {
				return a.reportError(cmd, err)
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, view)
			}
			printForm(w, view.Form)
			for _, f := range view.Fields {
				extra := ""
				if f.Required {
					extra += " required"
				}
				if f.Conditional != "" {
					extra += " when " + f.Conditional
				}
				if c, ok := f.AsCalculated(); ok {
					extra += " = " + c.Formula
				}
				fmt.Fprintf(w, "  %s %s %s%s\n", style.Key.Render(f.ID), style.Dim.Render(string(f.Type)), f.Label, extra)
			}
			return nil
		},
	}
}

func printForm(w io.Writer, f forms.Form) {
	fmt.Fprintf(w, "%s %s %s\n", style.Bold.Render(f.Name), style.Dim.Render(f.ID), style.Dim.Render(fmt.Sprintf("v%d", f.SchemaVersion)))
	if f.Description != "" {
		fmt.Fprintf(w, "  %s\n", f.Description)
	}
}

func newFormListCmd(a *app) *cobra.Command {
	var req forms.ListFormsRequest
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active forms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, done, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			page, err := svc.ListForms(cmd.Context(), req)
			if err != nil {
				return a.reportError(cmd, err)
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, page)
			}
			if len(page.Forms) == 0 {
				fmt.Fprintf(w, "%s No forms\n", style.InfoPrefix)
				return nil
			}
			for _, f := range page.Forms {
				fmt.Fprintf(w, "%s  %-30s v%-3d %s\n", style.Key.Render(f.ID), f.Name, f.SchemaVersion,
					style.Dim.Render(f.CreatedAt.Format(time.DateTime)))
			}
			fmt.Fprintf(w, "\nPage %d of %d, %d forms\n", page.Page, page.TotalPages, page.Total)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "only forms whose name contains this text")
	f.IntVar(&req.SchemaVersion, "version", 0, "only forms at this schema version")
	f.IntVar(&req.Page, "page", 1, "page number")
	f.IntVar(&req.PageLength, "length", forms.DefaultPageLength, "forms per page")
	f.StringVar(&req.SortBy, "sort", forms.SortCreatedAt, "sort by name or created_at")
	f.StringVar(&req.Order, "order", forms.OrderDesc, "asc or desc")
	return cmd
}

func newFormHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history FORM_ID",
		Short: "List every schema version of a form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			h, err := svc.History(cmd.Context(), args[0])
			if err != nil {
				return a.reportError(cmd, err)
			}
			w := cmd.OutOrStdout()
			versions := h.Versions()
			if a.jsonOut {
				return printJSON(w, versions)
			}
			current := h.CurrentNumber()
			for _, v := range versions {
				marker := " "
				if v.Number == current {
					marker = style.ArrowPrefix
				}
				fmt.Fprintf(w, "%s v%-3d %2d fields  %s\n", marker, v.Number, len(v.Fields),
					style.Dim.Render(v.CreatedAt.Format(time.DateTime)))
			}
			return nil
		},
	}
}

func newFormDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete FORM_ID",
		Short: "Deactivate a form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if err := svc.DeleteForm(cmd.Context(), args[0]); err != nil {
				return a.reportError(cmd, err)
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, map[string]any{"id": args[0], "deleted": true})
			}
			fmt.Fprintf(w, "%s Form %s deleted\n", style.SuccessPrefix, style.Key.Render(args[0]))
			return nil
		},
	}
}

func newSubmitCmd(a *app) *cobra.Command {
	var number int
	cmd := &cobra.Command{
		Use:     "submit FORM_ID [ANSWERS]",
		GroupID: GroupStore,
		Short:   "Submit answers to a stored form",
		Long: `submit runs the answers through the engine against the form's current schema
and stores the answers together with the calculated values. ANSWERS
defaults to standard input.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			answers, err := readAnswers(cmd, argOrStdin(args, 1))
			if err != nil {
				return err
			}
			req := forms.SubmitRequest{Answers: answers}
			if cmd.Flags().Changed("version") {
				req.SchemaVersion = &number
			}
			svc, done, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			receipt, err := svc.Submit(cmd.Context(), args[0], req)
			if err != nil {
				return a.reportError(cmd, err)
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, receipt)
			}
			fmt.Fprintf(w, "%s %s %s (schema version %d)\n", style.SuccessPrefix, receipt.Message,
				style.Key.Render(receipt.SubmissionID), receipt.SchemaVersion)
			printValues(w, receipt.Calculated)
			return nil
		},
	}
	cmd.Flags().IntVar(&number, "version", 0, "schema version the answers were written against")
	return cmd
}

func newSubmissionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "submissions",
		GroupID: GroupStore,
		Short:   "List, verify and delete a form's submissions",
		RunE:    requireSubcommand,
	}
	cmd.AddCommand(
		newSubmissionsListCmd(a),
		newSubmissionsVerifyCmd(a),
		newSubmissionsDeleteCmd(a),
	)
	return cmd
}

func newSubmissionsListCmd(a *app) *cobra.Command {
	var (
		req     forms.ListSubmissionsRequest
		filters []string
	)
	cmd := &cobra.Command{
		Use:   "list FORM_ID",
		Short: "List a form's active submissions, newest first",
		Example: `  formctl submissions list 7f3c... --filter country=SE --calculated
  formctl submissions list 7f3c... --page 2 --length 50`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Filters = req.Filters[:0]
			for _, kv := range filters {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("invalid --filter %q: want field=value", kv)
				}
				req.Filters = append(req.Filters, forms.Filter{Field: k, Value: v})
			}
			svc, done, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			page, err := svc.ListSubmissions(cmd.Context(), args[0], req)
			if err != nil {
				return a.reportError(cmd, err)
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, page)
			}
			for _, s := range page.Results {
				fmt.Fprintf(w, "%s v%d %s\n", style.Key.Render(s.ID), s.SchemaVersion,
					style.Dim.Render(s.CreatedAt.Format(time.DateTime)))
				printValues(w, s.Answers)
				if len(s.Calculated) > 0 {
					fmt.Fprintf(w, "  %s\n", style.Dim.Render("calculated:"))
					printValues(w, s.Calculated)
				}
			}
			fmt.Fprintf(w, "\nPage %d, %d of %d submissions\n", page.Page, len(page.Results), page.Total)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&req.Page, "page", 1, "page number")
	f.IntVar(&req.PageLength, "length", forms.DefaultPageLength, "submissions per page")
	f.IntVar(&req.SchemaVersion, "version", 0, "only submissions made against this schema version")
	f.BoolVar(&req.IncludeCalculated, "calculated", false, "include calculated values")
	f.StringArrayVar(&filters, "filter", nil, "answer filter as field=value (repeatable)")
	return cmd
}

func newSubmissionsVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify FORM_ID SUBMISSION_ID",
		Short: "Replay a stored submission against the schema version it was made with",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			ok, verr := svc.VerifySubmission(cmd.Context(), args[0], args[1])
			if _, known := forms.AsError(verr); known {
				return a.reportError(cmd, verr)
			}
			return printVerdict(cmd, a.jsonOut, ok, verr)
		},
	}
}

func newSubmissionsDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete FORM_ID SUBMISSION_ID",
		Short: "Deactivate a submission",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, done, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if err := svc.DeleteSubmission(cmd.Context(), args[0], args[1]); err != nil {
				return a.reportError(cmd, err)
			}
			w := cmd.OutOrStdout()
			if a.jsonOut {
				return printJSON(w, map[string]any{"id_submit": args[1], "deleted": true})
			}
			fmt.Fprintf(w, "%s Submission %s deleted\n", style.SuccessPrefix, style.Key.Render(args[1]))
			return nil
		},
	}
}
