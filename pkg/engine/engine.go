// Package engine runs a submission against a form version: visibility,
// required fields, value rules, and calculated fields in dependency order.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dlovans/formengine/pkg/formula"
	"github.com/dlovans/formengine/pkg/schema"
)

// Engine evaluates submissions. It holds no per-submission state and is safe
// for concurrent use.
type Engine struct {
	now           func() time.Time
	log           *slog.Logger
	eval          *formula.Evaluator
	validateFirst bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for date rules and ExecutedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger. Formula failures are logged at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEvaluator replaces the formula evaluator, e.g. to add functions.
func WithEvaluator(ev *formula.Evaluator) Option {
	return func(e *Engine) {
		if ev != nil {
			e.eval = ev
		}
	}
}

// WithSchemaValidation makes Calculate validate the field list before
// touching the answers. Use it when fields did not come from a stored version.
func WithSchemaValidation() Option {
	return func(e *Engine) { e.validateFirst = true }
}

// New returns an engine with the given options.
func New(opts ...Option) *Engine {
	e := &Engine{
		now:  time.Now,
		log:  slog.New(slog.DiscardHandler),
		eval: formula.NewEvaluator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Outcome is the result of a successful calculation.
type Outcome struct {
	// Calculated holds one entry per calculated field; nil when its formula failed.
	Calculated map[string]any `json:"calculated"`
	// Data is the answers merged with Calculated, ready to be stored.
	Data       map[string]any `json:"data"`
	Visible    []string       `json:"visible"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// Calculate runs a submission. Expected refusals are returned as *Failure;
// neither fields nor answers are modified.
func (e *Engine) Calculate(fields []schema.Field, answers map[string]any) (*Outcome, error) {
	// 1. Schema sanity
	if len(fields) == 0 {
		return nil, &Failure{Kind: KindEmptySchema, Message: MsgEmptySchema}
	}
	if e.validateFirst {
		if res := schema.Validate(fields); !res.Valid {
			kind := KindInvalidSchema
			if res.Errors.Only(schema.TypeDependency) {
				kind = KindCircularDependency
			}
			return nil, &Failure{Kind: kind, Message: MsgInvalidSchema, Errors: res.Errors}
		}
	}

	// 2. Visibility and required fields
	ctx := formulaContext(fields, answers)
	visible := e.visible(fields, ctx)
	if missing := e.missingRequired(visible, answers, ctx); len(missing) > 0 {
		return nil, &Failure{Kind: KindMissingRequired, Message: MsgMissingRequired, Errors: missing}
	}

	// 3. Submitted values
	if errs := schema.ValidateValues(fields, answers, e.now()); len(errs) > 0 {
		return nil, &Failure{Kind: KindBusinessInconsistency, Message: MsgInconsistent, Errors: errs}
	}

	// 4. Calculated fields in dependency order
	calculated, err := e.computeDerived(fields, answers)
	if err != nil {
		return nil, err
	}

	// 5. Merge
	data := make(map[string]any, len(answers)+len(calculated))
	for k, v := range answers {
		data[k] = v
	}
	for k, v := range calculated {
		data[k] = v
	}

	ids := make([]string, len(visible))
	for i, f := range visible {
		ids[i] = f.ID
	}

	return &Outcome{
		Calculated: calculated,
		Data:       data,
		Visible:    ids,
		ExecutedAt: e.now().UTC(),
	}, nil
}

// Visible returns the fields whose conditional holds against answers. A field
// without a conditional is always visible; one whose conditional cannot be
// evaluated is hidden.
// Conditionals see the same coerced values as formulas.
func (e *Engine) Visible(fields []schema.Field, answers map[string]any) []schema.Field {
	return e.visible(fields, formulaContext(fields, answers))
}

func (e *Engine) visible(fields []schema.Field, ctx map[string]any) []schema.Field {
	var out []schema.Field
	for _, f := range fields {
		if f.Conditional == "" || e.holds(f.ID, f.Conditional, ctx) {
			out = append(out, f)
		}
	}
	return out
}

// holds evaluates a conditional expression; one that fails is false.
func (e *Engine) holds(id, expr string, ctx map[string]any) bool {
	v, err := e.eval.Evaluate(expr, ctx)
	if err != nil {
		e.log.Debug("conditional failed", "field", id, "expression", expr, "error", err)
		return false
	}
	return formula.Truthy(v)
}

// missingRequired names every visible input field that must be answered and is not.
func (e *Engine) missingRequired(visible []schema.Field, answers, ctx map[string]any) schema.Errors {
	var errs schema.Errors
	for _, f := range visible {
		required := schema.RequiredWhen(f, func(expr string) bool { return e.holds(f.ID, expr, ctx) })
		if f.IsCalculated() || !required {
			continue
		}
		if !schema.Present(answers, f.ID) {
			errs = append(errs, schema.ValidationError{
				Field:   f.ID,
				Message: MsgRequiredField,
				Type:    schema.TypeBusiness,
			})
		}
	}
	return errs
}

// computeDerived evaluates every calculated field, feeding earlier results to
// later ones. A formula that fails or yields a non-finite number sets its
// field to nil.
func (e *Engine) computeDerived(fields []schema.Field, answers map[string]any) (map[string]any, error) {
	byID := make(map[string]schema.Field)
	for _, f := range fields {
		if f.IsCalculated() {
			if _, dup := byID[f.ID]; !dup {
				byID[f.ID] = f
			}
		}
	}

	order, err := schema.NewGraph(fields).Order()
	if err != nil {
		return nil, &Failure{
			Kind:    KindCircularDependency,
			Message: err.Error(),
			Errors: schema.Errors{{
				Field:   cycleField(err),
				Message: err.Error(),
				Type:    schema.TypeDependency,
			}},
		}
	}

	ctx := formulaContext(fields, answers)
	calculated := make(map[string]any, len(order))
	var errs schema.Errors
	for _, id := range order {
		f := byID[id]
		v := e.evaluate(f, ctx)
		calculated[id] = v
		ctx[id] = v
		errs = append(errs, schema.ValidateResult(f, v)...)
	}
	if len(errs) > 0 {
		return nil, &Failure{Kind: KindBusinessInconsistency, Message: MsgInconsistent, Errors: errs}
	}
	return calculated, nil
}

func (e *Engine) evaluate(f schema.Field, ctx map[string]any) any {
	c, ok := f.AsCalculated()
	if !ok {
		return nil
	}
	v, err := e.eval.Evaluate(c.Formula, ctx)
	if err != nil {
		e.log.Debug("formula failed", "field", f.ID, "formula", c.Formula, "error", err)
		return nil
	}
	n, isNum := v.(float64)
	if !isNum {
		return v
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		e.log.Debug("formula not finite", "field", f.ID, "formula", c.Formula, "result", n)
		return nil
	}
	if c.Precision != nil {
		n = formula.Round(n, *c.Precision)
	}
	return n
}

func cycleField(err error) string {
	var ce *schema.CycleError
	if errors.As(err, &ce) {
		return ce.Field
	}
	return schema.FormField
}

// formulaContext builds the evaluation context from answers: number fields
// become numbers and date fields become whole days since the Unix epoch.
func formulaContext(fields []schema.Field, answers map[string]any) map[string]any {
	ctx := make(map[string]any, len(answers)+len(fields))
	for k, v := range answers {
		ctx[k] = v
	}
	for _, f := range fields {
		v, ok := answers[f.ID]
		if !ok || v == nil {
			continue
		}
		switch f.Type {
		case schema.NumberType:
			if n, ok := schema.NumberValue(v); ok {
				ctx[f.ID] = n
			}
		case schema.DateType:
			if days, ok := EpochDays(v); ok {
				ctx[f.ID] = days
			}
		}
	}
	return ctx
}

// EpochDays converts a YYYY-MM-DD string to days since 1970-01-01.
func EpochDays(v any) (float64, bool) {
	s, ok := v.(string)
	if !ok || !schema.IsISODate(s) {
		return 0, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, false
	}
	return float64(t.Unix() / 86400), true
}

// Verify replays a stored submission: it recomputes the calculated fields
// from the stored answers and compares them with the stored values.
func (e *Engine) Verify(fields []schema.Field, data map[string]any) (bool, error) {
	answers := make(map[string]any, len(data))
	for k, v := range data {
		answers[k] = v
	}
	for _, f := range fields {
		if f.IsCalculated() {
			delete(answers, f.ID)
		}
	}

	out, err := e.Calculate(fields, answers)
	if err != nil {
		return false, fmt.Errorf("replay failed: %w", err)
	}

	for id, want := range out.Calculated {
		got, ok := data[id]
		if !ok {
			return false, fmt.Errorf("calculated field '%s' missing in stored data", id)
		}
		if !formula.Equal(got, want) {
			return false, fmt.Errorf("calculated field '%s' value mismatch: stored %v, replayed %v", id, got, want)
		}
	}
	return true, nil
}
