package engine

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dlovans/formengine/pkg/formula"
	"github.com/dlovans/formengine/pkg/schema"
)

var fixedNow = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

func newTestEngine(opts ...Option) *Engine {
	return New(append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func mustFields(t *testing.T, src string) []schema.Field {
	t.Helper()
	fields, err := schema.DecodeFields([]byte(src), schema.EncodingJSON)
	if err != nil {
		t.Fatalf("DecodeFields: %v", err)
	}
	return fields
}

func mustFailure(t *testing.T, err error, kind Kind) *Failure {
	t.Helper()
	f, ok := AsFailure(err)
	if !ok {
		t.Fatalf("error = %v, want *Failure", err)
	}
	if f.Kind != kind {
		t.Fatalf("Kind = %s, want %s (%v)", f.Kind, kind, f)
	}
	return f
}

const adultForm = `[
	{"id": "idade", "label": "Idade", "type": "number", "required": true},
	{"id": "e_maior_de_idade", "label": "Adult", "type": "calculated", "required": false,
	 "formula": "idade >= 18", "dependencies": ["idade"]}
]`

func TestCalculatedCannotBeSubmitted(t *testing.T) {
	fields := mustFields(t, adultForm)
	e := newTestEngine()

	_, err := e.Calculate(fields, map[string]any{"idade": 30.0, "e_maior_de_idade": true})
	f := mustFailure(t, err, KindBusinessInconsistency)
	if f.Message != MsgInconsistent {
		t.Errorf("Message = %q", f.Message)
	}
	if len(f.Errors) != 1 || f.Errors[0].Field != "e_maior_de_idade" ||
		f.Errors[0].Message != "Calculated fields cannot be submitted manually" {
		t.Errorf("Errors = %v", f.Errors)
	}

	out, err := e.Calculate(fields, map[string]any{"idade": 30.0})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if out.Calculated["e_maior_de_idade"] != true {
		t.Errorf("e_maior_de_idade = %v, want true", out.Calculated["e_maior_de_idade"])
	}
}

func TestHiddenRequiredFieldIsNotRequired(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "has_company", "label": "Has company", "type": "boolean", "required": true},
		{"id": "company", "label": "Company", "type": "text", "required": true, "conditional": "has_company == true"}
	]`)
	e := newTestEngine()

	out, err := e.Calculate(fields, map[string]any{"has_company": false})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !reflect.DeepEqual(out.Visible, []string{"has_company"}) {
		t.Errorf("Visible = %v", out.Visible)
	}

	_, err = e.Calculate(fields, map[string]any{"has_company": true})
	f := mustFailure(t, err, KindMissingRequired)
	if len(f.Errors) != 1 || f.Errors[0].Field != "company" {
		t.Errorf("Errors = %v", f.Errors)
	}
}

func TestConditionalSeesCoercedNumbers(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "idade", "label": "Idade", "type": "number", "required": true},
		{"id": "cnh", "label": "CNH", "type": "text", "required": true, "conditional": "idade >= 18"},
		{"id": "adulto", "label": "Adulto", "type": "calculated", "required": false,
		 "formula": "idade >= 18", "dependencies": ["idade"]}
	]`)
	e := newTestEngine()

	_, err := e.Calculate(fields, map[string]any{"idade": "30"})
	f := mustFailure(t, err, KindMissingRequired)
	if len(f.Errors) != 1 || f.Errors[0].Field != "cnh" {
		t.Errorf("Errors = %v", f.Errors)
	}

	out, err := e.Calculate(fields, map[string]any{"idade": "30", "cnh": "123"})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if !reflect.DeepEqual(out.Visible, []string{"idade", "cnh", "adulto"}) {
		t.Errorf("Visible = %v", out.Visible)
	}
	if out.Calculated["adulto"] != true {
		t.Errorf("adulto = %v, want true", out.Calculated["adulto"])
	}
}

func TestConditionalsUseEvaluatorFunctions(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "code", "label": "Code", "type": "text", "required": true},
		{"id": "reason", "label": "Reason", "type": "text", "required": false, "conditional": "flagged(code)"},
		{"id": "note", "label": "Note", "type": "select", "required": false,
		 "options": [{"label": "Fraud", "value": "fraud"}, {"label": "Other", "value": "other"}],
		 "validations": [{"type": "required_conditional", "conditional": "flagged(code)"}]}
	]`)
	flagged := formula.WithFunction("flagged", func(args []any) (any, error) {
		return len(args) == 1 && args[0] == "X", nil
	})
	e := newTestEngine(WithEvaluator(formula.NewEvaluator(flagged)))

	if got := len(e.Visible(fields, map[string]any{"code": "X"})); got != 3 {
		t.Errorf("visible fields = %d, want 3", got)
	}
	_, err := e.Calculate(fields, map[string]any{"code": "X"})
	f := mustFailure(t, err, KindMissingRequired)
	if len(f.Errors) != 1 || f.Errors[0].Field != "note" {
		t.Errorf("Errors = %v", f.Errors)
	}
	if _, err := e.Calculate(fields, map[string]any{"code": "A"}); err != nil {
		t.Errorf("unflagged code: %v", err)
	}
}

func TestMissingRequiredNamesEveryField(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "name", "label": "Name", "type": "text", "required": true},
		{"id": "email", "label": "Email", "type": "text", "required": true},
		{"id": "age", "label": "Age", "type": "number", "required": true},
		{"id": "nick", "label": "Nick", "type": "text", "required": false}
	]`)

	_, err := newTestEngine().Calculate(fields, map[string]any{"email": "", "age": nil})
	f := mustFailure(t, err, KindMissingRequired)
	if f.Message != MsgMissingRequired {
		t.Errorf("Message = %q", f.Message)
	}
	var got []string
	for _, e := range f.Errors {
		got = append(got, e.Field)
	}
	if want := []string{"name", "email", "age"}; !reflect.DeepEqual(got, want) {
		t.Errorf("missing = %v, want %v", got, want)
	}
}

func TestPrecisionRoundsHalfUp(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "a", "label": "A", "type": "number", "required": true},
		{"id": "b", "label": "B", "type": "number", "required": true},
		{"id": "ratio", "label": "Ratio", "type": "calculated", "required": false,
		 "formula": "a / b", "dependencies": ["a", "b"], "precision": 2}
	]`)

	out, err := newTestEngine().Calculate(fields, map[string]any{"a": 10.0, "b": 3.0})
	if err != nil {
		t.Fatal(err)
	}
	if out.Calculated["ratio"] != 3.33 {
		t.Errorf("ratio = %v, want 3.33", out.Calculated["ratio"])
	}
}

const invoiceForm = `[
	{"id": "total", "label": "Total", "type": "calculated", "required": false,
	 "formula": "subtotal + tax", "dependencies": ["subtotal", "tax"]},
	{"id": "tax", "label": "Tax", "type": "calculated", "required": false,
	 "formula": "subtotal * 0.1", "dependencies": ["subtotal"], "precision": 2},
	{"id": "subtotal", "label": "Subtotal", "type": "calculated", "required": false,
	 "formula": "price * quantity", "dependencies": ["price", "quantity"]},
	{"id": "price", "label": "Price", "type": "number", "required": true},
	{"id": "quantity", "label": "Quantity", "type": "number", "required": true, "format": "integer"}
]`

func TestChainedCalculatedFields(t *testing.T) {
	fields := mustFields(t, invoiceForm)

	out, err := newTestEngine().Calculate(fields, map[string]any{"price": 10.0, "quantity": "3"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"subtotal": 30.0, "tax": 3.0, "total": 33.0}
	if !reflect.DeepEqual(out.Calculated, want) {
		t.Errorf("Calculated = %v, want %v", out.Calculated, want)
	}
	if out.Data["quantity"] != "3" || out.Data["total"] != 33.0 {
		t.Errorf("Data = %v", out.Data)
	}
	if !out.ExecutedAt.Equal(fixedNow) {
		t.Errorf("ExecutedAt = %v", out.ExecutedAt)
	}
}

func TestCalculateIsIdempotentAndPure(t *testing.T) {
	fields := mustFields(t, invoiceForm)
	answers := map[string]any{"price": 2.5, "quantity": 4.0}
	before := map[string]any{"price": 2.5, "quantity": 4.0}
	fieldsBefore := schema.CloneFields(fields)

	e := newTestEngine()
	first, err := e.Calculate(fields, answers)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Calculate(fields, answers)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("runs differ: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(answers, before) {
		t.Errorf("answers mutated: %v", answers)
	}
	if !reflect.DeepEqual(fields, fieldsBefore) {
		t.Error("fields mutated")
	}
}

func TestFormulaFailureYieldsNil(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "a", "label": "A", "type": "number", "required": true},
		{"id": "b", "label": "B", "type": "number", "required": false},
		{"id": "div", "label": "Div", "type": "calculated", "required": false,
		 "formula": "a / 0", "dependencies": ["a"]},
		{"id": "uses_b", "label": "Uses B", "type": "calculated", "required": false,
		 "formula": "a + b", "dependencies": ["a", "b"]},
		{"id": "after", "label": "After", "type": "calculated", "required": false,
		 "formula": "a * 2", "dependencies": ["a"]}
	]`)

	out, err := newTestEngine().Calculate(fields, map[string]any{"a": 4.0})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"div", "uses_b"} {
		v, ok := out.Calculated[id]
		if !ok || v != nil {
			t.Errorf("%s = %v (present %v), want nil", id, v, ok)
		}
	}
	if out.Calculated["after"] != 8.0 {
		t.Errorf("after = %v, want 8", out.Calculated["after"])
	}
}

func TestDatesAreDaysInFormulas(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "start", "label": "Start", "type": "date", "required": true},
		{"id": "end", "label": "End", "type": "date", "required": true},
		{"id": "nights", "label": "Nights", "type": "calculated", "required": false,
		 "formula": "end - start", "dependencies": ["start", "end"]}
	]`)

	out, err := newTestEngine().Calculate(fields, map[string]any{"start": "2024-02-25", "end": "2024-03-02"})
	if err != nil {
		t.Fatal(err)
	}
	if out.Calculated["nights"] != 6.0 {
		t.Errorf("nights = %v, want 6", out.Calculated["nights"])
	}
	if out.Data["start"] != "2024-02-25" {
		t.Errorf("stored date was rewritten: %v", out.Data["start"])
	}
}

func TestEmptySchema(t *testing.T) {
	_, err := newTestEngine().Calculate(nil, map[string]any{"a": 1.0})
	f := mustFailure(t, err, KindEmptySchema)
	if f.Message != MsgEmptySchema {
		t.Errorf("Message = %q", f.Message)
	}
}

func TestCycleIsRefused(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "a", "label": "A", "type": "calculated", "required": false, "formula": "b", "dependencies": ["b"]},
		{"id": "b", "label": "B", "type": "calculated", "required": false, "formula": "a", "dependencies": ["a"]}
	]`)

	_, err := newTestEngine().Calculate(fields, map[string]any{})
	f := mustFailure(t, err, KindCircularDependency)
	if len(f.Errors) != 1 || f.Errors[0].Field != "a" {
		t.Errorf("Errors = %v", f.Errors)
	}

	_, err = newTestEngine(WithSchemaValidation()).Calculate(fields, map[string]any{})
	mustFailure(t, err, KindCircularDependency)
}

func TestSchemaValidationOption(t *testing.T) {
	fields := mustFields(t, `[{"id": "submit", "label": "Go", "type": "boolean", "required": false}]`)

	if _, err := newTestEngine().Calculate(fields, map[string]any{}); err != nil {
		t.Errorf("without validation: %v", err)
	}
	_, err := newTestEngine(WithSchemaValidation()).Calculate(fields, map[string]any{})
	f := mustFailure(t, err, KindInvalidSchema)
	if !strings.Contains(f.Error(), "reserved") {
		t.Errorf("Error() = %q", f.Error())
	}
}

func TestCalculatedResultRules(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "a", "label": "A", "type": "number", "required": true},
		{"id": "pct", "label": "Pct", "type": "calculated", "required": false,
		 "formula": "a * 10", "dependencies": ["a"],
		 "validations": [{"type": "valid_range", "min": 0, "max": 100}]}
	]`)
	e := newTestEngine()

	if _, err := e.Calculate(fields, map[string]any{"a": 5.0}); err != nil {
		t.Errorf("in range: %v", err)
	}
	_, err := e.Calculate(fields, map[string]any{"a": 50.0})
	f := mustFailure(t, err, KindBusinessInconsistency)
	if len(f.Errors) != 1 || f.Errors[0].Field != "pct" {
		t.Errorf("Errors = %v", f.Errors)
	}
}

func TestRequiredConditionalRule(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "plan", "label": "Plan", "type": "select", "required": true,
		 "options": [{"label": "Free", "value": "free"}, {"label": "Pro", "value": "pro"}]},
		{"id": "seats", "label": "Seats", "type": "select", "required": false,
		 "options": [{"label": "5", "value": "5"}, {"label": "10", "value": "10"}],
		 "validations": [{"type": "required_conditional", "conditional": "plan == 'pro'"}]}
	]`)
	e := newTestEngine()

	if _, err := e.Calculate(fields, map[string]any{"plan": "free"}); err != nil {
		t.Errorf("free plan: %v", err)
	}
	_, err := e.Calculate(fields, map[string]any{"plan": "pro"})
	mustFailure(t, err, KindMissingRequired)
}

func TestVisible(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "age", "label": "Age", "type": "number", "required": true},
		{"id": "guardian", "label": "Guardian", "type": "text", "required": true, "conditional": "age < 18"},
		{"id": "broken", "label": "Broken", "type": "text", "required": false, "conditional": "missing > 1"}
	]`)
	e := newTestEngine()

	var ids []string
	for _, f := range e.Visible(fields, map[string]any{"age": 12.0}) {
		ids = append(ids, f.ID)
	}
	if want := []string{"age", "guardian"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("Visible = %v, want %v", ids, want)
	}
}

func TestVerify(t *testing.T) {
	fields := mustFields(t, invoiceForm)
	e := newTestEngine()

	out, err := e.Calculate(fields, map[string]any{"price": 10.0, "quantity": 3.0})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := e.Verify(fields, out.Data)
	if !ok || err != nil {
		t.Errorf("Verify(valid) = %v, %v", ok, err)
	}

	tampered := map[string]any{}
	for k, v := range out.Data {
		tampered[k] = v
	}
	tampered["total"] = 1000.0
	ok, err = e.Verify(fields, tampered)
	if ok || err == nil || !strings.Contains(err.Error(), "total") {
		t.Errorf("Verify(tampered) = %v, %v", ok, err)
	}
}

func TestEpochDays(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{"1970-01-01", 0, true},
		{"1970-01-11", 10, true},
		{"2024-02-30", 0, false},
		{20240101.0, 0, false},
	}
	for _, tt := range tests {
		got, ok := EpochDays(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("EpochDays(%v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
