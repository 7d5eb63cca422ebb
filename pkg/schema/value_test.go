package schema

import (
	"reflect"
	"testing"
	"time"

	"github.com/dlovans/formengine/pkg/formula"
)

var fixedNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func messages(errs Errors) []string {
	var out []string
	for _, e := range errs {
		out = append(out, e.Message)
	}
	return out
}

func TestValidateValue(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
		want  []string
	}{
		{
			name:  "text ok",
			field: `{"id": "t", "label": "T", "type": "text", "required": false, "validations": [{"type": "min_length", "value": 2}]}`,
			value: "ok",
		},
		{
			name:  "text wrong type",
			field: `{"id": "t", "label": "T", "type": "text", "required": false}`,
			value: 3.0,
			want:  []string{"Value must be a string"},
		},
		{
			name: "text lengths count characters",
			field: `{"id": "t", "label": "T", "type": "text", "required": false,
				"validations": [{"type": "min_length", "value": 3}, {"type": "max_length", "value": 4}]}`,
			value: "çã",
			want:  []string{"Text must have at least 3 characters"},
		},
		{
			name:  "numeric string length bound",
			field: `{"id": "t", "label": "T", "type": "text", "required": false, "validations": [{"type": "min_length", "value": "5"}]}`,
			value: "abc",
			want:  []string{"Text must have at least 5 characters"},
		},
		{
			name: "numeric string number bounds",
			field: `{"id": "n", "label": "N", "type": "number", "required": false,
				"validations": [{"type": "min", "value": "10"}, {"type": "max", "value": "5"}]}`,
			value: 1.0,
			want:  []string{"Value must be greater than or equal to 10"},
		},
		{
			name:  "text too long",
			field: `{"id": "t", "label": "T", "type": "text", "required": false, "validations": [{"type": "max_length", "value": 4}]}`,
			value: "hello",
			want:  []string{"Text must have at most 4 characters"},
		},
		{
			name:  "regex mismatch",
			field: `{"id": "t", "label": "T", "type": "text", "required": false, "validations": [{"type": "regex", "value": "^\\d{3}$"}]}`,
			value: "12a",
			want:  []string{"Value does not match the expected pattern"},
		},
		{
			name:  "regex match",
			field: `{"id": "t", "label": "T", "type": "text", "required": false, "validations": [{"type": "regex", "value": "^\\d{3}$"}]}`,
			value: "123",
		},
		{
			name: "not_contain list is case insensitive",
			field: `{"id": "t", "label": "T", "type": "text", "required": false,
				"validations": [{"type": "not_contain", "value": ["spam", "ads"]}]}`,
			value: "Buy SPAM now",
			want:  []string{"Text cannot contain 'spam'"},
		},
		{
			name:  "not_empty rejects whitespace",
			field: `{"id": "t", "label": "T", "type": "text", "required": false, "validations": [{"type": "not_empty"}]}`,
			value: "   ",
			want:  []string{"Field cannot be empty"},
		},
		{
			name:  "number from string",
			field: `{"id": "n", "label": "N", "type": "number", "required": false, "validations": [{"type": "min", "value": 1}]}`,
			value: "5",
		},
		{
			name:  "number rejects bool",
			field: `{"id": "n", "label": "N", "type": "number", "required": false}`,
			value: true,
			want:  []string{"Value must be a valid number"},
		},
		{
			name:  "number rejects text",
			field: `{"id": "n", "label": "N", "type": "number", "required": false}`,
			value: "five",
			want:  []string{"Value must be a valid number"},
		},
		{
			name:  "integer format",
			field: `{"id": "n", "label": "N", "type": "number", "required": false, "format": "integer"}`,
			value: 2.5,
			want:  []string{"Value must be an integer"},
		},
		{
			name: "number bounds",
			field: `{"id": "n", "label": "N", "type": "number", "required": false,
				"validations": [{"type": "min", "value": 10}, {"type": "max", "value": 20}]}`,
			value: 5.0,
			want:  []string{"Value must be greater than or equal to 10"},
		},
		{
			name:  "number above max",
			field: `{"id": "n", "label": "N", "type": "number", "required": false, "validations": [{"type": "max", "value": 20}]}`,
			value: 21.0,
			want:  []string{"Value must be less than or equal to 20"},
		},
		{
			name:  "multiple_of tolerates float error",
			field: `{"id": "n", "label": "N", "type": "number", "required": false, "validations": [{"type": "multiple_of", "value": 0.1}]}`,
			value: 0.3,
		},
		{
			name:  "multiple_of rejects",
			field: `{"id": "n", "label": "N", "type": "number", "required": false, "validations": [{"type": "multiple_of", "value": 5}]}`,
			value: 12.0,
			want:  []string{"Value must be a multiple of 5"},
		},
		{
			name:  "boolean wrong type",
			field: `{"id": "b", "label": "B", "type": "boolean", "required": false}`,
			value: "true",
			want:  []string{"Value must be true or false"},
		},
		{
			name:  "expected value",
			field: `{"id": "b", "label": "B", "type": "boolean", "required": false, "validations": [{"type": "expected_value", "value": true}]}`,
			value: false,
			want:  []string{"Value must be true"},
		},
		{
			name:  "blocked for false",
			field: `{"id": "b", "label": "B", "type": "boolean", "required": false, "validations": [{"type": "blocked_for_false"}]}`,
			value: false,
			want:  []string{"This field cannot be marked as false"},
		},
		{
			name:  "impossible date",
			field: `{"id": "d", "label": "D", "type": "date", "required": false}`,
			value: "2024-02-30",
			want:  []string{"Value must be a string in the format YYYY-MM-DD"},
		},
		{
			name:  "date bounds",
			field: `{"id": "d", "label": "D", "type": "date", "required": false, "min": "2024-01-01", "max": "2024-03-01"}`,
			value: "2023-12-31",
			want:  []string{"Value must be after 2024-01-01"},
		},
		{
			name:  "date after max",
			field: `{"id": "d", "label": "D", "type": "date", "required": false, "max": "2024-03-01"}`,
			value: "2024-03-02",
			want:  []string{"Value must be before 2024-03-01"},
		},
		{
			name:  "future not allowed",
			field: `{"id": "d", "label": "D", "type": "date", "required": false, "validations": [{"type": "future_date", "allowed": false}]}`,
			value: "2024-06-16",
			want:  []string{"Future dates are not allowed"},
		},
		{
			name:  "today is not future",
			field: `{"id": "d", "label": "D", "type": "date", "required": false, "validations": [{"type": "future_date", "allowed": false}]}`,
			value: "2024-06-15",
		},
		{
			name:  "before literal",
			field: `{"id": "d", "label": "D", "type": "date", "required": false, "validations": [{"type": "before", "value": "2024-01-01"}]}`,
			value: "2024-01-01",
			want:  []string{"Value must be before 2024-01-01"},
		},
		{
			name: "select single",
			field: `{"id": "s", "label": "S", "type": "select", "required": false,
				"options": [{"label": "TI", "value": "ti"}, {"label": "RH", "value": "rh"}]}`,
			value: "ops",
			want:  []string{"Value 'ops' is not a valid option"},
		},
		{
			name: "select single wrong type",
			field: `{"id": "s", "label": "S", "type": "select", "required": false,
				"options": [{"label": "TI", "value": "ti"}]}`,
			value: []any{"ti"},
			want:  []string{"Value must be a string"},
		},
		{
			name: "select in_list",
			field: `{"id": "s", "label": "S", "type": "select", "required": false,
				"options": [{"label": "TI", "value": "ti"}, {"label": "RH", "value": "rh"}],
				"validations": [{"type": "in_list", "values": ["ti"]}]}`,
			value: "rh",
			want:  []string{"Value 'rh' is not allowed"},
		},
		{
			name: "select multiple",
			field: `{"id": "s", "label": "S", "type": "select", "required": false, "multiple": true,
				"options": [{"label": "TI", "value": "ti"}, {"label": "RH", "value": "rh"}]}`,
			value: []any{"ti", "ops", "ti"},
			want:  []string{"Value 'ops' is not a valid option", "Values cannot be duplicated"},
		},
		{
			name: "select multiple needs a list",
			field: `{"id": "s", "label": "S", "type": "select", "required": false, "multiple": true,
				"options": [{"label": "TI", "value": "ti"}]}`,
			value: "ti",
			want:  []string{"Value must be an array of strings"},
		},
		{
			name: "select counts",
			field: `{"id": "s", "label": "S", "type": "select", "required": false, "multiple": true,
				"options": [{"label": "A", "value": "a"}, {"label": "B", "value": "b"}, {"label": "C", "value": "c"}],
				"validations": [{"type": "min_count", "value": 2}, {"type": "max_count", "value": 2}]}`,
			value: []any{"a"},
			want:  []string{"Select at least 2 options"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := mustFields(t, "["+tt.field+"]")
			got := messages(ValidateValue(fields[0], tt.value, Answers{}, fixedNow))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ValidateValue(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestValidateValuesRejectsManualCalculated(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "idade", "label": "Idade", "type": "number", "required": true},
		{"id": "e_maior_de_idade", "label": "Adult", "type": "calculated", "required": false,
		 "formula": "idade >= 18", "dependencies": ["idade"]}]`)

	for _, v := range []any{true, false, nil, "yes"} {
		errs := ValidateValues(fields, Answers{"idade": 30.0, "e_maior_de_idade": v}, fixedNow)
		if !hasError(errs, "e_maior_de_idade", "Calculated fields cannot be submitted manually", TypeBusiness) {
			t.Errorf("value %v: got %v", v, errs)
		}
	}
}

func TestValidateValuesSkipsAbsent(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "n", "label": "N", "type": "number", "required": true},
		{"id": "t", "label": "T", "type": "text", "required": false}]`)

	errs := ValidateValues(fields, Answers{"n": "", "t": nil, "other": 1.0}, fixedNow)
	if len(errs) != 0 {
		t.Errorf("got %v, want no errors", errs)
	}
}

func TestValidateValueBeforeField(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "start", "label": "Start", "type": "date", "required": true,
		 "validations": [{"type": "before", "field": "end"}]},
		{"id": "end", "label": "End", "type": "date", "required": true}]`)

	answers := Answers{"start": "2024-05-10", "end": "2024-05-01"}
	got := messages(ValidateValues(fields, answers, fixedNow))
	want := []string{"Value must be before 2024-05-01"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRequiredWhen(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "plan", "label": "Plan", "type": "select", "required": false,
		 "options": [{"label": "Free", "value": "free"}, {"label": "Pro", "value": "pro"}]},
		{"id": "seats", "label": "Seats", "type": "select", "required": false,
		 "options": [{"label": "5", "value": "5"}],
		 "validations": [{"type": "required_conditional", "conditional": "plan == 'pro'"}]}]`)

	holds := func(answers Answers) func(string) bool {
		return func(expr string) bool {
			v, err := formula.Evaluate(expr, answers)
			return err == nil && formula.Truthy(v)
		}
	}

	if RequiredWhen(fields[1], holds(Answers{"plan": "free"})) {
		t.Error("seats should not be required for free plan")
	}
	if !RequiredWhen(fields[1], holds(Answers{"plan": "pro"})) {
		t.Error("seats should be required for pro plan")
	}
	if RequiredWhen(fields[1], holds(Answers{})) {
		t.Error("unresolvable condition should not make the field required")
	}

	var seen []string
	RequiredWhen(fields[1], func(expr string) bool {
		seen = append(seen, expr)
		return false
	})
	if !reflect.DeepEqual(seen, []string{"plan == 'pro'"}) {
		t.Errorf("evaluated %q", seen)
	}
}

func TestValidateResult(t *testing.T) {
	fields := mustFields(t, `[
		{"id": "a", "label": "A", "type": "number", "required": false},
		{"id": "score", "label": "Score", "type": "calculated", "required": false,
		 "formula": "a * 2", "dependencies": ["a"],
		 "validations": [{"type": "valid_range", "min": 0, "max": 100}, {"type": "in_list", "values": [10, 20, 200]}]}]`)

	if errs := ValidateResult(fields[1], 20.0); len(errs) != 0 {
		t.Errorf("ValidateResult(20) = %v", errs)
	}
	got := messages(ValidateResult(fields[1], 200.0))
	want := []string{"Value must be between 0 and 100"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ValidateResult(200) = %q, want %q", got, want)
	}
	got = messages(ValidateResult(fields[1], 30.0))
	want = []string{"Value must be one of the allowed values"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ValidateResult(30) = %q, want %q", got, want)
	}
	if errs := ValidateResult(fields[1], nil); errs != nil {
		t.Errorf("nil result should not be checked, got %v", errs)
	}
}

func TestIsISODate(t *testing.T) {
	tests := map[string]bool{
		"2024-02-29": true,
		"2023-02-29": false,
		"2024-13-01": false,
		"2024-1-01":  false,
		"20240101":   false,
		"2024-01-01T00:00:00Z": false,
	}
	for in, want := range tests {
		if got := IsISODate(in); got != want {
			t.Errorf("IsISODate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestMatchRegex(t *testing.T) {
	tests := []struct {
		pattern string
		in      string
		want    bool
	}{
		{`^\d{3}$`, "123", true},
		{`^\d{3}$`, "12a", false},
		{`^(?=.*\d).{6,}$`, "abc123", true},
		{`^(?=.*\d).{6,}$`, "abcdef", false},
		{`^[A-Z]`, "Zed", true},
	}
	for _, tt := range tests {
		for range 2 {
			got, err := MatchRegex(tt.pattern, tt.in)
			if err != nil {
				t.Fatalf("MatchRegex(%q, %q): %v", tt.pattern, tt.in, err)
			}
			if got != tt.want {
				t.Errorf("MatchRegex(%q, %q) = %v, want %v", tt.pattern, tt.in, got, tt.want)
			}
		}
	}
	if _, err := MatchRegex("([a-z", "x"); err == nil {
		t.Error("invalid pattern should fail to compile")
	}
}

func TestMultipleOf(t *testing.T) {
	tests := []struct {
		v, m float64
		want bool
	}{
		{10, 5, true},
		{0.3, 0.1, true},
		{-15, 5, true},
		{7, 5, false},
		{3, 0, true},
		{1.0000001, 1, true},
		{0.9999999, 1, true},
	}
	for _, tt := range tests {
		if got := MultipleOf(tt.v, tt.m); got != tt.want {
			t.Errorf("MultipleOf(%v, %v) = %v, want %v", tt.v, tt.m, got, tt.want)
		}
	}
}
