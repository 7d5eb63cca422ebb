// Package lint provides static analysis for form documents.
// It reports schema errors plus warnings for schemas that are accepted but
// likely to misbehave, without evaluating any answers.
package lint

import (
	"fmt"
	"math"
	"slices"

	"github.com/dlovans/formengine/pkg/formula"
	"github.com/dlovans/formengine/pkg/schema"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Issue represents a problem found during static analysis.
type Issue struct {
	Severity string `json:"severity"` // "error", "warning", "info"
	Field    string `json:"field,omitempty"`
	Rule     string `json:"rule,omitempty"`
	Message  string `json:"message"`
}

// Result contains all issues found by the linter.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Count returns the number of issues with the given severity.
func (r *Result) Count(severity string) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == severity {
			n++
		}
	}
	return n
}

// Run decodes a form document and lints its fields.
func Run(data []byte, enc schema.Encoding) (*Result, error) {
	fields, err := schema.DecodeFields(data, enc)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	return Fields(fields), nil
}

// Fields lints a field list. Valid is false only when schema validation fails.
func Fields(fields []schema.Field) *Result {
	result := &Result{
		Valid:  true,
		Issues: make([]Issue, 0),
	}

	// Check 1: Schema validation
	for _, e := range schema.Validate(fields).Errors {
		result.addError(e.Field, string(e.Type), e.Message)
	}

	byID := make(map[string]schema.Field, len(fields))
	for _, f := range fields {
		if _, dup := byID[f.ID]; !dup {
			byID[f.ID] = f
		}
	}

	labels := make(map[string]string)
	for _, f := range fields {
		// Check 2: Calculated field references
		if c, ok := f.AsCalculated(); ok {
			used := formula.Identifiers(c.Formula)
			for _, dep := range c.Dependencies {
				if !slices.Contains(used, dep) {
					result.addWarning(f.ID, "", fmt.Sprintf("dependency '%s' is declared but not used in the formula", dep))
				}
				if d, ok := byID[dep]; ok && d.Conditional != "" {
					result.addWarning(f.ID, "", fmt.Sprintf(
						"depends on conditional field '%s'; the result is null when it is hidden or unanswered", dep))
				}
			}
		}

		// Check 3: Conditionals only see submitted answers
		if f.Conditional != "" {
			for _, id := range formula.Identifiers(f.Conditional) {
				if d, ok := byID[id]; ok && d.IsCalculated() {
					result.addWarning(f.ID, "", fmt.Sprintf(
						"conditional references calculated field '%s', which is not available when visibility is decided", id))
				}
				if id == f.ID {
					result.addWarning(f.ID, "", "conditional references the field itself")
				}
			}
		}

		// Check 4: Duplicate labels
		if first, seen := labels[f.Label]; seen && f.Label != "" {
			result.addWarning(f.ID, "", fmt.Sprintf("label '%s' is also used by field '%s'", f.Label, first))
		} else if !seen {
			labels[f.Label] = f.ID
		}

		// Check 5: Rules that can never pass or never matter
		checkRules(result, f)

		// Check 6: Selects without a real choice
		if s, ok := f.AsSelect(); ok && len(s.Options) == 1 {
			result.addInfo(f.ID, "", "select field has a single option")
		}
		if f.IsCalculated() && f.Required {
			result.addInfo(f.ID, "", "required has no effect on calculated fields")
		}
	}

	return result
}

func checkRules(result *Result, f schema.Field) {
	bounds := map[schema.RuleType]float64{}
	for _, r := range f.Validations {
		if n, ok := schema.NumberValue(r.Value); ok {
			bounds[r.Type] = n
		}
	}

	if lo, ok := bounds[schema.RuleMinLength]; ok {
		if hi, ok := bounds[schema.RuleMaxLength]; ok && lo > hi {
			result.addWarning(f.ID, string(schema.RuleMinLength),
				fmt.Sprintf("min_length %v exceeds max_length %v; no value can pass", lo, hi))
		}
	}
	if lo, ok := bounds[schema.RuleMin]; ok {
		if hi, ok := bounds[schema.RuleMax]; ok && lo > hi {
			result.addWarning(f.ID, string(schema.RuleMin),
				fmt.Sprintf("min %v exceeds max %v; no value can pass", lo, hi))
		}
	}
	if lo, ok := bounds[schema.RuleMinCount]; ok {
		if hi, ok := bounds[schema.RuleMaxCount]; ok && lo > hi {
			result.addWarning(f.ID, string(schema.RuleMinCount),
				fmt.Sprintf("min_count %v exceeds max_count %v; no selection can pass", lo, hi))
		}
	}

	if n, ok := f.AsNumber(); ok && n.Format == schema.FormatInteger {
		for _, rt := range []schema.RuleType{schema.RuleMin, schema.RuleMax, schema.RuleMultipleOf} {
			if v, ok := bounds[rt]; ok && v != math.Trunc(v) {
				result.addWarning(f.ID, string(rt),
					fmt.Sprintf("%s %v is not an integer on an integer field", rt, v))
			}
		}
	}

	if s, ok := f.AsSelect(); ok {
		if hi, ok := bounds[schema.RuleMaxCount]; ok && !s.Multiple && hi > 1 {
			result.addInfo(f.ID, string(schema.RuleMaxCount), "max_count has no effect on a single select")
		}
		if hi, ok := bounds[schema.RuleMinCount]; ok && int(hi) > len(s.Options) {
			result.addWarning(f.ID, string(schema.RuleMinCount),
				fmt.Sprintf("min_count %v exceeds the %d available options", hi, len(s.Options)))
		}
	}
}

func (r *Result) addError(field, rule, message string) {
	r.Valid = false
	r.Issues = append(r.Issues, Issue{
		Severity: SeverityError,
		Field:    field,
		Rule:     rule,
		Message:  message,
	})
}

func (r *Result) addWarning(field, rule, message string) {
	r.Issues = append(r.Issues, Issue{
		Severity: SeverityWarning,
		Field:    field,
		Rule:     rule,
		Message:  message,
	})
}

func (r *Result) addInfo(field, rule, message string) {
	r.Issues = append(r.Issues, Issue{
		Severity: SeverityInfo,
		Field:    field,
		Rule:     rule,
		Message:  message,
	})
}
