package schema

import (
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/dlovans/formengine/pkg/formula"
)

const (
	maxIDLength          = 50
	maxLabelLength       = 255
	maxOptions           = 100
	maxOptionLabelLength = 255
	maxOptionValueLength = 100
	maxPrecision         = 10
)

var (
	idPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

	formulaChars     = regexp.MustCompile(`^[a-zA-Z0-9_+\-*/^()\s.,>=<!=&|]+$`)
	conditionalChars = regexp.MustCompile(`^[a-zA-Z0-9_+\-*/^()\s.,>=<!=&|'"]+$`)
)

// conditionalLiterals may appear in a conditional expression without naming a field.
var conditionalLiterals = map[string]bool{"true": true, "false": true, "null": true, "undefined": true}

// Validate checks a field list in four stages: the structural shape of each
// field, business rules per field type, cross-field rules, and cycles among
// calculated fields. Every error from every stage is collected. A field that
// fails the structural stage is not checked for business rules.
func Validate(fields []Field) Result {
	var errs Errors
	ids := make(map[string]bool, len(fields))
	for _, f := range fields {
		ids[f.ID] = true
	}

	for i, f := range fields {
		if msg := structural(f); msg != "" {
			name := f.ID
			if name == "" {
				name = fmt.Sprintf("field%d", i)
			}
			errs = append(errs, schemaErr(name, "%s", msg))
			continue
		}
		errs = append(errs, business(f, ids)...)
	}

	errs = append(errs, crossField(fields)...)

	if at, ok := NewGraph(fields).FindCycle(); ok {
		errs = append(errs, ValidationError{
			Field:   at,
			Message: (&CycleError{Field: at}).Error(),
			Type:    TypeDependency,
		})
	}

	return newResult(errs)
}

// structural returns the first shape problem with f, or "".
func structural(f Field) string {
	switch n := utf8.RuneCountInString(f.ID); {
	case n == 0:
		return "ID is required"
	case n > maxIDLength:
		return fmt.Sprintf("ID must have at most %d characters", maxIDLength)
	case !idPattern.MatchString(f.ID):
		return "ID must be alphanumeric and without spaces or symbols"
	}
	switch n := utf8.RuneCountInString(f.Label); {
	case n == 0:
		return "Label is required"
	case n > maxLabelLength:
		return fmt.Sprintf("Label must have at most %d characters", maxLabelLength)
	}
	if !f.Type.Known() {
		return fmt.Sprintf("Invalid field type '%s'", f.Type)
	}
	if f.Attrs == nil || f.Attrs.fieldType() != f.Type {
		return fmt.Sprintf("Attributes do not match the field type '%s'", f.Type)
	}

	switch a := f.Attrs.(type) {
	case Number:
		if a.Format != "" && a.Format != FormatInteger && a.Format != FormatDecimal {
			return fmt.Sprintf("Invalid number format '%s'", a.Format)
		}
	case Date:
		if a.Min != "" && !isoDatePattern.MatchString(a.Min) {
			return "min must be a date in the format YYYY-MM-DD"
		}
		if a.Max != "" && !isoDatePattern.MatchString(a.Max) {
			return "max must be a date in the format YYYY-MM-DD"
		}
	case Select:
		if len(a.Options) > maxOptions {
			return fmt.Sprintf("Select field must have at most %d options", maxOptions)
		}
		for _, o := range a.Options {
			if n := utf8.RuneCountInString(o.Label); n == 0 || n > maxOptionLabelLength {
				return fmt.Sprintf("Option label must have between 1 and %d characters", maxOptionLabelLength)
			}
			if n := utf8.RuneCountInString(o.Value); n == 0 || n > maxOptionValueLength {
				return fmt.Sprintf("Option value must have between 1 and %d characters", maxOptionValueLength)
			}
		}
	case Calculated:
		if a.Formula == "" {
			return "Formula is required"
		}
		if len(a.Dependencies) == 0 {
			return "Calculated field must declare at least one dependency"
		}
		if a.Precision != nil && (*a.Precision < 0 || *a.Precision > maxPrecision) {
			return fmt.Sprintf("Precision must be between 0 and %d", maxPrecision)
		}
	}

	for _, r := range f.Validations {
		if msg := checkRuleShape(f.Type, r); msg != "" {
			return msg
		}
	}
	return ""
}

// business applies the per-type rules to a structurally valid field.
func business(f Field, ids map[string]bool) Errors {
	var errs Errors
	add := func(c Check) {
		if !c.OK() {
			errs = append(errs, businessErr(f.ID, "%s", c.Reason))
		}
	}

	switch a := f.Attrs.(type) {
	case Text:
		for _, r := range f.Validations {
			if p, ok := r.Value.(string); ok && r.Type == RuleRegex {
				add(CheckRegex(p))
			}
		}
	case Number:
		var lo, hi *float64
		for _, r := range f.Validations {
			v, ok := ruleNumber(r)
			if !ok {
				continue
			}
			switch r.Type {
			case RuleMin:
				lo = &v
			case RuleMax:
				hi = &v
			}
		}
		add(CheckNumberRange(lo, hi))
	case Date:
		add(CheckDateRange(a.Min, a.Max))
	case Select:
		for _, c := range CheckOptions(a.Options) {
			add(c)
		}
	case Calculated:
		add(CheckFormula(a.Formula, a.Dependencies, ids))
	}

	if f.Conditional != "" {
		if c := CheckConditional(f.Conditional, ids); !c.OK() {
			errs = append(errs, businessErr(f.ID, "Conditional expression error: %s", c.Reason))
		}
	}
	return errs
}

// CheckFormula verifies that every dependency names a field, that the formula
// uses only permitted characters, that every identifier is a dependency or a
// built-in function, and that the formula parses. It stops at the first failure.
func CheckFormula(src string, deps []string, ids map[string]bool) Check {
	declared := make(map[string]bool, len(deps))
	for _, d := range deps {
		if !ids[d] {
			return fail("Dependency '%s' not found in the form fields", d)
		}
		declared[d] = true
	}
	if !formulaChars.MatchString(src) {
		return fail("Formula contains invalid characters")
	}
	for _, v := range formula.Identifiers(src) {
		if !declared[v] && !formula.IsFunction(v) {
			return fail("Variable '%s' is not in the dependencies of the field", v)
		}
	}
	if _, err := formula.Compile(src); err != nil {
		return fail("Invalid formula: %s", syntaxReason(err))
	}
	return pass()
}

// CheckConditional verifies that a conditional expression only references
// field ids or literals, uses only permitted characters, and parses.
func CheckConditional(expr string, ids map[string]bool) Check {
	if expr == "" {
		return pass()
	}
	for _, v := range formula.Identifiers(expr) {
		if !ids[v] && !conditionalLiterals[v] {
			return fail("Variable '%s' not found in the form fields", v)
		}
	}
	if !conditionalChars.MatchString(expr) {
		return fail("Conditional expression contains invalid characters")
	}
	if _, err := formula.Compile(expr); err != nil {
		return fail("Invalid expression: %s", syntaxReason(err))
	}
	return pass()
}

func syntaxReason(err error) string {
	var se *formula.Error
	if errors.As(err, &se) {
		return fmt.Sprintf("%s at position %d", se.Msg, se.Pos)
	}
	return err.Error()
}

// crossField checks rules spanning the whole list: unique and non-reserved ids.
func crossField(fields []Field) Errors {
	var errs Errors
	seen := make(map[string]bool, len(fields))
	dup := false
	for _, f := range fields {
		if seen[f.ID] {
			dup = true
		}
		seen[f.ID] = true
	}
	if dup {
		errs = append(errs, businessErr(FormField, "Field IDs must be unique"))
	}
	for _, f := range fields {
		if IsReserved(f.ID) {
			errs = append(errs, businessErr(f.ID, "ID '%s' is reserved and cannot be used", f.ID))
		}
	}
	return errs
}
