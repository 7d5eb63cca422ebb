package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dlovans/formengine/pkg/formula"
)

// Answers maps field ids to submitted values.
type Answers = map[string]any

// Present reports whether answers carries a usable value for id.
// Missing keys, nil and the empty string all count as not provided.
func Present(answers Answers, id string) bool {
	v, ok := answers[id]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr && s == "" {
		return false
	}
	return true
}

// ValidateValues checks every submitted value against its field's rules. Only
// fields with a value present are checked; required-ness is the caller's
// concern. A calculated field that appears in answers at all is an error.
// now is the reference time for date rules.
func ValidateValues(fields []Field, answers Answers, now time.Time) Errors {
	var errs Errors
	for _, f := range fields {
		if f.IsCalculated() {
			if _, ok := answers[f.ID]; ok {
				errs = append(errs, businessErr(f.ID, "Calculated fields cannot be submitted manually"))
			}
			continue
		}
		if !Present(answers, f.ID) {
			continue
		}
		errs = append(errs, ValidateValue(f, answers[f.ID], answers, now)...)
	}
	return errs
}

// ValidateValue checks a single submitted value for a non-calculated field.
func ValidateValue(f Field, v any, answers Answers, now time.Time) Errors {
	c := valueChecker{field: f, answers: answers, now: now}
	switch a := f.Attrs.(type) {
	case Text:
		c.text(v)
	case Number:
		c.number(a, v)
	case Boolean:
		c.boolean(v)
	case Date:
		c.date(a, v)
	case Select:
		c.choice(a, v)
	case Calculated:
		c.add("Calculated fields cannot be submitted manually")
	}
	return c.errs
}

type valueChecker struct {
	field   Field
	answers Answers
	now     time.Time
	errs    Errors
}

func (c *valueChecker) add(format string, args ...any) {
	c.errs = append(c.errs, businessErr(c.field.ID, format, args...))
}

// ruleNumber returns a rule value as a number. Numeric strings are read the
// same way as submitted numbers.
func ruleNumber(r Rule) (float64, bool) {
	if r.Value == nil {
		return 0, false
	}
	return NumberValue(r.Value)
}

func (c *valueChecker) text(v any) {
	s, ok := v.(string)
	if !ok {
		c.add("Value must be a string")
		return
	}
	for _, r := range c.field.Validations {
		switch r.Type {
		case RuleMinLength:
			if n, ok := ruleNumber(r); ok && float64(utf8.RuneCountInString(s)) < n {
				c.add("Text must have at least %v characters", n)
			}
		case RuleMaxLength:
			if n, ok := ruleNumber(r); ok && float64(utf8.RuneCountInString(s)) > n {
				c.add("Text must have at most %v characters", n)
			}
		case RuleRegex:
			p, ok := r.Value.(string)
			if !ok {
				continue
			}
			matched, err := MatchRegex(p, s)
			switch {
			case err != nil && !CheckRegex(p).OK():
				c.add("Invalid regex: %s", p)
			case err != nil || !matched:
				c.add("Value does not match the expected pattern")
			}
		case RuleNotContain:
			lower := strings.ToLower(s)
			for _, term := range stringTerms(r.Value) {
				if strings.Contains(lower, strings.ToLower(term)) {
					c.add("Text cannot contain '%s'", term)
				}
			}
		case RuleNotEmpty:
			if strings.TrimSpace(s) == "" {
				c.add("Field cannot be empty")
			}
		}
	}
}

func stringTerms(v any) []string {
	switch x := v.(type) {
	case string:
		return []string{x}
	case []string:
		return x
	case []any:
		var out []string
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// NumberValue converts a submitted number. Numeric strings are accepted;
// booleans are not.
func NumberValue(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	f, ok := formula.ToNumber(v)
	if !ok || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func (c *valueChecker) number(a Number, v any) {
	n, ok := NumberValue(v)
	if !ok {
		c.add("Value must be a valid number")
		return
	}
	integer := a.Format == FormatInteger
	for _, r := range c.field.Validations {
		if r.Type == RuleFormat && r.Value == string(FormatInteger) {
			integer = true
		}
	}
	if integer && n != math.Trunc(n) {
		c.add("Value must be an integer")
	}
	for _, r := range c.field.Validations {
		m, ok := ruleNumber(r)
		if !ok {
			continue
		}
		switch r.Type {
		case RuleMin:
			if n < m {
				c.add("Value must be greater than or equal to %v", m)
			}
		case RuleMax:
			if n > m {
				c.add("Value must be less than or equal to %v", m)
			}
		case RuleMultipleOf:
			if !MultipleOf(n, m) {
				c.add("Value must be a multiple of %v", m)
			}
		}
	}
}

func (c *valueChecker) boolean(v any) {
	b, ok := v.(bool)
	if !ok {
		c.add("Value must be true or false")
		return
	}
	for _, r := range c.field.Validations {
		switch r.Type {
		case RuleExpectedValue:
			if want, ok := ruleBool(r.Value); ok && b != want {
				c.add("Value must be %v", want)
			}
		case RuleBlockedForFalse:
			if !b {
				c.add("This field cannot be marked as false")
			}
		}
	}
}

func ruleBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(x)
		return b, err == nil
	}
	return false, false
}

func (c *valueChecker) date(a Date, v any) {
	s, ok := v.(string)
	if !ok || !IsISODate(s) {
		c.add("Value must be a string in the format YYYY-MM-DD")
		return
	}
	if a.Min != "" && s < a.Min {
		c.add("Value must be after %s", a.Min)
	}
	if a.Max != "" && s > a.Max {
		c.add("Value must be before %s", a.Max)
	}
	today := c.now.Format(isoDate)
	for _, r := range c.field.Validations {
		switch r.Type {
		case RuleFutureDate:
			if r.Allowed != nil && !*r.Allowed && s > today {
				c.add("Future dates are not allowed")
			}
		case RuleBefore:
			limit := ""
			if r.Field != "" {
				limit, _ = c.answers[r.Field].(string)
			} else if lit, ok := r.Value.(string); ok {
				limit = lit
			}
			if IsISODate(limit) && s >= limit {
				c.add("Value must be before %s", limit)
			}
		}
	}
}

func (c *valueChecker) choice(a Select, v any) {
	valid := make(map[string]bool, len(a.Options))
	for _, o := range a.Options {
		valid[o.Value] = true
	}
	allowed := c.allowedList()

	if !a.Multiple {
		s, ok := v.(string)
		if !ok {
			c.add("Value must be a string")
			return
		}
		if !valid[s] {
			c.add("Value '%s' is not a valid option", s)
		} else if allowed != nil && !allowed[s] {
			c.add("Value '%s' is not allowed", s)
		}
		return
	}

	items, ok := selections(v)
	if !ok {
		c.add("Value must be an array of strings")
		return
	}
	seen := make(map[string]bool, len(items))
	dup := false
	for _, s := range items {
		switch {
		case !valid[s]:
			c.add("Value '%s' is not a valid option", s)
		case allowed != nil && !allowed[s]:
			c.add("Value '%s' is not allowed", s)
		}
		if seen[s] {
			dup = true
		}
		seen[s] = true
	}
	if dup {
		c.add("Values cannot be duplicated")
	}
	for _, r := range c.field.Validations {
		n, ok := ruleNumber(r)
		if !ok {
			continue
		}
		switch r.Type {
		case RuleMinCount:
			if float64(len(items)) < n {
				c.add("Select at least %v options", n)
			}
		case RuleMaxCount:
			if float64(len(items)) > n {
				c.add("Select at most %v options", n)
			}
		}
	}
}

// allowedList merges the values of every in_list rule, or returns nil if there is none.
func (c *valueChecker) allowedList() map[string]bool {
	var allowed map[string]bool
	for _, r := range c.field.Validations {
		if r.Type != RuleInList || len(r.Values) == 0 {
			continue
		}
		if allowed == nil {
			allowed = make(map[string]bool)
		}
		for _, v := range r.Values {
			allowed[fmt.Sprint(v)] = true
		}
	}
	return allowed
}

func selections(v any) ([]string, bool) {
	switch x := v.(type) {
	case []string:
		return x, true
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// RequiredWhen reports whether f must be answered: either it is required, or
// holds reports true for one of its required_conditional expressions.
// A rule without its own expression uses the field's conditional.
func RequiredWhen(f Field, holds func(expr string) bool) bool {
	if f.Required {
		return true
	}
	for _, r := range f.Validations {
		if r.Type != RuleRequiredConditional {
			continue
		}
		expr := r.Conditional
		if expr == "" {
			expr = f.Conditional
		}
		if expr == "" {
			continue
		}
		if holds(expr) {
			return true
		}
	}
	return false
}

// ValidateResult checks a computed value of a calculated field against its
// rules. nil results are not checked.
func ValidateResult(f Field, v any) Errors {
	if v == nil {
		return nil
	}
	c := valueChecker{field: f}
	for _, r := range f.Validations {
		switch r.Type {
		case RuleInList:
			found := false
			for _, allowed := range r.Values {
				if formula.Equal(v, allowed) {
					found = true
					break
				}
			}
			if len(r.Values) > 0 && !found {
				c.add("Value must be one of the allowed values")
			}
		case RuleEqualTo:
			if r.Value != nil && !formula.Equal(v, r.Value) {
				c.add("Value must be equal to %v", r.Value)
			}
		case RuleValidRange:
			n, ok := formula.ToNumber(v)
			if !ok {
				c.add("Value must be a number")
				continue
			}
			if (r.Min != nil && n < *r.Min) || (r.Max != nil && n > *r.Max) {
				c.add("Value must be between %s and %s", bound(r.Min, "-Inf"), bound(r.Max, "+Inf"))
			}
		case RuleValidDateFormat:
			s, ok := v.(string)
			if !ok || !IsISODate(s) {
				c.add("Value must be a valid date in the format YYYY-MM-DD")
			}
		}
	}
	return c.errs
}

func bound(p *float64, open string) string {
	if p == nil {
		return open
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}
