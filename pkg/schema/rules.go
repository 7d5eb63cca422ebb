package schema

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/dlclark/regexp2"
)

// RuleType names a validation rule.
type RuleType string

const (
	RuleMinLength  RuleType = "min_length"
	RuleMaxLength  RuleType = "max_length"
	RuleRegex      RuleType = "regex"
	RuleNotContain RuleType = "not_contain"
	RuleNotEmpty   RuleType = "not_empty"

	RuleMin        RuleType = "min"
	RuleMax        RuleType = "max"
	RuleMultipleOf RuleType = "multiple_of"
	RuleFormat     RuleType = "format"

	RuleExpectedValue   RuleType = "expected_value"
	RuleBlockedForFalse RuleType = "blocked_for_false"

	RuleFutureDate      RuleType = "future_date"
	RuleStrictISOFormat RuleType = "strict_iso_format"
	RuleBefore          RuleType = "before"

	RuleInList              RuleType = "in_list"
	RuleMinCount            RuleType = "min_count"
	RuleMaxCount            RuleType = "max_count"
	RuleRequiredConditional RuleType = "required_conditional"

	RuleEqualTo         RuleType = "equal_to"
	RuleValidRange      RuleType = "valid_range"
	RuleValidDateFormat RuleType = "valid_date_format"
)

// Rule is a validation rule attached to a field. Which of the optional
// members apply depends on Type.
type Rule struct {
	Type        RuleType `json:"type" yaml:"type"`
	Value       any      `json:"value,omitempty" yaml:"value,omitempty"`
	Values      []any    `json:"values,omitempty" yaml:"values,omitempty"`
	Allowed     *bool    `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Field       string   `json:"field,omitempty" yaml:"field,omitempty"`
	Min         *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Conditional string   `json:"conditional,omitempty" yaml:"conditional,omitempty"`
}

func (r Rule) clone() Rule {
	out := r
	if r.Values != nil {
		out.Values = append([]any(nil), r.Values...)
	}
	if items, ok := r.Value.([]any); ok {
		out.Value = append([]any(nil), items...)
	}
	return out
}

// valueKind is a JSON value kind a rule's value may take.
type valueKind int

const (
	kindString valueKind = 1 << iota
	kindNumber
	kindBool
	kindStringList
	kindAny
)

type ruleSpec struct {
	types map[RuleType]bool
	value valueKind
}

func ruleSet(value valueKind, types ...RuleType) ruleSpec {
	m := make(map[RuleType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return ruleSpec{types: m, value: value}
}

// vocabulary lists, per field type, the rules it accepts and the shapes
// their value may take.
var vocabulary = map[FieldType]ruleSpec{
	TextType: ruleSet(kindString|kindNumber|kindStringList,
		RuleMinLength, RuleMaxLength, RuleRegex, RuleNotContain, RuleNotEmpty),
	NumberType: ruleSet(kindNumber|kindString,
		RuleMin, RuleMax, RuleMultipleOf, RuleFormat, RuleNotEmpty),
	BooleanType: ruleSet(kindBool|kindString,
		RuleNotEmpty, RuleExpectedValue, RuleBlockedForFalse),
	DateType: ruleSet(kindString|kindBool,
		RuleFutureDate, RuleStrictISOFormat, RuleNotEmpty, RuleBefore),
	SelectType: ruleSet(kindNumber|kindString,
		RuleInList, RuleMinCount, RuleMaxCount, RuleRequiredConditional),
	CalculatedType: ruleSet(kindAny,
		RuleInList, RuleEqualTo, RuleValidRange, RuleValidDateFormat),
}

// RuleTypes returns the rule types a field type accepts.
func RuleTypes(t FieldType) []RuleType {
	spec, ok := vocabulary[t]
	if !ok {
		return nil
	}
	var out []RuleType
	for rt := range spec.types {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func kindOf(v any) valueKind {
	switch x := v.(type) {
	case string:
		return kindString
	case float64, float32, int, int64, int32, uint, uint64:
		return kindNumber
	case bool:
		return kindBool
	case []string:
		return kindStringList
	case []any:
		for _, item := range x {
			if _, ok := item.(string); !ok {
				return 0
			}
		}
		return kindStringList
	}
	return 0
}

// checkRuleShape reports the first structural problem with r on a field of type t.
func checkRuleShape(t FieldType, r Rule) string {
	spec, ok := vocabulary[t]
	if !ok {
		return ""
	}
	if !spec.types[r.Type] {
		return fmt.Sprintf("validation type '%s' is not allowed for %s fields", r.Type, t)
	}
	if r.Value == nil || spec.value == kindAny {
		return ""
	}
	if kindOf(r.Value)&spec.value == 0 {
		return fmt.Sprintf("invalid value for validation '%s'", r.Type)
	}
	if numericRules[r.Type] {
		if _, ok := NumberValue(r.Value); !ok {
			return fmt.Sprintf("invalid value for validation '%s'", r.Type)
		}
	}
	return ""
}

// numericRules take a number or a numeric string as their value.
var numericRules = map[RuleType]bool{
	RuleMinLength:  true,
	RuleMaxLength:  true,
	RuleMin:        true,
	RuleMax:        true,
	RuleMultipleOf: true,
	RuleMinCount:   true,
	RuleMaxCount:   true,
}

// Check is the outcome of a single rule check. Reason is empty on success.
type Check struct {
	Reason string
}

// OK reports whether the check passed.
func (c Check) OK() bool { return c.Reason == "" }

func pass() Check { return Check{} }

func fail(format string, args ...any) Check {
	return Check{Reason: fmt.Sprintf(format, args...)}
}

// regexTimeout bounds a single match.
const regexTimeout = 100 * time.Millisecond

// compileRegex compiles an ECMAScript pattern. Patterns are compiled on every
// call; nothing is kept between validations.
func compileRegex(pattern string) (*regexp2.Regexp, error) {
	re, err := regexp2.Compile(pattern, regexp2.ECMAScript)
	if err != nil {
		return nil, err
	}
	re.MatchTimeout = regexTimeout
	return re, nil
}

// CheckRegex reports whether pattern compiles.
func CheckRegex(pattern string) Check {
	if _, err := compileRegex(pattern); err != nil {
		return fail("Invalid regex: %s", pattern)
	}
	return pass()
}

// MatchRegex reports whether s contains a match for pattern.
func MatchRegex(pattern, s string) (bool, error) {
	re, err := compileRegex(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s)
}

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

const isoDate = "2006-01-02"

// IsISODate reports whether s is YYYY-MM-DD and names a real calendar day.
func IsISODate(s string) bool {
	if !isoDatePattern.MatchString(s) {
		return false
	}
	t, err := time.Parse(isoDate, s)
	return err == nil && t.Format(isoDate) == s
}

// CheckISODate is IsISODate as a Check.
func CheckISODate(s string) Check {
	if !IsISODate(s) {
		return fail("Value must be a string in the format YYYY-MM-DD")
	}
	return pass()
}

// CheckNumberRange fails when both bounds are set and min exceeds max.
func CheckNumberRange(lo, hi *float64) Check {
	if lo != nil && hi != nil && *lo > *hi {
		return fail("Minimum number cannot be greater than the maximum number")
	}
	return pass()
}

// CheckDateRange fails when both dates are set and min is after max.
func CheckDateRange(lo, hi string) Check {
	if lo == "" || hi == "" {
		return pass()
	}
	from, err1 := time.Parse(isoDate, lo)
	to, err2 := time.Parse(isoDate, hi)
	if err1 != nil || err2 != nil {
		return pass()
	}
	if from.After(to) {
		return fail("Minimum date cannot be greater than the maximum date")
	}
	return pass()
}

// multipleOfTolerance absorbs floating point error in MultipleOf.
const multipleOfTolerance = 1e-6

// MultipleOf reports whether v is within tolerance of an integer multiple of m.
// A zero m never constrains.
func MultipleOf(v, m float64) bool {
	if m == 0 {
		return true
	}
	r := math.Abs(math.Mod(v, m))
	return r <= multipleOfTolerance || math.Abs(m)-r <= multipleOfTolerance
}

// CheckOptions verifies that a select field has at least one option and that
// option values are unique.
func CheckOptions(opts []Option) []Check {
	var out []Check
	seen := make(map[string]bool, len(opts))
	for _, o := range opts {
		if seen[o.Value] {
			out = append(out, fail("Select options must have unique values"))
			break
		}
		seen[o.Value] = true
	}
	if len(opts) == 0 {
		out = append(out, fail("Select field must have at least one option"))
	}
	return out
}

// ReservedIDs cannot be used as field ids.
var ReservedIDs = []string{"id", "form", "submit", "action", "method"}

// IsReserved reports whether id is in ReservedIDs.
func IsReserved(id string) bool {
	for _, r := range ReservedIDs {
		if id == r {
			return true
		}
	}
	return false
}
