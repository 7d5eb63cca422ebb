// Package schema defines form fields, their validation rules, and the
// validation service that checks a field list before it becomes a version.
package schema

import (
	"fmt"
	"math"

	json "github.com/goccy/go-json"
)

// FieldType is the discriminant of a field.
type FieldType string

const (
	TextType       FieldType = "text"
	NumberType     FieldType = "number"
	BooleanType    FieldType = "boolean"
	DateType       FieldType = "date"
	SelectType     FieldType = "select"
	CalculatedType FieldType = "calculated"
)

// FieldTypes lists every known field type.
var FieldTypes = []FieldType{TextType, NumberType, BooleanType, DateType, SelectType, CalculatedType}

// Known reports whether t is one of FieldTypes.
func (t FieldType) Known() bool {
	switch t {
	case TextType, NumberType, BooleanType, DateType, SelectType, CalculatedType:
		return true
	}
	return false
}

// NumberFormat restricts the values a number field accepts.
type NumberFormat string

const (
	FormatInteger NumberFormat = "integer"
	FormatDecimal NumberFormat = "decimal"
)

// Field is one entry of a form schema. Attrs carries the attributes of the
// variant named by Type.
type Field struct {
	ID          string
	Label       string
	Type        FieldType
	Required    bool
	Conditional string
	Validations []Rule
	Attrs       Attrs
}

// Attrs is implemented by Text, Number, Boolean, Date, Select and Calculated.
type Attrs interface {
	fieldType() FieldType
}

// Text holds display hints for free-form answers.
type Text struct {
	Capitalize bool
	Multiline  bool
}

// Number fields accept numbers or numeric strings in the given Format.
type Number struct {
	Format NumberFormat
}

// Boolean has no attributes.
type Boolean struct{}

// Date bounds are YYYY-MM-DD strings; empty means unbounded.
type Date struct {
	Min string
	Max string
}

// Select answers must be one of Options, or a list of them when Multiple is set.
type Select struct {
	Multiple bool
	Options  []Option
}

// Option is one choice of a Select; answers carry its Value.
type Option struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// Calculated fields are derived from Dependencies by evaluating Formula.
// Precision, when set, rounds the result to that many decimal places.
type Calculated struct {
	Formula      string
	Dependencies []string
	Precision    *int
}

func (Text) fieldType() FieldType       { return TextType }
func (Number) fieldType() FieldType     { return NumberType }
func (Boolean) fieldType() FieldType    { return BooleanType }
func (Date) fieldType() FieldType       { return DateType }
func (Select) fieldType() FieldType     { return SelectType }
func (Calculated) fieldType() FieldType { return CalculatedType }

// AsText returns the text attributes, or false if f is not a text field.
func (f Field) AsText() (Text, bool) {
	a, ok := f.Attrs.(Text)
	return a, ok
}

func (f Field) AsNumber() (Number, bool) {
	a, ok := f.Attrs.(Number)
	return a, ok
}

func (f Field) AsDate() (Date, bool) {
	a, ok := f.Attrs.(Date)
	return a, ok
}

func (f Field) AsSelect() (Select, bool) {
	a, ok := f.Attrs.(Select)
	return a, ok
}

func (f Field) AsCalculated() (Calculated, bool) {
	a, ok := f.Attrs.(Calculated)
	return a, ok
}

// IsCalculated reports whether f is a calculated field.
func (f Field) IsCalculated() bool {
	return f.Type == CalculatedType
}

// Clone returns a deep copy of f.
func (f Field) Clone() Field {
	out := f
	if f.Validations != nil {
		out.Validations = make([]Rule, len(f.Validations))
		for i, r := range f.Validations {
			out.Validations[i] = r.clone()
		}
	}
	switch a := f.Attrs.(type) {
	case Select:
		a.Options = append([]Option(nil), a.Options...)
		out.Attrs = a
	case Calculated:
		a.Dependencies = append([]string(nil), a.Dependencies...)
		if a.Precision != nil {
			p := *a.Precision
			a.Precision = &p
		}
		out.Attrs = a
	}
	return out
}

// CloneFields deep-copies a field list.
func CloneFields(fields []Field) []Field {
	if fields == nil {
		return nil
	}
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = f.Clone()
	}
	return out
}

// IDs returns the field ids in order.
func IDs(fields []Field) []string {
	ids := make([]string, len(fields))
	for i, f := range fields {
		ids[i] = f.ID
	}
	return ids
}

// fieldWire is the flat JSON shape: variant attributes sit next to the common ones.
type fieldWire struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Type         FieldType `json:"type"`
	Required     bool      `json:"required"`
	Conditional  string    `json:"conditional,omitempty"`
	Validations  []Rule    `json:"validations,omitempty"`
	Capitalize   bool      `json:"capitalize,omitempty"`
	Multiline    bool      `json:"multiline,omitempty"`
	Format       string    `json:"format,omitempty"`
	Min          string    `json:"min,omitempty"`
	Max          string    `json:"max,omitempty"`
	Multiple     bool      `json:"multiple,omitempty"`
	Options      []Option  `json:"options,omitempty"`
	Formula      string    `json:"formula,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty"`
	Precision    *float64  `json:"precision,omitempty"`
}

// MarshalJSON writes the flat wire shape.
func (f Field) MarshalJSON() ([]byte, error) {
	w := fieldWire{
		ID:          f.ID,
		Label:       f.Label,
		Type:        f.Type,
		Required:    f.Required,
		Conditional: f.Conditional,
		Validations: f.Validations,
	}
	switch a := f.Attrs.(type) {
	case Text:
		w.Capitalize, w.Multiline = a.Capitalize, a.Multiline
	case Number:
		w.Format = string(a.Format)
	case Date:
		w.Min, w.Max = a.Min, a.Max
	case Select:
		w.Multiple, w.Options = a.Multiple, a.Options
	case Calculated:
		w.Formula, w.Dependencies = a.Formula, a.Dependencies
		if a.Precision != nil {
			p := float64(*a.Precision)
			w.Precision = &p
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON reads the flat wire shape. Attrs is left nil for an unknown
// type so that validation can report it; attributes of other variants are ignored.
func (f *Field) UnmarshalJSON(data []byte) error {
	var w fieldWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = Field{
		ID:          w.ID,
		Label:       w.Label,
		Type:        w.Type,
		Required:    w.Required,
		Conditional: w.Conditional,
		Validations: w.Validations,
	}
	switch w.Type {
	case TextType:
		f.Attrs = Text{Capitalize: w.Capitalize, Multiline: w.Multiline}
	case NumberType:
		f.Attrs = Number{Format: NumberFormat(w.Format)}
	case BooleanType:
		f.Attrs = Boolean{}
	case DateType:
		f.Attrs = Date{Min: w.Min, Max: w.Max}
	case SelectType:
		f.Attrs = Select{Multiple: w.Multiple, Options: w.Options}
	case CalculatedType:
		c := Calculated{Formula: w.Formula, Dependencies: w.Dependencies}
		if w.Precision != nil {
			p := *w.Precision
			if p != math.Trunc(p) {
				return fmt.Errorf("field %q: precision must be an integer, got %v", w.ID, p)
			}
			n := int(p)
			c.Precision = &n
		}
		f.Attrs = c
	}
	return nil
}
