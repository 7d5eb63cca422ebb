package schema

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Encoding is the serialization of a form document or answers file.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingYAML Encoding = "yaml"
)

// EncodingFor picks an encoding from a file name. Anything that is not
// .yaml or .yml is treated as JSON.
func EncodingFor(path string) Encoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return EncodingYAML
	}
	return EncodingJSON
}

// Document is a form definition as authored: metadata plus its field list.
type Document struct {
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	SchemaVersion *int    `json:"schema_version,omitempty"`
	Fields        []Field `json:"fields"`
}

// DecodeDocument reads a form document. A bare field array is accepted as a
// document with no metadata.
func DecodeDocument(data []byte, enc Encoding) (*Document, error) {
	data, err := toJSON(data, enc)
	if err != nil {
		return nil, err
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
		var fields []Field
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, fmt.Errorf("decode fields: %w", err)
		}
		return &Document{Fields: fields}, nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return &doc, nil
}

// DecodeFields reads just the field list of a document or bare array.
func DecodeFields(data []byte, enc Encoding) ([]Field, error) {
	doc, err := DecodeDocument(data, enc)
	if err != nil {
		return nil, err
	}
	return doc.Fields, nil
}

// DecodeAnswers reads a flat id → value mapping.
func DecodeAnswers(data []byte, enc Encoding) (Answers, error) {
	data, err := toJSON(data, enc)
	if err != nil {
		return nil, err
	}
	answers := Answers{}
	if len(bytes.TrimSpace(data)) == 0 {
		return answers, nil
	}
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return answers, nil
}

// EncodeFields writes a field list as JSON.
func EncodeFields(fields []Field) ([]byte, error) {
	if fields == nil {
		fields = []Field{}
	}
	return json.Marshal(fields)
}

// toJSON converts YAML input to the equivalent JSON so that both encodings
// go through the same decoder.
func toJSON(data []byte, enc Encoding) ([]byte, error) {
	if enc != EncodingYAML {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	out, err := json.Marshal(jsonCompatible(v))
	if err != nil {
		return nil, fmt.Errorf("convert yaml: %w", err)
	}
	return out, nil
}

// jsonCompatible rewrites values yaml.v3 may produce that JSON cannot carry.
func jsonCompatible(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			x[k] = jsonCompatible(item)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, item := range x {
			m[fmt.Sprint(k)] = jsonCompatible(item)
		}
		return m
	case []any:
		for i, item := range x {
			x[i] = jsonCompatible(item)
		}
		return x
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(isoDate)
		}
		return x.Format(time.RFC3339Nano)
	}
	return v
}
