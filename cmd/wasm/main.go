//go:build js && wasm

// Package main provides WASM bindings for the form engine.
// This allows browsers to validate schemas and preview calculated fields
// with the same rules the server applies.
package main

import (
	"syscall/js"
	"time"

	"github.com/goccy/go-json"

	"github.com/dlovans/formengine/pkg/engine"
	"github.com/dlovans/formengine/pkg/lint"
	"github.com/dlovans/formengine/pkg/schema"
)

func main() {
	js.Global().Set("FormValidate", js.FuncOf(formValidate))
	js.Global().Set("FormLint", js.FuncOf(formLint))
	js.Global().Set("FormCalculate", js.FuncOf(formCalculate))
	js.Global().Set("FormVerify", js.FuncOf(formVerify))

	// Keep the Go runtime alive
	select {}
}

// formValidate wraps schema.Validate.
// Usage: FormValidate(schemaJSON) -> { result: {valid, errors}, error?: string }
func formValidate(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return makeError("FormValidate requires 1 argument: schemaJSON")
	}
	fields, err := schema.DecodeFields([]byte(args[0].String()), schema.EncodingJSON)
	if err != nil {
		return makeError(err.Error())
	}
	return makeResult(schema.Validate(fields))
}

// formLint wraps lint.Run.
// Usage: FormLint(schemaJSON) -> { result: {valid, issues}, error?: string }
func formLint(this js.Value, args []js.Value) any {
	if len(args) < 1 {
		return makeError("FormLint requires 1 argument: schemaJSON")
	}
	result, err := lint.Run([]byte(args[0].String()), schema.EncodingJSON)
	if err != nil {
		return makeError(err.Error())
	}
	return makeResult(result)
}

// formCalculate runs answers through the engine.
// Usage: FormCalculate(schemaJSON, answersJSON[, isoDate]) -> { result: outcome, failure?: {...}, error?: string }
func formCalculate(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return makeError("FormCalculate requires 2 arguments: schemaJSON, answersJSON")
	}

	now := time.Now
	if len(args) > 2 && args[2].Truthy() {
		effectiveDate, err := time.Parse(time.RFC3339, args[2].String())
		if err != nil {
			// Try simpler date format
			effectiveDate, err = time.Parse("2006-01-02", args[2].String())
			if err != nil {
				return makeError("Invalid date format. Use ISO 8601 (YYYY-MM-DD or RFC3339)")
			}
		}
		now = func() time.Time { return effectiveDate }
	}

	fields, err := schema.DecodeFields([]byte(args[0].String()), schema.EncodingJSON)
	if err != nil {
		return makeError(err.Error())
	}
	answers, err := schema.DecodeAnswers([]byte(args[1].String()), schema.EncodingJSON)
	if err != nil {
		return makeError(err.Error())
	}

	out, err := engine.New(engine.WithClock(now), engine.WithSchemaValidation()).Calculate(fields, answers)
	if f, ok := engine.AsFailure(err); ok {
		return map[string]any{"failure": toJS(f)}
	}
	if err != nil {
		return makeError(err.Error())
	}
	return makeResult(out)
}

// formVerify replays stored data against its schema.
// Usage: FormVerify(schemaJSON, dataJSON) -> { valid: boolean, error?: string }
func formVerify(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return makeError("FormVerify requires 2 arguments: schemaJSON, dataJSON")
	}
	fields, err := schema.DecodeFields([]byte(args[0].String()), schema.EncodingJSON)
	if err != nil {
		return makeError(err.Error())
	}
	data, err := schema.DecodeAnswers([]byte(args[1].String()), schema.EncodingJSON)
	if err != nil {
		return makeError(err.Error())
	}

	valid, err := engine.New().Verify(fields, data)
	if err != nil {
		return map[string]any{
			"valid": false,
			"error": err.Error(),
		}
	}

	return map[string]any{
		"valid": valid,
	}
}

// makeError creates a JS-friendly error response
func makeError(msg string) map[string]any {
	return map[string]any{
		"error": msg,
	}
}

// makeResult creates a JS-friendly success response
func makeResult(v any) map[string]any {
	return map[string]any{
		"result": toJS(v),
	}
}

// toJS round-trips v through JSON so that js.ValueOf receives only maps,
// slices, strings, numbers, booleans and nil.
func toJS(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return err.Error()
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		// Fall back to string if parsing fails
		return string(data)
	}
	return out
}
