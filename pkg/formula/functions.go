package formula

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// builtins is the default function table.
var builtins = map[string]Func{
	"if": fnIf,
	"min": func(args []any) (any, error) {
		return fold(args, math.Min)
	},
	"max": func(args []any) (any, error) {
		return fold(args, math.Max)
	},
	"abs":   unaryMath(math.Abs),
	"sqrt":  unaryMath(math.Sqrt),
	"log":   unaryMath(math.Log),
	"ceil":  unaryMath(math.Ceil),
	"floor": unaryMath(math.Floor),
	"round": fnRound,
}

// FunctionNames returns the names in the default function table, sorted.
func FunctionNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsFunction reports whether name is in the default function table.
func IsFunction(name string) bool {
	_, ok := builtins[name]
	return ok
}

func fnIf(args []any) (any, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("%w: want 3, got %d", ErrArity, len(args))
	}
	if Truthy(args[0]) {
		return args[1], nil
	}
	return args[2], nil
}

func fnRound(args []any) (any, error) {
	if len(args) < 1 || len(args) > 2 {
		return nil, fmt.Errorf("%w: want 1 or 2, got %d", ErrArity, len(args))
	}
	x, ok := args[0].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrType, typeName(args[0]))
	}
	places := 0.0
	if len(args) == 2 {
		if places, ok = args[1].(float64); !ok {
			return nil, fmt.Errorf("%w: %s", ErrType, typeName(args[1]))
		}
	}
	return Round(x, int(places)), nil
}

func unaryMath(fn func(float64) float64) Func {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: want 1, got %d", ErrArity, len(args))
		}
		x, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrType, typeName(args[0]))
		}
		return fn(x), nil
	}
}

func fold(args []any, fn func(a, b float64) float64) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: want at least 1", ErrArity)
	}
	var acc float64
	for i, a := range args {
		x, ok := a.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrType, typeName(a))
		}
		if i == 0 {
			acc = x
			continue
		}
		acc = fn(acc, x)
	}
	return acc, nil
}

var identifierPattern = regexp.MustCompile(`\b[a-zA-Z_][a-zA-Z0-9_]*\b`)

// Identifiers returns every identifier-shaped token in src, in order of
// appearance and with duplicates kept, without parsing or evaluating it.
// Text inside quoted string literals is skipped.
func Identifiers(src string) []string {
	return identifierPattern.FindAllString(blankStrings(src), -1)
}

// blankStrings replaces the contents of quoted literals with spaces so the
// identifier scan does not see words inside them.
func blankStrings(src string) string {
	if !strings.ContainsAny(src, `"'`) {
		return src
	}
	b := []byte(src)
	var quote byte
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case quote == 0 && (c == '"' || c == '\''):
			quote = c
		case quote != 0 && c == '\\' && i+1 < len(b):
			b[i], b[i+1] = ' ', ' '
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
			b[i] = ' '
		}
	}
	return string(b)
}
