package formula

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnknownVariable is returned when an identifier is absent from the context.
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrUnknownFunction is returned when a call names a function outside the table.
	ErrUnknownFunction = errors.New("unknown function")
	// ErrType is returned when an operator or function receives an unsupported operand.
	ErrType = errors.New("type mismatch")
	// ErrArity is returned when a function is called with the wrong number of arguments.
	ErrArity = errors.New("wrong number of arguments")
)

// Func is a function callable from an expression. Arguments are already evaluated.
type Func func(args []any) (any, error)

// Evaluator evaluates programs against a variable context using a function table.
// An Evaluator is safe for concurrent use once constructed.
type Evaluator struct {
	funcs map[string]Func
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithFunction adds or replaces a function in the evaluator's table.
func WithFunction(name string, fn Func) Option {
	return func(e *Evaluator) {
		e.funcs[name] = fn
	}
}

// NewEvaluator returns an evaluator with the default function table plus any options.
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{funcs: make(map[string]Func, len(builtins))}
	for name, fn := range builtins {
		e.funcs[name] = fn
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEvaluator = NewEvaluator()

// Eval evaluates p against vars.
func (e *Evaluator) Eval(p *Program, vars map[string]any) (any, error) {
	return p.root.eval(&env{vars: vars, funcs: e.funcs})
}

// Evaluate compiles and evaluates src in one step.
func (e *Evaluator) Evaluate(src string, vars map[string]any) (any, error) {
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return e.Eval(p, vars)
}

// HasFunction reports whether name is callable.
func (e *Evaluator) HasFunction(name string) bool {
	_, ok := e.funcs[name]
	return ok
}

// Eval evaluates the program with the default function table.
func (p *Program) Eval(vars map[string]any) (any, error) {
	return defaultEvaluator.Eval(p, vars)
}

// Evaluate compiles and evaluates src with the default function table.
func Evaluate(src string, vars map[string]any) (any, error) {
	return defaultEvaluator.Evaluate(src, vars)
}

type env struct {
	vars  map[string]any
	funcs map[string]Func
}

func (n *literal) eval(*env) (any, error) { return n.value, nil }

func (n *ident) eval(env *env) (any, error) {
	v, ok := env.vars[n.name]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownVariable, n.name)
	}
	return normalize(v), nil
}

func (n *unary) eval(env *env) (any, error) {
	x, err := n.x.eval(env)
	if err != nil {
		return nil, err
	}
	if n.op == "!" {
		return !Truthy(x), nil
	}
	f, ok := x.(float64)
	if !ok {
		return nil, fmt.Errorf("%w: unary '%s' on %s", ErrType, n.op, typeName(x))
	}
	if n.op == "-" {
		return -f, nil
	}
	return f, nil
}

func (n *binary) eval(env *env) (any, error) {
	l, err := n.l.eval(env)
	if err != nil {
		return nil, err
	}

	// Logical operators short-circuit.
	switch n.op {
	case "&&":
		if !Truthy(l) {
			return false, nil
		}
		r, err := n.r.eval(env)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	case "||":
		if Truthy(l) {
			return true, nil
		}
		r, err := n.r.eval(env)
		if err != nil {
			return nil, err
		}
		return Truthy(r), nil
	}

	r, err := n.r.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return Equal(l, r), nil
	case "!=":
		return !Equal(l, r), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, l, r)
	}

	a, aok := l.(float64)
	b, bok := r.(float64)
	if !aok || !bok {
		return nil, fmt.Errorf("%w: %s %s %s", ErrType, typeName(l), n.op, typeName(r))
	}
	switch n.op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		return a / b, nil
	case "^":
		return math.Pow(a, b), nil
	}
	return nil, fmt.Errorf("formula: unsupported operator '%s'", n.op)
}

// compare orders two numbers or two strings.
func compare(op string, l, r any) (any, error) {
	var c int
	switch a := l.(type) {
	case float64:
		b, ok := r.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: number %s %s", ErrType, op, typeName(r))
		}
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	case string:
		b, ok := r.(string)
		if !ok {
			return nil, fmt.Errorf("%w: string %s %s", ErrType, op, typeName(r))
		}
		switch {
		case a < b:
			c = -1
		case a > b:
			c = 1
		}
	default:
		return nil, fmt.Errorf("%w: %s %s %s", ErrType, typeName(l), op, typeName(r))
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	default:
		return c >= 0, nil
	}
}

func (n *call) eval(env *env) (any, error) {
	fn, ok := env.funcs[n.name]
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownFunction, n.name)
	}
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	v, err := fn(args)
	if err != nil {
		return nil, fmt.Errorf("%s(): %w", n.name, err)
	}
	return normalize(v), nil
}
