package formula

import "fmt"

// node is a parsed expression.
type node interface {
	eval(env *env) (any, error)
}

type literal struct{ value any }

type ident struct {
	name string
	pos  int
}

type unary struct {
	op string
	x  node
}

type binary struct {
	op   string
	l, r node
}

type call struct {
	name string
	args []node
	pos  int
}

// Program is a compiled expression. It is immutable and safe for concurrent use.
type Program struct {
	src  string
	root node
}

// Source returns the expression text the program was compiled from.
func (p *Program) Source() string { return p.src }

// Compile parses src into a Program. Syntax errors are returned as *Error.
func Compile(src string) (*Program, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, &Error{Pos: 0, Msg: "empty expression"}
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &Error{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
	return &Program{src: src, root: root}, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.pos++
			return op, true
		}
	}
	return "", false
}

// binaryLevel parses a left-associative chain of ops over operands produced by sub.
func (p *parser) binaryLevel(sub func() (node, error), ops ...string) (node, error) {
	left, err := sub()
	if err != nil {
		return nil, err
	}
	for {
		op, ok := p.acceptOp(ops...)
		if !ok {
			return left, nil
		}
		right, err := sub()
		if err != nil {
			return nil, err
		}
		left = &binary{op: op, l: left, r: right}
	}
}

func (p *parser) parseOr() (node, error)  { return p.binaryLevel(p.parseAnd, "||") }
func (p *parser) parseAnd() (node, error) { return p.binaryLevel(p.parseEquality, "&&") }
func (p *parser) parseEquality() (node, error) {
	return p.binaryLevel(p.parseRelational, "==", "!=")
}
func (p *parser) parseRelational() (node, error) {
	return p.binaryLevel(p.parseAdditive, "<", "<=", ">", ">=")
}
func (p *parser) parseAdditive() (node, error) {
	return p.binaryLevel(p.parseMultiplicative, "+", "-")
}
func (p *parser) parseMultiplicative() (node, error) {
	return p.binaryLevel(p.parseUnary, "*", "/")
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.acceptOp("!", "-", "+"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unary{op: op, x: x}, nil
	}
	return p.parsePower()
}

// parsePower is right associative: 2^3^2 == 2^(3^2). The exponent may carry
// its own sign, so 2^-1 parses.
func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	if _, ok := p.acceptOp("^"); ok {
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &binary{op: "^", l: base, r: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literal{value: t.num}, nil
	case tokString:
		return &literal{value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &literal{value: true}, nil
		case "false":
			return &literal{value: false}, nil
		case "null":
			return &literal{value: nil}, nil
		}
		if p.peek().kind == tokLParen {
			p.next()
			args, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return &call{name: t.text, args: args, pos: t.pos}, nil
		}
		return &ident{name: t.text, pos: t.pos}, nil
	case tokLParen:
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if r := p.next(); r.kind != tokRParen {
			return nil, &Error{Pos: r.pos, Msg: "expected ')'"}
		}
		return x, nil
	case tokEOF:
		return nil, &Error{Pos: t.pos, Msg: "unexpected end of expression"}
	default:
		return nil, &Error{Pos: t.pos, Msg: fmt.Sprintf("unexpected %q", t.text)}
	}
}

func (p *parser) parseArgs() ([]node, error) {
	var args []node
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		t := p.next()
		switch t.kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		default:
			return nil, &Error{Pos: t.pos, Msg: "expected ',' or ')' in argument list"}
		}
	}
}
