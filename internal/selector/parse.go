package selector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator is a comparison operator.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpContains Operator = "contains"
	OpMatches  Operator = "matches"
)

type node interface {
	eval(a Attributes) (bool, error)
}

type andNode struct{ left, right node }
type orNode struct{ left, right node }
type notNode struct{ inner node }

// cmpNode compares a reach attribute with a literal. Regular expressions for
// matches are compiled once, at parse time.
type cmpNode struct {
	field string
	op    Operator
	lit   any
	re    *regexp.Regexp
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

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	return t.kind == tokWord && strings.EqualFold(t.val, kw)
}

func parse(src string) (node, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("position %d: unexpected %q after expression", t.pos, t.val)
	}
	return n, nil
}

func (p *parser) or() (node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = &orNode{left, right}
	}
	return left, nil
}

func (p *parser) and() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &andNode{left, right}
	}
	return left, nil
}

func (p *parser) unary() (node, error) {
	if p.keyword("NOT") {
		p.next()
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner}, nil
	}
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tokRParen {
			return nil, fmt.Errorf("position %d: expected \")\", got %q", t.pos, t.val)
		}
		return inner, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (node, error) {
	ft := p.next()
	if ft.kind != tokWord {
		return nil, fmt.Errorf("position %d: expected attribute name, got %q", ft.pos, ft.val)
	}
	kind, known := fields[ft.val]
	if !known {
		return nil, fmt.Errorf("position %d: unknown attribute %q", ft.pos, ft.val)
	}

	ot := p.next()
	var op Operator
	switch {
	case ot.kind == tokOp:
		op = Operator(ot.val)
	case ot.kind == tokWord && strings.EqualFold(ot.val, "contains"):
		op = OpContains
	case ot.kind == tokWord && strings.EqualFold(ot.val, "matches"):
		op = OpMatches
	default:
		return nil, fmt.Errorf("position %d: expected comparison operator, got %q", ot.pos, ot.val)
	}

	lt := p.next()
	lit, err := literal(lt)
	if err != nil {
		return nil, err
	}
	n := &cmpNode{field: ft.val, op: op, lit: lit}
	if err := n.check(kind); err != nil {
		return nil, fmt.Errorf("position %d: %w", ot.pos, err)
	}
	if op == OpMatches {
		if n.re, err = regexp.Compile(lit.(string)); err != nil {
			return nil, fmt.Errorf("position %d: invalid pattern: %w", lt.pos, err)
		}
	}
	return n, nil
}

func literal(t token) (any, error) {
	switch t.kind {
	case tokString:
		return t.val, nil
	case tokBool:
		return t.val == "true", nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.val, 64)
		if err != nil {
			return nil, fmt.Errorf("position %d: invalid number %q", t.pos, t.val)
		}
		return f, nil
	}
	return nil, fmt.Errorf("position %d: expected literal, got %q", t.pos, t.val)
}

// check rejects comparisons that can never be meaningful for the attribute.
func (n *cmpNode) check(k fieldKind) error {
	switch n.op {
	case OpEq, OpNeq:
		ok := false
		switch n.lit.(type) {
		case float64:
			ok = k == kindNumber
		case string:
			ok = k == kindString
		case bool:
			ok = k == kindBool
		}
		if !ok {
			return fmt.Errorf("%s %s: literal %v has the wrong type", n.field, n.op, n.lit)
		}
	case OpGt, OpGte, OpLt, OpLte:
		if _, ok := n.lit.(float64); !ok || k != kindNumber {
			return fmt.Errorf("%s %s: needs a numeric attribute and literal", n.field, n.op)
		}
	case OpContains, OpMatches:
		if _, ok := n.lit.(string); !ok || k != kindString {
			return fmt.Errorf("%s %s: needs a string attribute and literal", n.field, n.op)
		}
	default:
		return fmt.Errorf("unknown operator %q", n.op)
	}
	return nil
}
