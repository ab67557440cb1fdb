// Package condition parses and evaluates small boolean predicates over event
// payloads, such as:
//
//	status != "active" OR (plan.id == 0 AND NOT email contains "@")
//
// Field paths are dot-separated and resolved by the caller's Resolver.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Expr is a parsed predicate.
type Expr interface {
	eval(r Resolver) (bool, error)
}

type andExpr struct{ left, right Expr }
type orExpr struct{ left, right Expr }
type notExpr struct{ inner Expr }

type cmpExpr struct {
	field []string
	op    Operator
	value any
	re    *regexp.Regexp
}

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

type tokKind int

const (
	tWord tokKind = iota
	tOp
	tString
	tNumber
	tLParen
	tRParen
	tEOF
)

type tok struct {
	kind tokKind
	text string
	pos  int
}

func lex(src string) ([]tok, error) {
	var out []tok
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			out = append(out, tok{tLParen, "(", i})
			i++
		case c == ')':
			out = append(out, tok{tRParen, ")", i})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			n := 1
			if i+1 < len(src) && src[i+1] == '=' {
				n = 2
			}
			op := src[i : i+n]
			if op == "=" || op == "!" {
				return nil, fmt.Errorf("condition: bad operator %q at %d", op, i)
			}
			out = append(out, tok{tOp, op, i})
			i += n
		case c == '"' || c == '\'':
			var sb strings.Builder
			j := i + 1
			for ; j < len(src) && src[j] != c; j++ {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
			}
			if j >= len(src) {
				return nil, fmt.Errorf("condition: unterminated string at %d", i)
			}
			out = append(out, tok{tString, sb.String(), i})
			i = j + 1
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			j := i + 1
			for j < len(src) && (isDigit(src[j]) || src[j] == '.') {
				j++
			}
			out = append(out, tok{tNumber, src[i:j], i})
			i = j
		case isWordStart(c):
			j := i + 1
			for j < len(src) && (isWordStart(src[j]) || isDigit(src[j]) || src[j] == '.') {
				j++
			}
			out = append(out, tok{tWord, src[i:j], i})
			i = j
		default:
			return nil, fmt.Errorf("condition: unexpected %q at %d", c, i)
		}
	}
	return append(out, tok{tEOF, "", len(src)}), nil
}

func isDigit(c byte) bool     { return c >= '0' && c <= '9' }
func isWordStart(c byte) bool { return c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z') }

type parser struct {
	toks []tok
	pos  int
}

func (p *parser) peek() tok { return p.toks[p.pos] }

func (p *parser) next() tok {
	t := p.toks[p.pos]
	if t.kind != tEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tWord && strings.EqualFold(t.text, kw) {
		p.pos++
		return true
	}
	return false
}

// Parse compiles src into an Expr.
func Parse(src string) (Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	e, err := p.or()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, fmt.Errorf("condition: unexpected %q at %d", t.text, t.pos)
	}
	return e, nil
}

// MustParse is Parse for predicates known at compile time.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func (p *parser) or() (Expr, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
	return left, nil
}

func (p *parser) and() (Expr, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
	return left, nil
}

func (p *parser) unary() (Expr, error) {
	if p.keyword("NOT") {
		inner, err := p.unary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	}
	if p.peek().kind == tLParen {
		p.next()
		inner, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tRParen {
			return nil, fmt.Errorf("condition: expected ) at %d", t.pos)
		}
		return inner, nil
	}
	return p.comparison()
}

func (p *parser) comparison() (Expr, error) {
	f := p.next()
	if f.kind != tWord {
		return nil, fmt.Errorf("condition: expected field at %d, got %q", f.pos, f.text)
	}
	c := cmpExpr{field: strings.Split(f.text, ".")}

	switch t := p.next(); {
	case t.kind == tOp:
		c.op = Operator(t.text)
	case t.kind == tWord && strings.EqualFold(t.text, "contains"):
		c.op = OpContains
	case t.kind == tWord && strings.EqualFold(t.text, "matches"):
		c.op = OpMatches
	default:
		return nil, fmt.Errorf("condition: expected operator at %d, got %q", t.pos, t.text)
	}

	v := p.next()
	switch v.kind {
	case tString:
		c.value = v.text
	case tNumber:
		n, err := strconv.ParseFloat(v.text, 64)
		if err != nil {
			return nil, fmt.Errorf("condition: bad number %q", v.text)
		}
		c.value = n
	case tWord:
		switch strings.ToLower(v.text) {
		case "true":
			c.value = true
		case "false":
			c.value = false
		case "null":
			c.value = nil
		default:
			return nil, fmt.Errorf("condition: expected literal at %d, got %q", v.pos, v.text)
		}
	default:
		return nil, fmt.Errorf("condition: expected literal at %d, got %q", v.pos, v.text)
	}

	if c.op == OpMatches {
		s, ok := c.value.(string)
		if !ok {
			return nil, fmt.Errorf("condition: matches needs a string pattern")
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("condition: bad pattern %q: %w", s, err)
		}
		c.re = re
	}
	return c, nil
}
