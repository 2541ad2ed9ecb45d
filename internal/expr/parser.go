package expr

import (
	"fmt"
	"strconv"
	"strings"
)

type node interface{}

type literal struct {
	value any
}

type pathRef struct {
	segments []string
}

type unary struct {
	op string
	x  node
}

type binary struct {
	op   string
	l, r node
}

// Roots that address the state map itself
var stateRoots = map[string]bool{
	"stateData": true,
	"state":     true,
	"context":   true,
	"vars":      true,
}

type parser struct {
	toks []token
	pos  int
}

func parse(src string) (node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &SyntaxError{Pos: 0, Msg: "empty expression"}
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected " + t.String()}
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(words ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp && t.kind != tokIdent {
		return "", false
	}
	for _, w := range words {
		if t.kind == tokOp && t.text == w {
			return w, true
		}
		if t.kind == tokIdent && strings.EqualFold(t.text, w) {
			return strings.ToLower(w), true
		}
	}
	return "", false
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isOp("||", "or"); !ok {
			return left, nil
		}
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binary{op: "||", l: left, r: right}
	}
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.isOp("&&", "and"); !ok {
			return left, nil
		}
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = binary{op: "&&", l: left, r: right}
	}
}

func (p *parser) parseNot() (node, error) {
	if _, ok := p.isOp("!", "not"); ok {
		p.next()
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return unary{op: "!", x: x}, nil
	}
	return p.parseComparison()
}

var comparisonOps = []string{"===", "!==", "==", "!=", "<=", ">=", "<", ">", "contains", "startsWith", "endsWith"}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	op, ok := p.isOp(comparisonOps...)
	if !ok {
		return left, nil
	}
	p.next()
	right, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	switch op {
	case "===":
		op = "=="
	case "!==":
		op = "!="
	}
	return binary{op: op, l: left, r: right}, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, &SyntaxError{Pos: t.pos, Msg: "invalid number " + t.text}
		}
		return literal{value: f}, nil
	case tokString:
		return literal{value: t.text}, nil
	case tokLParen:
		n, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, &SyntaxError{Pos: closing.pos, Msg: "expected ) but found " + closing.String()}
		}
		return n, nil
	case tokIdent:
		if isKeywordOp(t.text) {
			return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected operator " + t.text}
		}
		switch t.text {
		case "true":
			return literal{value: true}, nil
		case "false":
			return literal{value: false}, nil
		case "null", "undefined", "nil":
			return literal{value: nil}, nil
		}
		return p.parsePath(t)
	}
	return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected " + t.String()}
}

func (p *parser) parsePath(first token) (node, error) {
	segments := []string{first.text}
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			seg := p.next()
			if seg.kind != tokIdent && seg.kind != tokNumber {
				return nil, &SyntaxError{Pos: seg.pos, Msg: "expected field name after ."}
			}
			segments = append(segments, seg.text)
		case tokLBracket:
			p.next()
			key := p.next()
			if key.kind != tokString && key.kind != tokNumber {
				return nil, &SyntaxError{Pos: key.pos, Msg: "expected string or index inside []"}
			}
			if closing := p.next(); closing.kind != tokRBracket {
				return nil, &SyntaxError{Pos: closing.pos, Msg: "expected ]"}
			}
			segments = append(segments, key.text)
		default:
			if len(segments) > 1 && stateRoots[segments[0]] {
				segments = segments[1:]
			}
			return pathRef{segments: segments}, nil
		}
	}
}

func (n pathRef) String() string {
	return fmt.Sprintf("path(%s)", strings.Join(n.segments, "."))
}
