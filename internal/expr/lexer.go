// Package expr evaluates the boolean condition language of conditional nodes.
//
// The grammar is deliberately closed: literals, dotted state paths,
// comparisons, string predicates and boolean combinators. Nothing in an
// expression can reach beyond the state map it is evaluated against.
package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokLBracket
	tokRBracket
	tokDot
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of expression"
	}
	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

// SyntaxError reports a malformed expression
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d: %s", e.Pos, e.Msg)
}

var twoCharOps = []string{"===", "!==", "==", "!=", "<=", ">=", "&&", "||"}

func lex(src string) ([]token, error) {
	var toks []token
	rs := []rune(src)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case r == '[':
			toks = append(toks, token{tokLBracket, "[", i})
			i++
		case r == ']':
			toks = append(toks, token{tokRBracket, "]", i})
			i++
		case r == '.' && (i+1 >= len(rs) || !unicode.IsDigit(rs[i+1]) || prevIsOperand(toks)):
			toks = append(toks, token{tokDot, ".", i})
			i++
		case r == '"' || r == '\'':
			s, next, err := lexString(rs, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, s, i})
			i = next
		case unicode.IsDigit(r) || r == '.' || (r == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1]) && prevAllowsSign(toks)):
			start := i
			seenDot := r == '.'
			segment := len(toks) > 0 && toks[len(toks)-1].kind == tokDot
			i++
			for i < len(rs) {
				if unicode.IsDigit(rs[i]) {
					i++
					continue
				}
				if rs[i] == '.' && !seenDot && !segment && i+1 < len(rs) && unicode.IsDigit(rs[i+1]) {
					seenDot = true
					i++
					continue
				}
				break
			}
			toks = append(toks, token{tokNumber, string(rs[start:i]), start})
		case unicode.IsLetter(r) || r == '_' || r == '$':
			start := i
			for i < len(rs) && (unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i]) || rs[i] == '_' || rs[i] == '$') {
				i++
			}
			toks = append(toks, token{tokIdent, string(rs[start:i]), start})
		default:
			op := ""
			rest := string(rs[i:])
			for _, candidate := range twoCharOps {
				if strings.HasPrefix(rest, candidate) {
					op = candidate
					break
				}
			}
			if op == "" && strings.ContainsRune("<>!", r) {
				op = string(r)
			}
			if op == "" {
				return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", r)}
			}
			toks = append(toks, token{tokOp, op, i})
			i += len([]rune(op))
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(rs)})
	return toks, nil
}

func prevIsOperand(toks []token) bool {
	if len(toks) == 0 {
		return false
	}
	switch toks[len(toks)-1].kind {
	case tokIdent, tokRBracket, tokRParen, tokNumber:
		return !isKeywordOp(toks[len(toks)-1].text)
	}
	return false
}

// A leading minus is a sign only where an operand is expected.
func prevAllowsSign(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	switch toks[len(toks)-1].kind {
	case tokOp, tokLParen, tokLBracket:
		return true
	case tokIdent:
		return isKeywordOp(toks[len(toks)-1].text)
	}
	return false
}

func lexString(rs []rune, start int) (string, int, error) {
	quote := rs[start]
	var b strings.Builder
	i := start + 1
	for i < len(rs) {
		r := rs[i]
		if r == '\\' && i+1 < len(rs) {
			switch rs[i+1] {
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(rs[i+1])
			}
			i += 2
			continue
		}
		if r == quote {
			return b.String(), i + 1, nil
		}
		b.WriteRune(r)
		i++
	}
	return "", 0, &SyntaxError{Pos: start, Msg: "unterminated string"}
}

func isKeywordOp(word string) bool {
	switch strings.ToLower(word) {
	case "and", "or", "not", "contains", "startswith", "endswith":
		return true
	}
	return false
}
