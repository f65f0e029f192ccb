package selector

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokWord   tokenKind = iota // field name or keyword
	tokOp                      // ==, !=, >=, <=, >, <
	tokString                  // "…" or '…'
	tokNumber
	tokBool
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	val  string
	pos  int
}

func isWordByte(c byte) bool {
	return c == '_' || c == '.' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

func isNumberStart(s string, i int) bool {
	c := s[i]
	if unicode.IsDigit(rune(c)) {
		return true
	}
	return (c == '-' || c == '.') && i+1 < len(s) && unicode.IsDigit(rune(s[i+1]))
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokOp, src[i : i+2], i})
				i += 2
				continue
			}
			if c == '=' || c == '!' {
				return nil, fmt.Errorf("position %d: expected %q", i, string(c)+"=")
			}
			toks = append(toks, token{tokOp, string(c), i})
			i++
		case c == '"' || c == '\'':
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != c {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("position %d: unterminated string", i)
			}
			toks = append(toks, token{tokString, sb.String(), i})
			i = j + 1
		case isNumberStart(src, i):
			j := i + 1
			for j < len(src) {
				d := src[j]
				if unicode.IsDigit(rune(d)) || d == '.' {
					j++
					continue
				}
				if (d == 'e' || d == 'E') && j+1 < len(src) {
					j++
					if src[j] == '-' || src[j] == '+' {
						j++
					}
					continue
				}
				break
			}
			toks = append(toks, token{tokNumber, src[i:j], i})
			i = j
		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(src) && isWordByte(src[j]) {
				j++
			}
			w := src[i:j]
			if lw := strings.ToLower(w); lw == "true" || lw == "false" {
				toks = append(toks, token{tokBool, lw, i})
			} else {
				toks = append(toks, token{tokWord, w, i})
			}
			i = j
		default:
			return nil, fmt.Errorf("position %d: unexpected character %q", i, c)
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}
