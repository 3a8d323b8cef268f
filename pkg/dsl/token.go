package dsl

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp     // + - * / % < <= > >= == != ( ) [ ] ,
	tokAnd    // and
	tokOr     // or
	tokNot    // not
	tokIn     // in
	tokTrue   // true
	tokFalse  // false
	tokNull   // null
)

type token struct {
	kind tokenKind
	text string
	num  float64
	pos  int
}

// forbiddenOps are rejected at lex time: bitwise operators, power,
// attribute access, and assignment have no place in a routing condition.
var forbiddenOps = map[byte]string{
	'&': "bitwise and",
	'|': "bitwise or",
	'^': "bitwise xor",
	'~': "bitwise not",
	'.': "attribute access",
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			l.pos++
			continue
		}
		break
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	if reason, bad := forbiddenOps[c]; bad {
		// "." is allowed inside numbers, handled below before this check
		// never fires for digits; a bare leading dot is still forbidden.
		return token{}, syntaxErrf(start, "forbidden operator %q (%s)", string(c), reason)
	}

	switch {
	case c >= '0' && c <= '9':
		return l.lexNumber(start)
	case c == '"' || c == '\'':
		return l.lexString(start, c)
	case isIdentStart(rune(c)) || c >= utf8.RuneSelf:
		return l.lexIdent(start)
	}

	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case "<=", ">=", "==", "!=":
		l.pos += 2
		return token{kind: tokOp, text: two, pos: start}, nil
	case "**":
		return token{}, syntaxErrf(start, "forbidden operator %q (power)", two)
	}

	switch c {
	case '+', '-', '*', '/', '%', '<', '>', '(', ')', '[', ']', ',':
		l.pos++
		return token{kind: tokOp, text: string(c), pos: start}, nil
	case '=':
		return token{}, syntaxErrf(start, "forbidden operator %q (assignment)", "=")
	case '!':
		return token{}, syntaxErrf(start, "unexpected %q (use 'not')", "!")
	}
	return token{}, syntaxErrf(start, "unexpected character %q", string(c))
}

func (l *lexer) lexNumber(start int) (token, error) {
	seenDot, seenExp := false, false
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c >= '0' && c <= '9':
			l.pos++
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
			l.pos++
		case (c == 'e' || c == 'E') && !seenExp && l.pos > start:
			seenExp = true
			l.pos++
			if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
				l.pos++
			}
		default:
			goto done
		}
	}
done:
	text := l.src[start:l.pos]
	num, ok := parseNumber(text)
	if !ok {
		return token{}, syntaxErrf(start, "malformed number %q", text)
	}
	return token{kind: tokNumber, text: text, num: num, pos: start}, nil
}

func (l *lexer) lexString(start int, quote byte) (token, error) {
	var sb strings.Builder
	l.pos++ // opening quote
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch c {
		case quote:
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		case '\\':
			l.pos++
			if l.pos >= len(l.src) {
				return token{}, syntaxErrf(start, "unterminated string")
			}
			esc := l.src[l.pos]
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '"', '\'':
				sb.WriteByte(esc)
			default:
				return token{}, syntaxErrf(l.pos, "unknown escape \\%s", string(esc))
			}
			l.pos++
		default:
			sb.WriteByte(c)
			l.pos++
		}
	}
	return token{}, syntaxErrf(start, "unterminated string")
}

func (l *lexer) lexIdent(start int) (token, error) {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isIdentPart(r) {
			break
		}
		l.pos += size
	}
	text := l.src[start:l.pos]
	switch text {
	case "and":
		return token{kind: tokAnd, text: text, pos: start}, nil
	case "or":
		return token{kind: tokOr, text: text, pos: start}, nil
	case "not":
		return token{kind: tokNot, text: text, pos: start}, nil
	case "in":
		return token{kind: tokIn, text: text, pos: start}, nil
	case "true":
		return token{kind: tokTrue, text: text, pos: start}, nil
	case "false":
		return token{kind: tokFalse, text: text, pos: start}, nil
	case "null":
		return token{kind: tokNull, text: text, pos: start}, nil
	}
	return token{kind: tokIdent, text: text, pos: start}, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func parseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}
