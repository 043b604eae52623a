package transform

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokString
	tokNumber
	tokIdent
	tokFunc
	tokQuestion
	tokColon
	tokEq
	tokNeq
	tokLt
	tokLte
	tokGt
	tokGte
	tokAmp
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokPercent
	tokLParen
	tokRParen
	tokLBrace
	tokRBrace
	tokLBracket
	tokRBracket
	tokComma
	tokDot
)

type token struct {
	kind tokenKind
	text string  // decoded value for strings, name for idents and functions
	num  float64 // value for number tokens
	pos  int     // byte offset in the source
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	case tokNumber:
		return "number " + strconv.FormatFloat(t.num, 'f', -1, 64)
	case tokIdent:
		return fmt.Sprintf("name %q", t.text)
	case tokFunc:
		return fmt.Sprintf("function $%s", t.text)
	}
	return fmt.Sprintf("%q", t.text)
}

type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

// next returns the next token, skipping whitespace.
func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsSpace(r) {
			break
		}
		l.pos += size
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch c {
	case '?':
		return l.punct(tokQuestion, 1)
	case ':':
		return l.punct(tokColon, 1)
	case '=':
		return l.punct(tokEq, 1)
	case '&':
		return l.punct(tokAmp, 1)
	case '+':
		return l.punct(tokPlus, 1)
	case '-':
		return l.punct(tokMinus, 1)
	case '*':
		return l.punct(tokStar, 1)
	case '/':
		return l.punct(tokSlash, 1)
	case '%':
		return l.punct(tokPercent, 1)
	case '(':
		return l.punct(tokLParen, 1)
	case ')':
		return l.punct(tokRParen, 1)
	case '{':
		return l.punct(tokLBrace, 1)
	case '}':
		return l.punct(tokRBrace, 1)
	case '[':
		return l.punct(tokLBracket, 1)
	case ']':
		return l.punct(tokRBracket, 1)
	case ',':
		return l.punct(tokComma, 1)
	case '.':
		return l.punct(tokDot, 1)
	case '!':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			return l.punct(tokNeq, 2)
		}
		return token{}, fmt.Errorf("unexpected character '!' at offset %d", start)
	case '<':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			return l.punct(tokLte, 2)
		}
		return l.punct(tokLt, 1)
	case '>':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '=' {
			return l.punct(tokGte, 2)
		}
		return l.punct(tokGt, 1)
	case '\'', '"':
		return l.scanString(c)
	case '`':
		return l.scanQuotedName()
	case '$':
		return l.scanFunc()
	}

	if c >= '0' && c <= '9' {
		return l.scanNumber()
	}
	if isNameStart(rune(c)) {
		return l.scanIdent()
	}
	return token{}, fmt.Errorf("unexpected character %q at offset %d", c, start)
}

func (l *lexer) punct(kind tokenKind, width int) (token, error) {
	t := token{kind: kind, text: l.src[l.pos : l.pos+width], pos: l.pos}
	l.pos += width
	return t, nil
}

// scanString reads a single- or double-quoted string literal with
// backslash escapes.
func (l *lexer) scanString(quote byte) (token, error) {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == quote {
			l.pos++
			return token{kind: tokString, text: sb.String(), pos: start}, nil
		}
		if c == '\\' {
			if l.pos+1 >= len(l.src) {
				break
			}
			l.pos++
			switch e := l.src[l.pos]; e {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case '\\', '/', '\'', '"', '`':
				sb.WriteByte(e)
			case 'u':
				if l.pos+4 >= len(l.src) {
					return token{}, fmt.Errorf("truncated unicode escape at offset %d", l.pos-1)
				}
				code, err := strconv.ParseUint(l.src[l.pos+1:l.pos+5], 16, 32)
				if err != nil {
					return token{}, fmt.Errorf("invalid unicode escape at offset %d", l.pos-1)
				}
				sb.WriteRune(rune(code))
				l.pos += 4
			default:
				return token{}, fmt.Errorf("invalid escape '\\%c' at offset %d", e, l.pos-1)
			}
			l.pos++
			continue
		}
		sb.WriteByte(c)
		l.pos++
	}
	return token{}, fmt.Errorf("unterminated string starting at offset %d", start)
}

// scanQuotedName reads a backtick-quoted field name, used for keys that
// are not plain identifiers.
func (l *lexer) scanQuotedName() (token, error) {
	start := l.pos
	l.pos++
	end := strings.IndexByte(l.src[l.pos:], '`')
	if end < 0 {
		return token{}, fmt.Errorf("unterminated quoted name starting at offset %d", start)
	}
	name := l.src[l.pos : l.pos+end]
	l.pos += end + 1
	return token{kind: tokIdent, text: name, pos: start}, nil
}

func (l *lexer) scanFunc() (token, error) {
	start := l.pos
	l.pos++
	nameStart := l.pos
	for l.pos < len(l.src) && isNamePart(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos == nameStart {
		return token{}, fmt.Errorf("expected function name after '$' at offset %d", start)
	}
	return token{kind: tokFunc, text: l.src[nameStart:l.pos], pos: start}, nil
}

func (l *lexer) scanNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' &&
		l.pos+1 < len(l.src) && l.src[l.pos+1] >= '0' && l.src[l.pos+1] <= '9' {
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		mark := l.pos
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
			for l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '9' {
				l.pos++
			}
		} else {
			l.pos = mark
		}
	}
	text := l.src[start:l.pos]
	num, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, fmt.Errorf("invalid number %q at offset %d", text, start)
	}
	return token{kind: tokNumber, text: text, num: num, pos: start}, nil
}

func (l *lexer) scanIdent() (token, error) {
	start := l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isNamePart(r) {
			break
		}
		l.pos += size
	}
	return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
}

func isNameStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isNamePart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
