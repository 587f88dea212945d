package filterql

import (
	"strings"
	"unicode/utf8"
)

type lexer struct {
	input   string
	pos     int
	dialect Dialect
	last    TokenKind

	// FIQL argument tracking
	expectValue bool
	pendingList bool
	inList      bool
}

// Tokenize splits input into tokens. It never fails: characters it cannot
// classify become TokenUnknown and are reported by the parser. The result
// always ends with a TokenEOF.
func Tokenize(input string, d Dialect) []Token {
	l := &lexer{input: input, dialect: d, last: TokenEOF}
	var tokens []Token
	for {
		tok := l.next()
		tokens = append(tokens, tok)
		l.last = tok.Kind
		if tok.Kind == TokenEOF {
			return tokens
		}
	}
}

func (l *lexer) next() Token {
	l.skipSpace()
	if l.pos >= len(l.input) {
		return Token{Kind: TokenEOF, Pos: len(l.input)}
	}

	c := l.input[l.pos]
	if l.dialect == DialectFIQL && l.argumentExpected() && c != '(' && c != ')' && c != '\'' && c != '"' {
		l.expectValue = false
		return l.bare()
	}
	l.expectValue = false

	switch {
	case c == '(':
		l.pos++
		if l.pendingList {
			l.pendingList = false
			l.inList = true
		}
		return Token{Kind: TokenLParen, Text: "(", Pos: l.pos - 1}
	case c == ')':
		l.pos++
		l.inList = false
		return Token{Kind: TokenRParen, Text: ")", Pos: l.pos - 1}
	case c == ',':
		l.pos++
		return Token{Kind: TokenComma, Text: ",", Pos: l.pos - 1}
	case c == '\'' || c == '"':
		return l.quoted(c)
	case isDigit(c) || (c == '-' && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])):
		start := l.pos
		l.pos = scanNumber(l.input, l.pos)
		return Token{Kind: TokenNumber, Text: l.input[start:l.pos], Pos: start}
	case isIdentStart(c):
		return l.word()
	case l.dialect == DialectFIQL && strings.IndexByte("=!<>;", c) >= 0:
		return l.symbol()
	}

	_, width := utf8.DecodeRuneInString(l.input[l.pos:])
	start := l.pos
	l.pos += width
	return Token{Kind: TokenUnknown, Text: l.input[start:l.pos], Pos: start}
}

func (l *lexer) argumentExpected() bool {
	if l.expectValue {
		return true
	}
	return l.inList && (l.last == TokenLParen || l.last == TokenComma)
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func (l *lexer) word() Token {
	start := l.pos
	l.pos++
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	text := l.input[start:l.pos]
	lower := strings.ToLower(text)
	switch {
	case lower == "true" || lower == "false":
		return Token{Kind: TokenBoolean, Text: lower, Pos: start}
	case lower == "null":
		return Token{Kind: TokenNull, Text: lower, Pos: start}
	case isKeyword(lower, l.dialect):
		if lower == "in" {
			l.pendingList = true
		}
		return Token{Kind: TokenOperator, Text: lower, Pos: start}
	}
	return Token{Kind: TokenIdentifier, Text: text, Pos: start}
}

func (l *lexer) symbol() Token {
	start := l.pos
	rest := l.input[l.pos:]
	var text string
	switch {
	case rest[0] == ';':
		text = ";"
	case strings.HasPrefix(rest, "=="), strings.HasPrefix(rest, "!="),
		strings.HasPrefix(rest, "<="), strings.HasPrefix(rest, ">="):
		text = rest[:2]
	case rest[0] == '<' || rest[0] == '>':
		text = rest[:1]
	case rest[0] == '=':
		end := strings.IndexByte(rest[1:], '=')
		if end > 0 {
			candidate := strings.ToLower(rest[:end+2])
			if fiqlSymbolOperators[candidate] {
				text = candidate
				l.pos += len(candidate)
				return l.operator(text, start)
			}
		}
	}
	if text == "" {
		l.pos++
		return Token{Kind: TokenUnknown, Text: rest[:1], Pos: start}
	}
	l.pos += len(text)
	return l.operator(text, start)
}

func (l *lexer) operator(text string, start int) Token {
	switch text {
	case ";":
	case "=in=", "=out=":
		l.pendingList = true
	default:
		l.expectValue = true
	}
	return Token{Kind: TokenOperator, Text: text, Pos: start}
}

func (l *lexer) quoted(q byte) Token {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if c == '\\' && l.pos+1 < len(l.input) && (l.input[l.pos+1] == '\'' || l.input[l.pos+1] == '"') {
			b.WriteByte(l.input[l.pos+1])
			l.pos += 2
			continue
		}
		if c == q {
			l.pos++
			return Token{Kind: TokenString, Text: b.String(), Pos: start}
		}
		b.WriteByte(c)
		l.pos++
	}
	l.pos = len(l.input)
	return Token{Kind: TokenUnknown, Text: l.input[start:], Pos: start}
}

// bare reads an unquoted FIQL argument up to a delimiter.
func (l *lexer) bare() Token {
	start := l.pos
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		if strings.IndexByte(";,() \t\r\n", c) >= 0 {
			break
		}
		l.pos++
	}
	text := l.input[start:l.pos]
	if text == "" {
		// empty list slot: emit the delimiter so the parser reports it
		if l.input[l.pos] == ',' {
			l.pos++
			return Token{Kind: TokenComma, Text: ",", Pos: start}
		}
		return l.symbol()
	}
	lower := strings.ToLower(text)
	switch {
	case lower == "true" || lower == "false":
		return Token{Kind: TokenBoolean, Text: lower, Pos: start, Bare: true}
	case lower == "null":
		return Token{Kind: TokenNull, Text: lower, Pos: start, Bare: true}
	case scanNumber(text, 0) == len(text):
		return Token{Kind: TokenNumber, Text: text, Pos: start, Bare: true}
	}
	return Token{Kind: TokenString, Text: text, Pos: start, Bare: true}
}

// scanNumber returns the end offset of the numeral starting at i, or i when
// there is none.
func scanNumber(s string, i int) int {
	start := i
	if i < len(s) && s[i] == '-' {
		i++
	}
	digits := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	if i == digits {
		return start
	}
	if i+1 < len(s) && s[i] == '.' && isDigit(s[i+1]) {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
		}
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if j < len(s) && isDigit(s[j]) {
			for j < len(s) && isDigit(s[j]) {
				j++
			}
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) || c == '.' }
