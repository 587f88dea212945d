package filterql

import (
	"fmt"
	"strings"
)

// Dialect selects the surface syntax accepted for a resource.
type Dialect int

const (
	// DialectFIQL is the compact syntax: name=='x';age=gt=3,active==true
	DialectFIQL Dialect = iota
	// DialectKeyword is the OData-flavoured syntax: name eq 'x' and age gt 3
	DialectKeyword
)

func (d Dialect) String() string {
	switch d {
	case DialectFIQL:
		return "fiql"
	case DialectKeyword:
		return "keyword"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// ParseDialect maps a configuration string to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fiql", "":
		return DialectFIQL, nil
	case "keyword", "odata":
		return DialectKeyword, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q", s)
	}
}

// TokenKind is the lexical category of a Token.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdentifier
	TokenNumber
	TokenString
	TokenBoolean
	TokenNull
	TokenOperator
	TokenLParen
	TokenRParen
	TokenComma
	TokenUnknown
)

func (k TokenKind) String() string {
	switch k {
	case TokenEOF:
		return "EOF"
	case TokenIdentifier:
		return "IDENT"
	case TokenNumber:
		return "NUMBER"
	case TokenString:
		return "STRING"
	case TokenBoolean:
		return "BOOLEAN"
	case TokenNull:
		return "NULL"
	case TokenOperator:
		return "OPERATOR"
	case TokenLParen:
		return "("
	case TokenRParen:
		return ")"
	case TokenComma:
		return ","
	case TokenUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("TOKEN(%d)", int(k))
	}
}

// Token is a single lexeme. Text holds the unescaped content for strings and
// the lower-cased keyword for keyword operators.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
	// Bare marks an unquoted FIQL argument.
	Bare bool
}

func (t Token) String() string {
	if t.Kind == TokenEOF {
		return "end of input"
	}
	return fmt.Sprintf("%s %q", t.Kind, t.Text)
}

// reserved words per dialect; anything else made of identifier characters is
// an identifier.
var (
	commonKeywords = map[string]bool{
		"not":        true,
		"in":         true,
		"contains":   true,
		"startswith": true,
		"endswith":   true,
	}
	keywordDialectKeywords = map[string]bool{
		"eq":  true,
		"ne":  true,
		"lt":  true,
		"le":  true,
		"gt":  true,
		"ge":  true,
		"and": true,
		"or":  true,
	}
	fiqlSymbolOperators = map[string]bool{
		"==":    true,
		"!=":    true,
		"=lt=":  true,
		"=le=":  true,
		"=gt=":  true,
		"=ge=":  true,
		"=in=":  true,
		"=out=": true,
		"<":     true,
		"<=":    true,
		">":     true,
		">=":    true,
		";":     true,
	}
)

func isKeyword(word string, d Dialect) bool {
	if commonKeywords[word] {
		return true
	}
	return d == DialectKeyword && keywordDialectKeywords[word]
}
