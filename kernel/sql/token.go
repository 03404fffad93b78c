package sql

import "fmt"

type TokenKind int

const (
	END TokenKind = iota
	INVALID
	IDENT
	NUMBER
	STRING
	PLACEHOLDER

	COMMA
	SEMICOLON
	LPAREN
	RPAREN
	ASTERISK
	PLUS
	MINUS
	SLASH
	EQ
	NE
	LT
	LE
	GT
	GE

	// keywords
	CREATE
	DROP
	TABLE
	IF
	NOT
	EXISTS
	PRIMARY
	KEY
	INSERT
	INTO
	VALUES
	UPDATE
	SET
	DELETE
	FROM
	SELECT
	WHERE
	AND
	NULL
)

var tokenNames = [...]string{
	END:         "END",
	INVALID:     "INVALID",
	IDENT:       "IDENT",
	NUMBER:      "NUMBER",
	STRING:      "STRING",
	PLACEHOLDER: "?",
	COMMA:       ",",
	SEMICOLON:   ";",
	LPAREN:      "(",
	RPAREN:      ")",
	ASTERISK:    "*",
	PLUS:        "+",
	MINUS:       "-",
	SLASH:       "/",
	EQ:          "=",
	NE:          "<>",
	LT:          "<",
	LE:          "<=",
	GT:          ">",
	GE:          ">=",
	CREATE:      "CREATE",
	DROP:        "DROP",
	TABLE:       "TABLE",
	IF:          "IF",
	NOT:         "NOT",
	EXISTS:      "EXISTS",
	PRIMARY:     "PRIMARY",
	KEY:         "KEY",
	INSERT:      "INSERT",
	INTO:        "INTO",
	VALUES:      "VALUES",
	UPDATE:      "UPDATE",
	SET:         "SET",
	DELETE:      "DELETE",
	FROM:        "FROM",
	SELECT:      "SELECT",
	WHERE:       "WHERE",
	AND:         "AND",
	NULL:        "NULL",
}

func (k TokenKind) String() string {
	if k >= 0 && int(k) < len(tokenNames) {
		return tokenNames[k]
	}
	return fmt.Sprintf("token(%d)", int(k))
}

var keywords = map[string]TokenKind{}

func init() {
	for k := CREATE; k <= NULL; k++ {
		keywords[tokenNames[k]] = k
	}
}

// Token is one lexeme. Pos is its byte offset in the statement text.
type Token struct {
	Kind  TokenKind
	Value string
	Pos   int
}
