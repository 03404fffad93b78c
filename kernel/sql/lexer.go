package sql

import "strings"

type Lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

// eof reports whether the input is used up. A 0 byte inside a quoted literal
// is data.
func (l *Lexer) eof() bool { return l.pos >= len(l.input) }

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) skipSpaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for l.ch != '\n' && !l.eof() {
				l.readChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) single(kind TokenKind) Token {
	tok := Token{Kind: kind, Value: string(l.ch), Pos: l.pos}
	l.readChar()
	return tok
}

func (l *Lexer) pair(kind TokenKind) Token {
	tok := Token{Kind: kind, Value: l.input[l.pos : l.pos+2], Pos: l.pos}
	l.readChar()
	l.readChar()
	return tok
}

func (l *Lexer) NextToken() Token {
	l.skipSpaceAndComments()
	if l.eof() {
		return Token{Kind: END, Pos: l.pos}
	}
	switch l.ch {
	case ',':
		return l.single(COMMA)
	case ';':
		return l.single(SEMICOLON)
	case '(':
		return l.single(LPAREN)
	case ')':
		return l.single(RPAREN)
	case '*':
		return l.single(ASTERISK)
	case '+':
		return l.single(PLUS)
	case '-':
		return l.single(MINUS)
	case '/':
		return l.single(SLASH)
	case '?':
		return l.single(PLACEHOLDER)
	case '=':
		return l.single(EQ)
	case '!':
		if l.peekChar() == '=' {
			return l.pair(NE)
		}
		return l.single(INVALID)
	case '<':
		switch l.peekChar() {
		case '=':
			return l.pair(LE)
		case '>':
			return l.pair(NE)
		}
		return l.single(LT)
	case '>':
		if l.peekChar() == '=' {
			return l.pair(GE)
		}
		return l.single(GT)
	case '\'':
		return l.readString()
	case '"':
		return l.readQuotedIdent()
	}
	switch {
	case isLetter(l.ch):
		start := l.pos
		for isLetter(l.ch) || isDigit(l.ch) {
			l.readChar()
		}
		word := l.input[start:l.pos]
		if kind, ok := keywords[strings.ToUpper(word)]; ok {
			return Token{Kind: kind, Value: word, Pos: start}
		}
		return Token{Kind: IDENT, Value: word, Pos: start}
	case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
		return l.readNumber()
	}
	return l.single(INVALID)
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if l.ch == 'e' || l.ch == 'E' {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Kind: NUMBER, Value: l.input[start:l.pos], Pos: start}
}

// readString reads a single quoted literal. Value is the unescaped text.
func (l *Lexer) readString() Token {
	start := l.pos
	var sb strings.Builder
	l.readChar()
	for {
		switch {
		case l.eof():
			return Token{Kind: INVALID, Value: l.input[start:], Pos: start}
		case l.ch == '\'' && l.peekChar() == '\'':
			sb.WriteByte('\'')
			l.readChar()
			l.readChar()
		case l.ch == '\'':
			l.readChar()
			return Token{Kind: STRING, Value: sb.String(), Pos: start}
		default:
			sb.WriteByte(l.ch)
			l.readChar()
		}
	}
}

func (l *Lexer) readQuotedIdent() Token {
	start := l.pos
	l.readChar()
	for l.ch != '"' && !l.eof() {
		l.readChar()
	}
	if l.eof() {
		return Token{Kind: INVALID, Value: l.input[start:], Pos: start}
	}
	name := l.input[start+1 : l.pos]
	l.readChar()
	return Token{Kind: IDENT, Value: name, Pos: start}
}
