// Package sql parses the restricted dialect the kernel executes: CREATE and
// DROP TABLE, INSERT, UPDATE, DELETE and single-table SELECT with AND-joined
// comparisons and positional `?` placeholders.
package sql

import (
	"fmt"

	"github.com/mudu-db/mudu/kernel/ec"
)

type Parser struct {
	l       *Lexer
	cur     Token
	peek    Token
	holders []*Placeholder
}

func NewParser(text string) *Parser {
	p := &Parser{l: NewLexer(text)}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return ec.Newf(ec.ParseErr, "at offset %d near %q: %s", p.cur.Pos, p.cur.Value, fmt.Sprintf(format, args...))
}

func (p *Parser) expect(kind TokenKind) (Token, error) {
	tok := p.cur
	if tok.Kind != kind {
		return tok, p.errorf("expected %v, got %v", kind, tok.Kind)
	}
	p.next()
	return tok, nil
}

func (p *Parser) accept(kind TokenKind) bool {
	if p.cur.Kind == kind {
		p.next()
		return true
	}
	return false
}

func (p *Parser) ident() (string, error) {
	tok, err := p.expect(IDENT)
	return tok.Value, err
}

// Parse parses exactly one statement. A trailing semicolon is allowed.
func Parse(text string) (*Parsed, error) {
	p := NewParser(text)
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	p.accept(SEMICOLON)
	if p.cur.Kind != END {
		return nil, p.errorf("unexpected trailing input")
	}
	return &Parsed{Text: text, Stmt: stmt, Placeholders: p.holders}, nil
}

// ParseScript parses semicolon separated statements. Placeholder indexes and
// positions are relative to each statement's own text.
func ParseScript(text string) ([]*Parsed, error) {
	var out []*Parsed
	l := NewLexer(text)
	start := 0
	for {
		tok := l.NextToken()
		if tok.Kind != SEMICOLON && tok.Kind != END {
			continue
		}
		if chunk := text[start:tok.Pos]; NewLexer(chunk).NextToken().Kind != END {
			parsed, err := Parse(chunk)
			if err != nil {
				return nil, err
			}
			out = append(out, parsed)
		}
		if tok.Kind == END {
			return out, nil
		}
		start = tok.Pos + 1
	}
}

func (p *Parser) parseStatement() (Statement, error) {
	switch p.cur.Kind {
	case CREATE:
		return p.parseCreate()
	case DROP:
		return p.parseDrop()
	case INSERT:
		return p.parseInsert()
	case UPDATE:
		return p.parseUpdate()
	case DELETE:
		return p.parseDelete()
	case SELECT:
		return p.parseSelect()
	}
	return nil, p.errorf("expected a statement")
}

func (p *Parser) parseCreate() (Statement, error) {
	p.next()
	if _, err := p.expect(TABLE); err != nil {
		return nil, err
	}
	stmt := &CreateTable{}
	if p.accept(IF) {
		if _, err := p.expect(NOT); err != nil {
			return nil, err
		}
		if _, err := p.expect(EXISTS); err != nil {
			return nil, err
		}
		stmt.IfNotExists = true
	}
	var err error
	if stmt.Table, err = p.ident(); err != nil {
		return nil, err
	}
	if _, err = p.expect(LPAREN); err != nil {
		return nil, err
	}
	for {
		if p.cur.Kind == PRIMARY {
			keys, err := p.parsePrimaryKey()
			if err != nil {
				return nil, err
			}
			stmt.PrimaryKey = append(stmt.PrimaryKey, keys...)
		} else {
			col, err := p.parseColumnSpec()
			if err != nil {
				return nil, err
			}
			if col.PrimaryKey {
				stmt.PrimaryKey = append(stmt.PrimaryKey, col.Name)
			}
			stmt.Columns = append(stmt.Columns, col)
		}
		if !p.accept(COMMA) {
			break
		}
	}
	if _, err = p.expect(RPAREN); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parsePrimaryKey() ([]string, error) {
	p.next()
	if _, err := p.expect(KEY); err != nil {
		return nil, err
	}
	if _, err := p.expect(LPAREN); err != nil {
		return nil, err
	}
	names, err := p.parseIdentList()
	if err != nil {
		return nil, err
	}
	_, err = p.expect(RPAREN)
	return names, err
}

func (p *Parser) parseColumnSpec() (ColumnSpec, error) {
	var col ColumnSpec
	var err error
	if col.Name, err = p.ident(); err != nil {
		return col, err
	}
	if col.Type, err = p.ident(); err != nil {
		return col, err
	}
	if p.accept(LPAREN) {
		for {
			tok, err := p.expect(NUMBER)
			if err != nil {
				return col, err
			}
			col.Params = append(col.Params, tok.Value)
			if !p.accept(COMMA) {
				break
			}
		}
		if _, err = p.expect(RPAREN); err != nil {
			return col, err
		}
	}
	for {
		switch {
		case p.cur.Kind == PRIMARY:
			p.next()
			if _, err = p.expect(KEY); err != nil {
				return col, err
			}
			col.PrimaryKey = true
		case p.cur.Kind == NOT && p.peek.Kind == NULL:
			// Every column is NOT NULL already.
			p.next()
			p.next()
		default:
			return col, nil
		}
	}
}

func (p *Parser) parseIdentList() ([]string, error) {
	var names []string
	for {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if !p.accept(COMMA) {
			return names, nil
		}
	}
}

func (p *Parser) parseDrop() (Statement, error) {
	p.next()
	if _, err := p.expect(TABLE); err != nil {
		return nil, err
	}
	stmt := &DropTable{}
	if p.accept(IF) {
		if _, err := p.expect(EXISTS); err != nil {
			return nil, err
		}
		stmt.IfExists = true
	}
	var err error
	stmt.Table, err = p.ident()
	return stmt, err
}

func (p *Parser) parseInsert() (Statement, error) {
	p.next()
	if _, err := p.expect(INTO); err != nil {
		return nil, err
	}
	stmt := &Insert{}
	var err error
	if stmt.Table, err = p.ident(); err != nil {
		return nil, err
	}
	if p.accept(LPAREN) {
		if stmt.Columns, err = p.parseIdentList(); err != nil {
			return nil, err
		}
		if _, err = p.expect(RPAREN); err != nil {
			return nil, err
		}
	}
	if _, err = p.expect(VALUES); err != nil {
		return nil, err
	}
	for {
		if _, err = p.expect(LPAREN); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if !p.accept(COMMA) {
				break
			}
		}
		if _, err = p.expect(RPAREN); err != nil {
			return nil, err
		}
		if stmt.Columns != nil && len(row) != len(stmt.Columns) {
			return nil, p.errorf("%d values for %d columns", len(row), len(stmt.Columns))
		}
		stmt.Rows = append(stmt.Rows, row)
		if !p.accept(COMMA) {
			return stmt, nil
		}
	}
}

func (p *Parser) parseUpdate() (Statement, error) {
	p.next()
	stmt := &Update{}
	var err error
	if stmt.Table, err = p.ident(); err != nil {
		return nil, err
	}
	if _, err = p.expect(SET); err != nil {
		return nil, err
	}
	for {
		var a Assignment
		if a.Column, err = p.ident(); err != nil {
			return nil, err
		}
		if _, err = p.expect(EQ); err != nil {
			return nil, err
		}
		if a.Value, err = p.parseExpr(); err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, a)
		if !p.accept(COMMA) {
			break
		}
	}
	stmt.Where, err = p.parseWhere()
	return stmt, err
}

func (p *Parser) parseDelete() (Statement, error) {
	p.next()
	if _, err := p.expect(FROM); err != nil {
		return nil, err
	}
	stmt := &Delete{}
	var err error
	if stmt.Table, err = p.ident(); err != nil {
		return nil, err
	}
	stmt.Where, err = p.parseWhere()
	return stmt, err
}

func (p *Parser) parseSelect() (Statement, error) {
	p.next()
	stmt := &Select{}
	var err error
	if !p.accept(ASTERISK) {
		if stmt.Columns, err = p.parseIdentList(); err != nil {
			return nil, err
		}
	}
	if _, err = p.expect(FROM); err != nil {
		return nil, err
	}
	if stmt.Table, err = p.ident(); err != nil {
		return nil, err
	}
	stmt.Where, err = p.parseWhere()
	return stmt, err
}

func (p *Parser) parseWhere() ([]*Comparison, error) {
	if !p.accept(WHERE) {
		return nil, nil
	}
	var out []*Comparison
	for {
		l, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		op := p.cur.Kind
		switch op {
		case EQ, NE, LT, LE, GT, GE:
			p.next()
		default:
			return nil, p.errorf("expected a comparison operator")
		}
		r, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		out = append(out, &Comparison{Op: op, L: l, R: r})
		if !p.accept(AND) {
			return out, nil
		}
	}
}

func (p *Parser) parseExpr() (Expr, error) {
	l, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == PLUS || p.cur.Kind == MINUS {
		op := p.cur.Kind
		p.next()
		r, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *Parser) parseTerm() (Expr, error) {
	l, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for p.cur.Kind == ASTERISK || p.cur.Kind == SLASH {
		op := p.cur.Kind
		p.next()
		r, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		l = &Binary{Op: op, L: l, R: r}
	}
	return l, nil
}

func (p *Parser) parseFactor() (Expr, error) {
	tok := p.cur
	switch tok.Kind {
	case MINUS:
		p.next()
		x, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: MINUS, X: x}, nil
	case NUMBER:
		p.next()
		return &Literal{Kind: LitNumber, Text: tok.Value}, nil
	case STRING:
		p.next()
		return &Literal{Kind: LitString, Text: tok.Value}, nil
	case NULL:
		p.next()
		return &Literal{Kind: LitNull}, nil
	case PLACEHOLDER:
		p.next()
		h := &Placeholder{Index: len(p.holders), Pos: tok.Pos}
		p.holders = append(p.holders, h)
		return h, nil
	case IDENT:
		p.next()
		return &ColumnRef{Name: tok.Value}, nil
	case LPAREN:
		p.next()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err = p.expect(RPAREN); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, p.errorf("expected an expression")
}
