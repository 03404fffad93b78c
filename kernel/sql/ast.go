package sql

type Statement interface {
	statement()
}

// ColumnSpec is a column of CREATE TABLE. Type is the type name as written.
type ColumnSpec struct {
	Name       string
	Type       string
	Params     []string
	PrimaryKey bool
}

type CreateTable struct {
	Table       string
	IfNotExists bool
	Columns     []ColumnSpec
	// PrimaryKey merges the table constraint and column-level PRIMARY KEY.
	PrimaryKey []string
}

type DropTable struct {
	Table    string
	IfExists bool
}

type Insert struct {
	Table   string
	Columns []string // nil means every column in table order
	Rows    [][]Expr
}

type Assignment struct {
	Column string
	Value  Expr
}

type Update struct {
	Table string
	Set   []Assignment
	Where []*Comparison
}

type Delete struct {
	Table string
	Where []*Comparison
}

type Select struct {
	Table   string
	Columns []string // nil means *
	Where   []*Comparison
}

func (*CreateTable) statement() {}
func (*DropTable) statement()   {}
func (*Insert) statement()      {}
func (*Update) statement()      {}
func (*Delete) statement()      {}
func (*Select) statement()      {}

type Expr interface {
	expr()
}

type LiteralKind int

const (
	LitNumber LiteralKind = iota
	LitString
	LitNull
)

type Literal struct {
	Kind LiteralKind
	Text string
}

// Placeholder is a positional `?`. Index counts from zero in text order and
// Pos is the byte offset of the `?`.
type Placeholder struct {
	Index int
	Pos   int
}

type ColumnRef struct {
	Name string
}

type Unary struct {
	Op TokenKind
	X  Expr
}

type Binary struct {
	Op   TokenKind
	L, R Expr
}

// Comparison is one conjunct of a WHERE clause.
type Comparison struct {
	Op   TokenKind
	L, R Expr
}

func (*Literal) expr()     {}
func (*Placeholder) expr() {}
func (*ColumnRef) expr()   {}
func (*Unary) expr()       {}
func (*Binary) expr()      {}

// Parsed is a statement together with the text it was parsed from.
type Parsed struct {
	Text         string
	Stmt         Statement
	Placeholders []*Placeholder
}

// ReadOnly reports whether the statement returns rows instead of changing them.
func (p *Parsed) ReadOnly() bool {
	_, ok := p.Stmt.(*Select)
	return ok
}
