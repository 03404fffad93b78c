package storage

import (
	"strings"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/tuple"
	"github.com/mudu-db/mudu/kernel/types"
)

// ColumnDef is a column as persisted in the catalog.
type ColumnDef struct {
	Name   string   `toml:"name"`
	Type   string   `toml:"type_id"`
	Params []string `toml:"params,omitempty"`
}

// TableDef is a table as persisted in the catalog.
type TableDef struct {
	ID         uint64      `toml:"id"`
	Name       string      `toml:"name"`
	Columns    []ColumnDef `toml:"columns"`
	PrimaryKey []string    `toml:"primary_key,omitempty"`
}

// Schema is a resolved TableDef.
type Schema struct {
	Def  TableDef
	Desc *tuple.Desc
	// Key holds the public indexes of the primary key columns. Tables without
	// a primary key are keyed by tuple id.
	Key []int
}

func (s *Schema) ID() uint64   { return s.Def.ID }
func (s *Schema) Name() string { return s.Def.Name }

// Column returns the public index of a column, matched case-insensitively.
func (s *Schema) Column(name string) (int, error) {
	for i, c := range s.Def.Columns {
		if strings.EqualFold(c.Name, name) {
			return i, nil
		}
	}
	return -1, ec.Newf(ec.NoSuchElement, "column %s not found in table %s", name, s.Def.Name)
}

// NewSchema resolves def's types and key columns.
func NewSchema(def TableDef) (*Schema, error) {
	if def.Name == "" {
		return nil, ec.New(ec.ParseErr, "table name is empty")
	}
	if len(def.Columns) == 0 {
		return nil, ec.Newf(ec.ParseErr, "table %s has no columns", def.Name)
	}
	cols := make([]types.DatumDesc, len(def.Columns))
	seen := make(map[string]bool)
	for i, c := range def.Columns {
		lower := strings.ToLower(c.Name)
		if seen[lower] {
			return nil, ec.Newf(ec.DuplicateElement, "duplicate column %s in table %s", c.Name, def.Name)
		}
		seen[lower] = true
		id, err := types.ParseID(c.Type)
		if err != nil {
			return nil, err
		}
		p, err := types.ParamFor(id, c.Params)
		if err != nil {
			return nil, err
		}
		cols[i] = types.DatumDesc{Name: c.Name, ID: id, Param: p}
	}
	s := &Schema{Def: def, Desc: tuple.NewDesc(cols)}
	for _, name := range def.PrimaryKey {
		i, err := s.Column(name)
		if err != nil {
			return nil, err
		}
		s.Key = append(s.Key, i)
	}
	return s, nil
}
