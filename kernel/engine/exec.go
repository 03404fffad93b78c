package engine

import (
	"strings"

	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/mvcc"
	"github.com/mudu-db/mudu/kernel/sql"
	"github.com/mudu-db/mudu/kernel/storage"
	"github.com/mudu-db/mudu/kernel/tuple"
	"github.com/mudu-db/mudu/kernel/tuple/delta"
	"github.com/mudu-db/mudu/kernel/types"
	"github.com/mudu-db/mudu/kernel/wal"
)

func (t *Txn) execute(stmt sql.Statement, args []interface{}) (*Result, error) {
	switch s := stmt.(type) {
	case *sql.CreateTable:
		return &Result{}, t.createTable(s)
	case *sql.DropTable:
		return &Result{}, t.dropTable(s)
	case *sql.Insert:
		n, err := t.insert(s, args)
		return &Result{Affected: n}, err
	case *sql.Update:
		n, err := t.update(s, args)
		return &Result{Affected: n}, err
	case *sql.Delete:
		n, err := t.delete(s, args)
		return &Result{Affected: n}, err
	case *sql.Select:
		rs, err := t.query(s, args)
		if err != nil {
			return nil, err
		}
		return &Result{Rows: rs}, nil
	}
	return nil, ec.Newf(ec.ParseErr, "unsupported statement %T", stmt)
}

// DDL takes effect immediately and is not undone by a rollback.
func (t *Txn) createTable(s *sql.CreateTable) error {
	if _, err := t.e.store.Catalog.Table(s.Table); err == nil && s.IfNotExists {
		return nil
	}
	def := storage.TableDef{Name: s.Table, PrimaryKey: s.PrimaryKey}
	for _, c := range s.Columns {
		def.Columns = append(def.Columns, storage.ColumnDef{Name: c.Name, Type: c.Type, Params: c.Params})
	}
	_, err := t.e.store.CreateTable(def)
	return err
}

func (t *Txn) dropTable(s *sql.DropTable) error {
	err := t.e.store.DropTable(s.Table)
	if err != nil && s.IfExists && ec.Is(err, ec.NoSuchElement) {
		return nil
	}
	return err
}

func hasColumn(e sql.Expr) bool {
	switch x := e.(type) {
	case *sql.ColumnRef:
		return true
	case *sql.Unary:
		return hasColumn(x.X)
	case *sql.Binary:
		return hasColumn(x.L) || hasColumn(x.R)
	}
	return false
}

func checkColumns(schema *storage.Schema, exprs ...sql.Expr) error {
	for _, e := range exprs {
		switch x := e.(type) {
		case *sql.ColumnRef:
			if _, err := schema.Column(x.Name); err != nil {
				return err
			}
		case *sql.Unary:
			if err := checkColumns(schema, x.X); err != nil {
				return err
			}
		case *sql.Binary:
			if err := checkColumns(schema, x.L, x.R); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkWhere(schema *storage.Schema, where []*sql.Comparison) error {
	for _, c := range where {
		if err := checkColumns(schema, c.L, c.R); err != nil {
			return err
		}
	}
	return nil
}

// pointKey returns the row key when where pins every primary key column to a
// constant.
func pointKey(schema *storage.Schema, where []*sql.Comparison, args []interface{}) ([]byte, bool) {
	if len(schema.Key) == 0 {
		return nil, false
	}
	sc := &scope{schema: schema, args: args}
	var key []byte
	for _, i := range schema.Key {
		col := schema.Desc.Column(i)
		found := false
		for _, c := range where {
			if c.Op != sql.EQ {
				continue
			}
			var other sql.Expr
			if ref, ok := c.L.(*sql.ColumnRef); ok && strings.EqualFold(ref.Name, col.Name) {
				other = c.R
			} else if ref, ok := c.R.(*sql.ColumnRef); ok && strings.EqualFold(ref.Name, col.Name) {
				other = c.L
			} else {
				continue
			}
			if hasColumn(other) {
				continue
			}
			v, err := sc.eval(other)
			if err != nil {
				continue
			}
			typed, err := coerce(v, col)
			if err != nil {
				continue
			}
			if key, err = storage.EncodeKeyValue(key, col.ID, typed); err != nil {
				return nil, false
			}
			found = true
			break
		}
		if !found {
			return nil, false
		}
	}
	return key, true
}

// candidates lists the rows a statement has to look at, in key order.
func candidates(tbl *storage.Table, where []*sql.Comparison, args []interface{}) []*storage.Row {
	if key, ok := pointKey(tbl.Schema, where, args); ok {
		if row := tbl.Get(key); row != nil {
			return []*storage.Row{row}
		}
		return nil
	}
	return tbl.Rows()
}

// visible returns the version of row s sees if it satisfies where.
func visible(row *storage.Row, snap *mvcc.Snapshot, sc scope, where []*sql.Comparison) (mvcc.Version, bool, error) {
	v, ok := row.Chain.Read(snap)
	if !ok {
		return v, false, nil
	}
	sc.frame = v.Tuple
	match, err := sc.match(where)
	return v, match, err
}

func (t *Txn) conflict(err error) error {
	if ec.Is(err, ec.TxErr) {
		conflictCounter.Inc()
	}
	return err
}

func (t *Txn) insert(s *sql.Insert, args []interface{}) (uint64, error) {
	tbl, err := t.e.store.Table(s.Table)
	if err != nil {
		return 0, err
	}
	schema := tbl.Schema
	desc := schema.Desc
	positions := make([]int, 0, desc.Len())
	if s.Columns == nil {
		for i := 0; i < desc.Len(); i++ {
			positions = append(positions, i)
		}
	} else {
		seen := make(map[int]bool)
		for _, name := range s.Columns {
			i, err := schema.Column(name)
			if err != nil {
				return 0, err
			}
			if seen[i] {
				return 0, ec.Newf(ec.DuplicateElement, "column %s listed twice", name)
			}
			seen[i] = true
			positions = append(positions, i)
		}
	}
	sc := &scope{schema: schema, args: args}
	var n uint64
	for _, exprs := range s.Rows {
		if len(exprs) != len(positions) {
			return n, ec.Newf(ec.ParseErr, "%d values for %d columns of %s", len(exprs), len(positions), schema.Name())
		}
		values := make([]types.Datum, desc.Len())
		set := make([]bool, desc.Len())
		for j, e := range exprs {
			v, err := sc.eval(e)
			if err != nil {
				return n, err
			}
			values[positions[j]] = toDatum(v)
			set[positions[j]] = true
		}
		for i := range values {
			if !set[i] {
				col := desc.Column(i)
				values[i] = types.FromInternal(types.MustGet(col.ID).Default(col.Param))
			}
		}
		frame, err := tuple.Build(desc, values)
		if err != nil {
			return n, err
		}
		if err = t.insertFrame(tbl, frame); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (t *Txn) insertFrame(tbl *storage.Table, frame []byte) error {
	schema := tbl.Schema
	tupleID := tbl.NextTupleID()
	key, err := storage.RowKey(schema, frame, tupleID)
	if err != nil {
		return err
	}
	unlock := t.e.store.Latch(schema.ID(), key)
	defer unlock()

	version := mvcc.Version{TS: mvcc.NewTimestamp(t.snap.Xid), Tuple: frame}
	row := tbl.Get(key)
	if row == nil {
		row = &storage.Row{Key: key, TupleID: tupleID, Chain: mvcc.NewChain(version)}
		tbl.Put(row)
	} else {
		_, live, err := row.Chain.ForWrite(t.snap)
		if err != nil {
			return t.conflict(err)
		}
		if live {
			return ec.Newf(ec.DuplicateElement, "duplicate primary key in table %s", schema.Name())
		}
		// The new tuple replaces a deleted one; undo restores it whole.
		tail, _ := row.Chain.Tail()
		back := delta.New(0, len(frame), tail.Tuple)
		row.Chain.Write(version, &mvcc.VersionDelta{TS: tail.TS, Deltas: []delta.UpdateDelta{back}})
	}
	t.record(tbl, row, wal.Insert(schema.ID(), row.TupleID, key, frame))
	return nil
}

type assignment struct {
	col  int
	expr sql.Expr
}

func (t *Txn) update(s *sql.Update, args []interface{}) (uint64, error) {
	tbl, err := t.e.store.Table(s.Table)
	if err != nil {
		return 0, err
	}
	schema := tbl.Schema
	var assigns []assignment
	for _, a := range s.Set {
		i, err := schema.Column(a.Column)
		if err != nil {
			return 0, err
		}
		for _, k := range schema.Key {
			if k == i {
				return 0, ec.Newf(ec.ParseErr, "primary key column %s cannot be updated", a.Column)
			}
		}
		if err = checkColumns(schema, a.Value); err != nil {
			return 0, err
		}
		assigns = append(assigns, assignment{col: i, expr: a.Value})
	}
	if err = checkWhere(schema, s.Where); err != nil {
		return 0, err
	}
	sc := scope{schema: schema, args: args}
	var n uint64
	for _, row := range candidates(tbl, s.Where, args) {
		_, match, err := visible(row, t.snap, sc, s.Where)
		if err != nil {
			return n, err
		}
		if !match {
			continue
		}
		done, err := t.updateRow(tbl, row, assigns, args)
		if err != nil {
			return n, err
		}
		if done {
			n++
		}
	}
	return n, nil
}

func (t *Txn) updateRow(tbl *storage.Table, row *storage.Row, assigns []assignment, args []interface{}) (bool, error) {
	schema := tbl.Schema
	unlock := t.e.store.Latch(schema.ID(), row.Key)
	defer unlock()

	tail, live, err := row.Chain.ForWrite(t.snap)
	if err != nil {
		return false, t.conflict(err)
	}
	if !live {
		return false, nil
	}
	// Right-hand sides see the row as it was before the statement.
	sc := &scope{schema: schema, frame: delta.Clone(tail.Tuple), args: args}
	frame := tail.Tuple
	var forward, inverses []delta.UpdateDelta
	for _, a := range assigns {
		v, err := sc.eval(a.expr)
		if err != nil {
			return false, err
		}
		ds, err := tuple.Update(schema.Desc, frame, a.col, toDatum(v))
		if err != nil {
			return false, err
		}
		var inv []delta.UpdateDelta
		frame, inv = delta.ApplyAll(frame, ds)
		forward = append(forward, ds...)
		inverses = append(inverses, inv...)
	}
	xid := t.snap.Xid
	if tail.TS.CMin == xid {
		row.Chain.Rewrite(mvcc.Version{TS: tail.TS, Tuple: frame}, inverses)
	} else {
		row.Chain.Write(mvcc.Version{TS: mvcc.NewTimestamp(xid), Tuple: frame}, &mvcc.VersionDelta{TS: tail.TS, Deltas: inverses})
	}
	t.record(tbl, row, wal.Update(schema.ID(), row.TupleID, row.Key, forward))
	return true, nil
}

func (t *Txn) delete(s *sql.Delete, args []interface{}) (uint64, error) {
	tbl, err := t.e.store.Table(s.Table)
	if err != nil {
		return 0, err
	}
	if err = checkWhere(tbl.Schema, s.Where); err != nil {
		return 0, err
	}
	sc := scope{schema: tbl.Schema, args: args}
	var n uint64
	for _, row := range candidates(tbl, s.Where, args) {
		_, match, err := visible(row, t.snap, sc, s.Where)
		if err != nil {
			return n, err
		}
		if !match {
			continue
		}
		done, err := t.deleteRow(tbl, row)
		if err != nil {
			return n, err
		}
		if done {
			n++
		}
	}
	return n, nil
}

func (t *Txn) deleteRow(tbl *storage.Table, row *storage.Row) (bool, error) {
	unlock := t.e.store.Latch(tbl.Schema.ID(), row.Key)
	defer unlock()
	tail, live, err := row.Chain.ForWrite(t.snap)
	if err != nil {
		return false, t.conflict(err)
	}
	if !live {
		return false, nil
	}
	row.Chain.Delete(t.snap.Xid, tail.TS)
	t.record(tbl, row, wal.Delete(tbl.Schema.ID(), row.TupleID, row.Key))
	return true, nil
}

func (t *Txn) query(s *sql.Select, args []interface{}) (*ResultSet, error) {
	tbl, err := t.e.store.Table(s.Table)
	if err != nil {
		return nil, err
	}
	schema := tbl.Schema
	var cols []int
	if s.Columns == nil {
		for i := 0; i < schema.Desc.Len(); i++ {
			cols = append(cols, i)
		}
	} else {
		for _, name := range s.Columns {
			i, err := schema.Column(name)
			if err != nil {
				return nil, err
			}
			cols = append(cols, i)
		}
	}
	if err = checkWhere(schema, s.Where); err != nil {
		return nil, err
	}
	return &ResultSet{
		desc:  schema.Desc.Project(cols),
		scope: scope{schema: schema, args: args},
		cols:  cols,
		rows:  candidates(tbl, s.Where, args),
		snap:  t.snap,
		where: s.Where,
	}, nil
}
