package storage

import (
	"bytes"
	"encoding/binary"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/coocood/badger"
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/log"
	"github.com/pingcap/errors"
)

var (
	tablePrefix = []byte("t_")
	nextIDKey   = []byte("m_next_table_id")
)

// Catalog holds the table schemas. With a badger db behind it every change is
// written through as a TOML document per table; DDL is not transactional.
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]*Schema
	byID   map[uint64]*Schema
	nextID uint64
	db     *badger.DB
}

func NewMemCatalog() *Catalog {
	return &Catalog{
		byName: make(map[string]*Schema),
		byID:   make(map[uint64]*Schema),
		nextID: 1,
	}
}

// OpenCatalog opens or creates the catalog stored under dir.
func OpenCatalog(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, ec.Newf(ec.IO, "create %s: %v", dir, err)
	}
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Annotatef(err, "open catalog %s", dir)
	}
	c := NewMemCatalog()
	c.db = db
	if err := c.load(); err != nil {
		db.Close()
		return nil, err
	}
	log.Infof("catalog opened in %s with %d tables", dir, len(c.byName))
	return c, nil
}

func (c *Catalog) load() error {
	return c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nextIDKey)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			val, err := item.Value()
			if err != nil {
				return err
			}
			c.nextID = binary.BigEndian.Uint64(val)
		}

		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		for iter.Seek(tablePrefix); iter.Valid(); iter.Next() {
			item := iter.Item()
			if !bytes.HasPrefix(item.Key(), tablePrefix) {
				break
			}
			val, err := item.Value()
			if err != nil {
				return err
			}
			var def TableDef
			if _, err := toml.Decode(string(val), &def); err != nil {
				return errors.Annotatef(err, "decode schema %s", item.Key())
			}
			s, err := NewSchema(def)
			if err != nil {
				return err
			}
			c.byName[strings.ToLower(def.Name)] = s
			c.byID[def.ID] = s
			if def.ID >= c.nextID {
				c.nextID = def.ID + 1
			}
		}
		return nil
	})
}

func tableKey(name string) []byte {
	return append(append([]byte(nil), tablePrefix...), strings.ToLower(name)...)
}

// EncodeDef renders def as the TOML document kept in the catalog.
func EncodeDef(def TableDef) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(def); err != nil {
		return nil, errors.Trace(err)
	}
	return buf.Bytes(), nil
}

// Create registers a table and assigns its id.
func (c *Catalog) Create(def TableDef) (*Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byName[strings.ToLower(def.Name)]; ok {
		return nil, ec.Newf(ec.DuplicateElement, "table %s already exists", def.Name)
	}
	def.ID = c.nextID
	s, err := NewSchema(def)
	if err != nil {
		return nil, err
	}
	if c.db != nil {
		doc, err := EncodeDef(def)
		if err != nil {
			return nil, err
		}
		var next [8]byte
		binary.BigEndian.PutUint64(next[:], def.ID+1)
		err = c.db.Update(func(txn *badger.Txn) error {
			if err := txn.Set(tableKey(def.Name), doc); err != nil {
				return err
			}
			return txn.Set(nextIDKey, next[:])
		})
		if err != nil {
			return nil, ec.Newf(ec.IO, "persist table %s: %v", def.Name, err)
		}
	}
	c.nextID++
	c.byName[strings.ToLower(def.Name)] = s
	c.byID[def.ID] = s
	log.Infof("catalog: created table %s (id %d)", def.Name, def.ID)
	return s, nil
}

// Drop removes a table.
func (c *Catalog) Drop(name string) (*Schema, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byName[strings.ToLower(name)]
	if !ok {
		return nil, ec.Newf(ec.NoSuchElement, "table %s not found", name)
	}
	if c.db != nil {
		err := c.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(tableKey(name))
		})
		if err != nil {
			return nil, ec.Newf(ec.IO, "drop table %s: %v", name, err)
		}
	}
	delete(c.byName, strings.ToLower(name))
	delete(c.byID, s.ID())
	log.Infof("catalog: dropped table %s (id %d)", s.Name(), s.ID())
	return s, nil
}

func (c *Catalog) Table(name string) (*Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byName[strings.ToLower(name)]
	if !ok {
		return nil, ec.Newf(ec.NoSuchElement, "table %s not found", name)
	}
	return s, nil
}

func (c *Catalog) TableByID(id uint64) (*Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	return s, ok
}

// Tables lists the schemas ordered by id.
func (c *Catalog) Tables() []*Schema {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Schema, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (c *Catalog) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
