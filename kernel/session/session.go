// Package session tracks the transaction each client session has open and
// lets procedure host calls find it by xid.
package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/mudu-db/mudu/kernel/ec"
	"github.com/mudu-db/mudu/kernel/engine"
	"github.com/mudu-db/mudu/log"
	"github.com/sasha-s/go-deadlock"
)

// Context is the transaction-scoped state of a session: the transaction and
// the cursors of its open result sets.
type Context struct {
	Session uuid.UUID
	Txn     *engine.Txn

	mu         sync.Mutex
	cursors    map[uint64]*engine.ResultSet
	nextCursor uint64
}

func (c *Context) Xid() uint64 { return c.Txn.Xid() }

// OpenCursor keeps rs until it is closed or the transaction ends.
func (c *Context) OpenCursor(rs *engine.ResultSet) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextCursor++
	c.cursors[c.nextCursor] = rs
	return c.nextCursor
}

func (c *Context) Cursor(id uint64) (*engine.ResultSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rs, ok := c.cursors[id]
	if !ok {
		return nil, ec.Newf(ec.NoSuchElement, "no cursor %d in transaction %d", id, c.Txn.Xid())
	}
	return rs, nil
}

func (c *Context) CloseCursor(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, id)
}

// Registry maps running xids to their contexts.
type Registry struct {
	mu       deadlock.RWMutex
	contexts map[uint64]*Context
}

func NewRegistry() *Registry {
	return &Registry{contexts: make(map[uint64]*Context)}
}

// Begin starts a transaction on e for session and registers its context.
func (r *Registry) Begin(e *engine.Engine, session uuid.UUID) *Context {
	c := &Context{
		Session: session,
		Txn:     e.Begin(),
		cursors: make(map[uint64]*engine.ResultSet),
	}
	r.mu.Lock()
	r.contexts[c.Xid()] = c
	r.mu.Unlock()
	return c
}

func (r *Registry) Lookup(xid uint64) (*Context, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contexts[xid]
	if !ok {
		return nil, ec.Newf(ec.NoSuchElement, "no transaction %d", xid)
	}
	return c, nil
}

// End unregisters xid. Committing or rolling back is up to the caller.
func (r *Registry) End(xid uint64) (*Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[xid]
	if !ok {
		return nil, ec.Newf(ec.NoSuchElement, "no transaction %d", xid)
	}
	delete(r.contexts, xid)
	return c, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.contexts)
}

// Session is one client. It has at most one transaction in flight.
type Session struct {
	ID uuid.UUID

	registry *Registry
	engine   *engine.Engine

	mu      sync.Mutex
	current *Context
}

func New(registry *Registry, e *engine.Engine) *Session {
	return &Session{ID: uuid.New(), registry: registry, engine: e}
}

func (s *Session) Engine() *engine.Engine { return s.engine }

func (s *Session) Registry() *Registry { return s.registry }

// Begin opens the session's transaction.
func (s *Session) Begin() (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, ec.Newf(ec.TxErr, "session %s already runs transaction %d", s.ID, s.current.Xid())
	}
	s.current = s.registry.Begin(s.engine, s.ID)
	return s.current, nil
}

// Current is the open transaction, or nil.
func (s *Session) Current() *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) end() (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.current
	if c == nil {
		return nil, ec.Newf(ec.TxErr, "session %s has no transaction", s.ID)
	}
	s.current = nil
	if _, err := s.registry.End(c.Xid()); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Session) Commit(ctx context.Context) error {
	c, err := s.end()
	if err != nil {
		return err
	}
	return c.Txn.Commit(ctx)
}

func (s *Session) Rollback() error {
	c, err := s.end()
	if err != nil {
		return err
	}
	return c.Txn.Rollback()
}

// Close rolls back the open transaction, if any.
func (s *Session) Close() {
	if s.Current() == nil {
		return
	}
	if err := s.Rollback(); err != nil {
		log.Warnf("session %s: rollback on close: %v", s.ID, err)
	}
}
