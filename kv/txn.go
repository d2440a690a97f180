package kv

import (
	"context"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// ReadTxn is a borrowed read-only view into an Env. Every byte slice handed
// out by a Cursor or Table read is only valid while the ReadTxn it came from
// is still open.
type ReadTxn struct {
	tx     *bolt.Tx
	guard  *readGuard
	closed bool
}

// Table returns a read-only handle to the named bucket within this
// transaction, or NotFound if the bucket does not exist.
func (r *ReadTxn) Table(name string) (*bolt.Bucket, error) {
	b := r.tx.Bucket([]byte(name))
	if b == nil {
		return nil, NotFound("table " + name)
	}
	return b, nil
}

// Get reads a single key from table, returning a zero-copy slice valid only
// for the lifetime of this ReadTxn.
func (r *ReadTxn) Get(table, key string) ([]byte, error) {
	b, err := r.Table(table)
	if err != nil {
		return nil, err
	}
	v := b.Get([]byte(key))
	if v == nil {
		return nil, NotFound("key " + key)
	}
	return v, nil
}

// Cursor returns a zero-copy cursor over table.
func (r *ReadTxn) Cursor(table string) (*Cursor, error) {
	b, err := r.Table(table)
	if err != nil {
		return nil, err
	}
	return &Cursor{c: b.Cursor()}, nil
}

// Release returns the underlying pooled transaction. It must be called
// exactly once per BeginRead.
func (r *ReadTxn) Release() {
	if r.closed {
		return
	}
	r.closed = true
	r.guard.release()
}

// WriteTxn is a single read-write transaction. Write
// transactions on one Env are serialized by bbolt's single-writer lock; the
// coordinator never holds more than one open at a time per environment.
type WriteTxn struct {
	tx *bolt.Tx
}

func (w *WriteTxn) Table(name string) (*bolt.Bucket, error) {
	b := w.tx.Bucket([]byte(name))
	if b == nil {
		return nil, NotFound("table " + name)
	}
	return b, nil
}

func (w *WriteTxn) Put(table, key string, value []byte) error {
	b, err := w.Table(table)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(key), value); err != nil {
		return Wrap(KindOther, "put", err)
	}
	return nil
}

func (w *WriteTxn) Delete(table, key string) error {
	b, err := w.Table(table)
	if err != nil {
		return err
	}
	if err := b.Delete([]byte(key)); err != nil {
		return Wrap(KindOther, "delete", err)
	}
	return nil
}

func (w *WriteTxn) Cursor(table string) (*Cursor, error) {
	b, err := w.Table(table)
	if err != nil {
		return nil, err
	}
	return &Cursor{c: b.Cursor()}, nil
}

// BeginWrite starts a write transaction and runs fn inside it, committing on
// success and rolling back on error or panic. This is the only way to
// obtain a WriteTxn: every write must be transactional, so there is no
// bare Begin/Commit pair to forget to close.
func (e *Env) BeginWrite(fn func(*WriteTxn) error) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		return fn(&WriteTxn{tx: tx})
	})
	if err != nil {
		if _, ok := err.(*DbError); ok {
			return err
		}
		return Wrap(KindOther, "write transaction", err)
	}
	return nil
}

// BeginRead obtains a pooled read transaction for the calling logical
// operation. Repeated BeginRead calls within the same
// operation (identified by the caller's context) reuse one underlying bbolt
// read transaction, because the pool's whole point is to avoid the cost of
// opening a fresh MVCC snapshot for every lookup inside one request.
//
// Go has no true thread-local storage, so this pool keys reuse off the
// context passed in: the first BeginRead for a given ctx in a given Env opens
// a transaction and stashes a guard on a private key; subsequent calls with a
// ctx carrying that guard reuse it. The pool's epoch — and the underlying
// bbolt transaction — only advances once every outstanding guard has been
// released, matching the "bumped only when the caller explicitly releases
// all outstanding read guards" requirement.
func (e *Env) BeginRead(ctx context.Context) (*ReadTxn, error) {
	return e.readers.begin(ctx)
}

// readTxnPool implements the pooling behavior described above. It is scoped
// to one Env; the coordinator owns one pool per open tier.
type readTxnPool struct {
	db *bolt.DB
	mu sync.Mutex
	// active maps an opaque scope key (derived from context) to the guard
	// currently serving that scope.
	active map[any]*readGuard
}

func newReadTxnPool(db *bolt.DB) *readTxnPool {
	return &readTxnPool{db: db, active: make(map[any]*readGuard)}
}

type scopeKeyType struct{}

var scopeKey = scopeKeyType{}

// readGuard wraps one underlying bolt.Tx shared by every ReadTxn issued for
// the same scope, refcounted so the tx closes exactly once.
type readGuard struct {
	pool     *readTxnPool
	scope    any
	tx       *bolt.Tx
	mu       sync.Mutex
	refCount int
}

func (p *readTxnPool) begin(ctx context.Context) (*ReadTxn, error) {
	scope := ctx.Value(scopeKey)
	if scope == nil {
		// No scope registered on this context: treat it as its own scope so
		// BeginRead still works for one-off callers, it just won't share a
		// transaction with anything else.
		scope = new(int)
	}

	p.mu.Lock()
	g, ok := p.active[scope]
	if !ok {
		tx, err := p.db.Begin(false)
		if err != nil {
			p.mu.Unlock()
			return nil, Wrap(KindTxnBegin, "begin read transaction", err)
		}
		g = &readGuard{pool: p, scope: scope, tx: tx}
		p.active[scope] = g
	}
	g.mu.Lock()
	g.refCount++
	g.mu.Unlock()
	p.mu.Unlock()

	return &ReadTxn{tx: g.tx, guard: g}, nil
}

func (g *readGuard) release() {
	g.mu.Lock()
	g.refCount--
	done := g.refCount <= 0
	g.mu.Unlock()

	if !done {
		return
	}

	g.pool.mu.Lock()
	if p, ok := g.pool.active[g.scope]; ok && p == g {
		delete(g.pool.active, g.scope)
	}
	g.pool.mu.Unlock()

	_ = g.tx.Rollback()
}

// WithReadScope attaches a pooling scope to ctx so that every BeginRead call
// made with the returned context (across however many functions it is
// threaded through) shares one underlying transaction until all of their
// ReadTxn.Release calls have run.
func WithReadScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey, new(int))
}
