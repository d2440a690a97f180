// Package kv is the thin embedded-KV foundation: a wrapper over
// go.etcd.io/bbolt (copy-on-write B+tree, mmap-backed,
// single-writer/many-readers, MVCC) that is the only package in the module
// allowed to hold a raw *bolt.DB or unsafe byte slice borrowed from the mmap.
//
// Generalized from a JSON-blob convenience wrapper into a typed
// Env/Table/Txn/Cursor API that higher layers (storage, indexing) build on
// without ever touching *bolt.DB directly.
package kv

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Options configures an Env at open time.
type Options struct {
	// MaxTables bounds the number of named tables (buckets) this environment
	// will track; bbolt itself has no such ceiling, but the coordinator uses
	// this to catch schema drift early (see storage.Coordinator).
	MaxTables int
	// SizeLimit is advisory; bbolt grows its mmap on demand, but callers use
	// this to log when an environment is approaching a size they care about.
	SizeLimit int64
	// OpenTimeout bounds how long Open waits to acquire the environment's
	// exclusive file lock.
	OpenTimeout time.Duration
	Logger      *logrus.Entry
}

func (o Options) withDefaults() Options {
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = time.Second
	}
	if o.MaxTables <= 0 {
		o.MaxTables = 32
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return o
}

// Env is a single embedded KV environment — one bbolt file, one set of named
// tables. An Env is exclusively owned by whichever Coordinator
// opened it; this package only ever hands out borrowed *Env references.
type Env struct {
	db      *bolt.DB
	path    string
	opts    Options
	log     *logrus.Entry
	readers *readTxnPool

	mu     sync.Mutex
	tables map[string]struct{}
}

// Open opens or creates a bbolt environment at path, creating parent
// directories as needed.
func Open(path string, opts Options) (*Env, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, Wrap(KindEnvOpen, "create environment directory", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.OpenTimeout})
	if err != nil {
		return nil, Wrap(KindEnvOpen, fmt.Sprintf("open environment %s", path), err)
	}

	env := &Env{
		db:      db,
		path:    path,
		opts:    opts,
		log:     opts.Logger.WithField("env", filepath.Base(path)),
		tables:  make(map[string]struct{}),
		readers: newReadTxnPool(db),
	}

	if opts.SizeLimit > 0 {
		env.log.WithField("size_limit", humanize.Bytes(uint64(opts.SizeLimit))).Debug("environment opened")
	}

	return env, nil
}

// Path returns the environment's backing file path.
func (e *Env) Path() string { return e.path }

// OpenDB returns a Table handle for name, creating the bucket if create is
// true and it does not yet exist. Table handles are cheap values; the real
// bucket lookup happens per-transaction.
func (e *Env) OpenDB(name string, create bool) (*Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tables[name]; !ok {
		if len(e.tables) >= e.opts.MaxTables {
			return nil, Invalid(fmt.Sprintf("environment %s: table limit %d exceeded", e.path, e.opts.MaxTables))
		}
		if create {
			err := e.db.Update(func(tx *bolt.Tx) error {
				_, err := tx.CreateBucketIfNotExists([]byte(name))
				return err
			})
			if err != nil {
				return nil, Wrap(KindTableOpen, fmt.Sprintf("create table %s", name), err)
			}
		} else {
			exists := false
			_ = e.db.View(func(tx *bolt.Tx) error {
				exists = tx.Bucket([]byte(name)) != nil
				return nil
			})
			if !exists {
				return nil, Wrap(KindTableOpen, fmt.Sprintf("table %s does not exist", name), nil)
			}
		}
		e.tables[name] = struct{}{}
	}

	return &Table{name: name, env: e}, nil
}

// Tables lists the currently registered table names.
func (e *Env) Tables() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.tables))
	for t := range e.tables {
		out = append(out, t)
	}
	return out
}

// Close releases the environment's file lock. Callers must ensure no
// transactions are outstanding.
func (e *Env) Close() error {
	if err := e.db.Close(); err != nil {
		return Wrap(KindOther, "close environment", err)
	}
	return nil
}

// Sync forces a durability flush.
func (e *Env) Sync() error {
	return e.db.Sync()
}

// Table is a named sub-database (bbolt bucket) scoped to one Env.
type Table struct {
	name string
	env  *Env
}

func (t *Table) Name() string { return t.name }
