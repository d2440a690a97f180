package kv

import bolt "go.etcd.io/bbolt"

// Cursor yields (key, value) pairs borrowed from the mmap; the slices are
// only valid for the lifetime of the transaction that produced the cursor.
type Cursor struct {
	c *bolt.Cursor
}

func (c *Cursor) First() (key, value []byte) { return c.c.First() }
func (c *Cursor) Last() (key, value []byte)  { return c.c.Last() }
func (c *Cursor) Next() (key, value []byte)  { return c.c.Next() }
func (c *Cursor) Prev() (key, value []byte)  { return c.c.Prev() }

// Seek positions the cursor at the first key >= seek, supporting both
// equality and range/prefix queries for the structural index.
func (c *Cursor) Seek(seek []byte) (key, value []byte) { return c.c.Seek(seek) }

// ForEachPrefix walks every key sharing prefix, stopping on error or when fn
// returns false.
func (c *Cursor) ForEachPrefix(prefix []byte, fn func(key, value []byte) bool) {
	for k, v := c.c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.c.Next() {
		if !fn(k, v) {
			return
		}
	}
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
