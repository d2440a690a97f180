package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Every entity in this package follows the hybrid encoding: a small
// fixed-layout typed core, used by the structural and graph indexes,
// followed by an opaque length-prefixed metadata blob that no index ever
// inspects. Fields carry no tags: they are read back in the order they were
// written, and readers ignore unknown trailing bytes.
//
// The core fields use a plain positional stream of fixed-width integers and
// length-prefixed strings and byte slices instead of reflection
// or a schema-evolution library: the set of entities is fixed and small, and
// every field already has an explicit accessor method below, so a generic
// marshaler would add a dependency without removing any code.

type encoder struct{ buf bytes.Buffer }

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) putUint64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	e.buf.Write(tmp[:])
}

func (e *encoder) putInt64(v int64)     { e.putUint64(uint64(v)) }
func (e *encoder) putFloat32(v float32) { e.putUint64(uint64(math.Float32bits(v))) }

func (e *encoder) putTime(t time.Time) { e.putInt64(t.UnixNano()) }

func (e *encoder) putString(s string) {
	e.putUint64(uint64(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) putBytes(b []byte) {
	e.putUint64(uint64(len(b)))
	e.buf.Write(b)
}

func (e *encoder) putStringSlice(ss []string) {
	e.putUint64(uint64(len(ss)))
	for _, s := range ss {
		e.putString(s)
	}
}

func (e *encoder) putFloat32Slice(fs []float32) {
	e.putUint64(uint64(len(fs)))
	for _, f := range fs {
		e.putFloat32(f)
	}
}

// putMetadata appends the opaque metadata map as a length-prefixed JSON blob.
// Indexes never look inside this region.
func (e *encoder) putMetadata(meta map[string]any) error {
	if meta == nil {
		e.putBytes(nil)
		return nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	e.putBytes(data)
	return nil
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

type decoder struct {
	buf []byte
	pos int
	err error
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func (d *decoder) getUint64() uint64 {
	if d.err != nil {
		return 0
	}
	if d.pos+8 > len(d.buf) {
		d.fail(fmt.Errorf("truncated record at offset %d", d.pos))
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v
}

func (d *decoder) getInt64() int64     { return int64(d.getUint64()) }
func (d *decoder) getFloat32() float32 { return math.Float32frombits(uint32(d.getUint64())) }

func (d *decoder) getTime() time.Time {
	ns := d.getInt64()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func (d *decoder) getString() string {
	n := d.getUint64()
	if d.err != nil {
		return ""
	}
	if d.pos+int(n) > len(d.buf) {
		d.fail(fmt.Errorf("truncated string at offset %d", d.pos))
		return ""
	}
	s := string(d.buf[d.pos : d.pos+int(n)])
	d.pos += int(n)
	return s
}

func (d *decoder) getBytes() []byte {
	n := d.getUint64()
	if d.err != nil {
		return nil
	}
	if d.pos+int(n) > len(d.buf) {
		d.fail(fmt.Errorf("truncated bytes at offset %d", d.pos))
		return nil
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out
}

func (d *decoder) getStringSlice() []string {
	n := d.getUint64()
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, d.getString())
	}
	return out
}

func (d *decoder) getFloat32Slice() []float32 {
	n := d.getUint64()
	if d.err != nil || n == 0 {
		return nil
	}
	out := make([]float32, 0, n)
	for i := uint64(0); i < n; i++ {
		out = append(out, d.getFloat32())
	}
	return out
}

func (d *decoder) getMetadata() map[string]any {
	raw := d.getBytes()
	if d.err != nil || len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		d.fail(fmt.Errorf("decode metadata: %w", err))
		return nil
	}
	return m
}

// remaining reports the unread trailing bytes: future field additions are
// appended here and simply skipped by readers that predate them.
func (d *decoder) remaining() []byte {
	if d.pos >= len(d.buf) {
		return nil
	}
	return d.buf[d.pos:]
}

