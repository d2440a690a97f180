package kv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestEnv(t *testing.T) *Env {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	env, err := Open(path, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestOpenCreatesTable(t *testing.T) {
	env := openTestEnv(t)
	tbl, err := env.OpenDB("widgets", true)
	require.NoError(t, err)
	assert.Equal(t, "widgets", tbl.Name())
	assert.Contains(t, env.Tables(), "widgets")
}

func TestOpenMissingTableWithoutCreate(t *testing.T) {
	env := openTestEnv(t)
	_, err := env.OpenDB("nope", false)
	require.Error(t, err)
	var dbErr *DbError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, KindTableOpen, dbErr.Kind)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	env := openTestEnv(t)
	_, err := env.OpenDB("widgets", true)
	require.NoError(t, err)

	err = env.BeginWrite(func(tx *WriteTxn) error {
		return tx.Put("widgets", "a", []byte("hello"))
	})
	require.NoError(t, err)

	rtx, err := env.BeginRead(context.Background())
	require.NoError(t, err)
	defer rtx.Release()

	v, err := rtx.Get("widgets", "a")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(v))
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	env := openTestEnv(t)
	_, err := env.OpenDB("widgets", true)
	require.NoError(t, err)

	rtx, err := env.BeginRead(context.Background())
	require.NoError(t, err)
	defer rtx.Release()

	_, err = rtx.Get("widgets", "missing")
	var dbErr *DbError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, KindNotFound, dbErr.Kind)
}

func TestReadScopeSharesUnderlyingTransaction(t *testing.T) {
	env := openTestEnv(t)
	_, err := env.OpenDB("widgets", true)
	require.NoError(t, err)
	require.NoError(t, env.BeginWrite(func(tx *WriteTxn) error {
		return tx.Put("widgets", "a", []byte("1"))
	}))

	ctx := WithReadScope(context.Background())

	rtx1, err := env.BeginRead(ctx)
	require.NoError(t, err)
	rtx2, err := env.BeginRead(ctx)
	require.NoError(t, err)

	assert.Same(t, rtx1.tx, rtx2.tx, "calls sharing a read scope must reuse one bbolt transaction")

	rtx1.Release()
	rtx2.Release()

	// A fresh scope must not reuse the released transaction.
	rtx3, err := env.BeginRead(WithReadScope(context.Background()))
	require.NoError(t, err)
	defer rtx3.Release()
	assert.NotSame(t, rtx1.tx, rtx3.tx)
}

func TestCursorForEachPrefix(t *testing.T) {
	env := openTestEnv(t)
	_, err := env.OpenDB("idx", true)
	require.NoError(t, err)
	require.NoError(t, env.BeginWrite(func(tx *WriteTxn) error {
		for _, k := range []string{"p:1", "p:2", "q:1"} {
			if err := tx.Put("idx", k, []byte(k)); err != nil {
				return err
			}
		}
		return nil
	}))

	rtx, err := env.BeginRead(context.Background())
	require.NoError(t, err)
	defer rtx.Release()

	cur, err := rtx.Cursor("idx")
	require.NoError(t, err)

	var got []string
	cur.ForEachPrefix([]byte("p:"), func(k, v []byte) bool {
		got = append(got, string(k))
		return true
	})
	assert.Equal(t, []string{"p:1", "p:2"}, got)
}
