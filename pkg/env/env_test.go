// ABOUTME: End-to-end Environment/Database tests over an in-memory device: create, insert, commit, reopen, abort
package env

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nainya/kvengine/pkg/btree"
	"github.com/nainya/kvengine/pkg/keys"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Pagesize = 1024
	cfg.CustomDevice = "memory"
	cfg.MaxEnvDatabases = 4
	return cfg
}

func TestCreateInsertFindCommit(t *testing.T) {
	e, err := Create(filepath.Join(t.TempDir(), "mem.db"), testConfig())
	require.NoError(t, err)
	db, err := e.CreateDatabase(1, DBConfig{
		MaxKeys: btree.MaxKeysForPayload(testConfig().Pagesize-12, 21),
		Keysize: 21,
	})
	require.NoError(t, err)

	tx, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, db.Insert(tx, []byte("alpha"), []byte("value-alpha"), keys.SetOverwrite))
	require.NoError(t, e.Commit(tx))

	got, err := db.Get([]byte("alpha"), nil)
	require.NoError(t, err)
	require.Equal(t, "value-alpha", string(got))
}

func TestAbortRestoresPriorState(t *testing.T) {
	e, err := Create(filepath.Join(t.TempDir(), "mem2.db"), testConfig())
	require.NoError(t, err)
	db, err := e.CreateDatabase(1, DBConfig{
		MaxKeys: btree.MaxKeysForPayload(testConfig().Pagesize-12, 21),
		Keysize: 21,
	})
	require.NoError(t, err)

	tx1, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, db.Insert(tx1, []byte("k1"), []byte("v1"), keys.SetOverwrite))
	require.NoError(t, e.Commit(tx1))

	tx2, err := e.Begin()
	require.NoError(t, err)
	require.NoError(t, db.Insert(tx2, []byte("k2"), []byte("v2"), keys.SetOverwrite))
	require.NoError(t, e.Abort(tx2))

	got, err := db.Get([]byte("k1"), nil)
	require.NoError(t, err, "k1 should survive abort of a later txn")
	require.Equal(t, "v1", string(got))
	_, err = db.Get([]byte("k2"), nil)
	require.Error(t, err, "k2 should not exist after abort")
}

func TestStatsAndListDatabases(t *testing.T) {
	e, err := Create(filepath.Join(t.TempDir(), "mem4.db"), testConfig())
	require.NoError(t, err)
	_, err = e.CreateDatabase(1, DBConfig{
		MaxKeys: btree.MaxKeysForPayload(testConfig().Pagesize-12, 21),
		Keysize: 21,
	})
	require.NoError(t, err)

	names := e.ListDatabases()
	require.Equal(t, []uint16{1}, names)

	st, err := e.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, st.DatabaseCount)
	require.Equal(t, testConfig().Pagesize, st.Pagesize)
}

func TestSingleActiveTransaction(t *testing.T) {
	e, err := Create(filepath.Join(t.TempDir(), "mem3.db"), testConfig())
	require.NoError(t, err)
	tx1, err := e.Begin()
	require.NoError(t, err)
	_, err = e.Begin()
	require.Error(t, err, "expected second Begin to fail while one txn is open")
	require.NoError(t, e.Commit(tx1))
	_, err = e.Begin()
	require.NoError(t, err, "begin after commit should succeed")
}
