package hodlstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *Record {
	return &Record{
		PaymentHash:   "deadbeef",
		Preimage:      "cafebabe",
		AmountMsat:    100000,
		ExpirySec:     3600,
		Invoice:       "lnbc1...",
		PaymentSecret: "s3cr3t",
		CreatedAtMs:   1700000000000,
	}
}

func TestFileHodlStorePutGet(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileHodlStore(filepath.Join(dir, "hodl_store.json"))
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.Get("deadbeef")
	require.NoError(t, err)
	assert.Nil(t, rec)

	require.NoError(t, store.Put(testRecord()))

	got, err := store.Get("deadbeef")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cafebabe", got.Preimage)
	assert.Equal(t, uint64(100000), got.AmountMsat)
}

func TestFileHodlStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hodl_store.json")

	store, err := NewFileHodlStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(testRecord()))
	require.NoError(t, store.Close())

	reopened, err := NewFileHodlStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("deadbeef")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "lnbc1...", got.Invoice)
}

func TestFileHodlStoreOverwritesSameKey(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileHodlStore(filepath.Join(dir, "hodl_store.json"))
	require.NoError(t, err)
	defer store.Close()

	rec := testRecord()
	require.NoError(t, store.Put(rec))

	rec.PaymentSecret = "updated"
	require.NoError(t, store.Put(rec))

	got, err := store.Get("deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "updated", got.PaymentSecret)
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Contains(t, path, ".thunder-swap")
	assert.Contains(t, path, "hodl_store.json")
}
