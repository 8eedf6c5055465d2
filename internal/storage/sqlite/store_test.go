package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/assetcheck/internal/storage"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "assetcheck.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, path
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), " ")
	assert.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Set(ctx, "testProgress_A1_P1", []byte(`{"a":1}`)))
	require.NoError(t, store.Set(ctx, "testProgress_A1_P1", []byte(`{"a":2}`)))
	require.NoError(t, store.Set(ctx, "testProgress_A2_P1", []byte(`{}`)))
	require.NoError(t, store.Set(ctx, "localTestResults", []byte(`[]`)))

	got, err := store.Get(ctx, "testProgress_A1_P1")
	require.NoError(t, err)
	assert.Equal(t, `{"a":2}`, string(got))

	keys, err := store.Keys(ctx, "testProgress_")
	require.NoError(t, err)
	assert.Equal(t, []string{"testProgress_A1_P1", "testProgress_A2_P1"}, keys)

	require.NoError(t, store.Delete(ctx, "testProgress_A1_P1"))
	_, err = store.Get(ctx, "testProgress_A1_P1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	store, path := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err, "migrations must be idempotent")
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

func TestExtractUpMigration(t *testing.T) {
	sql := "-- +migrate Up\nCREATE TABLE a(x);\n-- +migrate Down\nDROP TABLE a;"
	assert.Equal(t, "\nCREATE TABLE a(x);\n", extractUpMigration(sql))
	assert.Equal(t, "SELECT 1", extractUpMigration("SELECT 1"))
}
