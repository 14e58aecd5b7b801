package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/storage/storetest"
)

func newTestStore(t *testing.T) ledger.Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, newTestStore)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("ledger.db")
	assert.True(t, cfg.EnableWAL)
	assert.Equal(t, 1, cfg.MaxOpenConns)

	dsn := cfg.DSN()
	assert.True(t, strings.HasPrefix(dsn, "file:ledger.db?"))
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_busy_timeout=5000")
	assert.Contains(t, dsn, "_txlock=immediate")
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(context.Background(), &Config{})
	assert.Error(t, err)

	_, err = New(context.Background(), nil)
	assert.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	store, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, store.PutStrategy(ctx, ledger.StrategyRecord{Type: record.TypeMessage, Strategy: "remote-wins"}))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetStrategy(ctx, record.TypeMessage)
	require.NoError(t, err)
	assert.Equal(t, "remote-wins", got.Strategy)
}
