package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/storage/storetest"
)

const dsnEnv = "SYNCLEDGER_TEST_POSTGRES_DSN"

func TestStoreContract(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	storetest.Run(t, func(t *testing.T) ledger.Store {
		ctx := context.Background()
		store, err := Open(ctx, dsn)
		require.NoError(t, err)
		_, err = store.DB().ExecContext(ctx, `TRUNCATE conflicts, merge_strategies, sync_log`)
		require.NoError(t, err)
		return store
	})
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2 LIMIT $3",
		Rebind("SELECT a FROM t WHERE x = ? AND y = ? LIMIT ?"))
	assert.Equal(t, "SELECT 1", Rebind("SELECT 1"))
}

func TestMaskConnectionString(t *testing.T) {
	masked := maskConnectionString("postgres://ledger:secret@db:5432/ledger")
	assert.NotContains(t, masked, "secret")
	assert.Contains(t, masked, "db:5432/ledger")
	assert.Equal(t, "host=db password=*** dbname=ledger", maskConnectionString("host=db password=secret dbname=ledger"))
	assert.Equal(t, "postgres://db/ledger", maskConnectionString("postgres://db/ledger"))
}

func TestNewRequiresConnectionString(t *testing.T) {
	_, err := New(context.Background(), &Config{})
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://db/ledger")
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
}
