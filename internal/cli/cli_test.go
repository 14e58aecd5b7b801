package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/ledger"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/metrics"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/reconcile"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/remote"
	"github.com/nawedy/Lena-Social-Ecosystem-sub004/storage/sqlite"
)

func init() {
	color.NoColor = true
}

func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"SYNCLEDGER_DB", "SYNCLEDGER_DB_DRIVER", "SYNCLEDGER_REMOTE_KIND",
		"SYNCLEDGER_REMOTE_URL", "SYNCLEDGER_REMOTE_TOKEN", "SYNCLEDGER_MAX_RETRIES",
		"ENVIRONMENT", "LOG_LEVEL", "LOG_FORMAT", "LOG_ADD_SOURCE",
	} {
		t.Setenv(k, "")
	}
}

func newDB(t *testing.T) string {
	t.Helper()
	isolateEnv(t)
	return filepath.Join(t.TempDir(), "ledger.db")
}

// seed runs fn against a service over dbPath and closes it before the CLI
// opens the same file.
func seed(t *testing.T, dbPath string, fn func(ctx context.Context, svc *reconcile.Service)) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	svc, err := reconcile.New(store, remote.NewMemory())
	require.NoError(t, err)
	defer svc.Close()
	require.NoError(t, svc.LoadStrategies(ctx))
	fn(ctx, svc)
}

func seedProfileConflict(t *testing.T, dbPath string) string {
	t.Helper()
	var id string
	seed(t, dbPath, func(ctx context.Context, svc *reconcile.Service) {
		now := time.Now().UTC()
		c, err := svc.RecordConflict(ctx, "u1",
			&record.Profile{ID: "u1", DisplayName: "Alice", UpdatedAt: now},
			&record.Profile{ID: "u1", DisplayName: "Alicia", UpdatedAt: now.Add(-time.Hour)},
			record.TypeProfile)
		require.NoError(t, err)
		id = c.ID
	})
	return id
}

func seedMessageConflict(t *testing.T, dbPath string) string {
	t.Helper()
	var id string
	seed(t, dbPath, func(ctx context.Context, svc *reconcile.Service) {
		c, err := svc.RecordConflict(ctx, "m1",
			&record.Message{ID: "m1", Text: "local", Status: record.StatusSent},
			&record.Message{ID: "m1", Text: "remote", Status: record.StatusDelivered},
			record.TypeMessage)
		require.NoError(t, err)
		id = c.ID
	})
	return id
}

func execute(args ...string) (string, error) {
	return executeContext(context.Background(), args...)
}

func executeContext(ctx context.Context, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func decodeData(t *testing.T, out string, v interface{}) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestInvalidFormat(t *testing.T) {
	db := newDB(t)
	_, err := execute("pending", "--db", db, "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestPendingEmpty(t *testing.T) {
	db := newDB(t)
	out, err := execute("pending", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No conflicts found.")
}

func TestPendingAndShow(t *testing.T) {
	db := newDB(t)
	id := seedProfileConflict(t, db)

	out, err := execute("pending", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "displayName")

	out, err = execute("pending", "--db", db, "--format", "json")
	require.NoError(t, err)
	var views []ConflictView
	decodeData(t, out, &views)
	require.Len(t, views, 1)
	assert.Equal(t, "profile", views[0].Type)
	assert.Equal(t, "pending", views[0].Status)

	out, err = execute("show", id, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, `"displayName":"Alice"`)
	assert.Contains(t, out, `"displayName":"Alicia"`)

	_, err = execute("show", "missing", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute("pending", "--db", db, "--status", "bogus")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestResolveQueuesWhileOffline(t *testing.T) {
	db := newDB(t)
	id := seedProfileConflict(t, db)

	out, err := execute("resolve", id, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "resolved with merged")
	assert.Contains(t, out, "queued for replay")

	out, err = execute("resolve", id, "--db", db, "--format", "json")
	require.NoError(t, err)
	var view ResolutionView
	decodeData(t, out, &view)
	assert.Equal(t, "already_resolved", view.Outcome)

	out, err = execute("log", "--db", db, "--format", "json")
	require.NoError(t, err)
	var entries []SyncEntryView
	decodeData(t, out, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ConflictID)
	assert.Equal(t, "pending", entries[0].Status)
	assert.Equal(t, 1, entries[0].RetryCount)

	_, err = execute("retry", entries[0].ID, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestResolveAll(t *testing.T) {
	db := newDB(t)
	seedProfileConflict(t, db)
	seedMessageConflict(t, db)

	out, err := execute("resolve", "--all", "--db", db, "--format", "json")
	require.NoError(t, err)
	var sum reconcile.Summary
	decodeData(t, out, &sum)
	assert.Equal(t, reconcile.Summary{Attempted: 2, Resolved: 2, Unreplicated: 2}, sum)

	_, err = execute("resolve", "--db", db)
	require.Error(t, err)
}

func TestManualStrategyAndChoose(t *testing.T) {
	db := newDB(t)
	id := seedMessageConflict(t, db)

	_, err := execute("strategy", "set", "message", "manual", "--db", db)
	require.NoError(t, err)

	out, err := execute("resolve", id, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "needs a manual decision")

	_, err = execute("choose", id, "--use", "newest", "--db", db)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute("choose", id, "--use", "merged", "--db", db)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	merged := writeFile(t, "merged.json", `{"id":"m1","text":"both","status":"delivered","sentAt":"2026-01-01T00:00:00Z"}`)
	out, err = execute("choose", id, "--use", "merged", "--merged", merged, "--db", db, "--format", "json")
	require.NoError(t, err)
	var view ResolutionView
	decodeData(t, out, &view)
	assert.Equal(t, "resolved", view.Outcome)
	assert.Equal(t, "merged", view.Conflict.Resolution)

	_, err = execute("choose", id, "--use", "local", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestStrategyListAndSet(t *testing.T) {
	db := newDB(t)

	out, err := execute("strategy", "list", "--db", db, "--format", "json")
	require.NoError(t, err)
	var views []StrategyView
	decodeData(t, out, &views)
	require.Len(t, views, 4)
	assert.Equal(t, "media", views[0].Type)
	assert.Equal(t, "local-wins", views[0].Strategy)

	_, err = execute("strategy", "set", "post", "local-wins", "--db", db)
	require.NoError(t, err)
	out, err = execute("strategy", "list", "--db", db)
	require.NoError(t, err)
	assert.Regexp(t, `post\s+local-wins`, out)

	_, err = execute("strategy", "set", "story", "local-wins", "--db", db)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute("strategy", "set", "message", "custom", "--db", db)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute("strategy", "set", "media", "local-wins", "--resolver", "post-merge", "--db", db)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigFileStrategies(t *testing.T) {
	db := newDB(t)
	cfg := writeFile(t, "ledger.yaml", "store:\n  dsn: "+db+"\nstrategies:\n  message:\n    strategy: local-wins\n")

	out, err := execute("strategy", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Regexp(t, `message\s+local-wins`, out)

	_, err = execute("pending", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayAndLogEmpty(t *testing.T) {
	db := newDB(t)

	out, err := execute("replay", "--db", db, "--retry-failed")
	require.NoError(t, err)
	assert.Contains(t, out, "attempted 0")

	out, err = execute("log", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Sync log is empty.")
}

func TestDetect(t *testing.T) {
	db := newDB(t)
	local := writeFile(t, "local.json", `{"id":"u1","displayName":"Alice","description":"","avatar":""}`)
	remote := writeFile(t, "remote.json", `{"id":"u1","displayName":"Alicia","description":"","avatar":""}`)

	out, err := execute("detect", "--type", "profile", local, local, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "no conflict")

	out, err = execute("detect", "--type", "profile", local, remote, "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "displayName")

	bad := writeFile(t, "bad.json", `{"id":`)
	_, err = execute("detect", "--type", "profile", local, bad, "--db", db)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = execute("detect", "--type", "story", local, remote, "--db", db)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err = execute("detect", "--type", "profile", "--record", "u1", local, remote, "--db", db, "--format", "json")
	require.NoError(t, err)
	var view DetectView
	decodeData(t, out, &view)
	assert.Equal(t, "conflict", view.Outcome)
	require.NotNil(t, view.Conflict)

	out, err = execute("pending", "--db", db, "--format", "json")
	require.NoError(t, err)
	var pending []ConflictView
	decodeData(t, out, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, view.Conflict.ID, pending[0].ID)
	assert.Equal(t, string(ledger.ConflictPending), pending[0].Status)
}

func TestReplayWatch(t *testing.T) {
	db := newDB(t)

	_, err := execute("replay", "--db", db, "--metrics-addr", "127.0.0.1:0")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := executeContext(ctx, "replay", "--db", db, "--watch", "--metrics-addr", "127.0.0.1:0")
	require.NoError(t, err)
	assert.Contains(t, out, "attempted 0")
	assert.Contains(t, out, "serving metrics on http://127.0.0.1:")
	assert.Contains(t, out, "replaying every 30s until interrupted")
}

func TestMetricsHandler(t *testing.T) {
	m := metrics.NewMemory()
	m.RecordConflict("post")
	srv := httptest.NewServer(metricsHandler(m))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var snap metrics.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, int64(1), snap.ConflictsByType["post"])

	resp, err = http.Get(srv.URL + "/other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
