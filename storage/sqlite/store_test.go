package sqlite

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mergeErrors "github.com/c0deZ3R0/go-merge-kit/errors"
	"github.com/c0deZ3R0/go-merge-kit/logging"
	"github.com/c0deZ3R0/go-merge-kit/mergekit"
	"github.com/c0deZ3R0/go-merge-kit/mergekit/caretakertest"
)

func newTestStore(t *testing.T) *MementoStore {
	t.Helper()
	store, err := New(&Config{
		DataSourceName: filepath.Join(t.TempDir(), "audit.db"),
		EnableWAL:      true,
		Logger:         logging.NewDiscardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMementoStoreContract(t *testing.T) {
	caretakertest.Run(t, func(t *testing.T) mergekit.MementoCaretaker {
		return newTestStore(t)
	})
}

func TestConfigDefaults(t *testing.T) {
	c := DefaultConfig("file:audit.db")
	assert.Equal(t, "resolution_mementos", c.TableName)
	assert.Equal(t, "file:audit.db?_journal_mode=WAL&_busy_timeout=5000", c.DataSourceName)
	assert.Equal(t, 25, c.MaxOpenConns)
	assert.Equal(t, 5, c.MaxIdleConns)

	mem := &Config{DataSourceName: ":memory:"}
	mem.setDefaults()
	assert.Equal(t, 1, mem.MaxOpenConns)

	withQuery := &Config{DataSourceName: "file:a.db?cache=shared", EnableWAL: true}
	withQuery.setDefaults()
	assert.Equal(t, "file:a.db?cache=shared&_journal_mode=WAL&_busy_timeout=5000", withQuery.DataSourceName)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)

	_, err = New(&Config{DataSourceName: ":memory:", TableName: "audit; DROP TABLE x"})
	assert.Error(t, err)
}

func TestInMemoryDatabase(t *testing.T) {
	store, err := New(&Config{DataSourceName: ":memory:", Logger: logging.NewDiscardLogger()})
	require.NoError(t, err)
	defer store.Close()

	caretakertest.Seed(t, store)
	all, err := store.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestSchemaSetupLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewLogger(logging.Config{Level: "debug", Format: "json", Output: &buf})
	store, err := New(&Config{DataSourceName: ":memory:", Logger: logger})
	require.NoError(t, err)
	defer store.Close()

	out := buf.String()
	assert.Contains(t, out, `"operation":"setup_schema"`)
	assert.Contains(t, out, `"component":"sqlite-store"`)
	assert.Contains(t, out, "operation completed")
}

func TestSaveDuplicateID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	m := &mergekit.ResolutionMemento{ID: "dup", ConflictID: "c", ResourceID: "r", RequestedStrategy: mergekit.StrategyManual}
	require.NoError(t, store.Save(ctx, m))

	err := store.Save(ctx, m)
	require.Error(t, err)
	assert.Equal(t, mergeErrors.ErrCodeStorageFailure, mergeErrors.CodeOf(err))
	assert.True(t, mergeErrors.IsRetryable(err))
}

func TestNotFoundKind(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.Equal(t, mergeErrors.KindNotFound, mergeErrors.KindOf(err))
	assert.True(t, errors.Is(err, mergekit.ErrMementoNotFound))
}

func TestClosedStore(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Save(ctx, &mergekit.ResolutionMemento{ID: "x"}), ErrStoreClosed)
	_, err := store.Get(ctx, "x")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.List(ctx, nil)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, store.Delete(ctx, "x"), ErrStoreClosed)
	assert.Zero(t, store.Stats().OpenConnections)
}

func TestRegistryAuditTrailOnSQLite(t *testing.T) {
	store := newTestStore(t)
	r, err := mergekit.NewRegistry(
		mergekit.WithCaretaker(store),
		mergekit.WithLogger(logging.NewDiscardLogger()),
	)
	require.NoError(t, err)

	ctx := context.Background()
	base := "a\nb\nc"
	c, err := r.DetectConflict(ctx, mergekit.DetectRequest{
		ResourceID:   "notes.txt",
		ResourceType: mergekit.ResourceFile,
		Base:         &base,
		Ours:         "a\nX\nc",
		Theirs:       "a\nb\nY",
		UserID1:      "alice",
		UserID2:      "bob",
	})
	require.NoError(t, err)
	require.NotNil(t, c)

	trail, err := r.AuditTrail(ctx, "notes.txt")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.True(t, trail[0].AutoResolution)
	assert.True(t, trail[0].Success)
	assert.Equal(t, "a\nX\nY", trail[0].AfterState.Resolution)
}

func TestConcurrentSaves(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.Save(ctx, &mergekit.ResolutionMemento{
				ID:                mergekit.NewMementoID(),
				ConflictID:        "c",
				ResourceID:        "shared.txt",
				RequestedStrategy: mergekit.StrategyAcceptOurs,
				Attempt:           i,
				Timestamp:         time.Now(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	trail, err := store.GetAuditTrail(ctx, "shared.txt")
	require.NoError(t, err)
	assert.Len(t, trail, 40)
}
