package postgres

import (
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-merge-kit/logging"
	"github.com/c0deZ3R0/go-merge-kit/mergekit"
	"github.com/c0deZ3R0/go-merge-kit/mergekit/caretakertest"
)

var tableSeq atomic.Int64

// newTestStore connects to POSTGRES_TEST_CONNECTION and creates a fresh
// table that is dropped when the test ends.
func newTestStore(t *testing.T) *MementoStore {
	t.Helper()
	connStr := os.Getenv("POSTGRES_TEST_CONNECTION")
	if connStr == "" {
		t.Skip("POSTGRES_TEST_CONNECTION not set")
	}

	table := fmt.Sprintf("mementos_test_%d_%d", os.Getpid(), tableSeq.Add(1))
	store, err := New(&Config{
		ConnectionString: connStr,
		TableName:        table,
		Logger:           logging.NewDiscardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = store.db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s", table))
		store.Close()
	})
	return store
}

func TestMementoStoreContract(t *testing.T) {
	caretakertest.Run(t, func(t *testing.T) mergekit.MementoCaretaker {
		return newTestStore(t)
	})
}

func TestConfigDefaults(t *testing.T) {
	c := DefaultConfig("host=localhost")
	assert.Equal(t, "resolution_mementos", c.TableName)
	assert.Equal(t, 25, c.MaxOpenConns)
	assert.Equal(t, time.Hour, c.ConnMaxLifetime)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err)

	_, err = New(&Config{ConnectionString: "host=localhost", TableName: "Mementos"})
	assert.Error(t, err)
}

func TestMaskConnectionString(t *testing.T) {
	tests := map[string]string{
		"host=db user=app password=hunter2 dbname=x": "host=db user=app password=*** dbname=x",
		"postgres://app:hunter2@db:5432/x":            "postgres://app:***@db:5432/x",
		"postgres://db:5432/x":                        "postgres://db:5432/x",
		"host=db":                                     "host=db",
	}
	for in, want := range tests {
		assert.Equal(t, want, maskConnectionString(in), in)
	}
}

func TestQueryBuilder(t *testing.T) {
	from := time.Unix(0, 100)
	q := &queryBuilder{}
	q.where(&mergekit.MementoCriteria{
		ResourceID:  "a.txt",
		UserID:      "bob",
		Strategy:    mergekit.StrategyManual,
		SuccessOnly: true,
		FromTime:    &from,
	})
	assert.Equal(t,
		" WHERE resource_id = $1 AND (user_id_1 = $2 OR user_id_2 = $2) AND (requested_strategy = $3 OR applied_strategy = $3) AND success AND recorded_at >= $4",
		q.clause())
	assert.Equal(t, []any{"a.txt", "bob", "manual", int64(100)}, q.args)
	assert.Equal(t, "$5", q.arg(10))

	empty := &queryBuilder{}
	empty.where(nil)
	assert.Empty(t, empty.clause())
}
