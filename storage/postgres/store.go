// Package postgres provides a PostgreSQL audit journal for resolution
// mementos.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	stdSync "sync"
	"time"

	mergeErrors "github.com/c0deZ3R0/go-merge-kit/errors"
	"github.com/c0deZ3R0/go-merge-kit/logging"
	"github.com/c0deZ3R0/go-merge-kit/mergekit"

	// PostgreSQL driver
	_ "github.com/lib/pq"
)

const (
	opSave   = "postgres.Save"
	opGet    = "postgres.Get"
	opList   = "postgres.List"
	opDelete = "postgres.Delete"

	component = "storage/postgres"
)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("store is closed")

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config holds configuration options for the MementoStore.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	// Example: "host=localhost port=5432 user=postgres dbname=mergekit sslmode=disable"
	ConnectionString string

	// Logger defaults to the package-level logging.Default().
	Logger *logging.Logger

	// TableName is the name of the memento table. Lower case only.
	// Defaults to "resolution_mementos".
	TableName string

	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "resolution_mementos"
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig(connectionString string) *Config {
	config := &Config{ConnectionString: connectionString}
	config.setDefaults()
	return config
}

// NewWithConnectionString is a convenience constructor
func NewWithConnectionString(connectionString string) (*MementoStore, error) {
	return New(DefaultConfig(connectionString))
}

// MementoStore implements mergekit.MementoCaretaker on PostgreSQL. The full
// memento is kept as JSONB next to the columns used for filtering.
type MementoStore struct {
	db     *sql.DB
	mu     stdSync.RWMutex
	closed bool
	logger *logging.Logger
	config Config
}

var _ mergekit.MementoCaretaker = (*MementoStore)(nil)

// New connects to PostgreSQL and creates the memento table if needed.
func New(config *Config) (*MementoStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()

	if config.ConnectionString == "" {
		return nil, fmt.Errorf("ConnectionString is required")
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}

	logger := config.Logger.WithComponent(logging.Component("postgres-store"))
	logger.InfoContext(context.Background(), "Opening PostgreSQL database",
		slog.String("data_source", maskConnectionString(config.ConnectionString)),
		slog.String("table_name", config.TableName),
	)

	db, err := sql.Open("postgres", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres database: %w", err)
	}

	store := &MementoStore{db: db, logger: logger, config: *config}
	if err := config.Logger.LogOperation(context.Background(), logging.Operation("setup_schema"),
		logging.Component("postgres-store"), store.setupSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.InfoContext(context.Background(), "PostgreSQL audit journal initialized",
		slog.String("table_name", config.TableName),
		slog.Int("max_open_conns", config.MaxOpenConns),
	)
	return store, nil
}

func (s *MementoStore) setupSchema() error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    seq                 BIGSERIAL PRIMARY KEY,
    id                  TEXT NOT NULL UNIQUE,
    conflict_id         TEXT NOT NULL,
    resource_id         TEXT NOT NULL,
    user_id_1           TEXT,
    user_id_2           TEXT,
    requested_strategy  TEXT NOT NULL,
    applied_strategy    TEXT,
    success             BOOLEAN NOT NULL,
    fallback            BOOLEAN NOT NULL DEFAULT FALSE,
    recorded_at         BIGINT NOT NULL,
    payload             JSONB NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_resource_id ON %[1]s (resource_id);
CREATE INDEX IF NOT EXISTS idx_%[1]s_conflict_id ON %[1]s (conflict_id);
CREATE INDEX IF NOT EXISTS idx_%[1]s_recorded_at ON %[1]s (recorded_at);
`, s.config.TableName)
	_, err := s.db.Exec(query)
	return err
}

func (s *MementoStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save inserts m. Saving an id twice is an error.
func (s *MementoStore) Save(ctx context.Context, m *mergekit.ResolutionMemento) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.checkOpen(); err != nil {
		return err
	}
	if m == nil || m.ID == "" {
		return mergeErrors.NewValidationError(mergeErrors.OpAuditSave, fmt.Errorf("memento ID cannot be empty"))
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return mergeErrors.WrapOpComponent(err, opSave, component)
	}

	query := fmt.Sprintf(`INSERT INTO %s
        (id, conflict_id, resource_id, user_id_1, user_id_2, requested_strategy, applied_strategy, success, fallback, recorded_at, payload)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, s.config.TableName)
	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.ConflictID, m.ResourceID, m.UserID1, m.UserID2,
		string(m.RequestedStrategy), string(m.AppliedStrategy), m.Success, m.Fallback,
		m.Timestamp.UnixNano(), string(payload))
	if err != nil {
		return mergeErrors.NewStorageError(mergeErrors.OpAuditSave, mergeErrors.WrapOpComponent(err, opSave, component))
	}
	return nil
}

// Get loads one memento by id.
func (s *MementoStore) Get(ctx context.Context, id string) (*mergekit.ResolutionMemento, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var payload []byte
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1`, s.config.TableName)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, mergeErrors.WrapOpComponentKind(fmt.Errorf("%w: %s", mergekit.ErrMementoNotFound, id), opGet, component, mergeErrors.KindNotFound)
	}
	if err != nil {
		return nil, mergeErrors.NewStorageError(mergeErrors.OpAuditLoad, mergeErrors.WrapOpComponent(err, opGet, component))
	}
	return decode(payload)
}

// List returns mementos matching criteria ordered by timestamp, then id.
func (s *MementoStore) List(ctx context.Context, criteria *mergekit.MementoCriteria) ([]*mergekit.ResolutionMemento, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	q := &queryBuilder{}
	q.where(criteria)
	query := fmt.Sprintf(`SELECT payload FROM %s%s ORDER BY recorded_at, id`, s.config.TableName, q.clause())
	if criteria != nil && criteria.Limit > 0 {
		query += ` LIMIT ` + q.arg(criteria.Limit)
	}
	if criteria != nil && criteria.Offset > 0 {
		query += ` OFFSET ` + q.arg(criteria.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, q.args...)
	if err != nil {
		return nil, mergeErrors.NewStorageError(mergeErrors.OpAuditLoad, mergeErrors.WrapOpComponent(err, opList, component))
	}
	defer rows.Close()

	out := make([]*mergekit.ResolutionMemento, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, mergeErrors.WrapOpComponent(err, opList, component)
		}
		m, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, mergeErrors.WrapOpComponent(err, opList, component)
	}
	return out, nil
}

// queryBuilder numbers $n placeholders as arguments are added.
type queryBuilder struct {
	conds []string
	args  []any
}

func (q *queryBuilder) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *queryBuilder) where(c *mergekit.MementoCriteria) {
	if c == nil {
		return
	}
	if c.ConflictID != "" {
		q.conds = append(q.conds, "conflict_id = "+q.arg(c.ConflictID))
	}
	if c.ResourceID != "" {
		q.conds = append(q.conds, "resource_id = "+q.arg(c.ResourceID))
	}
	if c.UserID != "" {
		p := q.arg(c.UserID)
		q.conds = append(q.conds, fmt.Sprintf("(user_id_1 = %[1]s OR user_id_2 = %[1]s)", p))
	}
	if c.Strategy != "" {
		p := q.arg(string(c.Strategy))
		q.conds = append(q.conds, fmt.Sprintf("(requested_strategy = %[1]s OR applied_strategy = %[1]s)", p))
	}
	if c.SuccessOnly {
		q.conds = append(q.conds, "success")
	}
	if c.FromTime != nil {
		q.conds = append(q.conds, "recorded_at >= "+q.arg(c.FromTime.UnixNano()))
	}
	if c.ToTime != nil {
		q.conds = append(q.conds, "recorded_at <= "+q.arg(c.ToTime.UnixNano()))
	}
}

func (q *queryBuilder) clause() string {
	if len(q.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.conds, " AND ")
}

// Delete removes one memento.
func (s *MementoStore) Delete(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.config.TableName)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return mergeErrors.NewStorageError(mergeErrors.OpAuditSave, mergeErrors.WrapOpComponent(err, opDelete, component))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mergeErrors.WrapOpComponent(err, opDelete, component)
	}
	if n == 0 {
		return mergeErrors.WrapOpComponentKind(fmt.Errorf("%w: %s", mergekit.ErrMementoNotFound, id), opDelete, component, mergeErrors.KindNotFound)
	}
	return nil
}

// GetAuditTrail returns every memento for resourceID, oldest first.
func (s *MementoStore) GetAuditTrail(ctx context.Context, resourceID string) ([]*mergekit.ResolutionMemento, error) {
	return s.List(ctx, &mergekit.MementoCriteria{ResourceID: resourceID})
}

// Close closes the database connection.
func (s *MementoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Stats returns database statistics for monitoring
func (s *MementoStore) Stats() sql.DBStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

func decode(payload []byte) (*mergekit.ResolutionMemento, error) {
	var m mergekit.ResolutionMemento
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("failed to decode memento: %w", err)
	}
	return &m, nil
}

// maskConnectionString hides passwords in key=value and URL connection
// strings before they are logged.
func maskConnectionString(connStr string) string {
	if strings.Contains(connStr, "password=") {
		parts := strings.Split(connStr, " ")
		for i, part := range parts {
			if strings.HasPrefix(part, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	}
	if i := strings.Index(connStr, "://"); i >= 0 {
		rest := connStr[i+3:]
		at := strings.LastIndex(rest, "@")
		if colon := strings.Index(rest, ":"); at > 0 && colon >= 0 && colon < at {
			return connStr[:i+3] + rest[:colon] + ":***" + rest[at:]
		}
	}
	return connStr
}
