// Package sqlite provides a SQLite audit journal for resolution mementos.
package sqlite

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

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

// Operation constants for consistent error reporting
const (
	opSave   = "sqlite.Save"
	opGet    = "sqlite.Get"
	opList   = "sqlite.List"
	opDelete = "sqlite.Delete"

	component = "storage/sqlite"
)

// ErrStoreClosed is returned by every operation after Close.
var ErrStoreClosed = errors.New("store is closed")

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds configuration options for the MementoStore.
//
// DefaultConfig enables WAL mode and sizes the connection pool at 25 open and
// 5 idle connections with a 1h lifetime and 5m idle time.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:audit.db"
	DataSourceName string

	// EnableWAL appends "_journal_mode=WAL" to DataSourceName. A 5s
	// "_busy_timeout" is always added unless one is already set.
	EnableWAL bool

	// Logger defaults to the package-level logging.Default().
	Logger *logging.Logger

	// TableName is the name of the memento table.
	// Defaults to "resolution_mementos" if empty.
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
	// Every connection to :memory: is a separate database.
	if strings.Contains(c.DataSourceName, ":memory:") {
		c.MaxOpenConns = 1
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
	var params []string
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		params = append(params, "_journal_mode=WAL")
	}
	if !strings.Contains(c.DataSourceName, "_busy_timeout=") {
		params = append(params, "_busy_timeout=5000")
	}
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(c.DataSourceName, "?") {
			sep = "&"
		}
		c.DataSourceName += sep + strings.Join(params, "&")
	}
}

// DefaultConfig returns a Config with production defaults for dataSourceName.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*MementoStore, error) {
	return New(DefaultConfig(dataSourceName))
}

// MementoStore implements mergekit.MementoCaretaker on SQLite. Filter
// columns are stored alongside the full memento as JSON.
type MementoStore struct {
	db        *sql.DB
	mu        stdSync.RWMutex
	closed    bool
	logger    *logging.Logger
	tableName string
}

var _ mergekit.MementoCaretaker = (*MementoStore)(nil)

// New opens the database and creates the memento table if needed.
func New(config *Config) (*MementoStore, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	config.setDefaults()

	if config.DataSourceName == "" {
		return nil, fmt.Errorf("DataSourceName is required")
	}
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, fmt.Errorf("invalid table name %q", config.TableName)
	}

	logger := config.Logger.WithComponent(logging.Component("sqlite-store"))
	logger.InfoContext(context.Background(), "Opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	store := &MementoStore{
		db:        db,
		logger:    logger,
		tableName: config.TableName,
	}
	if err := config.Logger.LogOperation(context.Background(), logging.Operation("setup_schema"),
		logging.Component("sqlite-store"), store.setupSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to setup database schema: %w", err)
	}

	logger.InfoContext(context.Background(), "SQLite audit journal initialized",
		slog.String("table_name", config.TableName),
		slog.Int("max_open_conns", config.MaxOpenConns),
	)
	return store, nil
}

func (s *MementoStore) setupSchema() error {
	query := fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %[1]s (
        seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
        id                  TEXT NOT NULL UNIQUE,
        conflict_id         TEXT NOT NULL,
        resource_id         TEXT NOT NULL,
        user_id_1           TEXT,
        user_id_2           TEXT,
        requested_strategy  TEXT NOT NULL,
        applied_strategy    TEXT,
        success             INTEGER NOT NULL,
        recorded_at         INTEGER NOT NULL,
        payload             TEXT NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_%[1]s_resource_id ON %[1]s (resource_id);
    CREATE INDEX IF NOT EXISTS idx_%[1]s_conflict_id ON %[1]s (conflict_id);
    CREATE INDEX IF NOT EXISTS idx_%[1]s_recorded_at ON %[1]s (recorded_at);
    `, s.tableName)
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
        (id, conflict_id, resource_id, user_id_1, user_id_2, requested_strategy, applied_strategy, success, recorded_at, payload)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.tableName)
	_, err = s.db.ExecContext(ctx, query,
		m.ID, m.ConflictID, m.ResourceID, m.UserID1, m.UserID2,
		string(m.RequestedStrategy), string(m.AppliedStrategy), m.Success,
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

	var payload string
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = ?`, s.tableName)
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

	where, args := buildWhere(criteria)
	query := fmt.Sprintf(`SELECT payload FROM %s%s ORDER BY recorded_at, id`, s.tableName, where)
	if criteria != nil && (criteria.Limit > 0 || criteria.Offset > 0) {
		limit := criteria.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, criteria.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mergeErrors.NewStorageError(mergeErrors.OpAuditLoad, mergeErrors.WrapOpComponent(err, opList, component))
	}
	defer rows.Close()

	out := make([]*mergekit.ResolutionMemento, 0)
	for rows.Next() {
		var payload string
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

func buildWhere(c *mergekit.MementoCriteria) (string, []any) {
	if c == nil {
		return "", nil
	}
	var conds []string
	var args []any
	if c.ConflictID != "" {
		conds = append(conds, "conflict_id = ?")
		args = append(args, c.ConflictID)
	}
	if c.ResourceID != "" {
		conds = append(conds, "resource_id = ?")
		args = append(args, c.ResourceID)
	}
	if c.UserID != "" {
		conds = append(conds, "(user_id_1 = ? OR user_id_2 = ?)")
		args = append(args, c.UserID, c.UserID)
	}
	if c.Strategy != "" {
		conds = append(conds, "(requested_strategy = ? OR applied_strategy = ?)")
		args = append(args, string(c.Strategy), string(c.Strategy))
	}
	if c.SuccessOnly {
		conds = append(conds, "success = 1")
	}
	if c.FromTime != nil {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, c.FromTime.UnixNano())
	}
	if c.ToTime != nil {
		conds = append(conds, "recorded_at <= ?")
		args = append(args, c.ToTime.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Delete removes one memento.
func (s *MementoStore) Delete(ctx context.Context, id string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, s.tableName)
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

func decode(payload string) (*mergekit.ResolutionMemento, error) {
	var m mergekit.ResolutionMemento
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("failed to decode memento: %w", err)
	}
	return &m, nil
}
