package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"permafrost-hq/permafrost/pkg/retention"
)

// SQLiteConfig configures the durable SQLite event log.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite log configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:        "data/retention-events.db",
		BusyTimeout: 5 * time.Second,
	}
}

// SQLiteLog implements Log using SQLite in WAL mode. The table is
// insert-only; no update or delete statement exists anywhere in this
// package, which keeps the append-only guarantee structural.
type SQLiteLog struct {
	db         *sql.DB
	logger     *slog.Logger
	appendStmt *sql.Stmt
}

// NewSQLiteLog opens (creating if needed) the durable event log.
func NewSQLiteLog(config *SQLiteConfig) (*SQLiteLog, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, fmt.Errorf("event log db path cannot be empty")
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		config.Path, int(config.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	l := &SQLiteLog{
		db:     db,
		logger: slog.Default().With("component", "retention.audit.sqlite"),
	}

	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize event log schema: %w", err)
	}
	if err := l.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare event log statements: %w", err)
	}

	return l, nil
}

// initSchema creates the events table if it doesn't exist.
func (l *SQLiteLog) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS retention_events (
		id TEXT PRIMARY KEY,
		timestamp INTEGER NOT NULL,
		action TEXT NOT NULL,
		kb_name TEXT NOT NULL DEFAULT '',
		affected_records INTEGER NOT NULL DEFAULT 0,
		performed_by TEXT NOT NULL DEFAULT '',
		approved INTEGER NOT NULL DEFAULT 0,
		approved_by TEXT NOT NULL DEFAULT '',
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_events_timestamp ON retention_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_kb ON retention_events(kb_name);
	CREATE INDEX IF NOT EXISTS idx_events_action ON retention_events(action);
	`

	_, err := l.db.Exec(schema)
	return err
}

// prepareStatements prepares the append statement for reuse.
func (l *SQLiteLog) prepareStatements() error {
	var err error

	l.appendStmt, err = l.db.Prepare(`
		INSERT INTO retention_events
			(id, timestamp, action, kb_name, affected_records, performed_by, approved, approved_by, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append statement: %w", err)
	}

	return nil
}

// Append records one retention event.
func (l *SQLiteLog) Append(ctx context.Context, event *retention.Event) error {
	stamp(event)

	var metadata []byte
	if len(event.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
	}

	approved := 0
	if event.Approved {
		approved = 1
	}

	_, err := l.appendStmt.ExecContext(ctx,
		event.ID,
		event.Timestamp.UnixNano(),
		string(event.Action),
		event.KBName,
		event.AffectedRecords,
		event.PerformedBy,
		approved,
		event.ApprovedBy,
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to append retention event: %w", err)
	}

	return nil
}

// Query returns matching events, newest first.
func (l *SQLiteLog) Query(ctx context.Context, query *Query) ([]*retention.Event, error) {
	where, args := buildWhere(query)

	stmt := `
		SELECT id, timestamp, action, kb_name, affected_records, performed_by, approved, approved_by, metadata
		FROM retention_events` + where + `
		ORDER BY timestamp DESC`
	if query != nil && query.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query retention events: %w", err)
	}
	defer rows.Close()

	var results []*retention.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read retention events: %w", err)
	}

	return results, nil
}

// Count returns the number of matching events.
func (l *SQLiteLog) Count(ctx context.Context, query *Query) (int64, error) {
	where, args := buildWhere(query)

	var count int64
	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM retention_events"+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count retention events: %w", err)
	}

	return count, nil
}

// Close closes the prepared statements and the database.
func (l *SQLiteLog) Close() error {
	if l.appendStmt != nil {
		l.appendStmt.Close()
	}
	return l.db.Close()
}

// buildWhere translates a Query into a WHERE clause and bind args.
func buildWhere(query *Query) (string, []interface{}) {
	if query == nil {
		return "", nil
	}

	var conditions []string
	var args []interface{}

	if query.KBName != "" {
		conditions = append(conditions, "kb_name = ?")
		args = append(args, query.KBName)
	}
	if query.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, string(query.Action))
	}
	if query.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, query.StartTime.UnixNano())
	}
	if query.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, query.EndTime.UnixNano())
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// scanEvent reads one event row.
func scanEvent(rows *sql.Rows) (*retention.Event, error) {
	var (
		event     retention.Event
		timestamp int64
		action    string
		approved  int
		metadata  sql.NullString
	)

	err := rows.Scan(
		&event.ID,
		&timestamp,
		&action,
		&event.KBName,
		&event.AffectedRecords,
		&event.PerformedBy,
		&approved,
		&event.ApprovedBy,
		&metadata,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan retention event: %w", err)
	}

	event.Timestamp = time.Unix(0, timestamp).UTC()
	event.Action = retention.Action(action)
	event.Approved = approved != 0

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode event metadata: %w", err)
		}
	}

	return &event, nil
}
