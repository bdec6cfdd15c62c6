package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"permafrost-hq/permafrost/pkg/retention"
)

// SQLiteIndexStore persists the archival index in SQLite so tier
// placement survives restarts.
type SQLiteIndexStore struct {
	db         *sql.DB
	saveStmt   *sql.Stmt
	deleteStmt *sql.Stmt
}

// NewSQLiteIndexStore opens (creating if needed) the index database.
func NewSQLiteIndexStore(path string) (*SQLiteIndexStore, error) {
	if path == "" {
		return nil, fmt.Errorf("index db path cannot be empty")
	}

	db, err := sql.Open("sqlite3",
		fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteIndexStore{db: db}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize index schema: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare index statements: %w", err)
	}

	return s, nil
}

// initSchema creates the records table if it doesn't exist.
func (s *SQLiteIndexStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS archival_records (
		key TEXT PRIMARY KEY,
		kb_name TEXT NOT NULL,
		record_id TEXT NOT NULL,
		tier TEXT NOT NULL,
		archived_at INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL,
		checksum TEXT NOT NULL DEFAULT '',
		compressed INTEGER NOT NULL DEFAULT 0,
		encryption_key_handle TEXT NOT NULL DEFAULT '',
		size_bytes INTEGER NOT NULL DEFAULT 0,
		replicas INTEGER NOT NULL DEFAULT 1,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_records_kb_tier ON archival_records(kb_name, tier);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares write statements for reuse.
func (s *SQLiteIndexStore) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO archival_records
			(key, kb_name, record_id, tier, archived_at, last_accessed, checksum,
			 compressed, encryption_key_handle, size_bytes, replicas, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			tier = excluded.tier,
			last_accessed = excluded.last_accessed,
			checksum = excluded.checksum,
			compressed = excluded.compressed,
			encryption_key_handle = excluded.encryption_key_handle,
			size_bytes = excluded.size_bytes,
			replicas = excluded.replicas,
			metadata = excluded.metadata
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM archival_records WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	return nil
}

// Load returns every persisted archival record.
func (s *SQLiteIndexStore) Load() ([]*retention.ArchivalRecord, error) {
	rows, err := s.db.Query(`
		SELECT kb_name, record_id, tier, archived_at, last_accessed, checksum,
		       compressed, encryption_key_handle, size_bytes, replicas, metadata
		FROM archival_records
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load archival records: %w", err)
	}
	defer rows.Close()

	var records []*retention.ArchivalRecord
	for rows.Next() {
		var (
			record                   retention.ArchivalRecord
			archivedAt, lastAccessed int64
			tier                     string
			compressed               int
			metadata                 sql.NullString
		)

		err := rows.Scan(
			&record.KBName,
			&record.RecordID,
			&tier,
			&archivedAt,
			&lastAccessed,
			&record.Checksum,
			&compressed,
			&record.EncryptionKeyHandle,
			&record.SizeBytes,
			&record.Replicas,
			&metadata,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan archival record: %w", err)
		}

		record.Tier = retention.Tier(tier)
		record.ArchivedAt = time.Unix(0, archivedAt).UTC()
		record.LastAccessed = time.Unix(0, lastAccessed).UTC()
		record.Compressed = compressed != 0

		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &record.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode record metadata: %w", err)
			}
		}

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archival records: %w", err)
	}

	return records, nil
}

// Save persists one record, replacing any previous state.
func (s *SQLiteIndexStore) Save(record *retention.ArchivalRecord) error {
	var metadata []byte
	if len(record.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode record metadata: %w", err)
		}
	}

	compressed := 0
	if record.Compressed {
		compressed = 1
	}

	_, err := s.saveStmt.Exec(
		record.Key(),
		record.KBName,
		record.RecordID,
		string(record.Tier),
		record.ArchivedAt.UnixNano(),
		record.LastAccessed.UnixNano(),
		record.Checksum,
		compressed,
		record.EncryptionKeyHandle,
		record.SizeBytes,
		record.Replicas,
		string(metadata),
	)
	if err != nil {
		return fmt.Errorf("failed to save archival record: %w", err)
	}

	return nil
}

// Delete removes the persisted record for the key.
func (s *SQLiteIndexStore) Delete(key string) error {
	if _, err := s.deleteStmt.Exec(key); err != nil {
		return fmt.Errorf("failed to delete archival record: %w", err)
	}
	return nil
}

// Close closes the prepared statements and the database.
func (s *SQLiteIndexStore) Close() error {
	if s.saveStmt != nil {
		s.saveStmt.Close()
	}
	if s.deleteStmt != nil {
		s.deleteStmt.Close()
	}
	return s.db.Close()
}
