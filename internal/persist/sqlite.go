package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/UynajGI/yuusim/internal/compress"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS snapshots (
	run_id      TEXT PRIMARY KEY,
	project     TEXT NOT NULL,
	config_hash TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	tasks       INTEGER NOT NULL,
	compression TEXT NOT NULL,
	checksum    TEXT NOT NULL,
	payload     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_project ON snapshots(project, created_at DESC);
`

// SQLiteStore keeps every snapshot in one SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	alg compress.Algorithm
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string, alg compress.Algorithm) (*SQLiteStore, error) {
	if alg == "" {
		alg = compress.Zstd
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &SQLiteStore{db: db, alg: alg}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, project string, snap *Snapshot) error {
	payload, err := encode(snap, s.alg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots
			(run_id, project, config_hash, created_at, tasks, compression, checksum, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.RunID, project, snap.ConfigHash, snap.CreatedAt.UnixNano(),
		len(snap.Tasks), string(s.alg), checksum(payload), payload,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, project string) (*Snapshot, error) {
	var (
		alg     string
		sum     string
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT compression, checksum, payload FROM snapshots
		WHERE project = ?
		ORDER BY created_at DESC LIMIT 1`, project,
	).Scan(&alg, &sum, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, project)
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}

	if got := checksum(payload); got != sum {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrChecksum, sum, got)
	}
	return decode(compress.Algorithm(alg), payload)
}

func (s *SQLiteStore) List(ctx context.Context, project string) ([]Meta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, config_hash, created_at, tasks, compression, length(payload)
		FROM snapshots WHERE project = ?
		ORDER BY created_at DESC`, project)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	metas := make([]Meta, 0)
	for rows.Next() {
		var (
			m       Meta
			created int64
			alg     string
		)
		if err := rows.Scan(&m.RunID, &m.ConfigHash, &created, &m.Tasks, &alg, &m.Size); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		m.Project = project
		m.CreatedAt = time.Unix(0, created).UTC()
		m.Compression = compress.Algorithm(alg)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes every snapshot of project.
func (s *SQLiteStore) Delete(ctx context.Context, project string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE project = ?`, project)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
