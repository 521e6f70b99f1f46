package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Archive keeps violation events that aged out of Redis in a local SQLite
// database, for audits that need more than the retention horizon.
type Archive struct {
	db        *sql.DB
	path      string
	closeOnce sync.Once

	insertStmt *sql.Stmt
	countStmt  *sql.Stmt
}

// ArchiveConfig configures an Archive.
type ArchiveConfig struct {
	// Path is the SQLite database file.
	Path string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// OpenArchive opens or creates the archive at path.
func OpenArchive(cfg ArchiveConfig) (*Archive, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("archive path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	a := &Archive{db: db, path: cfg.Path}

	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize archive schema: %w", err)
	}
	if err := a.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare archive statements: %w", err)
	}

	return a, nil
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS violation_events (
		nonce TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		tier TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		archived_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_violation_user ON violation_events(user_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_violation_kind ON violation_events(kind, occurred_at);
	`

	_, err := a.db.Exec(schema)
	return err
}

func (a *Archive) prepareStatements() error {
	var err error

	// Re-archiving the same event after a partially failed prune is a no-op.
	a.insertStmt, err = a.db.Prepare(`
		INSERT INTO violation_events (nonce, user_id, kind, tier, occurred_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (nonce) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	a.countStmt, err = a.db.Prepare(`
		SELECT COUNT(*) FROM violation_events
		WHERE user_id = ? AND occurred_at >= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare count statement: %w", err)
	}

	return nil
}

// Store writes events in a single transaction and returns how many were new.
func (a *Archive) Store(ctx context.Context, events []Event) (int64, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := tx.StmtContext(ctx, a.insertStmt)
	now := time.Now().UnixMilli()

	var inserted int64
	for _, ev := range events {
		res, err := stmt.ExecContext(ctx, ev.Nonce, ev.UserID, ev.Kind, ev.Tier, ev.Timestamp.UnixMilli(), now)
		if err != nil {
			return 0, fmt.Errorf("failed to archive event %s: %w", ev.Nonce, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit archive: %w", err)
	}
	return inserted, nil
}

// CountSince returns how many archived events userID has at or after since.
func (a *Archive) CountSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	if err := a.countStmt.QueryRowContext(ctx, userID, since.UnixMilli()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archived events: %w", err)
	}
	return n, nil
}

// Path returns the database file path.
func (a *Archive) Path() string {
	return a.path
}

// Close releases the database.
func (a *Archive) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if a.insertStmt != nil {
			a.insertStmt.Close()
		}
		if a.countStmt != nil {
			a.countStmt.Close()
		}
		err = a.db.Close()
	})
	return err
}
