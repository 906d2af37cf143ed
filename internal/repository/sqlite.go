package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"shop-assistant/internal/delivery"
	"shop-assistant/internal/domain"
	"shop-assistant/internal/session"
)

const memoryDSN = ":memory:"

// OpenSQLite opens (and creates) the database at path. ":memory:" gives a
// private in-process database held on a single connection.
func OpenSQLite(path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	dsn := path
	if path != memoryDSN {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("repository: create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	if path == memoryDSN {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: ping database: %w", err)
	}
	return db, nil
}

// SQLiteSessions keeps one row per turn. Sessions idle longer than the TTL
// read as empty and are removed on the next write.
type SQLiteSessions struct {
	db     *sql.DB
	window int
	ttl    time.Duration
	now    func() time.Time
}

var _ session.Store = (*SQLiteSessions)(nil)

func NewSQLiteSessions(db *sql.DB, window int, ttl time.Duration) (*SQLiteSessions, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	if window <= 0 {
		window = session.DefaultWindow
	}
	s := &SQLiteSessions{db: db, window: window, ttl: ttl, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("repository: initialize session schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSessions) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_key TEXT PRIMARY KEY,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS session_turns (
		session_key TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		text TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_key, seq)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteSessions) Get(ctx context.Context, key string) ([]domain.Turn, error) {
	var updated int64
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM sessions WHERE session_key = ?`, key).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return []domain.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: session Get: %w", err)
	}
	if s.stale(updated) {
		return []domain.Turn{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, text, display_name, created_at
		FROM session_turns WHERE session_key = ? ORDER BY seq`, key)
	if err != nil {
		return nil, fmt.Errorf("repository: session Get: %w", err)
	}
	defer rows.Close()

	turns := []domain.Turn{}
	for rows.Next() {
		var (
			t       domain.Turn
			role    string
			created int64
		)
		if err := rows.Scan(&role, &t.Text, &t.DisplayName, &created); err != nil {
			return nil, fmt.Errorf("repository: scan turn row: %w", err)
		}
		t.Role = domain.Role(role)
		t.Timestamp = time.Unix(0, created).UTC()
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: session Get: %w", err)
	}
	return turns, nil
}

// Append writes the turns and trims the session to the window in one
// transaction.
func (s *SQLiteSessions) Append(ctx context.Context, key string, turns ...domain.Turn) (err error) {
	if len(turns) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: session Append begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var updated int64
	switch scanErr := tx.QueryRowContext(ctx, `SELECT updated_at FROM sessions WHERE session_key = ?`, key).Scan(&updated); {
	case errors.Is(scanErr, sql.ErrNoRows):
	case scanErr != nil:
		return fmt.Errorf("repository: session Append: %w", scanErr)
	case s.stale(updated):
		if _, err = tx.ExecContext(ctx, `DELETE FROM session_turns WHERE session_key = ?`, key); err != nil {
			return fmt.Errorf("repository: session Append expire: %w", err)
		}
	}

	var next int64
	if err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM session_turns WHERE session_key = ?`, key).Scan(&next); err != nil {
		return fmt.Errorf("repository: session Append next seq: %w", err)
	}
	for i, t := range turns {
		ts := t.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_turns (session_key, seq, role, text, display_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			key, next+int64(i), string(t.Role), t.Text, t.DisplayName, ts.UnixNano())
		if err != nil {
			return fmt.Errorf("repository: session Append insert: %w", err)
		}
	}

	last := next + int64(len(turns)) - 1
	if _, err = tx.ExecContext(ctx, `DELETE FROM session_turns WHERE session_key = ? AND seq <= ?`, key, last-int64(s.window)); err != nil {
		return fmt.Errorf("repository: session Append trim: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_key, updated_at) VALUES (?, ?)
		ON CONFLICT(session_key) DO UPDATE SET updated_at = excluded.updated_at`,
		key, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("repository: session Append touch: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("repository: session Append commit: %w", err)
	}
	return nil
}

func (s *SQLiteSessions) Clear(ctx context.Context, key string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: session Clear begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `DELETE FROM session_turns WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("repository: session Clear: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("repository: session Clear: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("repository: session Clear commit: %w", err)
	}
	return nil
}

func (s *SQLiteSessions) stale(updatedNanos int64) bool {
	return s.ttl > 0 && s.now().Sub(time.Unix(0, updatedNanos)) > s.ttl
}

// SQLiteDeliveries keeps one row per outbound message.
type SQLiteDeliveries struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

var _ delivery.Tracker = (*SQLiteDeliveries)(nil)

func NewSQLiteDeliveries(db *sql.DB, ttl time.Duration) (*SQLiteDeliveries, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	d := &SQLiteDeliveries{db: db, ttl: ttl, now: time.Now}
	if err := d.initSchema(); err != nil {
		return nil, fmt.Errorf("repository: initialize delivery schema: %w", err)
	}
	return d, nil
}

func (d *SQLiteDeliveries) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS deliveries (
		message_sid TEXT PRIMARY KEY,
		recipient TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		error_code TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		chunk INTEGER NOT NULL DEFAULT 0,
		total_chunks INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_deliveries_recipient ON deliveries(recipient);
	CREATE INDEX IF NOT EXISTS idx_deliveries_created ON deliveries(created_at);
	`
	_, err := d.db.Exec(query)
	return err
}

// Record inserts or replaces a delivery and prunes rows past the TTL.
func (d *SQLiteDeliveries) Record(ctx context.Context, id, recipient string, chunk, totalChunks int) error {
	now := d.now().UnixNano()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO deliveries (message_sid, recipient, status, created_at, updated_at, error_code, error_message, chunk, total_chunks)
		VALUES (?, ?, ?, ?, ?, '', '', ?, ?)
		ON CONFLICT(message_sid) DO UPDATE SET
			recipient = excluded.recipient,
			status = excluded.status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			error_code = '',
			error_message = '',
			chunk = excluded.chunk,
			total_chunks = excluded.total_chunks`,
		id, recipient, string(domain.StatusSent), now, now, chunk, totalChunks)
	if err != nil {
		return fmt.Errorf("repository: delivery Record: %w", err)
	}
	if d.ttl > 0 {
		if _, err := d.db.ExecContext(ctx, `DELETE FROM deliveries WHERE created_at < ?`, d.now().Add(-d.ttl).UnixNano()); err != nil {
			return fmt.Errorf("repository: delivery prune: %w", err)
		}
	}
	return nil
}

func (d *SQLiteDeliveries) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, errorCode, errorMessage string) error {
	query := `UPDATE deliveries SET status = ?, updated_at = ? WHERE message_sid = ?`
	args := []any{string(status), d.now().UnixNano(), id}
	if errorCode != "" {
		query = `UPDATE deliveries SET status = ?, updated_at = ?, error_code = ?, error_message = ? WHERE message_sid = ?`
		args = []any{string(status), d.now().UnixNano(), errorCode, errorMessage, id}
	}
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("repository: delivery UpdateStatus: %w", err)
	}
	return nil
}

func (d *SQLiteDeliveries) Get(ctx context.Context, id string) (domain.DeliveryRecord, bool, error) {
	var (
		rec              domain.DeliveryRecord
		status           string
		created, updated int64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT message_sid, recipient, status, created_at, updated_at, error_code, error_message, chunk, total_chunks
		FROM deliveries WHERE message_sid = ?`, id).Scan(
		&rec.ID, &rec.Recipient, &status, &created, &updated,
		&rec.ErrorCode, &rec.ErrorMessage, &rec.Chunk, &rec.TotalChunks,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeliveryRecord{}, false, nil
	}
	if err != nil {
		return domain.DeliveryRecord{}, false, fmt.Errorf("repository: delivery Get: %w", err)
	}
	if d.expired(created) {
		return domain.DeliveryRecord{}, false, nil
	}
	rec.Status = domain.DeliveryStatus(status)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, true, nil
}

func (d *SQLiteDeliveries) Stats(ctx context.Context, recipient string) (domain.DeliveryStats, error) {
	query := `SELECT status, COUNT(*) FROM deliveries WHERE created_at >= ?`
	cutoff := int64(0)
	if d.ttl > 0 {
		cutoff = d.now().Add(-d.ttl).UnixNano()
	}
	args := []any{cutoff}
	if recipient = strings.TrimSpace(recipient); recipient != "" {
		query += ` AND recipient = ?`
		args = append(args, recipient)
	}
	query += ` GROUP BY status`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.DeliveryStats{}, fmt.Errorf("repository: delivery Stats: %w", err)
	}
	defer rows.Close()

	var stats domain.DeliveryStats
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return domain.DeliveryStats{}, fmt.Errorf("repository: scan stats row: %w", err)
		}
		for i := 0; i < n; i++ {
			stats.Add(domain.DeliveryStatus(status))
		}
	}
	if err := rows.Err(); err != nil {
		return domain.DeliveryStats{}, fmt.Errorf("repository: delivery Stats: %w", err)
	}
	return stats, nil
}

func (d *SQLiteDeliveries) expired(createdNanos int64) bool {
	return d.ttl > 0 && d.now().Sub(time.Unix(0, createdNanos)) > d.ttl
}
