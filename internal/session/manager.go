package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"filetoolsgo/internal/logging"
	"filetoolsgo/internal/models"
)

// Manager owns the per-session workspace directories and the registry rows
// that record each artifact's location and expiry. Sessions are isolated by
// UUID-qualified paths, so no locking is needed beyond the database.
type Manager struct {
	db      *sql.DB
	fs      afero.Fs
	baseDir string
	ttl     time.Duration
}

const sessionsSubdir = "sessions"

func NewManager(db *sql.DB, fs afero.Fs, baseDir string, ttl time.Duration) *Manager {
	return &Manager{db: db, fs: fs, baseDir: baseDir, ttl: ttl}
}

// TTL returns the configured expiry window.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Allocate creates a new session with a fresh workspace directory and a
// registry row carrying its expiry.
func (m *Manager) Allocate(ctx context.Context) (*models.Session, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.baseDir, sessionsSubdir, id)
	if err := m.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	now := time.Now().UTC()
	expires := now.Add(m.ttl)
	if _, err := m.db.ExecContext(ctx,
		`INSERT INTO sessions (id, dir, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		id, dir, now, expires,
	); err != nil {
		_ = m.fs.RemoveAll(dir)
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &models.Session{ID: id, Dir: dir, CreatedAt: now, ExpiresAt: expires}, nil
}

// Register records a produced artifact under its session.
func (m *Manager) Register(ctx context.Context, sessionID string, art models.Artifact) (*models.Artifact, error) {
	now := time.Now().UTC()
	res, err := m.db.ExecContext(ctx,
		`INSERT INTO artifacts (session_id, file_name, stored_path, mime_type, size, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, art.LogicalName, art.StoredPath, art.MimeType, art.Size, now,
	)
	if err != nil {
		return nil, fmt.Errorf("register artifact: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("artifact id: %w", err)
	}
	art.ID = id
	art.SessionID = sessionID
	art.CreatedAt = now
	return &art, nil
}

// Resolve maps a session ID and logical name to a registered artifact.
// Expiry is enforced by comparison at call time, so a request one tick past
// expires_at observes ErrSessionExpired regardless of sweep cadence. An
// artifact whose file lost the race against the sweeper resolves to
// ErrArtifactNotFound, never an internal error.
func (m *Manager) Resolve(ctx context.Context, sessionID, name string, now time.Time) (*models.Artifact, error) {
	var (
		art     models.Artifact
		expires time.Time
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT a.id, a.session_id, a.file_name, a.stored_path, a.mime_type, a.size, a.created_at, s.expires_at
		 FROM artifacts a JOIN sessions s ON s.id = a.session_id
		 WHERE a.session_id = ? AND a.file_name = ?`,
		sessionID, name,
	).Scan(&art.ID, &art.SessionID, &art.LogicalName, &art.StoredPath, &art.MimeType, &art.Size, &art.CreatedAt, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("resolve artifact: %w", err)
	}
	if !now.Before(expires) {
		return nil, models.ErrSessionExpired
	}
	exists, err := afero.Exists(m.fs, art.StoredPath)
	if err != nil || !exists {
		return nil, models.ErrArtifactNotFound
	}
	return &art, nil
}

// Discard drops a session and its workspace. Used when orchestration aborts
// before any artifact is handed to the client.
func (m *Manager) Discard(ctx context.Context, sessionID string) error {
	var dir string
	err := m.db.QueryRowContext(ctx, `SELECT dir FROM sessions WHERE id = ?`, sessionID).Scan(&dir)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("discard session: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, `DELETE FROM artifacts WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("discard artifacts: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("discard session row: %w", err)
	}
	if err := m.fs.RemoveAll(dir); err != nil {
		logging.Warn("remove session dir failed", "session", sessionID, "error", err)
	}
	return nil
}

// PurgeExpired removes every session whose expiry has passed, returning the
// number of artifacts reclaimed. Filesystem failures are logged and skipped;
// a file already gone is not an error.
func (m *Manager) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, dir FROM sessions WHERE expires_at <= ?`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("select expired sessions: %w", err)
	}
	type sessionRow struct {
		id  string
		dir string
	}
	var expired []sessionRow
	for rows.Next() {
		var sr sessionRow
		if err := rows.Scan(&sr.id, &sr.dir); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan expired session: %w", err)
		}
		expired = append(expired, sr)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate expired sessions: %w", err)
	}

	removed := 0
	for _, sr := range expired {
		var count int
		if err := m.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM artifacts WHERE session_id = ?`, sr.id).Scan(&count); err != nil {
			logging.Warn("count artifacts failed", "session", sr.id, "error", err)
		}
		if err := m.fs.RemoveAll(sr.dir); err != nil {
			logging.Warn("remove expired session dir failed", "session", sr.id, "error", err)
			continue
		}
		if _, err := m.db.ExecContext(ctx, `DELETE FROM artifacts WHERE session_id = ?`, sr.id); err != nil {
			logging.Warn("delete artifact rows failed", "session", sr.id, "error", err)
			continue
		}
		if _, err := m.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sr.id); err != nil {
			logging.Warn("delete session row failed", "session", sr.id, "error", err)
			continue
		}
		removed += count
	}
	return removed, nil
}
