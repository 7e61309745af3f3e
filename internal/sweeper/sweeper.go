package sweeper

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"filetoolsgo/internal/logging"
	"filetoolsgo/internal/session"
)

const (
	DefaultInterval = 5 * time.Minute
	DefaultMaxAge   = 5 * time.Minute
)

// Sweeper periodically reclaims expired storage. The download gateway
// enforces expiry at read time, so the sweeper is purely a storage reclaimer:
// a missed or late tick never extends an artifact's visible lifetime.
type Sweeper struct {
	sessions   *session.Manager
	fs         afero.Fs
	holdingDir string
	interval   time.Duration
	maxAge     time.Duration
}

// New builds a sweeper over the session registry and the upload holding
// area. maxAge bounds how long an orphaned holding file may linger after the
// orchestrator's own cleanup failed.
func New(sessions *session.Manager, fs afero.Fs, holdingDir string, interval, maxAge time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Sweeper{
		sessions:   sessions,
		fs:         fs,
		holdingDir: holdingDir,
		interval:   interval,
		maxAge:     maxAge,
	}
}

// Start launches the sweep loop; it stops when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go s.loop(ctx)
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep runs one reclamation pass. Deletion failures are logged and
// swallowed; they never abort the cycle.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	removed, err := s.sessions.PurgeExpired(ctx, now)
	if err != nil {
		logging.Error("purge expired sessions failed", "error", err)
	} else if removed > 0 {
		logging.Info("reclaimed expired artifacts", "count", removed)
	}
	s.sweepHolding(now)
}

// sweepHolding removes leaked uploads from the holding area by modification
// time. The orchestrator normally deletes these itself; this is the backstop.
func (s *Sweeper) sweepHolding(now time.Time) {
	entries, err := afero.ReadDir(s.fs, s.holdingDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Warn("scan holding dir failed", "dir", s.holdingDir, "error", err)
		}
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if now.Sub(e.ModTime()) < s.maxAge {
			continue
		}
		path := filepath.Join(s.holdingDir, e.Name())
		if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warn("remove stale holding file failed", "file", path, "error", err)
		}
	}
}
