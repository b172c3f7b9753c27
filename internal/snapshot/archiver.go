// Package snapshot periodically exports the whole pool registry to object
// storage as write-only JSON archives.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

// lockKey elects one writer when several replicas share a bucket.
const lockKey = "snapshot:pools"

// DefaultPrefix is the object prefix used when none is configured.
const DefaultPrefix = "snapshots"

// ResolvePrefix trims slashes from prefix and falls back to DefaultPrefix.
// The archiver and every reader of its objects resolve through it.
func ResolvePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return DefaultPrefix
	}
	return prefix
}

// PoolLister is the read side the archiver needs from the service layer.
type PoolLister interface {
	ListPools(ctx context.Context) []domain.Pool
}

// Config controls the archiver.
type Config struct {
	Interval time.Duration
	Prefix   string
	LockTTL  time.Duration
}

// Archiver writes domain.PoolSnapshot objects to a BlobWriter. Locks and
// Audit are optional.
type Archiver struct {
	pools  PoolLister
	writer domain.BlobWriter
	locks  domain.LockManager
	audit  domain.AuditStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewArchiver creates an Archiver. A nil locks or audit disables that step.
func NewArchiver(
	pools PoolLister,
	writer domain.BlobWriter,
	locks domain.LockManager,
	audit domain.AuditStore,
	cfg Config,
	logger *slog.Logger,
) *Archiver {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}
	cfg.Prefix = ResolvePrefix(cfg.Prefix)
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		pools:  pools,
		writer: writer,
		locks:  locks,
		audit:  audit,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "snapshot")),
		now:    time.Now,
	}
}

// ObjectPath returns the key a snapshot taken at t is stored under:
// <prefix>/YYYY/MM/DD/<unix>.json in UTC.
func ObjectPath(prefix string, t time.Time) string {
	t = t.UTC()
	return path.Join(prefix, t.Format("2006/01/02"), fmt.Sprintf("%d.json", t.Unix()))
}

// Take writes one snapshot and returns its object path. It returns
// domain.ErrLockHeld, unwrapped, when another replica holds the lock.
func (a *Archiver) Take(ctx context.Context) (string, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, lockKey, a.cfg.LockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return "", domain.ErrLockHeld
			}
			return "", fmt.Errorf("snapshot: acquire lock: %w", err)
		}
		defer unlock()
	}

	snap := domain.PoolSnapshot{
		TakenAt: a.now().UTC(),
		Pools:   a.pools.ListPools(ctx),
	}
	if snap.Pools == nil {
		snap.Pools = []domain.Pool{}
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("snapshot: marshal: %w", err)
	}

	key := ObjectPath(a.cfg.Prefix, snap.TakenAt)
	if err := a.writer.Put(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return "", fmt.Errorf("snapshot: upload %s: %w", key, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "snapshot_taken", map[string]any{
			"path":       key,
			"pool_count": len(snap.Pools),
			"bytes":      len(data),
		}); err != nil {
			a.logger.WarnContext(ctx, "snapshot audit log failed",
				slog.String("path", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return key, nil
}

// Run takes a snapshot immediately and then every interval until ctx is
// cancelled. Failures are logged and never stop the loop.
func (a *Archiver) Run(ctx context.Context) error {
	a.tick(ctx)

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("snapshot loop stopped")
			return nil
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Archiver) tick(ctx context.Context) {
	key, err := a.Take(ctx)
	switch {
	case err == nil:
		a.logger.Info("snapshot written", slog.String("path", key))
	case errors.Is(err, domain.ErrLockHeld):
		a.logger.Debug("snapshot skipped, lock held elsewhere")
	case ctx.Err() != nil:
	default:
		a.logger.Error("snapshot failed", slog.String("error", err.Error()))
	}
}
