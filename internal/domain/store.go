package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time

	// Audit-only filters; empty means any.
	Event  string
	PoolID string
}

// PoolRegistry is the authoritative in-memory store of pools. Every method is
// atomic with respect to a single pool id and returns copies.
type PoolRegistry interface {
	CreatePool(poolID string, isActive bool) (Pool, error)
	GetPool(poolID string) (Pool, error)
	AddCollateral(poolID string, c Collateral) (Pool, error)
	ListCollaterals(poolID string) ([]Collateral, error)
	SetPoolStatus(poolID string, isActive bool) (Pool, error)
	DeletePool(poolID string) (Pool, error)
	ListPools() []Pool
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
