// Package registry holds the authoritative, process-local mapping from pool
// id to pool record. All reads return deep copies so no caller ever holds a
// mutable reference into the registry.
package registry

import (
	"sort"
	"sync"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

// record guards one pool. removed is set under mu by DeletePool so callers
// that looked the record up before the delete observe ErrNotFound.
type record struct {
	mu      sync.Mutex
	pool    domain.Pool
	removed bool
}

// Registry implements domain.PoolRegistry. The map is guarded by mu and each
// record by its own mutex, so operations on different pools do not contend
// beyond the map lookup. Lock order is always map before record.
type Registry struct {
	mu    sync.RWMutex
	pools map[string]*record
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{pools: make(map[string]*record)}
}

func (r *Registry) lookup(poolID string) (*record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.pools[poolID]
	return rec, ok
}

// withRecord runs fn with the record for poolID locked.
func (r *Registry) withRecord(op, poolID string, fn func(rec *record) error) error {
	rec, ok := r.lookup(poolID)
	if !ok {
		return domain.NewPoolError(op, poolID, domain.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.removed {
		return domain.NewPoolError(op, poolID, domain.ErrNotFound)
	}
	return fn(rec)
}

// CreatePool inserts an empty pool. It fails with ErrAlreadyExists when the
// id is taken.
func (r *Registry) CreatePool(poolID string, isActive bool) (domain.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pools[poolID]; exists {
		return domain.Pool{}, domain.NewPoolError("create", poolID, domain.ErrAlreadyExists)
	}
	p := domain.NewPool(poolID, isActive)
	p.Version = 1
	r.pools[poolID] = &record{pool: p}
	return p.Clone(), nil
}

// GetPool returns a snapshot of the pool.
func (r *Registry) GetPool(poolID string) (domain.Pool, error) {
	var out domain.Pool
	err := r.withRecord("get", poolID, func(rec *record) error {
		out = rec.pool.Clone()
		return nil
	})
	return out, err
}

// AddCollateral merges c into the pool. Checks run in order: existence,
// active flag, then collateral ranges; nothing is mutated on failure.
func (r *Registry) AddCollateral(poolID string, c domain.Collateral) (domain.Pool, error) {
	var out domain.Pool
	err := r.withRecord("add_collateral", poolID, func(rec *record) error {
		if !rec.pool.IsActive {
			return domain.NewPoolError("add_collateral", poolID, domain.ErrInactivePool)
		}
		if err := c.Validate(); err != nil {
			return &domain.PoolError{Op: "add_collateral", PoolID: poolID, Err: err}
		}
		if err := rec.pool.CheckMerge(c); err != nil {
			return &domain.PoolError{Op: "add_collateral", PoolID: poolID, Err: err}
		}
		rec.pool.Merge(c)
		rec.pool.Version++
		out = rec.pool.Clone()
		return nil
	})
	return out, err
}

// ListCollaterals returns the pool's collaterals in insertion order.
func (r *Registry) ListCollaterals(poolID string) ([]domain.Collateral, error) {
	var out []domain.Collateral
	err := r.withRecord("list_collaterals", poolID, func(rec *record) error {
		out = rec.pool.Clone().Collaterals
		return nil
	})
	return out, err
}

// SetPoolStatus sets the active flag unconditionally.
func (r *Registry) SetPoolStatus(poolID string, isActive bool) (domain.Pool, error) {
	var out domain.Pool
	err := r.withRecord("set_status", poolID, func(rec *record) error {
		rec.pool.IsActive = isActive
		rec.pool.Version++
		out = rec.pool.Clone()
		return nil
	})
	return out, err
}

// DeletePool removes the pool permanently and returns its final state, with
// the version bumped past the last mutation.
func (r *Registry) DeletePool(poolID string) (domain.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.pools[poolID]
	if !ok {
		return domain.Pool{}, domain.NewPoolError("delete", poolID, domain.ErrNotFound)
	}
	rec.mu.Lock()
	rec.removed = true
	rec.pool.Version++
	out := rec.pool.Clone()
	rec.mu.Unlock()
	delete(r.pools, poolID)
	return out, nil
}

// ListPools returns copies of every pool ordered by id.
func (r *Registry) ListPools() []domain.Pool {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.pools))
	for _, rec := range r.pools {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]domain.Pool, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if !rec.removed {
			out = append(out, rec.pool.Clone())
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PoolID < out[j].PoolID })
	return out
}

// Len reports the number of pools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// Reset drops every pool.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.pools {
		rec.mu.Lock()
		rec.removed = true
		rec.mu.Unlock()
	}
	r.pools = make(map[string]*record)
}

// Compile-time interface check.
var _ domain.PoolRegistry = (*Registry)(nil)
