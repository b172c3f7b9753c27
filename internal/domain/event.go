package domain

import "time"

// PoolEventType names a state transition of a pool.
type PoolEventType string

const (
	PoolEventCreated         PoolEventType = "pool_created"
	PoolEventCollateralAdded PoolEventType = "collateral_added"
	PoolEventStatusChanged   PoolEventType = "pool_status_changed"
	PoolEventDeleted         PoolEventType = "pool_deleted"
)

// PoolEventsChannel is the bus channel pool events are published on.
const PoolEventsChannel = "pool_events"

// PoolEvent is emitted after every successful registry mutation. Events are
// published after the pool lock is released, so two mutations of one pool may
// reach subscribers out of order. Version is the pool version the event
// reflects and increases with every mutation; consumers drop an event whose
// version is not above the last one they applied for that pool.
type PoolEvent struct {
	ID         string        `json:"id"`
	Type       PoolEventType `json:"type"`
	PoolID     string        `json:"pool_id"`
	Version    uint64        `json:"version"`
	Pool       *Pool         `json:"pool,omitempty"`
	Collateral *Collateral   `json:"collateral,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Detail flattens the event into the map stored by the audit log.
func (e PoolEvent) Detail() map[string]any {
	d := map[string]any{
		"event_id": e.ID,
		"pool_id":  e.PoolID,
		"version":  e.Version,
	}
	if e.Pool != nil {
		d["is_active"] = e.Pool.IsActive
		d["total_value_usd"] = e.Pool.TotalValueUSD
		d["collateral_count"] = len(e.Pool.Collaterals)
	}
	if e.Collateral != nil {
		d["asset_id"] = e.Collateral.AssetID
		d["amount"] = e.Collateral.Amount
		d["value_usd"] = e.Collateral.ValueUSD
	}
	return d
}
