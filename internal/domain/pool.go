package domain

import (
	"fmt"
	"math"
)

// Collateral is a single asset holding inside a pool.
type Collateral struct {
	AssetID  string  `json:"asset_id"`
	Amount   float64 `json:"amount"`
	ValueUSD float64 `json:"value_usd"`
}

// Validate enforces the field-level range checks applied before a collateral
// reaches the registry. The returned error wraps ErrInvalidCollateral.
func (c Collateral) Validate() error {
	if c.AssetID == "" {
		return invalidCollateral("", "asset_id must not be empty")
	}
	if math.IsNaN(c.Amount) || math.IsInf(c.Amount, 0) || c.Amount <= 0 {
		return invalidCollateral(c.AssetID, "amount must be greater than 0")
	}
	if math.IsNaN(c.ValueUSD) || math.IsInf(c.ValueUSD, 0) || c.ValueUSD <= 0 {
		return invalidCollateral(c.AssetID, "value_usd must be greater than 0")
	}
	return nil
}

func invalidCollateral(assetID, reason string) error {
	if assetID == "" {
		return fmt.Errorf("%w: %s", ErrInvalidCollateral, reason)
	}
	return fmt.Errorf("%w %s: %s", ErrInvalidCollateral, assetID, reason)
}

// Pool is a named container of collateral line-items. TotalValueUSD is derived
// from Collaterals and is only ever written by Recompute. Version is bumped by
// the registry on every mutation and is not part of the API shape.
type Pool struct {
	PoolID        string       `json:"pool_id"`
	Collaterals   []Collateral `json:"collaterals"`
	TotalValueUSD float64      `json:"total_value_usd"`
	IsActive      bool         `json:"is_active"`
	Version       uint64       `json:"-"`
}

// NewPool returns an empty pool with a zero total.
func NewPool(poolID string, isActive bool) Pool {
	return Pool{
		PoolID:      poolID,
		Collaterals: []Collateral{},
		IsActive:    isActive,
	}
}

// CheckMerge reports whether Merge(c) would keep the merged amount, the
// merged value and the pool total finite. The pool is not modified. Sums are
// taken in the same order Merge and Recompute use.
func (p Pool) CheckMerge(c Collateral) error {
	var total float64
	merged := false
	for _, existing := range p.Collaterals {
		v := existing.ValueUSD
		if !merged && existing.AssetID == c.AssetID {
			if math.IsInf(existing.Amount+c.Amount, 0) {
				return invalidCollateral(c.AssetID, "merged amount overflows")
			}
			v += c.ValueUSD
			if math.IsInf(v, 0) {
				return invalidCollateral(c.AssetID, "merged value_usd overflows")
			}
			merged = true
		}
		total += v
	}
	if !merged {
		total += c.ValueUSD
	}
	if math.IsInf(total, 0) || math.IsNaN(total) {
		return invalidCollateral(c.AssetID, "total_value_usd overflows")
	}
	return nil
}

// Merge folds c into the pool: a matching asset has its amount and value
// summed, anything else is appended. The total is recomputed afterwards.
//
// The additive value merge is a placeholder; there is no price oracle behind it.
func (p *Pool) Merge(c Collateral) {
	merged := false
	for i := range p.Collaterals {
		if p.Collaterals[i].AssetID == c.AssetID {
			p.Collaterals[i].Amount += c.Amount
			p.Collaterals[i].ValueUSD += c.ValueUSD
			merged = true
			break
		}
	}
	if !merged {
		p.Collaterals = append(p.Collaterals, c)
	}
	p.Recompute()
}

// Recompute sets TotalValueUSD to the sum of collateral values.
func (p *Pool) Recompute() {
	var total float64
	for _, c := range p.Collaterals {
		total += c.ValueUSD
	}
	p.TotalValueUSD = total
}

// Clone returns a deep copy that shares no memory with p.
func (p Pool) Clone() Pool {
	out := p
	out.Collaterals = make([]Collateral, len(p.Collaterals))
	copy(out.Collaterals, p.Collaterals)
	return out
}
