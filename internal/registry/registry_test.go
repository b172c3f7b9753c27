package registry

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

func requireTotalInvariant(t require.TestingT, p domain.Pool) {
	var sum float64
	for _, c := range p.Collaterals {
		sum += c.ValueUSD
	}
	require.InDelta(t, sum, p.TotalValueUSD, 1e-6, "total_value_usd must equal sum of collateral values")
}

func TestRegistry_CreatePool(t *testing.T) {
	r := New()

	p, err := r.CreatePool("p1", true)
	require.NoError(t, err)
	require.Equal(t, "p1", p.PoolID)
	require.NotNil(t, p.Collaterals)
	require.Empty(t, p.Collaterals)
	require.Equal(t, 0.0, p.TotalValueUSD)
	require.True(t, p.IsActive)

	inactive, err := r.CreatePool("p2", false)
	require.NoError(t, err)
	require.False(t, inactive.IsActive)
	require.Equal(t, 2, r.Len())
}

func TestRegistry_CreatePool_AlreadyExists(t *testing.T) {
	r := New()
	_, err := r.CreatePool("p1", true)
	require.NoError(t, err)

	_, err = r.CreatePool("p1", false)
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	require.Contains(t, err.Error(), "Pool 'p1' already exists")

	// The original record is untouched.
	p, err := r.GetPool("p1")
	require.NoError(t, err)
	require.True(t, p.IsActive)
}

func TestRegistry_NotFound(t *testing.T) {
	r := New()

	_, err := r.GetPool("ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Equal(t, "Pool 'ghost' not found", err.Error())

	_, err = r.AddCollateral("ghost", domain.Collateral{AssetID: "BTC", Amount: 1, ValueUSD: 1})
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.ListCollaterals("ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.SetPoolStatus("ghost", false)
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = r.DeletePool("ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_AddCollateral_MergeScenario(t *testing.T) {
	r := New()
	_, err := r.CreatePool("p1", true)
	require.NoError(t, err)

	_, err = r.AddCollateral("p1", domain.Collateral{AssetID: "BTC", Amount: 1.0, ValueUSD: 50000})
	require.NoError(t, err)
	p, err := r.AddCollateral("p1", domain.Collateral{AssetID: "BTC", Amount: 0.5, ValueUSD: 25000})
	require.NoError(t, err)

	require.Equal(t, []domain.Collateral{{AssetID: "BTC", Amount: 1.5, ValueUSD: 75000}}, p.Collaterals)
	require.Equal(t, 75000.0, p.TotalValueUSD)
}

func TestRegistry_AddCollateral_AppendsInOrder(t *testing.T) {
	r := New()
	_, err := r.CreatePool("p1", true)
	require.NoError(t, err)

	for _, c := range []domain.Collateral{
		{AssetID: "DOT", Amount: 50, ValueUSD: 350},
		{AssetID: "LINK", Amount: 100, ValueUSD: 1500},
		{AssetID: "DOT", Amount: 10, ValueUSD: 70},
		{AssetID: "dot", Amount: 1, ValueUSD: 7},
	} {
		_, err := r.AddCollateral("p1", c)
		require.NoError(t, err)
	}

	cs, err := r.ListCollaterals("p1")
	require.NoError(t, err)
	require.Len(t, cs, 3)
	assert.Equal(t, "DOT", cs[0].AssetID)
	assert.Equal(t, 60.0, cs[0].Amount)
	assert.Equal(t, 420.0, cs[0].ValueUSD)
	assert.Equal(t, "LINK", cs[1].AssetID)
	assert.Equal(t, "dot", cs[2].AssetID, "asset ids are case-sensitive")

	p, err := r.GetPool("p1")
	require.NoError(t, err)
	require.Equal(t, 1927.0, p.TotalValueUSD)
}

func TestRegistry_AddCollateral_InactivePool(t *testing.T) {
	r := New()
	_, err := r.CreatePool("p2", true)
	require.NoError(t, err)
	_, err = r.SetPoolStatus("p2", false)
	require.NoError(t, err)

	_, err = r.AddCollateral("p2", domain.Collateral{AssetID: "ETH", Amount: 1, ValueUSD: 2000})
	require.ErrorIs(t, err, domain.ErrInactivePool)
	require.Equal(t, "Pool 'p2' is not active. Cannot add collateral.", err.Error())

	// Inactive wins over invalid input.
	_, err = r.AddCollateral("p2", domain.Collateral{AssetID: "ETH", Amount: -1, ValueUSD: 0})
	require.ErrorIs(t, err, domain.ErrInactivePool)

	cs, err := r.ListCollaterals("p2")
	require.NoError(t, err)
	require.Empty(t, cs)
}

func TestRegistry_AddCollateral_Invalid(t *testing.T) {
	cases := []struct {
		name string
		c    domain.Collateral
	}{
		{"zero amount", domain.Collateral{AssetID: "BTC", Amount: 0, ValueUSD: 1}},
		{"negative amount", domain.Collateral{AssetID: "BTC", Amount: -10, ValueUSD: 100}},
		{"zero value", domain.Collateral{AssetID: "BTC", Amount: 1, ValueUSD: 0}},
		{"negative value", domain.Collateral{AssetID: "BTC", Amount: 10, ValueUSD: -100}},
		{"nan amount", domain.Collateral{AssetID: "BTC", Amount: math.NaN(), ValueUSD: 1}},
		{"inf value", domain.Collateral{AssetID: "BTC", Amount: 1, ValueUSD: math.Inf(1)}},
		{"empty asset", domain.Collateral{AssetID: "", Amount: 1, ValueUSD: 1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			_, err := r.CreatePool("p1", true)
			require.NoError(t, err)
			_, err = r.AddCollateral("p1", domain.Collateral{AssetID: "BTC", Amount: 1, ValueUSD: 100})
			require.NoError(t, err)

			_, err = r.AddCollateral("p1", tc.c)
			require.ErrorIs(t, err, domain.ErrInvalidCollateral)

			p, err := r.GetPool("p1")
			require.NoError(t, err)
			require.Equal(t, []domain.Collateral{{AssetID: "BTC", Amount: 1, ValueUSD: 100}}, p.Collaterals)
			require.Equal(t, 100.0, p.TotalValueUSD)
		})
	}
}

func TestRegistry_AddCollateral_RejectsOverflow(t *testing.T) {
	cases := []struct {
		name   string
		first  domain.Collateral
		second domain.Collateral
		reason string
	}{
		{
			name:   "merged value",
			first:  domain.Collateral{AssetID: "BTC", Amount: 1, ValueUSD: 1.7e308},
			second: domain.Collateral{AssetID: "BTC", Amount: 1, ValueUSD: 1.7e308},
			reason: "merged value_usd overflows",
		},
		{
			name:   "merged amount",
			first:  domain.Collateral{AssetID: "BTC", Amount: 1.7e308, ValueUSD: 1},
			second: domain.Collateral{AssetID: "BTC", Amount: 1.7e308, ValueUSD: 1},
			reason: "merged amount overflows",
		},
		{
			name:   "total across assets",
			first:  domain.Collateral{AssetID: "BTC", Amount: 1, ValueUSD: 1.7e308},
			second: domain.Collateral{AssetID: "ETH", Amount: 1, ValueUSD: 1.7e308},
			reason: "total_value_usd overflows",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := New()
			_, err := r.CreatePool("p1", true)
			require.NoError(t, err)
			before, err := r.AddCollateral("p1", tc.first)
			require.NoError(t, err)

			_, err = r.AddCollateral("p1", tc.second)
			require.ErrorIs(t, err, domain.ErrInvalidCollateral)
			require.Equal(t, fmt.Sprintf("Pool 'p1': invalid collateral %s: %s", tc.second.AssetID, tc.reason), err.Error())

			after, err := r.GetPool("p1")
			require.NoError(t, err)
			require.Equal(t, before, after)
			require.False(t, math.IsInf(after.TotalValueUSD, 0))
		})
	}
}

func TestRegistry_InvalidCollateralMessageNamesPoolAndAsset(t *testing.T) {
	r := New()
	_, err := r.CreatePool("p1", true)
	require.NoError(t, err)

	_, err = r.AddCollateral("p1", domain.Collateral{AssetID: "BTC", Amount: 0, ValueUSD: 1})
	require.Equal(t, "Pool 'p1': invalid collateral BTC: amount must be greater than 0", err.Error())

	_, err = r.AddCollateral("p1", domain.Collateral{AssetID: "", Amount: 1, ValueUSD: 1})
	require.Equal(t, "Pool 'p1': invalid collateral: asset_id must not be empty", err.Error())

	p, err := r.AddCollateral("p1", domain.Collateral{AssetID: " ", Amount: 1, ValueUSD: 1})
	require.NoError(t, err)
	require.Equal(t, " ", p.Collaterals[0].AssetID)
}

func TestRegistry_VersionIncreasesOnEveryMutation(t *testing.T) {
	r := New()
	p, err := r.CreatePool("p1", true)
	require.NoError(t, err)
	require.Equal(t, uint64(1), p.Version)

	p, err = r.AddCollateral("p1", domain.Collateral{AssetID: "BTC", Amount: 1, ValueUSD: 1})
	require.NoError(t, err)
	require.Equal(t, uint64(2), p.Version)

	_, err = r.AddCollateral("p1", domain.Collateral{AssetID: "BTC", Amount: 0, ValueUSD: 1})
	require.Error(t, err)

	p, err = r.SetPoolStatus("p1", false)
	require.NoError(t, err)
	require.Equal(t, uint64(3), p.Version)

	p, err = r.GetPool("p1")
	require.NoError(t, err)
	require.Equal(t, uint64(3), p.Version)

	p, err = r.DeletePool("p1")
	require.NoError(t, err)
	require.Equal(t, uint64(4), p.Version)
}

func TestRegistry_ConcurrentVersionsAreUnique(t *testing.T) {
	r := New()
	_, err := r.CreatePool("p", true)
	require.NoError(t, err)

	const n = 32
	versions := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var p domain.Pool
			var err error
			if i%2 == 0 {
				p, err = r.AddCollateral("p", domain.Collateral{AssetID: "X", Amount: 1, ValueUSD: 1})
			} else {
				p, err = r.SetPoolStatus("p", true)
			}
			assert.NoError(t, err)
			versions <- p.Version
		}(i)
	}
	wg.Wait()
	close(versions)

	seen := map[uint64]bool{}
	for v := range versions {
		require.False(t, seen[v], "version %d returned twice", v)
		seen[v] = true
	}
	p, err := r.GetPool("p")
	require.NoError(t, err)
	require.Equal(t, uint64(n+1), p.Version)
}

func TestRegistry_SetPoolStatus_Toggles(t *testing.T) {
	r := New()
	_, err := r.CreatePool("s", true)
	require.NoError(t, err)

	for _, want := range []bool{false, true, false, false, true} {
		p, err := r.SetPoolStatus("s", want)
		require.NoError(t, err)
		require.Equal(t, want, p.IsActive)
	}
}

func TestRegistry_DeletePool(t *testing.T) {
	r := New()
	_, err := r.CreatePool("p1", true)
	require.NoError(t, err)

	_, err = r.DeletePool("p1")
	require.NoError(t, err)
	_, err = r.GetPool("p1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.Zero(t, r.Len())

	// Id can be reused after deletion.
	p, err := r.CreatePool("p1", false)
	require.NoError(t, err)
	require.False(t, p.IsActive)
}

func TestRegistry_ReadsReturnCopies(t *testing.T) {
	r := New()
	_, err := r.CreatePool("p1", true)
	require.NoError(t, err)
	p, err := r.AddCollateral("p1", domain.Collateral{AssetID: "BTC", Amount: 1, ValueUSD: 10})
	require.NoError(t, err)

	p.Collaterals[0].ValueUSD = 999
	p.TotalValueUSD = 999
	cs, err := r.ListCollaterals("p1")
	require.NoError(t, err)
	cs[0].Amount = 999

	got, err := r.GetPool("p1")
	require.NoError(t, err)
	require.Equal(t, 10.0, got.Collaterals[0].ValueUSD)
	require.Equal(t, 1.0, got.Collaterals[0].Amount)
	require.Equal(t, 10.0, got.TotalValueUSD)
}

func TestRegistry_ListPoolsSortedAndReset(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.CreatePool(id, true)
		require.NoError(t, err)
	}

	pools := r.ListPools()
	require.Len(t, pools, 3)
	require.Equal(t, "a", pools[0].PoolID)
	require.Equal(t, "b", pools[1].PoolID)
	require.Equal(t, "c", pools[2].PoolID)

	r.Reset()
	require.Empty(t, r.ListPools())
	_, err := r.GetPool("a")
	require.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestRegistry_ConcurrentAddCollateral(t *testing.T) {
	r := New()
	_, err := r.CreatePool("hot", true)
	require.NoError(t, err)

	const workers = 32
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				asset := fmt.Sprintf("A%d", i%5)
				_, err := r.AddCollateral("hot", domain.Collateral{AssetID: asset, Amount: 1, ValueUSD: 2})
				assert.NoError(t, err)
				_, err = r.GetPool("hot")
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	p, err := r.GetPool("hot")
	require.NoError(t, err)
	require.Len(t, p.Collaterals, 5)
	require.Equal(t, float64(workers*perWorker*2), p.TotalValueUSD)
	for _, c := range p.Collaterals {
		require.Equal(t, float64(workers*perWorker/5), c.Amount)
	}
}

func TestRegistry_ConcurrentDeleteAndAdd(t *testing.T) {
	r := New()
	_, err := r.CreatePool("p", true)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.AddCollateral("p", domain.Collateral{AssetID: "X", Amount: 1, ValueUSD: 1})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrNotFound)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := r.DeletePool("p")
		assert.NoError(t, err)
	}()
	wg.Wait()

	_, err = r.GetPool("p")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

// TestRegistry_TotalInvariant drives random operation sequences and checks the
// total and uniqueness invariants after every step.
func TestRegistry_TotalInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := New()
		ids := []string{"p1", "p2", "p3"}
		assets := []string{"BTC", "ETH", "SOL", "ADA"}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			id := rapid.SampledFrom(ids).Draw(rt, "id")
			switch rapid.IntRange(0, 4).Draw(rt, "op") {
			case 0:
				_, err := r.CreatePool(id, rapid.Bool().Draw(rt, "active"))
				if err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
					rt.Fatalf("create: unexpected error %v", err)
				}
			case 1:
				c := domain.Collateral{
					AssetID:  rapid.SampledFrom(assets).Draw(rt, "asset"),
					Amount:   rapid.Float64Range(-5, 100).Draw(rt, "amount"),
					ValueUSD: rapid.Float64Range(-5, 1e6).Draw(rt, "value"),
				}
				before, getErr := r.GetPool(id)
				_, err := r.AddCollateral(id, c)
				if err != nil {
					after, afterErr := r.GetPool(id)
					if getErr == nil && afterErr == nil && !equalPools(before, after) {
						rt.Fatalf("failed add mutated pool %s: %v", id, err)
					}
				}
			case 2:
				_, _ = r.SetPoolStatus(id, rapid.Bool().Draw(rt, "status"))
			case 3:
				_, _ = r.DeletePool(id)
			case 4:
				_, _ = r.ListCollaterals(id)
			}

			for _, p := range r.ListPools() {
				requireTotalInvariant(rt, p)
				seen := map[string]bool{}
				for _, c := range p.Collaterals {
					if seen[c.AssetID] {
						rt.Fatalf("duplicate asset %s in pool %s", c.AssetID, p.PoolID)
					}
					seen[c.AssetID] = true
					if c.Amount <= 0 || c.ValueUSD <= 0 {
						rt.Fatalf("non-positive collateral %+v in pool %s", c, p.PoolID)
					}
				}
			}
		}
	})
}

func equalPools(a, b domain.Pool) bool {
	if a.PoolID != b.PoolID || a.IsActive != b.IsActive || a.TotalValueUSD != b.TotalValueUSD || a.Version != b.Version {
		return false
	}
	if len(a.Collaterals) != len(b.Collaterals) {
		return false
	}
	for i := range a.Collaterals {
		if a.Collaterals[i] != b.Collaterals[i] {
			return false
		}
	}
	return true
}
