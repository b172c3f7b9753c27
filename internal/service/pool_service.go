package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanyoungcy/poolregistry/internal/domain"
)

// poolEventsStream is the durable stream every pool event is appended to.
const poolEventsStream = "stream:pool_events"

// Notifier delivers operator alerts for selected pool events.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// PoolServiceDeps bundles the collaborators of a PoolService. Only Registry
// is required; nil side-effect dependencies are replaced by no-ops.
type PoolServiceDeps struct {
	Registry domain.PoolRegistry
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Notifier Notifier
	Metrics  *Metrics
	Logger   *slog.Logger
}

// PoolService exposes the pool registry operations and fans out events,
// audit rows, notifications and metrics after every successful mutation.
// Side-effect failures are logged and never fail the request.
type PoolService struct {
	registry domain.PoolRegistry
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewPoolService creates a PoolService from deps.
func NewPoolService(deps PoolServiceDeps) *PoolService {
	s := &PoolService{
		registry: deps.Registry,
		bus:      deps.Bus,
		audit:    deps.Audit,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.bus == nil {
		s.bus = noopBus{}
	}
	if s.audit == nil {
		s.audit = noopAudit{}
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("component", "pool_service"))
	return s
}

func (s *PoolService) track(op string) func(err error) {
	start := time.Now()
	return func(err error) {
		s.metrics.opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		s.metrics.observe(op, err)
	}
}

// CreatePool creates an empty pool.
func (s *PoolService) CreatePool(ctx context.Context, poolID string, isActive bool) (pool domain.Pool, err error) {
	done := s.track("create_pool")
	defer func() { done(err) }()

	pool, err = s.registry.CreatePool(poolID, isActive)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool_service: create %q: %w", poolID, err)
	}
	s.metrics.pools.Inc()

	s.logger.InfoContext(ctx, "pool_service: pool created",
		slog.String("pool_id", poolID),
		slog.Bool("is_active", isActive),
	)
	s.emit(ctx, domain.PoolEvent{Type: domain.PoolEventCreated, PoolID: poolID, Version: pool.Version, Pool: &pool})
	s.notify(ctx, string(domain.PoolEventCreated), "Pool created",
		fmt.Sprintf("Pool %s created (active=%t)", poolID, isActive))
	return pool, nil
}

// GetPool returns the current snapshot of a pool.
func (s *PoolService) GetPool(ctx context.Context, poolID string) (pool domain.Pool, err error) {
	done := s.track("get_pool")
	defer func() { done(err) }()

	pool, err = s.registry.GetPool(poolID)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool_service: get %q: %w", poolID, err)
	}
	return pool, nil
}

// ListPools returns every pool ordered by id.
func (s *PoolService) ListPools(ctx context.Context) []domain.Pool {
	done := s.track("list_pools")
	defer done(nil)
	return s.registry.ListPools()
}

// AddCollateral merges a collateral line-item into a pool.
func (s *PoolService) AddCollateral(ctx context.Context, poolID string, c domain.Collateral) (pool domain.Pool, err error) {
	done := s.track("add_collateral")
	defer func() { done(err) }()

	pool, err = s.registry.AddCollateral(poolID, c)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool_service: add collateral to %q: %w", poolID, err)
	}
	s.metrics.collateralValue.Add(c.ValueUSD)

	s.logger.InfoContext(ctx, "pool_service: collateral added",
		slog.String("pool_id", poolID),
		slog.String("asset_id", c.AssetID),
		slog.Float64("amount", c.Amount),
		slog.Float64("value_usd", c.ValueUSD),
		slog.Float64("total_value_usd", pool.TotalValueUSD),
	)
	s.emit(ctx, domain.PoolEvent{Type: domain.PoolEventCollateralAdded, PoolID: poolID, Version: pool.Version, Pool: &pool, Collateral: &c})
	return pool, nil
}

// ListCollaterals returns the pool's collaterals in insertion order.
func (s *PoolService) ListCollaterals(ctx context.Context, poolID string) (cs []domain.Collateral, err error) {
	done := s.track("list_collaterals")
	defer func() { done(err) }()

	cs, err = s.registry.ListCollaterals(poolID)
	if err != nil {
		return nil, fmt.Errorf("pool_service: list collaterals of %q: %w", poolID, err)
	}
	return cs, nil
}

// SetPoolStatus activates or deactivates a pool.
func (s *PoolService) SetPoolStatus(ctx context.Context, poolID string, isActive bool) (pool domain.Pool, err error) {
	done := s.track("set_pool_status")
	defer func() { done(err) }()

	pool, err = s.registry.SetPoolStatus(poolID, isActive)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool_service: set status of %q: %w", poolID, err)
	}

	s.logger.InfoContext(ctx, "pool_service: pool status changed",
		slog.String("pool_id", poolID),
		slog.Bool("is_active", isActive),
	)
	s.emit(ctx, domain.PoolEvent{Type: domain.PoolEventStatusChanged, PoolID: poolID, Version: pool.Version, Pool: &pool})

	event, title := "pool_deactivated", "Pool deactivated"
	if isActive {
		event, title = "pool_activated", "Pool activated"
	}
	s.notify(ctx, event, title, fmt.Sprintf("Pool %s holds %.2f USD across %d assets",
		poolID, pool.TotalValueUSD, len(pool.Collaterals)))
	return pool, nil
}

// DeletePool removes a pool permanently.
func (s *PoolService) DeletePool(ctx context.Context, poolID string) (err error) {
	done := s.track("delete_pool")
	defer func() { done(err) }()

	final, err := s.registry.DeletePool(poolID)
	if err != nil {
		return fmt.Errorf("pool_service: delete %q: %w", poolID, err)
	}
	s.metrics.pools.Dec()

	s.logger.InfoContext(ctx, "pool_service: pool deleted", slog.String("pool_id", poolID))
	s.emit(ctx, domain.PoolEvent{Type: domain.PoolEventDeleted, PoolID: poolID, Version: final.Version})
	s.notify(ctx, string(domain.PoolEventDeleted), "Pool deleted", fmt.Sprintf("Pool %s deleted", poolID))
	return nil
}

// emit publishes evt on the bus, appends it to the durable stream and writes
// the audit row.
func (s *PoolService) emit(ctx context.Context, evt domain.PoolEvent) {
	evt.ID = uuid.NewString()
	evt.OccurredAt = s.now()

	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.WarnContext(ctx, "pool_service: marshal event failed",
			slog.String("pool_id", evt.PoolID),
			slog.String("error", err.Error()),
		)
		return
	}

	if pubErr := s.bus.Publish(ctx, domain.PoolEventsChannel, payload); pubErr != nil {
		s.logger.WarnContext(ctx, "pool_service: publish event failed",
			slog.String("pool_id", evt.PoolID),
			slog.String("event", string(evt.Type)),
			slog.String("error", pubErr.Error()),
		)
	}
	if streamErr := s.bus.StreamAppend(ctx, poolEventsStream, payload); streamErr != nil {
		s.logger.WarnContext(ctx, "pool_service: stream append failed",
			slog.String("pool_id", evt.PoolID),
			slog.String("error", streamErr.Error()),
		)
	}
	if auditErr := s.audit.Log(ctx, string(evt.Type), evt.Detail()); auditErr != nil {
		s.logger.WarnContext(ctx, "pool_service: audit log failed",
			slog.String("pool_id", evt.PoolID),
			slog.String("error", auditErr.Error()),
		)
	}
}

func (s *PoolService) notify(ctx context.Context, event, title, message string) {
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "pool_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// RecentEvents reads up to count events from the durable stream after lastID.
func (s *PoolService) RecentEvents(ctx context.Context, lastID string, count int) ([]domain.PoolEvent, string, error) {
	msgs, err := s.bus.StreamRead(ctx, poolEventsStream, lastID, count)
	if err != nil {
		return nil, lastID, fmt.Errorf("pool_service: read events: %w", err)
	}
	events := make([]domain.PoolEvent, 0, len(msgs))
	next := lastID
	for _, m := range msgs {
		var evt domain.PoolEvent
		if err := json.Unmarshal(m.Payload, &evt); err != nil {
			s.logger.WarnContext(ctx, "pool_service: skip undecodable event",
				slog.String("stream_id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		events = append(events, evt)
		next = m.ID
	}
	return events, next, nil
}
