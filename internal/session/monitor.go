package session

import (
	"context"
	"errors"
	"time"

	"github.com/talkincode/wagate/internal/domain"
	"github.com/talkincode/wagate/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MonitorConfig holds the ownership monitor timing knobs.
type MonitorConfig struct {
	// HeartbeatInterval is how often this instance refreshes the lease for
	// sessions it holds. Must be shorter than StaleThreshold.
	HeartbeatInterval time.Duration
	// StaleThreshold is the lease age past which the recorded owner is
	// presumed dead.
	StaleThreshold time.Duration
	// SweepInterval is the reconcile cadence.
	SweepInterval time.Duration
	// SweepWorkers bounds concurrent reclaim attempts per sweep.
	SweepWorkers int
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = time.Minute
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 5 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.SweepWorkers <= 0 {
		c.SweepWorkers = 4
	}
	return c
}

// Monitor is the self-healing sweep that reconciles the durable store
// against this process's registry. It reclaims sessions whose owner stopped
// heartbeating and reconnects local handles that lost their socket. It is
// not a distributed lock: two processes racing to reclaim the same agent is
// tolerated, and the device link surfaces the loser as a conflict.
type Monitor struct {
	sup   *Supervisor
	store *Store
	reg   *Registry
	cfg   MonitorConfig
}

func NewMonitor(sup *Supervisor, store *Store, reg *Registry, cfg MonitorConfig) *Monitor {
	return &Monitor{sup: sup, store: store, reg: reg, cfg: cfg.withDefaults()}
}

// Start launches the heartbeat and sweep loops until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go m.heartbeatLoop(ctx)
	go m.sweepLoop(ctx)
}

func (m *Monitor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.store.TouchOwned(m.sup.Owner().InstanceID); err != nil {
				zap.L().Error("monitor: heartbeat write failed", zap.Error(err))
			}
			metrics.SetGauge("wagate_sessions_connected", int64(m.reg.ConnectedCount()))
		}
	}
}

func (m *Monitor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep runs one reconcile pass over every active session row.
func (m *Monitor) Sweep(ctx context.Context) {
	rows, err := m.store.Active()
	if err != nil {
		zap.L().Error("monitor: list active sessions failed", zap.Error(err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.SweepWorkers)
	for _, row := range rows {
		row := row
		g.Go(func() error {
			m.reconcile(gctx, &row)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Monitor) reconcile(ctx context.Context, row *domain.WaSession) {
	agentID := row.AgentID
	h := m.reg.Get(agentID)
	stale := row.LastHeartbeat == nil ||
		time.Since(*row.LastHeartbeat) > m.cfg.StaleThreshold

	var reason string
	switch {
	case h == nil && stale:
		// recorded owner is presumed dead; reclaim here
		reason = "orphaned"
	case h != nil && !h.Connected():
		reason = "reconnect"
	case stale && row.OwnerInstanceID != m.sup.Owner().InstanceID:
		reason = "stale_owner"
	default:
		return
	}

	zap.L().Info("monitor: reclaiming session",
		zap.Int64("agent_id", agentID),
		zap.String("reason", reason),
		zap.String("recorded_owner", row.OwnerInstanceID))

	_, err := m.sup.Initialize(ctx, agentID)
	switch {
	case err == nil:
	case isBenignInitErr(err):
		zap.L().Debug("monitor: reclaim deferred", zap.Int64("agent_id", agentID), zap.Error(err))
	default:
		zap.L().Warn("monitor: reclaim failed", zap.Int64("agent_id", agentID), zap.Error(err))
	}
}

// isBenignInitErr reports whether an Initialize rejection needs no action:
// the attempt is either already running or merely rate-limited.
func isBenignInitErr(err error) bool {
	if err == nil {
		return false
	}
	var cd *CooldownError
	if errors.As(err, &cd) {
		return true
	}
	return errors.Is(err, ErrInFlight)
}
