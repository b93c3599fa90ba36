package presence

import (
	"context"
	"log/slog"
	"time"

	"social-realtime/internal/observability"
)

// Monitor periodically evicts users whose heartbeat has gone stale.
type Monitor struct {
	Registry   *Registry
	Interval   time.Duration
	StaleAfter time.Duration
	Logger     *slog.Logger
}

func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.Sweep(ctx, now)
		}
	}
}

// Sweep runs one eviction pass as of now and returns the number of evicted users.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) int {
	evicted := m.Registry.EvictStale(ctx, now.Add(-m.staleAfter()))
	if len(evicted) == 0 {
		return 0
	}
	observability.AddPresenceEvictions(len(evicted))
	if m.Logger != nil {
		m.Logger.Info("evicted stale presence", "users", evicted)
	}
	return len(evicted)
}

func (m *Monitor) interval() time.Duration {
	if m.Interval <= 0 {
		return 10 * time.Second
	}
	return m.Interval
}

func (m *Monitor) staleAfter() time.Duration {
	if m.StaleAfter <= 0 {
		return 35 * time.Second
	}
	return m.StaleAfter
}
