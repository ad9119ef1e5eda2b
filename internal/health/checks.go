package health

import (
	"context"
	"time"

	"github.com/eleven-am/voice-client/internal/transport"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var criticalComponents = map[string]bool{
	"database": true,
	"redis":    true,
}

type check struct {
	name string
	run  func(context.Context) ComponentStatus
}

func since(start time.Time, status Status, msg string) ComponentStatus {
	return ComponentStatus{
		Status:    status,
		LatencyMs: time.Since(start).Milliseconds(),
		Error:     msg,
	}
}

func databaseCheck(db *gorm.DB) func(context.Context) ComponentStatus {
	return func(ctx context.Context) ComponentStatus {
		start := time.Now()
		if db == nil {
			return since(start, StatusUnhealthy, "database not configured")
		}
		sqlDB, err := db.DB()
		if err != nil {
			return since(start, StatusUnhealthy, "failed to get underlying db")
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return since(start, StatusUnhealthy, "ping failed")
		}
		stats := sqlDB.Stats()
		if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
			return since(start, StatusDegraded, "connection pool exhausted")
		}
		return since(start, StatusHealthy, "")
	}
}

func redisCheck(rdb *redis.Client) func(context.Context) ComponentStatus {
	return func(ctx context.Context) ComponentStatus {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return since(start, StatusUnhealthy, "ping failed")
		}
		return since(start, StatusHealthy, "")
	}
}

// checkVoiceServer reports the primary channel of the live session. No
// session at all is degraded rather than unhealthy.
func (h *Handler) checkVoiceServer(context.Context) ComponentStatus {
	start := time.Now()
	s := h.sessions.Active()
	if s == nil {
		return since(start, StatusDegraded, "no active session")
	}
	switch state := s.State(); state {
	case transport.StateOpen:
		return since(start, StatusHealthy, "")
	case transport.StateConnecting:
		return since(start, StatusDegraded, "connecting")
	default:
		return since(start, StatusUnhealthy, "session "+state.String())
	}
}

// checkPlayback degrades when every slot is taken, which means incoming
// audio is being dropped.
func (h *Handler) checkPlayback(context.Context) ComponentStatus {
	start := time.Now()
	if h.player == nil {
		return since(start, StatusDegraded, "no playback buffer")
	}
	if h.player.Len() >= h.player.Capacity() {
		return since(start, StatusDegraded, "playback buffer full")
	}
	return since(start, StatusHealthy, "")
}
