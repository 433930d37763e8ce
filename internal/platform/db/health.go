package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats is the connection pool snapshot exposed on the health endpoint.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireCount  int64  `json:"acquire_count"`
	AcquireWait   string `json:"acquire_wait"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireCount:  stat.AcquireCount(),
		AcquireWait:   stat.AcquireDuration().String(),
	}
}

// Pinger checks one dependency's liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the gateway's readiness: the idempotency store must
// answer a ping, and so must the broker when one is wired.
func HealthHandler(pool *pgxpool.Pool, broker Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		out := map[string]any{
			"status": "healthy",
			"pool":   GetPoolStats(pool),
		}

		if err := pool.Ping(ctx); err != nil {
			out["status"] = "unhealthy"
			out["database_error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, out)
		}
		if broker != nil {
			if err := broker.Ping(ctx); err != nil {
				out["status"] = "unhealthy"
				out["broker_error"] = err.Error()
				return c.JSON(http.StatusServiceUnavailable, out)
			}
		}
		return c.JSON(http.StatusOK, out)
	}
}
