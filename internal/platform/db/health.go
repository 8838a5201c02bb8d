package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireCount  int64  `json:"acquire_count"`
	AcquireWait   string `json:"acquire_wait"`
}

// GetPoolStats returns connection pool statistics.
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

// Check is an extra dependency probe reported by the health endpoint, e.g. the
// Redis lock backend.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// RunChecks executes every probe and returns the failures keyed by name.
func RunChecks(ctx context.Context, checks []Check) map[string]string {
	failed := map[string]string{}
	for _, ch := range checks {
		if err := ch.Probe(ctx); err != nil {
			failed[ch.Name] = err.Error()
		}
	}
	return failed
}

// HealthHandler reports database reachability, pool usage and the result of
// any extra checks.
func HealthHandler(pool *pgxpool.Pool, checks ...Check) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		all := append([]Check{{Name: "database", Probe: pool.Ping}}, checks...)
		failed := RunChecks(ctx, all)

		body := map[string]interface{}{
			"status": "healthy",
			"pool":   GetPoolStats(pool),
		}
		if len(failed) > 0 {
			body["status"] = "unhealthy"
			body["errors"] = failed
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
