package database

import (
	"context"
	stdsql "database/sql"
	"time"
)

// PoolHealth is one point-in-time reading of the connection pool. The
// wait columns are the ones to watch under ingest load: a growing
// WaitCount means the canonicaliser and the stores are contending for
// connections.
type PoolHealth struct {
	Status          string `json:"status"`
	ResponseTime    int64  `json:"response_time_ms"`
	OpenConnections int    `json:"open_connections"`
	InUse           int    `json:"in_use"`
	Idle            int    `json:"idle"`
	WaitCount       int64  `json:"wait_count"`
	WaitDuration    int64  `json:"wait_duration_ms"`
	MaxOpenConns    int    `json:"max_open_conns"`
}

// Health pings the database and reads the pool counters. On ping
// failure the returned reading still carries the round-trip time.
func (c *Client) Health(ctx context.Context) (*PoolHealth, error) {
	start := time.Now()
	if err := c.db.PingContext(ctx); err != nil {
		return &PoolHealth{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}
	return poolReading(c.db.Stats(), time.Since(start)), nil
}

func poolReading(stats stdsql.DBStats, rtt time.Duration) *PoolHealth {
	return &PoolHealth{
		Status:          "healthy",
		ResponseTime:    rtt.Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration.Milliseconds(),
		MaxOpenConns:    stats.MaxOpenConnections,
	}
}
