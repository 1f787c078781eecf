package mysql

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus describes the outcome of a MySQL health check.
type HealthStatus struct {
	// Name is the component type identifier.
	Name string `json:"name"`

	// Healthy indicates whether MySQL is reachable.
	Healthy bool `json:"healthy"`

	// Latency is the time taken to complete the ping operation.
	Latency time.Duration `json:"latency"`

	// Error contains the failure if unhealthy.
	Error error `json:"error,omitempty"`
}

// CheckHealth performs a comprehensive health check on the MySQL client.
// It verifies connectivity, measures latency, and checks connection pool
// statistics.
//
// Example usage:
//
//	status := CheckHealth(client, 5*time.Second)
//	if !status.Healthy {
//	    log.Printf("MySQL unhealthy: %v", status.Error)
//	}
func CheckHealth(client *Client, timeout time.Duration) HealthStatus {
	status := HealthStatus{
		Name:    client.Name(),
		Healthy: false,
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		status.Error = fmt.Errorf("ping failed: %w", err)
		status.Latency = time.Since(start)
		return status
	}

	status.Latency = time.Since(start)

	sqlDB, err := client.SqlDB()
	if err != nil {
		status.Error = fmt.Errorf("failed to get sql.DB: %w", err)
		return status
	}

	stats := sqlDB.Stats()

	if stats.MaxOpenConnections > 0 && stats.OpenConnections > stats.MaxOpenConnections {
		status.Error = fmt.Errorf("connection pool exceeded: open=%d, max=%d",
			stats.OpenConnections, stats.MaxOpenConnections)
		return status
	}

	// Long waits indicate connection pool exhaustion.
	if stats.WaitCount > 0 && stats.WaitDuration > 5*time.Second {
		status.Error = fmt.Errorf("high connection wait time: count=%d, duration=%v",
			stats.WaitCount, stats.WaitDuration)
		return status
	}

	status.Healthy = true
	return status
}

// HealthWithStats performs a health check and returns detailed connection
// pool statistics, useful for monitoring and debugging pool behavior.
func HealthWithStats(client *Client, timeout time.Duration) (HealthStatus, map[string]interface{}) {
	status := CheckHealth(client, timeout)
	stats := make(map[string]interface{})

	sqlDB, err := client.SqlDB()
	if err != nil {
		stats["error"] = err.Error()
		return status, stats
	}

	dbStats := sqlDB.Stats()
	stats["max_open_connections"] = dbStats.MaxOpenConnections
	stats["open_connections"] = dbStats.OpenConnections
	stats["in_use_connections"] = dbStats.InUse
	stats["idle_connections"] = dbStats.Idle
	stats["wait_count"] = dbStats.WaitCount
	stats["wait_duration"] = dbStats.WaitDuration.String()
	stats["max_idle_closed"] = dbStats.MaxIdleClosed
	stats["max_idle_time_closed"] = dbStats.MaxIdleTimeClosed
	stats["max_lifetime_closed"] = dbStats.MaxLifetimeClosed

	return status, stats
}
