package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tmcclell/CodeCounselor/internal/metrics"
	"github.com/tmcclell/CodeCounselor/pkg/logging"
)

// LoggingStatusCache wraps a StatusCache with logging + metrics.
type LoggingStatusCache struct {
	inner StatusCache
}

// NewLoggingStatusCache returns a cache that logs and records metrics.
func NewLoggingStatusCache(inner StatusCache) StatusCache {
	return &LoggingStatusCache{inner: inner}
}

func (c *LoggingStatusCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		metrics.ProbeCacheHitsTotal.Inc()
	}

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}

	if parts, ok := parseProbeKey(key); ok {
		fields = append(fields,
			zap.String("deployment", parts.deployment),
			zap.String("version_id", parts.versionID),
			zap.String("hash", parts.hash),
		)
	}

	if err != nil {
		logger.Error("status_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("status_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingStatusCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.Duration("ttl", ttl),
		zap.Float64("latency_ms", latencyMs),
	}

	if err != nil {
		logger.Error("status_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("status_cache_set", fields...)
	}

	return err
}

type probeKeyParts struct {
	deployment string
	versionID  string
	hash       string
}

// Expecting: probe:<DEPLOYMENT>:<VERSION_ID>:<HASH>
func parseProbeKey(key string) (probeKeyParts, bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "probe" {
		return probeKeyParts{}, false
	}
	return probeKeyParts{
		deployment: parts[1],
		versionID:  parts[2],
		hash:       parts[3],
	}, true
}
