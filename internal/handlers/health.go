package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tmcclell/CodeCounselor/internal/cache"
	"github.com/tmcclell/CodeCounselor/pkg/logging"
)

// Pinger reports upstream reachability at the transport level.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves GET /health. The upstream probe result is memoized
// in the status cache for a short TTL so polling frontends don't turn every
// health check into an upstream round trip.
type HealthHandler struct {
	Cache    cache.StatusCache
	ProbeTTL time.Duration
	Pinger   Pinger
	probeKey string
}

func NewHealthHandler(c cache.StatusCache, ttl time.Duration, pinger Pinger, key cache.ProbeKey) *HealthHandler {
	return &HealthHandler{
		Cache:    c,
		ProbeTTL: ttl,
		Pinger:   pinger,
		probeKey: key.String(),
	}
}

type healthResponse struct {
	Status             string `json:"status"`
	UpstreamConfigured bool   `json:"upstream_configured"`
	UpstreamReachable  bool   `json:"upstream_reachable"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	writeJSON(w, http.StatusOK, healthResponse{
		Status:             "healthy",
		UpstreamConfigured: h.Pinger != nil,
		UpstreamReachable:  h.upstreamReachable(ctx),
	})
}

const (
	probeOK          = "ok"
	probeUnreachable = "unreachable"
)

func (h *HealthHandler) upstreamReachable(ctx context.Context) bool {
	if h.Pinger == nil {
		return false
	}

	logger := logging.L(ctx)

	if h.Cache != nil {
		val, hit, err := h.Cache.Get(ctx, h.probeKey)
		if err != nil {
			// Cache is best-effort; log and probe anyway.
			logger.Warn("probe_cache_get_error", zap.Error(err))
		} else if hit {
			return string(val) == probeOK
		}
	}

	status := probeOK
	if err := h.Pinger.Ping(ctx); err != nil {
		status = probeUnreachable
		logger.Warn("upstream probe failed", zap.Error(err))
	}

	if h.Cache != nil {
		if err := h.Cache.Set(ctx, h.probeKey, []byte(status), h.ProbeTTL); err != nil {
			logger.Warn("probe_cache_set_error", zap.Error(err))
		}
	}

	return status == probeOK
}
