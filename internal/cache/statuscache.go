package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ProbeKey identifies one upstream reachability probe result. Hash covers
// the full upstream coordinates so a config change invalidates the entry.
type ProbeKey struct {
	Deployment string
	VersionID  string
	Hash       string
}

// String converts the structured key into the final string used in Redis/map.
func (k ProbeKey) String() string {
	// probe:<DEPLOYMENT>:<VERSION_ID>:<HASH_HEX>
	return fmt.Sprintf("probe:%s:%s:%s", k.Deployment, k.VersionID, k.Hash)
}

// StatusCache memoizes small operational values (upstream probe results)
// for a short TTL. Implemented by the memory cache (dev) and Redis (prod).
type StatusCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// BuildProbeKey derives the cache key for the upstream reachability probe
// from the upstream coordinates. Deterministic: same config, same key.
func BuildProbeKey(endpoint, deployment, apiVersion, versionID string) ProbeKey {
	normalized := "endpoint:" + strings.TrimRight(endpoint, "/") +
		"|deployment:" + strings.TrimSpace(deployment) +
		"|api_version:" + strings.TrimSpace(apiVersion)

	sum := sha256.Sum256([]byte(normalized))

	return ProbeKey{
		Deployment: strings.TrimSpace(deployment),
		VersionID:  strings.TrimSpace(versionID),
		Hash:       hex.EncodeToString(sum[:]),
	}
}
