package handlers

import (
	"net/http"
	"runtime"

	"github.com/tmcclell/CodeCounselor/internal/config"
)

// DebugHandler serves GET /debug: non-secret configuration diagnostics for
// the frontends. The API key is never echoed, only its length and a short
// prefix for eyeballing which key is loaded.
type DebugHandler struct {
	Cfg config.Config
}

func NewDebugHandler(cfg config.Config) *DebugHandler {
	return &DebugHandler{Cfg: cfg}
}

func (h *DebugHandler) Debug(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"azure_openai": map[string]interface{}{
			"client_configured":   h.Cfg.APIKey != "",
			"endpoint":            h.Cfg.Endpoint,
			"deployment_name":     h.Cfg.Deployment,
			"api_version":         h.Cfg.APIVersion,
			"api_key_length":      len(h.Cfg.APIKey),
			"api_key_starts_with": maskAPIKey(h.Cfg.APIKey),
		},
		"server": map[string]interface{}{
			"host":       h.Cfg.Host,
			"port":       h.Cfg.Port,
			"go_version": runtime.Version(),
		},
		"cache": map[string]interface{}{
			"backend":   h.Cfg.CacheBackend,
			"probe_ttl": h.Cfg.ProbeTTL.String(),
		},
	})
}

func maskAPIKey(key string) interface{} {
	if key == "" {
		return nil
	}
	if len(key) > 10 {
		key = key[:10]
	}
	return key + "..."
}
