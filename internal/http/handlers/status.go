package handlers

import (
	"net/http"

	"github.com/alimlabs/edu-assistant/internal/assistant"
	"github.com/alimlabs/edu-assistant/internal/http/middleware"
)

// StatusConfig lists the statically-known provider facts the handler reports.
type StatusConfig struct {
	Mode              string
	RemoteConfigured  bool
	PartnerConfigured bool
	AdminRole         string
}

type statusCounters struct {
	Requests  int64 `json:"requests"`
	Errors    int64 `json:"errors"`
	CacheHits int64 `json:"cacheHits"`
}

type statusProviders struct {
	Mode              string `json:"mode"`
	RemoteConfigured  bool   `json:"remoteConfigured"`
	PartnerConfigured bool   `json:"partnerConfigured"`
	LocalAvailable    bool   `json:"localAvailable"`
	LocalLatencyMs    int64  `json:"localLatencyMs"`
	LocalErrorKind    string `json:"localErrorKind,omitempty"`
}

type statusResponse struct {
	Status    string           `json:"status"`
	Counters  statusCounters   `json:"counters"`
	Providers *statusProviders `json:"providers,omitempty"`
}

// StatusHandler reports pipeline counters to everyone and provider
// diagnostics to privileged callers only.
type StatusHandler struct {
	cfg     StatusConfig
	service *assistant.Service
	prober  *assistant.Prober
}

func NewStatusHandler(cfg StatusConfig, service *assistant.Service, prober *assistant.Prober) *StatusHandler {
	if cfg.AdminRole == "" {
		cfg.AdminRole = "admin"
	}
	return &StatusHandler{cfg: cfg, service: service, prober: prober}
}

// Handle processes GET /api/assistant/status.
func (h *StatusHandler) Handle(w http.ResponseWriter, r *http.Request) {
	totals := h.service.Totals()
	resp := statusResponse{
		Status: "ok",
		Counters: statusCounters{
			Requests:  totals.Requests,
			Errors:    totals.Errors,
			CacheHits: totals.CacheHits,
		},
	}

	if middleware.CallerRole(r.Context()) == h.cfg.AdminRole {
		providers := &statusProviders{
			Mode:              h.cfg.Mode,
			RemoteConfigured:  h.cfg.RemoteConfigured,
			PartnerConfigured: h.cfg.PartnerConfigured,
		}
		if h.prober != nil {
			health := h.prober.Check(r.Context(), false)
			providers.LocalAvailable = health.Available
			providers.LocalLatencyMs = health.LatencyMs
			providers.LocalErrorKind = string(health.Kind)
		}
		resp.Providers = providers
	}

	writeJSON(w, http.StatusOK, resp)
}
