package api

import (
	"net/http"

	"boltzflow/internal/health"
	"boltzflow/internal/observability"
	"boltzflow/internal/service"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	Service       *service.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	// APIKey protects the control API. Empty disables auth.
	APIKey string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.Service, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	auth := AuthMiddleware(cfg.APIKey)
	protected := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, auth(fn))
	}

	protected("GET /v1/settings", handler.GetSettings)
	protected("PUT /v1/settings", handler.SaveSettings)
	protected("POST /v1/settings/test", handler.TestConnection)

	protected("GET /v1/campaigns", handler.ListCampaigns)
	protected("POST /v1/campaigns", handler.CreateCampaign)
	protected("GET /v1/campaigns/{campaignId}", handler.GetCampaign)
	protected("POST /v1/campaigns/{campaignId}/rename", handler.RenameCampaign)
	protected("POST /v1/campaigns/{campaignId}/archive", handler.ArchiveCampaign)
	protected("POST /v1/campaigns/{campaignId}/unarchive", handler.UnarchiveCampaign)

	protected("POST /v1/runs", handler.CreateRun)
	protected("GET /v1/runs/{runId}", handler.GetRun)
	protected("POST /v1/runs/{runId}/rename", handler.RenameRun)
	protected("POST /v1/runs/{runId}/archive", handler.ArchiveRun)
	protected("POST /v1/runs/{runId}/unarchive", handler.UnarchiveRun)
	protected("POST /v1/runs/{runId}/cancel", handler.CancelRun)

	protected("GET /v1/compounds/{compoundId}", handler.GetCompound)
	protected("POST /v1/compounds/{compoundId}/retry", handler.RetryCompound)
	protected("GET /v1/compounds/{compoundId}/structure", handler.GetStructure)
	protected("GET /v1/compounds/{compoundId}/pae", handler.GetPAE)

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
