package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

type staleCallCleaner interface {
	CleanupStale(ctx context.Context, initiatedOlderThan, ringingOlderThan time.Duration) (failed, missed int64, err error)
}

// AdminOpsConfig holds dependencies for the operator endpoints.
type AdminOpsConfig struct {
	Calls           staleCallCleaner
	InitiatedMaxAge time.Duration
	RingingMaxAge   time.Duration
	Logger          *logging.Logger
}

// AdminOpsHandler backs the JWT-protected operator endpoints. The service
// has no internal scheduler; the stale-call sweep is driven by an external
// cron hitting this route, or by hand after a carrier outage.
type AdminOpsHandler struct {
	calls           staleCallCleaner
	initiatedMaxAge time.Duration
	ringingMaxAge   time.Duration
	logger          *logging.Logger
}

func NewAdminOpsHandler(cfg AdminOpsConfig) *AdminOpsHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.InitiatedMaxAge <= 0 {
		cfg.InitiatedMaxAge = 3 * time.Minute
	}
	if cfg.RingingMaxAge <= 0 {
		cfg.RingingMaxAge = 2 * time.Minute
	}
	return &AdminOpsHandler{
		calls:           cfg.Calls,
		initiatedMaxAge: cfg.InitiatedMaxAge,
		ringingMaxAge:   cfg.RingingMaxAge,
		logger:          cfg.Logger,
	}
}

// HandleCleanupStaleCalls closes out call rows whose terminal webhook never
// arrived.
func (h *AdminOpsHandler) HandleCleanupStaleCalls(w http.ResponseWriter, r *http.Request) {
	failed, missed, err := h.calls.CleanupStale(r.Context(), h.initiatedMaxAge, h.ringingMaxAge)
	if err != nil {
		h.logger.Error("stale call cleanup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("stale call cleanup completed", "marked_failed", failed, "marked_missed", missed)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"marked_failed": failed,
		"marked_missed": missed,
	})
}
