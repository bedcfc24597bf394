package api

import (
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Health reports service liveness plus host pressure. The relational
// store being down degrades the report but does not fail it; jobs keep
// working off the metadata files.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"
	if h.db != nil {
		if err := h.db.HealthCheck(); err != nil {
			status = "degraded"
			dbStatus = err.Error()
		}
	} else {
		dbStatus = "disabled"
	}

	payload := map[string]interface{}{
		"status":    status,
		"database":  dbStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		payload["cpuPercent"] = cpuPercent[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		payload["memUsedPercent"] = vmem.UsedPercent
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}
