package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/hindsight/internal/cache"
	"github.com/aristath/hindsight/internal/scheduler"
)

// SystemHandlers handles health and monitoring endpoints.
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	store       cache.Store
	sched       *scheduler.Scheduler
	purgeJob    scheduler.Job
}

// NewSystemHandlers creates system handlers.
func NewSystemHandlers(log zerolog.Logger, store cache.Store, sched *scheduler.Scheduler, purgeJob scheduler.Job) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		store:       store,
		sched:       sched,
		purgeJob:    purgeJob,
	}
}

// SystemHealthResponse reports process and cache backend state.
type SystemHealthResponse struct {
	Status      string      `json:"status"`
	UptimeHours float64     `json:"uptime_hours"`
	CPUPercent  float64     `json:"cpu_percent"`
	RAMPercent  float64     `json:"ram_percent"`
	Cache       cache.Stats `json:"cache"`
}

// HandleHealth is the liveness probe.
// GET /api/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleSystemHealth returns process stats and cache backend state.
// GET /api/system/health
func (h *SystemHandlers) HandleSystemHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, ramPercent := h.getSystemStats()

	stats := h.store.Stats(r.Context())
	status := "healthy"
	if !stats.Available {
		// A dead cache degrades performance but does not stop backtests.
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, SystemHealthResponse{
		Status:      status,
		UptimeHours: time.Since(h.startupTime).Hours(),
		CPUPercent:  cpuPercent,
		RAMPercent:  ramPercent,
		Cache:       stats,
	})
}

// HandleCacheStats returns cache backend statistics.
// GET /api/system/cache
func (h *SystemHandlers) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Stats(r.Context()))
}

// HandleCacheFlush triggers the purge job immediately.
// POST /api/system/cache/flush
func (h *SystemHandlers) HandleCacheFlush(w http.ResponseWriter, r *http.Request) {
	if h.purgeJob == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "error",
			"message": "Cache purge job not registered",
		})
		return
	}

	h.log.Info().Msg("Manual cache flush triggered")

	if err := h.sched.RunNow(h.purgeJob); err != nil {
		h.log.Error().Err(err).Msg("Failed to flush cache")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Cache flushed successfully",
	})
}

// getSystemStats samples CPU and RAM usage percentages. The CPU sample uses a
// 100ms window so the endpoint stays responsive to pollers.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}
