package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/heatmapapp/heatmap/internal/database"
	"github.com/heatmapapp/heatmap/internal/di"
)

// SystemHandlers serves process and database health.
type SystemHandlers struct {
	container *di.Container
	log       zerolog.Logger
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(log zerolog.Logger, container *di.Container) *SystemHandlers {
	return &SystemHandlers{
		container: container,
		log:       log.With().Str("handler", "system").Logger(),
	}
}

// HealthResponse is the system health payload.
type HealthResponse struct {
	Status     string            `json:"status"`
	CPUPercent float64           `json:"cpuPercent"`
	RAMPercent float64           `json:"ramPercent"`
	Databases  map[string]string `json:"databases"`
}

// HandleHealth reports CPU and RAM usage plus a quick integrity check on
// each database.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := h.systemStats()

	status := "healthy"
	databases := make(map[string]string)
	for _, db := range []*database.DB{
		h.container.PortfolioDB,
		h.container.HistoryDB,
		h.container.ClientDataDB,
	} {
		if db == nil {
			continue
		}
		if err := db.QuickCheck(r.Context()); err != nil {
			h.log.Error().Err(err).Str("database", db.Name()).Msg("Database quick check failed")
			databases[db.Name()] = err.Error()
			status = "degraded"
			continue
		}
		databases[db.Name()] = "ok"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     status,
		CPUPercent: cpuAvg,
		RAMPercent: ramPercent,
		Databases:  databases,
	})
}

// systemStats samples CPU over a short interval so the endpoint stays
// responsive, and reads memory usage instantly.
func (h *SystemHandlers) systemStats() (float64, float64) {
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
