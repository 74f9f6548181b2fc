package server

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStatsResponse reports host resource usage.
type SystemStatsResponse struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
	Goroutines int     `json:"goroutines"`
	Uptime     string  `json:"uptime"`
}

// DiskUsageResponse reports data directory sizes in MB.
type DiskUsageResponse struct {
	DataDirMB   float64            `json:"data_dir_mb"`
	DatabasesMB map[string]float64 `json:"databases_mb"`
}

// SystemHandlers serves host-level monitoring endpoints.
type SystemHandlers struct {
	log     zerolog.Logger
	dataDir string
	started time.Time
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(log zerolog.Logger, dataDir string) *SystemHandlers {
	return &SystemHandlers{
		log:     log.With().Str("component", "system_handlers").Logger(),
		dataDir: dataDir,
		started: time.Now(),
	}
}

// HandleSystemStats returns CPU, RAM and process statistics.
// GET /api/system
func (h *SystemHandlers) HandleSystemStats(w http.ResponseWriter, r *http.Request) {
	cpuAvg, ramPercent := h.getSystemStats()

	writeJSON(w, SystemStatsResponse{
		CPUPercent: cpuAvg,
		RAMPercent: ramPercent,
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleDiskUsage returns data directory disk usage.
// GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	databases := make(map[string]float64)
	matches, err := filepath.Glob(filepath.Join(h.dataDir, "*.db"))
	if err == nil {
		for _, path := range matches {
			if info, statErr := os.Stat(path); statErr == nil {
				databases[filepath.Base(path)] = float64(info.Size()) / 1024 / 1024
			}
		}
	}

	writeJSON(w, DiskUsageResponse{
		DataDirMB:   h.getDirSize(h.dataDir),
		DatabasesMB: databases,
	})
}

// getDirSize calculates total size of a directory in MB.
func (h *SystemHandlers) getDirSize(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

// getSystemStats calculates CPU and RAM usage percentages. The 100ms CPU
// sample keeps the endpoint responsive for status pollers.
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
