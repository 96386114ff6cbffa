package api

import (
	"net/http"
	"os"
	"runtime"
	"time"

	"medipos/m/internal/store"
)

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: h.timestamp()})
}

type systemInfo struct {
	Hostname  string `json:"hostname"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	GoVersion string `json:"go_version"`
	CPUs      int    `json:"cpus"`
}

type memoryInfo struct {
	AllocMB      float64 `json:"alloc_mb"`
	SysMB        float64 `json:"sys_mb"`
	HeapObjects  uint64  `json:"heap_objects"`
	NumGC        uint32  `json:"num_gc"`
	NumGoroutine int     `json:"num_goroutine"`
}

type databaseInfo struct {
	Status      string           `json:"status"`
	Error       string           `json:"error,omitempty"`
	Collections map[string]int64 `json:"collections"`
}

type systemStatus struct {
	Status        string       `json:"status"`
	Version       string       `json:"version"`
	Timestamp     string       `json:"timestamp"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	System        systemInfo   `json:"system"`
	Memory        memoryInfo   `json:"memory"`
	Database      databaseInfo `json:"database"`
}

// systemStatus reports process, runtime and store health. A failing store
// degrades the status without failing the request.
func (h *Handler) systemStatus(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	out := systemStatus{
		Status:        "healthy",
		Version:       h.version,
		Timestamp:     h.timestamp(),
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		System: systemInfo{
			Hostname:  host,
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
			GoVersion: runtime.Version(),
			CPUs:      runtime.NumCPU(),
		},
		Memory: memoryInfo{
			AllocMB:      megabytes(ms.Alloc),
			SysMB:        megabytes(ms.Sys),
			HeapObjects:  ms.HeapObjects,
			NumGC:        ms.NumGC,
			NumGoroutine: runtime.NumGoroutine(),
		},
		Database: databaseInfo{Status: "connected", Collections: map[string]int64{}},
	}

	if err := h.store.Ping(r.Context()); err != nil {
		out.Status = "degraded"
		out.Database.Status = "disconnected"
		out.Database.Error = err.Error()
		respondJSON(w, http.StatusOK, out)
		return
	}
	for _, coll := range store.AllCollections {
		n, err := h.store.Count(r.Context(), coll, store.Filter{})
		if err != nil {
			h.log.Warn().Err(err).Str("collection", coll).Msg("count failed")
			continue
		}
		out.Database.Collections[coll] = n
	}
	respondJSON(w, http.StatusOK, out)
}

func megabytes(b uint64) float64 {
	return float64(b*100/(1<<20)) / 100
}
