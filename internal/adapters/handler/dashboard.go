package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"social-inbox/internal/core/domain"
	"social-inbox/internal/core/services"
	"social-inbox/internal/core/store"
)

// Version is reported by GET /api/status
const Version = "1.0.0"

// DashboardHandler handles operator dashboard requests
type DashboardHandler struct {
	store             *store.Store
	registry          *store.Registry
	pause             *services.SyncPause
	watchdogThreshold float64
	diskPath          string
	persistent        bool
	startedAt         time.Time
}

// DashboardConfig describes the process for the status endpoints
type DashboardConfig struct {
	WatchdogThreshold float64
	DiskPath          string
	Persistent        bool // false when running without a database
}

// NewDashboardHandler creates a new dashboard handler instance
func NewDashboardHandler(s *store.Store, registry *store.Registry, pause *services.SyncPause, cfg DashboardConfig) *DashboardHandler {
	if cfg.WatchdogThreshold <= 0 {
		cfg.WatchdogThreshold = services.DefaultDiskThresholdPct
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	return &DashboardHandler{
		store:             s,
		registry:          registry,
		pause:             pause,
		watchdogThreshold: cfg.WatchdogThreshold,
		diskPath:          cfg.DiskPath,
		persistent:        cfg.Persistent,
		startedAt:         time.Now(),
	}
}

// RegisterRoutes mounts the dashboard endpoints under /api
func (h *DashboardHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/system/metrics", h.GetSystemMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/status", h.GetStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/platforms", h.GetPlatforms).Methods(http.MethodGet)
	r.HandleFunc("/api/sync/status", h.GetSyncStatus).Methods(http.MethodGet)
}

// ============================================================================
// System Health & Metrics
// ============================================================================

// SystemMetricsResponse represents system health data
type SystemMetricsResponse struct {
	CPUPercent        float64 `json:"cpu_percent"`
	RAMUsedGB         float64 `json:"ram_used_gb"`
	RAMTotalGB        float64 `json:"ram_total_gb"`
	RAMPercent        float64 `json:"ram_percent"`
	DiskUsedGB        float64 `json:"disk_used_gb"`
	DiskTotalGB       float64 `json:"disk_total_gb"`
	DiskPercent       float64 `json:"disk_percent"`
	GoroutinesCount   int     `json:"goroutines_count"`
	WatchdogActive    bool    `json:"watchdog_active"`
	WatchdogThreshold float64 `json:"watchdog_threshold"`
	DiskWarningLevel  string  `json:"disk_warning_level"` // "safe" | "warning" | "critical"
}

// GetSystemMetrics returns current system health metrics
// GET /api/system/metrics
func (h *DashboardHandler) GetSystemMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// CPU usage (average over 1 second)
	var cpuPercent float64
	if cpuPercents, err := cpu.PercentWithContext(ctx, time.Second, false); err == nil && len(cpuPercents) > 0 {
		cpuPercent = cpuPercents[0]
	}

	var ramUsedGB, ramTotalGB, ramPercent float64
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		ramUsedGB = bytesToGB(memStat.Used)
		ramTotalGB = bytesToGB(memStat.Total)
		ramPercent = memStat.UsedPercent
	}

	var diskUsedGB, diskTotalGB, diskPercent float64
	if diskStat, err := disk.UsageWithContext(ctx, h.diskPath); err == nil {
		diskUsedGB = bytesToGB(diskStat.Used)
		diskTotalGB = bytesToGB(diskStat.Total)
		diskPercent = diskStat.UsedPercent
	}

	response := SystemMetricsResponse{
		CPUPercent:        roundTo2Decimals(cpuPercent),
		RAMUsedGB:         roundTo2Decimals(ramUsedGB),
		RAMTotalGB:        roundTo2Decimals(ramTotalGB),
		RAMPercent:        roundTo2Decimals(ramPercent),
		DiskUsedGB:        roundTo2Decimals(diskUsedGB),
		DiskTotalGB:       roundTo2Decimals(diskTotalGB),
		DiskPercent:       roundTo2Decimals(diskPercent),
		GoroutinesCount:   runtime.NumGoroutine(),
		WatchdogActive:    diskPercent >= h.watchdogThreshold,
		WatchdogThreshold: h.watchdogThreshold,
		DiskWarningLevel:  diskWarningLevel(diskPercent, h.watchdogThreshold),
	}

	slog.Debug("System metrics retrieved",
		"cpu", cpuPercent,
		"disk_percent", diskPercent,
		"watchdog_active", response.WatchdogActive,
	)

	writeOK(w, response)
}

// ============================================================================
// System Status
// ============================================================================

// SystemStatusResponse represents overall system status
type SystemStatusResponse struct {
	Online        bool   `json:"online"`
	Uptime        string `json:"uptime"`
	Version       string `json:"version"`
	Persistent    bool   `json:"persistent"`
	Connections   int    `json:"connections"`
	Conversations int    `json:"conversations"`
	Messages      int    `json:"messages"`
	SyncPaused    bool   `json:"sync_paused"`
}

// GetStatus returns system status
// GET /api/status
func (h *DashboardHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeOK(w, SystemStatusResponse{
		Online:        true,
		Uptime:        formatDuration(time.Since(h.startedAt)),
		Version:       Version,
		Persistent:    h.persistent,
		Connections:   len(h.registry.List(store.Filter{})),
		Conversations: len(h.store.Conversations("")),
		Messages:      h.store.MessageCount(),
		SyncPaused:    h.pause.IsActive(),
	})
}

// ============================================================================
// Platform List
// ============================================================================

// PlatformResponse represents a platform's connection health
type PlatformResponse struct {
	Platform        domain.Platform `json:"platform"`
	Status          string          `json:"status"` // "connected" | "warning" | "offline"
	Accounts        int             `json:"accounts"`
	ConnectedCount  int             `json:"connected_count"`
	WebhookVerified int             `json:"webhook_verified"`
	LastSyncAt      *time.Time      `json:"last_sync_at,omitempty"`
	Conversations   int             `json:"conversations"`
	UnreadMessages  int             `json:"unread_messages"`
}

// GetPlatforms returns per-platform connection health
// GET /api/platforms
func (h *DashboardHandler) GetPlatforms(w http.ResponseWriter, r *http.Request) {
	platforms := make([]PlatformResponse, 0, len(domain.Platforms))
	for _, p := range domain.Platforms {
		resp := PlatformResponse{Platform: p}

		for _, c := range h.registry.List(store.Filter{Platform: p}) {
			resp.Accounts++
			if c.Connected {
				resp.ConnectedCount++
			}
			if c.WebhookVerified {
				resp.WebhookVerified++
			}
			if c.LastSyncAt != nil && (resp.LastSyncAt == nil || c.LastSyncAt.After(*resp.LastSyncAt)) {
				t := *c.LastSyncAt
				resp.LastSyncAt = &t
			}
		}
		for _, conv := range h.store.Conversations(p) {
			resp.Conversations++
			resp.UnreadMessages += conv.UnreadCount
		}
		resp.Status = platformStatus(resp.Accounts, resp.ConnectedCount)

		platforms = append(platforms, resp)
	}

	writeOK(w, platforms)
}

// ============================================================================
// Sync Status
// ============================================================================

// SyncStatusResponse represents background sync health
type SyncStatusResponse struct {
	Pause          services.PauseStatus `json:"pause"`
	LastSyncAt     *time.Time           `json:"last_sync_at,omitempty"`
	SyncLagSeconds int                  `json:"sync_lag_seconds"`
	Disconnected   int                  `json:"disconnected"`
	SyncHealth     string               `json:"sync_health"` // "healthy" | "lagging" | "critical" | "idle"
}

// GetSyncStatus returns sync status
// GET /api/sync/status
func (h *DashboardHandler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := SyncStatusResponse{Pause: h.pause.Status()}

	conns := h.registry.List(store.Filter{})
	for _, c := range conns {
		if !c.Connected {
			resp.Disconnected++
		}
		if c.LastSyncAt != nil && (resp.LastSyncAt == nil || c.LastSyncAt.After(*resp.LastSyncAt)) {
			t := *c.LastSyncAt
			resp.LastSyncAt = &t
		}
	}

	switch {
	case len(conns) == 0:
		resp.SyncHealth = "idle"
	case resp.LastSyncAt == nil:
		resp.SyncHealth = "critical"
	default:
		resp.SyncLagSeconds = int(time.Since(*resp.LastSyncAt).Seconds())
		resp.SyncHealth = syncHealth(resp.SyncLagSeconds, resp.Disconnected)
	}

	writeOK(w, resp)
}

// ============================================================================
// Helpers
// ============================================================================

func syncHealth(lagSeconds, disconnected int) string {
	switch {
	case disconnected == 0 && lagSeconds < 900:
		return "healthy"
	case lagSeconds < 3600:
		return "lagging"
	default:
		return "critical"
	}
}

func platformStatus(accounts, connected int) string {
	switch {
	case accounts == 0:
		return "offline"
	case connected == accounts:
		return "connected"
	case connected == 0:
		return "offline"
	default:
		return "warning"
	}
}

func diskWarningLevel(percent, threshold float64) string {
	switch {
	case percent < threshold:
		return "safe"
	case percent < threshold+10:
		return "warning"
	default:
		return "critical"
	}
}

func bytesToGB(b uint64) float64 {
	return float64(b) / 1024 / 1024 / 1024
}

func roundTo2Decimals(val float64) float64 {
	return float64(int(val*100)) / 100
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 24 {
		days := hours / 24
		hours = hours % 24
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}

	return fmt.Sprintf("%dh %dm", hours, minutes)
}
