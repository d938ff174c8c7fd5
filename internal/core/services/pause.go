package services

import (
	"log/slog"
	"sync"
	"time"
)

// SyncPause lets an operator halt background sync, e.g. while a platform is
// rate limiting every call. Manual syncs still run.
type SyncPause struct {
	mu       sync.RWMutex
	active   bool
	pausedBy string
	pausedAt time.Time
	reason   string
}

// PauseStatus is the operator-visible state of the switch
type PauseStatus struct {
	Active   bool      `json:"active"`
	Reason   string    `json:"reason,omitempty"`
	PausedBy string    `json:"paused_by,omitempty"`
	PausedAt time.Time `json:"paused_at,omitempty"`
}

// IsActive returns whether background sync is paused
func (p *SyncPause) IsActive() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// Enable pauses background sync
func (p *SyncPause) Enable(reason, pausedBy string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.active = true
	p.reason = reason
	p.pausedBy = pausedBy
	p.pausedAt = time.Now()

	slog.Warn("Background sync paused",
		"reason", reason,
		"paused_by", pausedBy,
	)
}

// Disable resumes background sync
func (p *SyncPause) Disable(resumedBy string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return
	}
	duration := time.Since(p.pausedAt)
	p.active = false
	p.reason = ""
	p.pausedBy = ""
	p.pausedAt = time.Time{}

	slog.Info("Background sync resumed",
		"resumed_by", resumedBy,
		"duration", duration,
	)
}

// Status returns the current state
func (p *SyncPause) Status() PauseStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return PauseStatus{
		Active:   p.active,
		Reason:   p.reason,
		PausedBy: p.pausedBy,
		PausedAt: p.pausedAt,
	}
}
