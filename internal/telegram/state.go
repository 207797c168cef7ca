package telegram

import (
	"sync"
	"time"
)

// AlertState remembers when each principal was last reported.
type AlertState struct {
	mu       sync.RWMutex
	cooldown time.Duration
	lastSent map[string]time.Time
}

func NewAlertState(cooldown time.Duration) *AlertState {
	return &AlertState{
		cooldown: cooldown,
		lastSent: make(map[string]time.Time),
	}
}

// ShouldAlert reports whether principalID may be alerted at now, and records
// the alert when it may.
func (s *AlertState) ShouldAlert(principalID string, now time.Time) bool {
	s.mu.RLock()
	last, ok := s.lastSent[principalID]
	s.mu.RUnlock()
	if ok && now.Sub(last) < s.cooldown {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastSent[principalID]; ok && now.Sub(last) < s.cooldown {
		return false
	}
	s.lastSent[principalID] = now
	return true
}

func (s *AlertState) Forget(principalID string) {
	s.mu.Lock()
	delete(s.lastSent, principalID)
	s.mu.Unlock()
}
