package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/digkill/photogen/internal/models"
	"github.com/digkill/photogen/internal/repository"
)

// AlertNotifier is told when a principal crosses the security threshold.
type AlertNotifier interface {
	FlagPrincipal(ctx context.Context, principalID string, count int, window time.Duration, lastKind string) error
}

// SecurityMonitor records authorization failures and flags principals that
// repeat them. It never blocks a principal.
type SecurityMonitor struct {
	events    *repository.SecurityRepository
	notifier  AlertNotifier
	threshold int
	window    time.Duration
	log       *slog.Logger
}

func NewSecurityMonitor(events *repository.SecurityRepository, notifier AlertNotifier, threshold int, window time.Duration, log *slog.Logger) *SecurityMonitor {
	return &SecurityMonitor{
		events:    events,
		notifier:  notifier,
		threshold: threshold,
		window:    window,
		log:       log,
	}
}

// Record stores one event and reports whether the principal is now flagged.
// Storage and alert failures are logged, not returned.
func (m *SecurityMonitor) Record(ctx context.Context, principalID, kind, detail string) bool {
	m.log.Warn("authorization rejected", "event", "security", "principal", principalID, "kind", kind, "detail", detail)

	ctx = context.WithoutCancel(ctx)
	if _, err := m.events.Insert(ctx, &models.SecurityEvent{PrincipalID: principalID, Kind: kind, Detail: detail}); err != nil {
		m.log.Error("store security event", "principal", principalID, "err", err)
		return false
	}

	count, err := m.events.CountSince(ctx, principalID, time.Now().Add(-m.window))
	if err != nil {
		m.log.Error("count security events", "principal", principalID, "err", err)
		return false
	}
	if count < m.threshold {
		return false
	}

	m.log.Warn("principal flagged", "event", "security", "principal", principalID, "count", count, "window", m.window.String())
	if m.notifier != nil {
		if err := m.notifier.FlagPrincipal(ctx, principalID, count, m.window, kind); err != nil {
			m.log.Error("notify security flag", "principal", principalID, "err", err)
		}
	}
	return true
}
