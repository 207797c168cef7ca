package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the subset of *tgbotapi.BotAPI used for alerts.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts operator alerts about flagged principals to a Telegram chat.
type Notifier struct {
	api    Sender
	chatID int64
	log    *slog.Logger
	alerts *AlertState
}

func NewNotifier(api Sender, chatID int64, cooldown time.Duration, log *slog.Logger) *Notifier {
	return &Notifier{
		api:    api,
		chatID: chatID,
		log:    log,
		alerts: NewAlertState(cooldown),
	}
}

// FlagPrincipal alerts operators that principalID crossed the security
// threshold. Repeat alerts for the same principal inside the cooldown are dropped.
func (n *Notifier) FlagPrincipal(_ context.Context, principalID string, count int, window time.Duration, lastKind string) error {
	if !n.alerts.ShouldAlert(principalID, time.Now()) {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Security flag: principal %s\n", principalID)
	fmt.Fprintf(&b, "%d authorization failures in the last %s\n", count, window)
	if lastKind != "" {
		fmt.Fprintf(&b, "Last event: %s", lastKind)
	}

	msg := tgbotapi.NewMessage(n.chatID, b.String())
	msg.DisableWebPagePreview = true
	if _, err := n.api.Send(msg); err != nil {
		n.alerts.Forget(principalID)
		n.log.Error("send security alert", "principal", principalID, "err", err)
		return fmt.Errorf("send security alert: %w", err)
	}
	return nil
}
