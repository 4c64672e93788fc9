// Package notify delivers alert notifications to users.
package notify

import (
    "context"
    "log/slog"

    "pricewatch/internal/obs"
)

// Action is an inline button attached to a message.
type Action struct {
    Text string `json:"text"`
    Data string `json:"callback_data"`
}

// Notifier sends a message with optional rows of action buttons.
//
//go:generate mockgen -destination=../poller/mock_notifier_test.go -package=poller pricewatch/internal/notify Notifier
type Notifier interface {
    Send(ctx context.Context, userID, message string, actions [][]Action) error
}

// LogNotifier writes notifications to the log. Used when no chat transport is configured.
type LogNotifier struct {
    Log *slog.Logger
}

func (n LogNotifier) Send(ctx context.Context, userID, message string, actions [][]Action) error {
    l := n.Log
    if l == nil { l = obs.Logger }
    buttons := 0
    for _, row := range actions { buttons += len(row) }
    l.Info("notification", "user_id", userID, "message", message, "buttons", buttons)
    return nil
}
