// Package alert holds the price alert model and the storage contracts the
// poller and the HTTP API depend on.
package alert

import (
    "context"
    "errors"
    "fmt"
    "math"
    "strconv"
    "strings"
    "time"

    "pricewatch/internal/provider/symbols"
)

const (
    // ListByUserLimit caps a user's alert listing, newest first.
    ListByUserLimit = 100
    // ListActiveLimit caps the active alerts loaded per poll cycle, oldest first.
    ListActiveLimit = 5000
)

var (
    // ErrStoreUnavailable means the persistence layer cannot be reached.
    ErrStoreUnavailable = errors.New("store unavailable")
    // ErrInvalidAlert means the alert failed validation.
    ErrInvalidAlert = errors.New("invalid alert")
)

type Direction string

const (
    Above Direction = "above"
    Below Direction = "below"
)

// ParseDirection accepts above/up/over and below/down/under in any case.
func ParseDirection(s string) (Direction, bool) {
    switch strings.ToLower(strings.TrimSpace(s)) {
    case "above", "up", "over":
        return Above, true
    case "below", "down", "under":
        return Below, true
    }
    return "", false
}

type Status string

const (
    Active    Status = "active"
    Triggered Status = "triggered"
)

// Alert is a one-shot price threshold owned by a user.
type Alert struct {
    ID             string     `json:"id"`
    UserID         string     `json:"user_id"`
    Ticker         string     `json:"symbol"`
    Direction      Direction  `json:"direction"`
    TargetPrice    float64    `json:"target"`
    Status         Status     `json:"status"`
    CreatedAt      time.Time  `json:"created_at"`
    TriggeredAt    *time.Time `json:"triggered_at,omitempty"`
    LastKnownPrice *float64   `json:"last_known_price,omitempty"`
}

// Crossed reports whether price satisfies the alert condition. Both bounds are inclusive.
func (a Alert) Crossed(price float64) bool {
    switch a.Direction {
    case Above:
        return price >= a.TargetPrice
    case Below:
        return price <= a.TargetPrice
    }
    return false
}

// Validate checks the invariants every stored alert must hold.
func (a Alert) Validate() error {
    if strings.TrimSpace(a.UserID) == "" {
        return fmt.Errorf("%w: missing user", ErrInvalidAlert)
    }
    if a.Ticker == "" {
        return fmt.Errorf("%w: missing symbol", ErrInvalidAlert)
    }
    if a.Direction != Above && a.Direction != Below {
        return fmt.Errorf("%w: direction must be above or below", ErrInvalidAlert)
    }
    if math.IsNaN(a.TargetPrice) || math.IsInf(a.TargetPrice, 0) || a.TargetPrice <= 0 {
        return fmt.Errorf("%w: target must be a positive number", ErrInvalidAlert)
    }
    return nil
}

// ParseTargetPrice parses a user-entered price. Thousands separators are allowed.
// Hex floats such as 0x1p4 are rejected.
func ParseTargetPrice(s string) (float64, bool) {
    if strings.ContainsAny(s, "xX") {
        return 0, false
    }
    v, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(s, ",", "")), 64)
    if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
        return 0, false
    }
    return v, true
}

// New builds an active alert from user input.
func New(userID, ticker, direction string, target float64, now time.Time) (Alert, error) {
    dir, ok := ParseDirection(direction)
    if !ok {
        return Alert{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidAlert, direction)
    }
    a := Alert{
        UserID:      strings.TrimSpace(userID),
        Ticker:      symbols.Normalize(ticker),
        Direction:   dir,
        TargetPrice: target,
        Status:      Active,
        CreatedAt:   now.UTC(),
    }
    if err := a.Validate(); err != nil {
        return Alert{}, err
    }
    return a, nil
}

// Store persists alerts.
type Store interface {
    Insert(ctx context.Context, a Alert) (string, error)
    // ListByUser returns the user's alerts newest first, at most ListByUserLimit.
    ListByUser(ctx context.Context, userID string) ([]Alert, error)
    // ListActive returns active alerts oldest first, at most ListActiveLimit.
    ListActive(ctx context.Context) ([]Alert, error)
    Delete(ctx context.Context, id, userID string) (bool, error)
    ClearByUser(ctx context.Context, userID string) (int, error)
    // MarkTriggered moves an active alert to triggered and records price.
    // It reports false when the alert was no longer active.
    MarkTriggered(ctx context.Context, id string, price float64) (bool, error)
}

// WatchlistStore persists per-user ticker sets.
type WatchlistStore interface {
    Watchlist(ctx context.Context, userID string) ([]string, error)
    AddToWatchlist(ctx context.Context, userID, ticker string) error
    RemoveFromWatchlist(ctx context.Context, userID, ticker string) error
    ClearWatchlist(ctx context.Context, userID string) error
}

// User is a chat user the service has seen.
type User struct {
    ID        string    `json:"id"`
    ChatID    string    `json:"chat_id"`
    CreatedAt time.Time `json:"created_at"`
    UpdatedAt time.Time `json:"updated_at"`
}

// UserStore records users. UpsertUser creates the user on first sight and
// refreshes chatID and UpdatedAt afterwards.
type UserStore interface {
    UpsertUser(ctx context.Context, userID, chatID string) error
}

// Repository is what a complete backend provides.
type Repository interface {
    Store
    WatchlistStore
    UserStore
}
