// Package memstore is an in-process alert and watchlist store, used when no
// database is configured and in tests.
package memstore

import (
    "context"
    "fmt"
    "slices"
    "sort"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"

    "pricewatch/internal/alert"
    "pricewatch/internal/provider/symbols"
)

type record struct {
    a   alert.Alert
    seq uint64
}

// Store keeps everything in maps guarded by a single mutex.
type Store struct {
    now func() time.Time

    mu         sync.Mutex
    seq        uint64
    alerts     map[string]*record
    watchlists map[string][]string
    users      map[string]alert.User
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
    return func(s *Store) { if now != nil { s.now = now } }
}

func New(opts ...Option) *Store {
    s := &Store{
        now:        time.Now,
        alerts:     map[string]*record{},
        watchlists: map[string][]string{},
        users:      map[string]alert.User{},
    }
    for _, o := range opts { o(s) }
    return s
}

func (s *Store) Insert(ctx context.Context, a alert.Alert) (string, error) {
    if err := a.Validate(); err != nil {
        return "", err
    }
    a.ID = uuid.NewString()
    if a.Status == "" { a.Status = alert.Active }
    if a.CreatedAt.IsZero() { a.CreatedAt = s.now().UTC() }

    s.mu.Lock()
    defer s.mu.Unlock()
    s.seq++
    s.alerts[a.ID] = &record{a: a, seq: s.seq}
    return a.ID, nil
}

// ordered returns copies sorted by creation time, insertion order breaking ties.
func (s *Store) ordered(keep func(alert.Alert) bool, newestFirst bool, limit int) []alert.Alert {
    recs := make([]*record, 0, len(s.alerts))
    for _, r := range s.alerts {
        if keep(r.a) { recs = append(recs, r) }
    }
    sort.Slice(recs, func(i, j int) bool {
        a, b := recs[i], recs[j]
        if !a.a.CreatedAt.Equal(b.a.CreatedAt) {
            if newestFirst { return a.a.CreatedAt.After(b.a.CreatedAt) }
            return a.a.CreatedAt.Before(b.a.CreatedAt)
        }
        if newestFirst { return a.seq > b.seq }
        return a.seq < b.seq
    })
    if len(recs) > limit { recs = recs[:limit] }
    out := make([]alert.Alert, len(recs))
    for i, r := range recs { out[i] = r.a }
    return out
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]alert.Alert, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.ordered(func(a alert.Alert) bool { return a.UserID == userID }, true, alert.ListByUserLimit), nil
}

func (s *Store) ListActive(ctx context.Context) ([]alert.Alert, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    return s.ordered(func(a alert.Alert) bool { return a.Status == alert.Active }, false, alert.ListActiveLimit), nil
}

func (s *Store) Delete(ctx context.Context, id, userID string) (bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    r, ok := s.alerts[id]
    if !ok || r.a.UserID != userID {
        return false, nil
    }
    delete(s.alerts, id)
    return true, nil
}

func (s *Store) ClearByUser(ctx context.Context, userID string) (int, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    n := 0
    for id, r := range s.alerts {
        if r.a.UserID == userID {
            delete(s.alerts, id)
            n++
        }
    }
    return n, nil
}

func (s *Store) MarkTriggered(ctx context.Context, id string, price float64) (bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    r, ok := s.alerts[id]
    if !ok || r.a.Status != alert.Active {
        return false, nil
    }
    at := s.now().UTC()
    p := price
    r.a.Status = alert.Triggered
    r.a.TriggeredAt = &at
    r.a.LastKnownPrice = &p
    return true, nil
}

// Get returns a copy of one alert.
func (s *Store) Get(id string) (alert.Alert, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    r, ok := s.alerts[id]
    if !ok { return alert.Alert{}, false }
    return r.a, true
}

func (s *Store) Watchlist(ctx context.Context, userID string) ([]string, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    return slices.Clone(s.watchlists[userID]), nil
}

func (s *Store) AddToWatchlist(ctx context.Context, userID, ticker string) error {
    sym := symbols.Normalize(ticker)
    if sym == "" { return alert.ErrInvalidAlert }
    s.mu.Lock()
    defer s.mu.Unlock()
    if !slices.Contains(s.watchlists[userID], sym) {
        s.watchlists[userID] = append(s.watchlists[userID], sym)
    }
    return nil
}

func (s *Store) RemoveFromWatchlist(ctx context.Context, userID, ticker string) error {
    sym := symbols.Normalize(ticker)
    s.mu.Lock()
    defer s.mu.Unlock()
    s.watchlists[userID] = slices.DeleteFunc(s.watchlists[userID], func(t string) bool { return t == sym })
    return nil
}

func (s *Store) ClearWatchlist(ctx context.Context, userID string) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    delete(s.watchlists, userID)
    return nil
}

func (s *Store) UpsertUser(ctx context.Context, userID, chatID string) error {
    if strings.TrimSpace(userID) == "" {
        return fmt.Errorf("%w: missing user", alert.ErrInvalidAlert)
    }
    now := s.now().UTC()
    s.mu.Lock()
    defer s.mu.Unlock()
    u, ok := s.users[userID]
    if !ok { u = alert.User{ID: userID, CreatedAt: now} }
    u.ChatID = chatID
    u.UpdatedAt = now
    s.users[userID] = u
    return nil
}

// User returns a recorded user.
func (s *Store) User(id string) (alert.User, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    u, ok := s.users[id]
    return u, ok
}
