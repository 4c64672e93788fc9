package memstore

import (
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/require"

    "pricewatch/internal/alert"
)

func mustInsert(t *testing.T, s *Store, user, ticker string, dir alert.Direction, target float64, at time.Time) string {
    t.Helper()
    id, err := s.Insert(t.Context(), alert.Alert{UserID: user, Ticker: ticker, Direction: dir, TargetPrice: target, CreatedAt: at})
    require.NoError(t, err)
    require.NotEmpty(t, id)
    return id
}

func TestInsert_Validates(t *testing.T) {
    t.Parallel()

    s := New()
    _, err := s.Insert(t.Context(), alert.Alert{UserID: "1", Ticker: "BTC", Direction: alert.Above, TargetPrice: -1})
    require.ErrorIs(t, err, alert.ErrInvalidAlert)
}

func TestListOrdering(t *testing.T) {
    t.Parallel()

    // Arrange
    s := New()
    t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
    first := mustInsert(t, s, "u1", "BTC", alert.Above, 1, t0)
    second := mustInsert(t, s, "u1", "ETH", alert.Below, 2, t0.Add(time.Minute))
    other := mustInsert(t, s, "u2", "SOL", alert.Above, 3, t0.Add(2*time.Minute))

    // Act
    mine, err := s.ListByUser(t.Context(), "u1")
    require.NoError(t, err)
    active, err := s.ListActive(t.Context())
    require.NoError(t, err)

    // Assert
    require.Equal(t, []string{second, first}, []string{mine[0].ID, mine[1].ID})
    require.Len(t, active, 3)
    require.Equal(t, []string{first, second, other}, []string{active[0].ID, active[1].ID, active[2].ID})
    require.Equal(t, alert.Active, active[0].Status)
}

func TestMarkTriggered_OnlyOnce(t *testing.T) {
    t.Parallel()

    s := New()
    id := mustInsert(t, s, "u1", "BTC", alert.Above, 70000, time.Time{})

    ok, err := s.MarkTriggered(t.Context(), id, 70100)
    require.NoError(t, err)
    require.True(t, ok)

    ok, err = s.MarkTriggered(t.Context(), id, 70200)
    require.NoError(t, err)
    require.False(t, ok)

    a, found := s.Get(id)
    require.True(t, found)
    require.Equal(t, alert.Triggered, a.Status)
    require.NotNil(t, a.TriggeredAt)
    require.Equal(t, 70100.0, *a.LastKnownPrice)

    active, err := s.ListActive(t.Context())
    require.NoError(t, err)
    require.Empty(t, active)
}

func TestMarkTriggered_ConcurrentCallersWinOnce(t *testing.T) {
    t.Parallel()

    s := New()
    id := mustInsert(t, s, "u1", "BTC", alert.Above, 70000, time.Time{})

    var wins atomic.Int32
    var wg sync.WaitGroup
    for i := 0; i < 32; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            ok, err := s.MarkTriggered(t.Context(), id, 70000)
            if err == nil && ok { wins.Add(1) }
        }()
    }
    wg.Wait()
    require.EqualValues(t, 1, wins.Load())
}

func TestDeleteAndClear(t *testing.T) {
    t.Parallel()

    s := New()
    a := mustInsert(t, s, "u1", "BTC", alert.Above, 1, time.Time{})
    mustInsert(t, s, "u1", "ETH", alert.Above, 1, time.Time{})
    b := mustInsert(t, s, "u2", "BTC", alert.Above, 1, time.Time{})

    ok, err := s.Delete(t.Context(), b, "u1")
    require.NoError(t, err)
    require.False(t, ok, "users cannot delete other users' alerts")

    ok, err = s.Delete(t.Context(), a, "u1")
    require.NoError(t, err)
    require.True(t, ok)

    n, err := s.ClearByUser(t.Context(), "u1")
    require.NoError(t, err)
    require.Equal(t, 1, n)

    left, err := s.ListActive(t.Context())
    require.NoError(t, err)
    require.Len(t, left, 1)
    require.Equal(t, b, left[0].ID)
}

func TestWatchlist(t *testing.T) {
    t.Parallel()

    s := New()
    require.NoError(t, s.AddToWatchlist(t.Context(), "u1", "btc"))
    require.NoError(t, s.AddToWatchlist(t.Context(), "u1", "BTC"))
    require.NoError(t, s.AddToWatchlist(t.Context(), "u1", "eth"))
    require.ErrorIs(t, s.AddToWatchlist(t.Context(), "u1", " "), alert.ErrInvalidAlert)

    got, err := s.Watchlist(t.Context(), "u1")
    require.NoError(t, err)
    require.Equal(t, []string{"BTC", "ETH"}, got)

    require.NoError(t, s.RemoveFromWatchlist(t.Context(), "u1", "Btc"))
    got, err = s.Watchlist(t.Context(), "u1")
    require.NoError(t, err)
    require.Equal(t, []string{"ETH"}, got)

    require.NoError(t, s.ClearWatchlist(t.Context(), "u1"))
    got, err = s.Watchlist(t.Context(), "u1")
    require.NoError(t, err)
    require.Empty(t, got)
}

func TestUpsertUser(t *testing.T) {
    t.Parallel()

    // Arrange
    at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
    clock := at
    s := New(WithClock(func() time.Time { return clock }))

    // Act
    require.NoError(t, s.UpsertUser(t.Context(), "42", "100"))
    clock = at.Add(time.Hour)
    require.NoError(t, s.UpsertUser(t.Context(), "42", "200"))

    // Assert: first sight sets CreatedAt, later calls only refresh
    u, ok := s.User("42")
    require.True(t, ok)
    require.Equal(t, "200", u.ChatID)
    require.Equal(t, at, u.CreatedAt)
    require.Equal(t, at.Add(time.Hour), u.UpdatedAt)

    require.ErrorIs(t, s.UpsertUser(t.Context(), "  ", "1"), alert.ErrInvalidAlert)
    _, ok = s.User("  ")
    require.False(t, ok)
}
