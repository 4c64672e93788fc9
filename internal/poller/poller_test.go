package poller

import (
    "context"
    "errors"
    "strings"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
    "go.uber.org/mock/gomock"

    "pricewatch/internal/alert"
    "pricewatch/internal/alert/memstore"
    "pricewatch/internal/notify"
    "pricewatch/internal/obs"
    "pricewatch/internal/provider"
)

type fakeQuoter struct {
    mu     sync.Mutex
    prices map[string]float64
    fail   map[string]error
    calls  atomic.Int32
    panics atomic.Bool
    gate   chan struct{}
}

func (f *fakeQuoter) GetQuotesForSymbols(ctx context.Context, tickers []string) map[string]provider.Result {
    f.calls.Add(1)
    if f.gate != nil { <-f.gate }
    if f.panics.Load() { panic("quote table corrupted") }

    f.mu.Lock()
    defer f.mu.Unlock()
    out := make(map[string]provider.Result, len(tickers))
    for _, t := range tickers {
        if err, ok := f.fail[t]; ok {
            out[t] = provider.Result{Quote: provider.Quote{Ticker: t}, Err: err}
            continue
        }
        if p, ok := f.prices[t]; ok {
            out[t] = provider.Result{Quote: provider.Quote{ProviderID: strings.ToLower(t), Ticker: t, PriceUSD: p}, Source: provider.SourceAPI}
        }
    }
    return out
}

func (f *fakeQuoter) setPrice(t string, p float64) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.prices == nil { f.prices = map[string]float64{} }
    f.prices[t] = p
}

type failingStore struct {
    *memstore.Store
    listErr error
}

func (s *failingStore) ListActive(ctx context.Context) ([]alert.Alert, error) {
    if s.listErr != nil { return nil, s.listErr }
    return s.Store.ListActive(ctx)
}

// racedStore pretends another cycle already triggered every alert.
type racedStore struct{ *memstore.Store }

func (s racedStore) MarkTriggered(ctx context.Context, id string, price float64) (bool, error) {
    return false, nil
}

func addAlert(t *testing.T, s *memstore.Store, user, ticker string, dir alert.Direction, target float64) string {
    t.Helper()
    id, err := s.Insert(t.Context(), alert.Alert{UserID: user, Ticker: ticker, Direction: dir, TargetPrice: target})
    require.NoError(t, err)
    return id
}

func newTestPoller(store alert.Store, q Quoter, n notify.Notifier, opts ...Option) *Poller {
    opts = append([]Option{WithLogger(obs.Discard()), WithSleep(func(context.Context, time.Duration) error { return nil })}, opts...)
    return New(store, q, n, opts...)
}

func TestRunCycle_BothDirectionsTriggerInSameCycle(t *testing.T) {
    t.Parallel()

    // Arrange
    ctrl := gomock.NewController(t)
    store := memstore.New()
    up := addAlert(t, store, "7", "BTC", alert.Above, 60000)
    down := addAlert(t, store, "7", "BTC", alert.Below, 70000)
    q := &fakeQuoter{}
    q.setPrice("BTC", 65000)

    n := NewMockNotifier(ctrl)
    n.EXPECT().Send(gomock.Any(), "7", gomock.Any(), gomock.Any()).Return(nil).Times(2)

    p := newTestPoller(store, q, n)

    // Act
    stats, err := p.RunCycle(t.Context())

    // Assert
    require.NoError(t, err)
    require.Equal(t, CycleStats{Checked: 2, Triggered: 2, Notified: 2, Symbols: 1, Duration: stats.Duration}, stats)
    for _, id := range []string{up, down} {
        a, ok := store.Get(id)
        require.True(t, ok)
        require.Equal(t, alert.Triggered, a.Status)
        require.Equal(t, 65000.0, *a.LastKnownPrice)
    }
    require.EqualValues(t, 1, q.calls.Load(), "tickers are batched into one lookup")
    require.Equal(t, StateIdle, p.State())
}

func TestRunCycle_AboveBoundary(t *testing.T) {
    t.Parallel()

    cases := []struct {
        price float64
        fires bool
    }{
        {69999.9, false},
        {70000, true},
        {70001, true},
    }
    for _, tc := range cases {
        ctrl := gomock.NewController(t)
        store := memstore.New()
        addAlert(t, store, "1", "BTC", alert.Above, 70000)
        q := &fakeQuoter{}
        q.setPrice("BTC", tc.price)

        n := NewMockNotifier(ctrl)
        times := 0
        if tc.fires { times = 1 }
        n.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).Times(times)

        stats, err := newTestPoller(store, q, n).RunCycle(t.Context())
        require.NoError(t, err)
        require.Equal(t, times, stats.Triggered, "price %v", tc.price)
    }
}

func TestRunCycle_FailedLookupSkipsOnlyThatAlert(t *testing.T) {
    t.Parallel()

    ctrl := gomock.NewController(t)
    store := memstore.New()
    eth := addAlert(t, store, "1", "ETH", alert.Below, 5000)
    addAlert(t, store, "1", "BTC", alert.Above, 1)
    q := &fakeQuoter{fail: map[string]error{"ETH": &provider.Error{Reason: provider.ReasonProviderUnavailable, Ticker: "ETH"}}}
    q.setPrice("BTC", 65000)

    n := NewMockNotifier(ctrl)
    n.EXPECT().Send(gomock.Any(), "1", gomock.Any(), gomock.Any()).Return(nil).Times(1)

    stats, err := newTestPoller(store, q, n).RunCycle(t.Context())
    require.NoError(t, err)
    require.Equal(t, 2, stats.Checked)
    require.Equal(t, 1, stats.Triggered)

    a, _ := store.Get(eth)
    require.Equal(t, alert.Active, a.Status)
}

func TestRunCycle_NotifyFailureStillConsumesAlert(t *testing.T) {
    t.Parallel()

    // Arrange: delivery fails the first time
    ctrl := gomock.NewController(t)
    store := memstore.New()
    id := addAlert(t, store, "1", "SOL", alert.Above, 100)
    q := &fakeQuoter{}
    q.setPrice("SOL", 150)

    n := NewMockNotifier(ctrl)
    n.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("chat not found")).Times(1)
    p := newTestPoller(store, q, n)

    // Act: two cycles observe the triggering price
    first, err := p.RunCycle(t.Context())
    require.NoError(t, err)
    second, err := p.RunCycle(t.Context())
    require.NoError(t, err)

    // Assert
    require.Equal(t, 1, first.Triggered)
    require.Zero(t, first.Notified)
    require.Zero(t, second.Checked)
    a, _ := store.Get(id)
    require.Equal(t, alert.Triggered, a.Status)
    require.Zero(t, p.Backoff())
}

func TestRunCycle_LostRaceDoesNotNotify(t *testing.T) {
    t.Parallel()

    ctrl := gomock.NewController(t)
    mem := memstore.New()
    addAlert(t, mem, "1", "BTC", alert.Above, 1)
    q := &fakeQuoter{}
    q.setPrice("BTC", 65000)

    n := NewMockNotifier(ctrl)
    n.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

    stats, err := newTestPoller(racedStore{mem}, q, n).RunCycle(t.Context())
    require.NoError(t, err)
    require.Zero(t, stats.Triggered)
}

func TestRunCycle_LoadFailureLeavesBackoffAtZero(t *testing.T) {
    t.Parallel()

    ctrl := gomock.NewController(t)
    store := &failingStore{Store: memstore.New(), listErr: alert.ErrStoreUnavailable}
    q := &fakeQuoter{}
    n := NewMockNotifier(ctrl)
    n.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

    p := newTestPoller(store, q, n)
    _, err := p.RunCycle(t.Context())

    require.ErrorIs(t, err, alert.ErrStoreUnavailable)
    require.Zero(t, p.Backoff())
    require.Zero(t, q.calls.Load())
    require.Equal(t, StateIdle, p.State())
}

func TestRunCycle_PanicBackoffProgression(t *testing.T) {
    t.Parallel()

    // Arrange: record every backoff sleep
    ctrl := gomock.NewController(t)
    store := memstore.New()
    addAlert(t, store, "1", "BTC", alert.Above, 1_000_000)
    q := &fakeQuoter{}
    q.setPrice("BTC", 65000)
    q.panics.Store(true)
    n := NewMockNotifier(ctrl)

    var slept []time.Duration
    p := New(store, q, n, WithLogger(obs.Discard()), WithSleep(func(ctx context.Context, d time.Duration) error {
        slept = append(slept, d)
        return nil
    }))

    // Act: six failing cycles
    var backoffs []time.Duration
    for i := 0; i < 6; i++ {
        _, err := p.RunCycle(t.Context())
        require.ErrorContains(t, err, "quote table corrupted")
        require.Equal(t, StateErrorBackoff, p.State())
        backoffs = append(backoffs, p.Backoff())
    }

    // Assert: doubling between the floor and the ceiling, slept at the start of the next cycle
    s := time.Second
    require.Equal(t, []time.Duration{2 * s, 4 * s, 8 * s, 16 * s, 20 * s, 20 * s}, backoffs)
    require.Equal(t, []time.Duration{2 * s, 4 * s, 8 * s, 16 * s, 20 * s}, slept)

    // Act: a successful cycle resets the backoff after sleeping it off
    q.panics.Store(false)
    _, err := p.RunCycle(t.Context())
    require.NoError(t, err)
    require.Zero(t, p.Backoff())
    require.Equal(t, 20*s, slept[len(slept)-1])
}

func TestRunCycle_BackoffSleepHonoursCancel(t *testing.T) {
    t.Parallel()

    ctrl := gomock.NewController(t)
    store := memstore.New()
    addAlert(t, store, "1", "BTC", alert.Above, 1)
    q := &fakeQuoter{}
    q.panics.Store(true)
    p := New(store, q, NewMockNotifier(ctrl), WithLogger(obs.Discard()))

    _, err := p.RunCycle(t.Context())
    require.Error(t, err)
    require.Equal(t, 2*time.Second, p.Backoff())

    ctx, cancel := context.WithCancel(t.Context())
    cancel()
    started := time.Now()
    _, err = p.RunCycle(ctx)
    require.ErrorIs(t, err, context.Canceled)
    require.Less(t, time.Since(started), time.Second)
    require.EqualValues(t, 1, q.calls.Load())
}

func TestTick_OverlappingTickIsSkipped(t *testing.T) {
    t.Parallel()

    // Arrange: the first cycle blocks inside the quote lookup
    ctrl := gomock.NewController(t)
    store := memstore.New()
    addAlert(t, store, "1", "BTC", alert.Above, 1_000_000)
    q := &fakeQuoter{gate: make(chan struct{})}
    q.setPrice("BTC", 65000)
    p := newTestPoller(store, q, NewMockNotifier(ctrl))

    done := make(chan bool)
    go func() { done <- p.Tick(context.Background()) }()
    require.Eventually(t, func() bool { return p.State() == StateEvaluating }, time.Second, time.Millisecond)

    // Act
    skipped := p.Tick(t.Context())
    close(q.gate)

    // Assert
    require.False(t, skipped)
    require.True(t, <-done)
    require.EqualValues(t, 1, q.calls.Load())
    require.True(t, p.Tick(t.Context()), "the guard is released after the cycle")
}

func TestStartStop(t *testing.T) {
    t.Parallel()

    ctrl := gomock.NewController(t)
    store := memstore.New()
    addAlert(t, store, "1", "BTC", alert.Above, 1_000_000)
    q := &fakeQuoter{}
    q.setPrice("BTC", 65000)
    p := newTestPoller(store, q, NewMockNotifier(ctrl), WithInterval(time.Hour))

    require.NoError(t, p.Start(t.Context()))
    require.NoError(t, p.Start(t.Context()), "starting twice is a no-op")
    require.Eventually(t, func() bool { return q.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond, "first cycle runs immediately")

    p.Stop()
    p.Stop()

    require.ErrorIs(t, p.Start(t.Context()), ErrStopped)
    require.False(t, p.Tick(t.Context()))
    require.EqualValues(t, 1, q.calls.Load())
}

func TestStop_WaitsForRunningCycle(t *testing.T) {
    t.Parallel()

    ctrl := gomock.NewController(t)
    store := memstore.New()
    addAlert(t, store, "1", "BTC", alert.Above, 1_000_000)
    q := &fakeQuoter{gate: make(chan struct{})}
    q.setPrice("BTC", 65000)
    p := newTestPoller(store, q, NewMockNotifier(ctrl))

    go p.Tick(context.Background())
    require.Eventually(t, func() bool { return p.State() == StateEvaluating }, time.Second, time.Millisecond)

    stopped := make(chan struct{})
    go func() { p.Stop(); close(stopped) }()

    select {
    case <-stopped:
        t.Fatal("Stop returned while a cycle was still running")
    case <-time.After(50 * time.Millisecond):
    }
    close(q.gate)
    select {
    case <-stopped:
    case <-time.After(2 * time.Second):
        t.Fatal("Stop did not return after the cycle finished")
    }
}

func TestNextBackoff(t *testing.T) {
    t.Parallel()

    require.Equal(t, MinBackoff, nextBackoff(0))
    require.Equal(t, 4*time.Second, nextBackoff(2*time.Second))
    require.Equal(t, MaxBackoff, nextBackoff(16*time.Second))
    require.Equal(t, MaxBackoff, nextBackoff(MaxBackoff))
}

func TestStateString(t *testing.T) {
    t.Parallel()

    require.Equal(t, "loading_alerts", StateLoadingAlerts.String())
    require.Equal(t, "error_backoff", StateErrorBackoff.String())
    require.Equal(t, "State(9)", State(9).String())
}
