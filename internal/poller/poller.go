// Package poller periodically evaluates active price alerts and notifies
// their owners when a threshold is crossed.
package poller

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "runtime"
    "runtime/debug"
    "sync"
    "sync/atomic"
    "time"

    "github.com/go-co-op/gocron"

    "pricewatch/internal/alert"
    "pricewatch/internal/notify"
    "pricewatch/internal/obs"
    "pricewatch/internal/provider"
    "pricewatch/internal/provider/symbols"
)

const (
    DefaultInterval = 45 * time.Second
    MinBackoff      = 2 * time.Second
    MaxBackoff      = 20 * time.Second
)

// ErrStopped is returned by Start once the poller has been stopped.
var ErrStopped = errors.New("poller stopped")

// State is the phase a poll cycle is in.
type State int32

const (
    StateIdle State = iota
    StateLoadingAlerts
    StateEvaluating
    StateNotifying
    StateErrorBackoff
)

func (s State) String() string {
    switch s {
    case StateIdle:
        return "idle"
    case StateLoadingAlerts:
        return "loading_alerts"
    case StateEvaluating:
        return "evaluating"
    case StateNotifying:
        return "notifying"
    case StateErrorBackoff:
        return "error_backoff"
    }
    return fmt.Sprintf("State(%d)", int32(s))
}

// Quoter looks up quotes for many tickers at once, reporting failures per ticker.
type Quoter interface {
    GetQuotesForSymbols(ctx context.Context, tickers []string) map[string]provider.Result
}

// CycleStats summarizes one poll cycle.
type CycleStats struct {
    Checked   int
    Triggered int
    Notified  int
    Symbols   int
    Duration  time.Duration
}

// Poller runs at most one cycle at a time. Ticks that arrive while a cycle is
// running are dropped.
type Poller struct {
    store    alert.Store
    quotes   Quoter
    notifier notify.Notifier
    interval time.Duration
    log      *slog.Logger
    sleep    func(context.Context, time.Duration) error
    now      func() time.Time

    running atomic.Bool
    state   atomic.Int32
    backoff atomic.Int64 // time.Duration
    cycles  atomic.Int64

    lifeMu  sync.Mutex
    sched   *gocron.Scheduler
    cancel  context.CancelFunc
    started bool
    stopped bool
    wg      sync.WaitGroup
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
    return func(p *Poller) { if d > 0 { p.interval = d } }
}

func WithLogger(l *slog.Logger) Option {
    return func(p *Poller) { if l != nil { p.log = l } }
}

// WithSleep replaces the context-aware sleep used for error backoff.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
    return func(p *Poller) { if fn != nil { p.sleep = fn } }
}

func WithClock(now func() time.Time) Option {
    return func(p *Poller) { if now != nil { p.now = now } }
}

func New(store alert.Store, quotes Quoter, notifier notify.Notifier, opts ...Option) *Poller {
    p := &Poller{
        store:    store,
        quotes:   quotes,
        notifier: notifier,
        interval: DefaultInterval,
        log:      obs.Logger,
        sleep:    sleepCtx,
        now:      time.Now,
    }
    for _, o := range opts { o(p) }
    return p
}

// State reports the phase of the current or last cycle.
func (p *Poller) State() State { return State(p.state.Load()) }

// Backoff reports the delay the next cycle will sleep before starting.
func (p *Poller) Backoff() time.Duration { return time.Duration(p.backoff.Load()) }

// Interval reports the tick interval.
func (p *Poller) Interval() time.Duration { return p.interval }

func (p *Poller) setState(s State) { p.state.Store(int32(s)) }

// Start schedules a cycle every interval, the first one immediately.
// Calling Start again is a no-op; calling it after Stop returns ErrStopped.
func (p *Poller) Start(ctx context.Context) error {
    p.lifeMu.Lock()
    defer p.lifeMu.Unlock()
    if p.stopped { return ErrStopped }
    if p.started { return nil }

    runCtx, cancel := context.WithCancel(ctx)
    s := gocron.NewScheduler(time.UTC)
    if _, err := s.Every(p.interval).Do(func() { p.Tick(runCtx) }); err != nil {
        cancel()
        return fmt.Errorf("schedule poller: %w", err)
    }
    s.StartAsync()

    p.sched, p.cancel, p.started = s, cancel, true
    p.log.Info("poller started", "interval_ms", p.interval.Milliseconds())
    return nil
}

// Stop cancels the schedule and waits for an in-flight cycle to return.
// It is safe to call more than once.
func (p *Poller) Stop() {
    p.lifeMu.Lock()
    if p.stopped {
        p.lifeMu.Unlock()
        return
    }
    p.stopped = true
    sched, cancel := p.sched, p.cancel
    p.lifeMu.Unlock()

    if cancel != nil { cancel() }
    if sched != nil { sched.Stop() }
    p.wg.Wait()
    p.log.Info("poller stopped")
}

// Tick runs one cycle unless one is already running or the poller is
// stopped. It reports whether a cycle ran.
func (p *Poller) Tick(ctx context.Context) bool {
    p.lifeMu.Lock()
    if p.stopped {
        p.lifeMu.Unlock()
        return false
    }
    if !p.running.CompareAndSwap(false, true) {
        p.lifeMu.Unlock()
        p.log.Debug("poller tick skipped", "state", p.State().String())
        return false
    }
    p.wg.Add(1)
    p.lifeMu.Unlock()

    defer p.wg.Done()
    defer p.running.Store(false)
    _, _ = p.RunCycle(ctx)
    return true
}

type hit struct {
    a     alert.Alert
    price float64
}

// RunCycle loads active alerts, evaluates them against fresh or stale
// quotes and fires the ones whose condition holds. A panic anywhere in the
// cycle is recovered and grows the error backoff; a completed cycle resets it.
// Callers must not run cycles concurrently; Tick enforces that.
func (p *Poller) RunCycle(ctx context.Context) (stats CycleStats, err error) {
    started := p.now()
    defer func() {
        if r := recover(); r != nil {
            next := nextBackoff(p.Backoff())
            p.backoff.Store(int64(next))
            p.setState(StateErrorBackoff)
            err = fmt.Errorf("poller cycle panic: %v", r)
            p.log.Error("poller cycle error", "err", err.Error(), "backoff_ms", next.Milliseconds(), "stack", string(debug.Stack()))
            return
        }
        p.setState(StateIdle)
    }()

    p.log.Info("poller cycle start", "interval_ms", p.interval.Milliseconds(), "backoff_ms", p.Backoff().Milliseconds())

    if b := p.Backoff(); b > 0 {
        if err := p.sleep(ctx, b); err != nil {
            return stats, err
        }
    }

    p.setState(StateLoadingAlerts)
    alerts, err := p.store.ListActive(ctx)
    if err != nil {
        p.backoff.Store(0)
        p.log.Warn("poller load alerts failed", "err", err.Error())
        return stats, err
    }

    p.setState(StateEvaluating)
    tickers := uniqueTickers(alerts)
    stats.Symbols = len(tickers)
    var quotes map[string]provider.Result
    if len(tickers) > 0 {
        quotes = p.quotes.GetQuotesForSymbols(ctx, tickers)
    }

    var hits []hit
    for _, a := range alerts {
        stats.Checked++
        res, ok := quotes[symbols.Normalize(a.Ticker)]
        if !ok || !res.OK() {
            continue
        }
        if a.Crossed(res.PriceUSD) {
            hits = append(hits, hit{a: a, price: res.PriceUSD})
        }
    }

    p.setState(StateNotifying)
    for _, h := range hits {
        if ctx.Err() != nil {
            break
        }
        p.fire(ctx, h.a, h.price, &stats)
    }

    p.backoff.Store(0)
    stats.Duration = p.now().Sub(started)
    p.log.Info("poller cycle end",
        "checked", stats.Checked,
        "triggered", stats.Triggered,
        "notified", stats.Notified,
        "symbols", stats.Symbols,
        "ms", stats.Duration.Milliseconds(),
    )
    p.logMemory()
    return stats, nil
}

// fire marks the alert triggered and notifies its owner. The alert stays
// triggered when delivery fails.
func (p *Poller) fire(ctx context.Context, a alert.Alert, price float64, stats *CycleStats) {
    won, err := p.store.MarkTriggered(ctx, a.ID, price)
    if err != nil {
        p.log.Warn("poller mark triggered failed", "alert_id", a.ID, "err", err.Error())
        return
    }
    if !won {
        p.log.Debug("poller alert already triggered", "alert_id", a.ID)
        return
    }
    stats.Triggered++

    msg, actions := Message(a, price)
    if err := p.notifier.Send(ctx, a.UserID, msg, actions); err != nil {
        p.log.Warn("poller notify failed", "user_id", a.UserID, "alert_id", a.ID, "err", err.Error())
        return
    }
    stats.Notified++
}

// logMemory emits heap figures roughly once a minute.
func (p *Poller) logMemory() {
    n := p.cycles.Add(1)
    every := int64(time.Minute / p.interval)
    if every < 1 { every = 1 }
    if n%every != 0 {
        return
    }
    var m runtime.MemStats
    runtime.ReadMemStats(&m)
    p.log.Debug("poller mem", "heap_alloc_mb", m.HeapAlloc>>20, "sys_mb", m.Sys>>20, "goroutines", runtime.NumGoroutine())
}

func uniqueTickers(alerts []alert.Alert) []string {
    seen := make(map[string]struct{}, len(alerts))
    out := make([]string, 0, len(alerts))
    for _, a := range alerts {
        t := symbols.Normalize(a.Ticker)
        if t == "" { continue }
        if _, ok := seen[t]; ok { continue }
        seen[t] = struct{}{}
        out = append(out, t)
    }
    return out
}

// nextBackoff doubles b within [MinBackoff, MaxBackoff].
func nextBackoff(b time.Duration) time.Duration {
    b *= 2
    if b < MinBackoff { b = MinBackoff }
    if b > MaxBackoff { b = MaxBackoff }
    return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-t.C:
        return nil
    }
}
