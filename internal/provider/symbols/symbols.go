// Package symbols maps user-facing tickers onto provider asset ids.
package symbols

import (
    "context"
    "log/slog"
    "strings"
    "sync"
    "time"

    "golang.org/x/sync/singleflight"

    "pricewatch/internal/obs"
    "pricewatch/internal/provider"
)

const (
    // DefaultRefreshEvery bounds how often the full listing is pulled, successful or not.
    DefaultRefreshEvery = 6 * time.Hour
    // DefaultRefreshTimeout bounds a single listing fetch.
    DefaultRefreshTimeout = 10 * time.Second
)

// Mapping ties a ticker to the provider's asset id.
type Mapping struct {
    Ticker      string `json:"symbol"`
    ProviderID  string `json:"provider_id"`
    DisplayName string `json:"name"`
}

// seed covers the common assets so they resolve without touching the network.
var seed = map[string]Mapping{
    "BTC":   {ProviderID: "bitcoin", DisplayName: "Bitcoin"},
    "ETH":   {ProviderID: "ethereum", DisplayName: "Ethereum"},
    "SOL":   {ProviderID: "solana", DisplayName: "Solana"},
    "BNB":   {ProviderID: "binancecoin", DisplayName: "BNB"},
    "XRP":   {ProviderID: "ripple", DisplayName: "XRP"},
    "ADA":   {ProviderID: "cardano", DisplayName: "Cardano"},
    "DOGE":  {ProviderID: "dogecoin", DisplayName: "Dogecoin"},
    "TRX":   {ProviderID: "tron", DisplayName: "TRON"},
    "TON":   {ProviderID: "the-open-network", DisplayName: "Toncoin"},
    "AVAX":  {ProviderID: "avalanche-2", DisplayName: "Avalanche"},
    "DOT":   {ProviderID: "polkadot", DisplayName: "Polkadot"},
    "LINK":  {ProviderID: "chainlink", DisplayName: "Chainlink"},
    "MATIC": {ProviderID: "matic-network", DisplayName: "Polygon"},
    "POL":   {ProviderID: "matic-network", DisplayName: "Polygon"},
    "SHIB":  {ProviderID: "shiba-inu", DisplayName: "Shiba Inu"},
    "LTC":   {ProviderID: "litecoin", DisplayName: "Litecoin"},
    "BCH":   {ProviderID: "bitcoin-cash", DisplayName: "Bitcoin Cash"},
    "UNI":   {ProviderID: "uniswap", DisplayName: "Uniswap"},
    "ATOM":  {ProviderID: "cosmos", DisplayName: "Cosmos"},
    "NEAR":  {ProviderID: "near", DisplayName: "NEAR"},
}

// Normalize trims and upper-cases a ticker.
func Normalize(ticker string) string { return strings.ToUpper(strings.TrimSpace(ticker)) }

// Resolver resolves tickers against a seed table that is lazily extended
// from the provider listing. Existing entries are never overwritten.
type Resolver struct {
    lister  provider.Lister
    every   time.Duration
    timeout time.Duration
    now     func() time.Time
    log     *slog.Logger

    mu          sync.RWMutex
    table       map[string]Mapping
    refreshedAt time.Time

    // coalesce concurrent refreshes
    sf singleflight.Group
}

type Option func(*Resolver)

// WithRefreshEvery overrides DefaultRefreshEvery.
func WithRefreshEvery(d time.Duration) Option {
    return func(r *Resolver) { if d > 0 { r.every = d } }
}

// WithRefreshTimeout overrides DefaultRefreshTimeout.
func WithRefreshTimeout(d time.Duration) Option {
    return func(r *Resolver) { if d > 0 { r.timeout = d } }
}

func WithClock(now func() time.Time) Option {
    return func(r *Resolver) { if now != nil { r.now = now } }
}

func WithLogger(l *slog.Logger) Option {
    return func(r *Resolver) { if l != nil { r.log = l } }
}

// New builds a Resolver. lister may be nil, in which case only the seed table is used.
func New(lister provider.Lister, opts ...Option) *Resolver {
    r := &Resolver{
        lister:  lister,
        every:   DefaultRefreshEvery,
        timeout: DefaultRefreshTimeout,
        now:     time.Now,
        log:     obs.Logger,
        table:   make(map[string]Mapping, len(seed)),
    }
    for t, m := range seed {
        m.Ticker = t
        r.table[t] = m
    }
    for _, o := range opts { o(r) }
    return r
}

// Resolve maps a ticker to its provider mapping. Unknown tickers trigger at
// most one listing refresh per refresh window.
func (r *Resolver) Resolve(ctx context.Context, ticker string) (Mapping, error) {
    sym := Normalize(ticker)
    if sym == "" {
        return Mapping{}, &provider.Error{Reason: provider.ReasonMissingSymbol}
    }
    if m, ok := r.lookup(sym); ok {
        return m, nil
    }

    r.RefreshIfNeeded(ctx)

    if m, ok := r.lookup(sym); ok {
        return m, nil
    }
    return Mapping{}, &provider.Error{Reason: provider.ReasonUnknownSymbol, Ticker: sym}
}

func (r *Resolver) lookup(sym string) (Mapping, bool) {
    r.mu.RLock()
    defer r.mu.RUnlock()
    m, ok := r.table[sym]
    return m, ok
}

// Len reports the number of known tickers.
func (r *Resolver) Len() int {
    r.mu.RLock()
    defer r.mu.RUnlock()
    return len(r.table)
}

// RefreshIfNeeded pulls the provider listing unless an attempt was made within
// the refresh window. Failures are logged and leave the table unchanged.
func (r *Resolver) RefreshIfNeeded(ctx context.Context) {
    if r.lister == nil || !r.due() {
        return
    }
    _, _, _ = r.sf.Do("refresh", func() (any, error) {
        // another caller may have finished a refresh while we waited
        if !r.due() {
            return nil, nil
        }
        r.refresh(ctx)
        return nil, nil
    })
}

func (r *Resolver) due() bool {
    r.mu.RLock()
    defer r.mu.RUnlock()
    return r.refreshedAt.IsZero() || r.now().Sub(r.refreshedAt) >= r.every
}

func (r *Resolver) refresh(ctx context.Context) {
    started := r.now()
    fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
    defer cancel()

    r.log.Info("market symbol map fetch start")
    coins, err := r.lister.ListCoins(fctx)

    r.mu.Lock()
    defer r.mu.Unlock()
    r.refreshedAt = started
    if err != nil {
        r.log.Warn("market symbol map fetch failed", "err", err.Error())
        return
    }

    added := 0
    for _, c := range coins {
        sym := Normalize(c.Symbol)
        id := strings.TrimSpace(c.ID)
        if sym == "" || id == "" { continue }
        if _, exists := r.table[sym]; exists { continue }
        name := strings.TrimSpace(c.Name)
        if name == "" { name = sym }
        r.table[sym] = Mapping{Ticker: sym, ProviderID: id, DisplayName: name}
        added++
    }
    r.log.Info("market symbol map fetch ok", "symbols", len(r.table), "added", added)
}
