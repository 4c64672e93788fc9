package cache

import (
    "context"
    "errors"
    "log/slog"
    "math"
    "runtime"
    "sync"
    "time"

    "golang.org/x/sync/singleflight"

    "pricewatch/internal/obs"
    "pricewatch/internal/provider"
    "pricewatch/internal/provider/symbols"
)

const (
    DefaultTTL          = 30 * time.Second
    DefaultFetchTimeout = 10 * time.Second
)

// Resolver maps tickers to provider ids.
type Resolver interface {
    Resolve(ctx context.Context, ticker string) (symbols.Mapping, error)
}

// Quotes caches the latest quote per provider id. Entries are overwritten on
// every successful fetch and never evicted; an expired entry is only served
// as a stale fallback when the provider fails.
//
// At most one upstream fetch per provider id is in flight; concurrent callers
// share its outcome and each applies its own allowStale to it.
type Quotes struct {
    P            provider.Provider
    Symbols      Resolver
    TTL          time.Duration
    FetchTimeout time.Duration
    Now          func() time.Time
    Log          *slog.Logger

    mu    sync.RWMutex
    items map[string]provider.Quote // key: provider id

    sf singleflight.Group
}

// fetched is the shared single-flight outcome.
type fetched struct {
    q   provider.Quote
    src provider.Source
}

func (c *Quotes) now() time.Time {
    if c.Now != nil { return c.Now() }
    return time.Now()
}

func (c *Quotes) ttl() time.Duration {
    if c.TTL > 0 { return c.TTL }
    return DefaultTTL
}

func (c *Quotes) fetchTimeout() time.Duration {
    if c.FetchTimeout > 0 { return c.FetchTimeout }
    return DefaultFetchTimeout
}

func (c *Quotes) log() *slog.Logger {
    if c.Log != nil { return c.Log }
    return obs.Logger
}

// Cached returns the last stored quote for providerID, fresh or not.
func (c *Quotes) Cached(providerID string) (provider.Quote, bool) {
    c.mu.RLock()
    defer c.mu.RUnlock()
    q, ok := c.items[providerID]
    return q, ok
}

func (c *Quotes) fresh(providerID string, now time.Time) (provider.Quote, bool) {
    q, ok := c.Cached(providerID)
    if !ok || !now.Before(q.ExpiresAt) {
        return provider.Quote{}, false
    }
    return q, true
}

func (c *Quotes) store(q provider.Quote) {
    c.mu.Lock()
    if c.items == nil { c.items = make(map[string]provider.Quote) }
    c.items[q.ProviderID] = q
    c.mu.Unlock()
}

// GetQuote returns the quote for providerID, from cache while fresh and from
// the provider otherwise. When the fetch fails and allowStale is set, the last
// stored quote is returned with Stale set. ticker and displayName label the
// result and the failure.
func (c *Quotes) GetQuote(ctx context.Context, providerID, ticker, displayName string, allowStale bool) (provider.Result, error) {
    if providerID == "" {
        return provider.Result{}, &provider.Error{Reason: provider.ReasonUnknownSymbol, Ticker: ticker}
    }
    if q, ok := c.fresh(providerID, c.now()); ok {
        return label(provider.Result{Quote: q, Source: provider.SourceCache}, ticker, displayName), nil
    }

    v, err, _ := c.sf.Do(providerID, func() (any, error) {
        // a fetch that finished while we were queued already refreshed the entry
        if q, ok := c.fresh(providerID, c.now()); ok {
            return fetched{q: q, src: provider.SourceCache}, nil
        }
        q, err := c.fetch(ctx, providerID, ticker, displayName)
        if err != nil { return nil, err }
        return fetched{q: q, src: provider.SourceAPI}, nil
    })
    if err == nil {
        f := v.(fetched)
        return label(provider.Result{Quote: f.q, Source: f.src}, ticker, displayName), nil
    }

    if allowStale {
        if prev, ok := c.Cached(providerID); ok {
            now := c.now()
            res := provider.Result{Quote: prev, Source: provider.SourceCache}
            if now.Before(prev.ExpiresAt) {
                // another caller refreshed it after our fetch failed
                return label(res, ticker, displayName), nil
            }
            res.Stale = true
            res.StaleAge = now.Sub(prev.ObservedAt)
            return label(res, ticker, displayName), nil
        }
    }

    reason := provider.ReasonProviderUnavailable
    if errors.Is(err, provider.ErrMalformedResponse) {
        reason = provider.ReasonMalformedResponse
    }
    return provider.Result{}, &provider.Error{Reason: reason, ProviderID: providerID, Ticker: ticker, Cause: err}
}

// fetch performs one bounded upstream call. The deadline is detached from the
// caller's cancellation because the outcome is shared with other waiters.
func (c *Quotes) fetch(ctx context.Context, providerID, ticker, displayName string) (provider.Quote, error) {
    if c.P == nil {
        return provider.Quote{}, errors.New("no quote provider configured")
    }
    fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout())
    defer cancel()

    log := c.log().With("provider", c.P.Name(), "provider_id", providerID, "symbol", ticker)
    log.Debug("market quote fetch start")
    started := time.Now()

    p, err := c.P.FetchPrice(fctx, providerID)
    if err == nil && !finite(p.USD) {
        err = provider.ErrMalformedResponse
    }
    if err != nil {
        log.Warn("market quote fetch failed", "err", err.Error(), "took_ms", time.Since(started).Milliseconds())
        return provider.Quote{}, err
    }

    var change *float64
    if p.Change24hPct != nil && finite(*p.Change24hPct) {
        v := *p.Change24hPct
        change = &v
    }
    now := c.now()
    q := provider.Quote{
        ProviderID:   providerID,
        DisplayName:  displayName,
        Ticker:       ticker,
        PriceUSD:     p.USD,
        Change24hPct: change,
        ObservedAt:   now,
        ExpiresAt:    now.Add(c.ttl()),
    }
    c.store(q)
    log.Info("market quote fetch ok", "price_usd", p.USD, "took_ms", time.Since(started).Milliseconds())
    return q, nil
}

// GetQuoteBySymbol resolves ticker and looks up its quote.
func (c *Quotes) GetQuoteBySymbol(ctx context.Context, ticker string, allowStale bool) (provider.Result, error) {
    if c.Symbols == nil {
        return provider.Result{}, &provider.Error{Reason: provider.ReasonUnknownSymbol, Ticker: symbols.Normalize(ticker)}
    }
    m, err := c.Symbols.Resolve(ctx, ticker)
    if err != nil {
        return provider.Result{}, err
    }
    return c.GetQuote(ctx, m.ProviderID, m.Ticker, m.DisplayName, allowStale)
}

// GetQuotesForSymbols looks up every distinct ticker one at a time, yielding
// between lookups, and serves stale quotes when the provider fails. Failures
// are reported per ticker in Result.Err. Blank tickers are ignored.
func (c *Quotes) GetQuotesForSymbols(ctx context.Context, tickers []string) map[string]provider.Result {
    out := make(map[string]provider.Result, len(tickers))
    for _, t := range tickers {
        sym := symbols.Normalize(t)
        if sym == "" { continue }
        if _, dup := out[sym]; dup { continue }

        if err := ctx.Err(); err != nil {
            out[sym] = failed(sym, &provider.Error{Reason: provider.ReasonProviderUnavailable, Ticker: sym, Cause: err})
            continue
        }
        res, err := c.GetQuoteBySymbol(ctx, sym, true)
        if err != nil {
            res = failed(sym, err)
        }
        out[sym] = res
        runtime.Gosched()
    }
    return out
}

func failed(ticker string, err error) provider.Result {
    return provider.Result{Quote: provider.Quote{Ticker: ticker}, Err: err}
}

// label stamps the requested identifiers on a result; the cache is keyed by
// provider id and several tickers may share one.
func label(r provider.Result, ticker, displayName string) provider.Result {
    if ticker != "" { r.Ticker = ticker }
    if displayName != "" { r.DisplayName = displayName }
    return r
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
