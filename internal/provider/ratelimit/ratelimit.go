package ratelimit

import (
    "context"
    "errors"
    "fmt"

    "golang.org/x/time/rate"

    "pricewatch/internal/provider"
)

// Provider wraps a market data provider and gates every upstream call on a
// shared token bucket. Callers wait for a token or give up when ctx ends.
type Provider struct {
    P provider.Provider
    L *rate.Limiter
}

// PerMinute builds a limiter allowing n calls per minute with the given burst.
// A non-positive n disables limiting.
func PerMinute(n int, burst int) *rate.Limiter {
    if n <= 0 { return rate.NewLimiter(rate.Inf, 0) }
    if burst <= 0 { burst = 1 }
    return rate.NewLimiter(rate.Limit(float64(n)/60.0), burst)
}

func (p *Provider) Name() string { return p.P.Name() }

func (p *Provider) wait(ctx context.Context) error {
    if p.L == nil { return nil }
    if err := p.L.Wait(ctx); err != nil {
        return fmt.Errorf("%s: rate limit wait: %w", p.P.Name(), err)
    }
    return nil
}

func (p *Provider) FetchPrice(ctx context.Context, providerID string) (provider.Price, error) {
    if err := p.wait(ctx); err != nil { return provider.Price{}, err }
    return p.P.FetchPrice(ctx, providerID)
}

// ErrNoLister is returned by ListCoins when the wrapped provider cannot list coins.
var ErrNoLister = errors.New("provider does not list coins")

// ListCoins passes through to the wrapped provider when it implements provider.Lister.
func (p *Provider) ListCoins(ctx context.Context) ([]provider.Coin, error) {
    l, ok := p.P.(provider.Lister)
    if !ok { return nil, ErrNoLister }
    if err := p.wait(ctx); err != nil { return nil, err }
    return l.ListCoins(ctx)
}
