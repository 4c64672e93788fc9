package provider

import (
    "context"
    "time"
)

// Source tells where a served quote came from.
type Source string

const (
    SourceCache Source = "cache"
    SourceAPI   Source = "api"
)

// Quote is the normalized USD quote for one asset.
// Change24hPct is nil when the provider did not report a usable value.
type Quote struct {
    ProviderID   string    `json:"provider_id"`
    DisplayName  string    `json:"name"`
    Ticker       string    `json:"symbol"`
    PriceUSD     float64   `json:"price_usd"`
    Change24hPct *float64  `json:"change_24h_pct"`
    ObservedAt   time.Time `json:"observed_at"`
    ExpiresAt    time.Time `json:"-"`
}

// Result is the outcome of a single quote lookup. Err is only set by batch
// lookups, where failures are reported per ticker.
type Result struct {
    Quote
    Source   Source        `json:"source"`
    Stale    bool          `json:"stale"`
    StaleAge time.Duration `json:"-"`
    Err      error         `json:"-"`
}

// OK reports whether the lookup produced a usable quote.
func (r Result) OK() bool { return r.Err == nil && r.ProviderID != "" }

// Price is what a provider returns for one asset.
type Price struct {
    USD          float64
    Change24hPct *float64
}

// Coin is one row of the provider's full asset listing.
type Coin struct {
    ID     string
    Symbol string
    Name   string
}

// Provider is an upstream quote source.
type Provider interface {
    Name() string
    FetchPrice(ctx context.Context, providerID string) (Price, error)
}

// Lister lists every asset the upstream provider knows about.
type Lister interface {
    ListCoins(ctx context.Context) ([]Coin, error)
}
