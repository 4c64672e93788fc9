package coingeckoadapter

import (
    "context"
    "errors"
    "fmt"
    "math"
    "strings"

    "pricewatch/internal/provider"
    "pricewatch/internal/provider/coingecko"
)

type Config struct {
    Name     string // display name, default: CoinGecko
    Currency string // quote currency, default: usd
}

// Adapter exposes the CoinGecko client as a provider.Provider and provider.Lister.
type Adapter struct {
    cfg    Config
    client *coingecko.CoinGeckoAPIClient
}

func New(cfg Config, client *coingecko.CoinGeckoAPIClient) *Adapter {
    if cfg.Name == "" { cfg.Name = "CoinGecko" }
    if cfg.Currency == "" { cfg.Currency = "usd" }
    cfg.Currency = strings.ToLower(cfg.Currency)
    return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string { return a.cfg.Name }

// FetchPrice returns the current price for one coin id. A missing or
// non-finite price is reported as provider.ErrMalformedResponse.
func (a *Adapter) FetchPrice(ctx context.Context, providerID string) (provider.Price, error) {
    prices, err := a.client.GetSimplePrice(ctx, []string{providerID}, a.cfg.Currency)
    if err != nil {
        if errors.Is(err, coingecko.ErrUnexpectedResponse) {
            return provider.Price{}, fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
        }
        return provider.Price{}, err
    }

    row, ok := prices[providerID]
    if !ok || row.Price == nil {
        return provider.Price{}, fmt.Errorf("%w: no %s price for %s", provider.ErrMalformedResponse, a.cfg.Currency, providerID)
    }
    if !finite(*row.Price) {
        return provider.Price{}, fmt.Errorf("%w: non-finite price for %s", provider.ErrMalformedResponse, providerID)
    }

    out := provider.Price{USD: *row.Price}
    if row.Change24h != nil && finite(*row.Change24h) {
        change := *row.Change24h
        out.Change24hPct = &change
    }
    return out, nil
}

// ListCoins returns the full listing with blank rows dropped.
func (a *Adapter) ListCoins(ctx context.Context) ([]provider.Coin, error) {
    coins, err := a.client.GetCoinsList(ctx)
    if err != nil {
        if errors.Is(err, coingecko.ErrUnexpectedResponse) {
            return nil, fmt.Errorf("%w: %v", provider.ErrMalformedResponse, err)
        }
        return nil, err
    }
    out := make([]provider.Coin, 0, len(coins))
    for _, c := range coins {
        id := strings.TrimSpace(c.ID)
        sym := strings.TrimSpace(c.Symbol)
        if id == "" || sym == "" { continue }
        out = append(out, provider.Coin{ID: id, Symbol: sym, Name: strings.TrimSpace(c.Name)})
    }
    return out, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
