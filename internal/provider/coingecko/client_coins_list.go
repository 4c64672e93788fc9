package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
)

// Coin is one entry of the full CoinGecko listing.
type Coin struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// GetCoinsList retrieves every coin the API knows about. The payload is large
// (tens of thousands of rows), so callers should cache the result.
func (c *CoinGeckoAPIClient) GetCoinsList(ctx context.Context, opts ...CoinGeckoAPIClientOption) ([]Coin, error) {
	override := c.override(opts)

	query := maps.Clone(override.query)
	query.Set("include_platform", "false")

	url := fmt.Sprintf("%s/coins/list?%s", override.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = override.header

	res, err := override.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		return nil, err
	}

	var coins []Coin
	if err := json.NewDecoder(res.Body).Decode(&coins); err != nil {
		return nil, fmt.Errorf("%w: decoding coins list response: %v", ErrUnexpectedResponse, err)
	}
	if coins == nil {
		return nil, fmt.Errorf("%w: coins list is not an array", ErrUnexpectedResponse)
	}
	return coins, nil
}
