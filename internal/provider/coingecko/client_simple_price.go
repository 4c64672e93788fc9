package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strings"
)

// SimplePrice is the price of one coin against one currency.
type SimplePrice struct {
	Price     *float64
	Change24h *float64
}

// GetSimplePrice retrieves current prices for the given coin ids.
// Coins the API does not know are absent from the result.
func (c *CoinGeckoAPIClient) GetSimplePrice(ctx context.Context, ids []string, vsCurrency string, opts ...CoinGeckoAPIClientOption) (map[string]SimplePrice, error) {
	override := c.override(opts)

	vsCurrency = strings.ToLower(vsCurrency)
	query := maps.Clone(override.query)
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", vsCurrency)
	query.Set("include_24hr_change", "true")

	url := fmt.Sprintf("%s/simple/price?%s", override.baseURL, query.Encode())
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

	// {
	//   "bitcoin": {
	//     "usd": 65000,
	//     "usd_24h_change": -1.2345
	//   }
	// }
	var body map[string]any
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding simple price response: %v", ErrUnexpectedResponse, err)
	}

	var prices = make(map[string]SimplePrice, len(body))
	for id, raw := range body {
		row, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: decoding %s: unexpected type %T", ErrUnexpectedResponse, id, raw)
		}

		price, err := parseNullableNumber(row, vsCurrency)
		if err != nil {
			return nil, fmt.Errorf("%w: decoding %s price: %v", ErrUnexpectedResponse, id, err)
		}

		change, err := parseNullableNumber(row, vsCurrency+"_24h_change")
		if err != nil {
			// The change is informational; a bad value is dropped, not fatal.
			change = nil
		}

		prices[id] = SimplePrice{
			Price:     price,
			Change24h: change,
		}
	}

	return prices, nil
}

// parseNullableNumber reads a JSON number decoded with UseNumber.
func parseNullableNumber(data map[string]any, key string) (*float64, error) {
	v, ok := data[key]
	if !ok || v == nil {
		return nil, nil
	}
	n, ok := v.(json.Number)
	if !ok {
		return nil, fmt.Errorf("unexpected type: %T", v)
	}
	f, err := n.Float64()
	if err != nil {
		return nil, err
	}
	return &f, nil
}
