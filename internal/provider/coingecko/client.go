package coingecko

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// baseURL is the public CoinGecko API root.
const baseURL = "https://api.coingecko.com/api/v3"

// ErrUnexpectedResponse marks a response that arrived but could not be used.
var ErrUnexpectedResponse = errors.New("unexpected response")

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=coingecko_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// CoinGeckoAPIClient is a client for the CoinGecko API.
type CoinGeckoAPIClient struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
}

// CoinGeckoAPIClientOption is a configuration option for the CoinGecko API client.
type CoinGeckoAPIClientOption func(*CoinGeckoAPIClient)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) CoinGeckoAPIClientOption {
	return func(c *CoinGeckoAPIClient) {
		if baseURL != "" {
			c.baseURL = trimSlash(baseURL)
		}
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) CoinGeckoAPIClientOption {
	return func(c *CoinGeckoAPIClient) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) CoinGeckoAPIClientOption {
	return func(c *CoinGeckoAPIClient) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewCoinGeckoAPIClient creates a new CoinGecko API client. The key is optional;
// the public API works without one at a lower rate limit.
func NewCoinGeckoAPIClient(key string, options ...CoinGeckoAPIClientOption) (*CoinGeckoAPIClient, error) {
	var coinGeckoAPIClient = &CoinGeckoAPIClient{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{"Accept": []string{"application/json"}},
		query:      url.Values{},
	}
	if key != "" {
		// Demo plan keys travel as a header.
		// https://docs.coingecko.com/reference/authentication
		coinGeckoAPIClient.header.Set("x-cg-demo-api-key", key)
	}
	for _, option := range options {
		option(coinGeckoAPIClient)
	}
	if coinGeckoAPIClient.httpClient == nil {
		return nil, fmt.Errorf("nil http client")
	}
	return coinGeckoAPIClient, nil
}

// override copies the client so per-call options do not leak.
func (c *CoinGeckoAPIClient) override(opts []CoinGeckoAPIClientOption) *CoinGeckoAPIClient {
	var o = &CoinGeckoAPIClient{
		baseURL:    c.baseURL,
		httpClient: c.httpClient,
		header:     c.header.Clone(),
		query:      c.query,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// checkStatus maps non-OK responses onto errors.
func checkStatus(res *http.Response) error {
	switch res.StatusCode {
	case http.StatusOK:
		return nil

	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("unauthorized")

	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limited")

	default:
		return fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
