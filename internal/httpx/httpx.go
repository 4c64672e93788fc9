package httpx

import (
    "net"
    "net/http"
    "time"
)

const DefaultUserAgent = "pricewatch/1.0"

// Client is a small wrapper around http.Client with pooled transport defaults.
// It satisfies the HTTPClient interface used by the market data client.
type Client struct {
    HTTP      *http.Client
    UserAgent string
    Headers   map[string]string
}

func New(timeout time.Duration) *Client {
    transport := &http.Transport{
        Proxy: http.ProxyFromEnvironment,
        DialContext: (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
        MaxIdleConns:          50,
        MaxIdleConnsPerHost:   10,
        MaxConnsPerHost:       20,
        ForceAttemptHTTP2:     true,
        IdleConnTimeout:       90 * time.Second,
        TLSHandshakeTimeout:   3 * time.Second,
        ExpectContinueTimeout: 1 * time.Second,
        ResponseHeaderTimeout: timeout,
    }
    return &Client{HTTP: &http.Client{Timeout: timeout, Transport: transport}, UserAgent: DefaultUserAgent}
}

// Do sets the user agent and the static headers the request does not already
// carry. The deadline comes from the request context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
    if c.UserAgent != "" && req.Header.Get("User-Agent") == "" { req.Header.Set("User-Agent", c.UserAgent) }
    for k, v := range c.Headers {
        if req.Header.Get(k) == "" { req.Header.Set(k, v) }
    }
    return c.HTTP.Do(req)
}
