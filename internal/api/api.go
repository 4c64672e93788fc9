// Package api exposes quotes, alerts and watchlists over HTTP.
package api

import (
    "context"
    "errors"
    "log/slog"
    "net/http"
    "time"

    "github.com/gin-gonic/gin"

    "pricewatch/internal/alert"
    "pricewatch/internal/obs"
    "pricewatch/internal/provider"
)

// LimitedModeMessage is returned whenever an alert or watchlist operation
// needs the store and none is connected.
const LimitedModeMessage = "Alerts need a database connection. The bot is running in limited mode right now."

// MaxBatchSymbols caps the tickers accepted by one batch quote request.
const MaxBatchSymbols = 50

// WatchlistQuoteLimit caps how many watchlist tickers are quoted per request.
// The full list is still returned.
const WatchlistQuoteLimit = 20

// QuoteService is the quote lookup surface the handlers need.
type QuoteService interface {
    GetQuoteBySymbol(ctx context.Context, ticker string, allowStale bool) (provider.Result, error)
    GetQuotesForSymbols(ctx context.Context, tickers []string) map[string]provider.Result
}

// Server holds the handler dependencies. Store may be nil, in which case
// alert and watchlist routes answer 503.
type Server struct {
    Quotes QuoteService
    Store  alert.Repository
    Log    *slog.Logger
    Now    func() time.Time
}

func (s *Server) log() *slog.Logger {
    if s.Log != nil { return s.Log }
    return obs.Logger
}

func (s *Server) now() time.Time {
    if s.Now != nil { return s.Now() }
    return time.Now()
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
    r := gin.New()
    r.Use(gin.Recovery(), corsMiddleware(), limitBody(1<<20), requestLogger(s.log()))

    r.GET("/healthz", func(c *gin.Context) {
        c.JSON(http.StatusOK, gin.H{"status": "ok", "store": s.Store != nil})
    })

    q := r.Group("/api/quotes")
    q.GET("", s.getQuotes)
    q.GET("/:ticker", s.getQuote)

    u := r.Group("/api/users/:user", s.requireStore)
    u.GET("/alerts", s.listAlerts)
    u.POST("/alerts", s.createAlert)
    u.DELETE("/alerts", s.clearAlerts)
    u.DELETE("/alerts/:id", s.deleteAlert)
    u.GET("/watchlist", s.getWatchlist)
    u.POST("/watchlist", s.addWatchlist)
    u.DELETE("/watchlist", s.clearWatchlist)
    u.DELETE("/watchlist/:ticker", s.removeWatchlist)
    return r
}

type errorBody struct {
    Error   string `json:"error"`
    Message string `json:"message"`
}

// fail maps err onto a status code and a stable error code.
func (s *Server) fail(c *gin.Context, err error) {
    status, code := http.StatusInternalServerError, "internal"
    msg := err.Error()
    switch {
    case errors.Is(err, provider.ErrMissingSymbol):
        status, code = http.StatusBadRequest, string(provider.ReasonMissingSymbol)
    case errors.Is(err, provider.ErrUnknownSymbol):
        status, code = http.StatusNotFound, string(provider.ReasonUnknownSymbol)
    case errors.Is(err, provider.ErrProviderUnavailable):
        status, code = http.StatusServiceUnavailable, string(provider.ReasonProviderUnavailable)
        if r := provider.ReasonOf(err); r != "" { code = string(r) }
    case errors.Is(err, alert.ErrInvalidAlert):
        status, code = http.StatusBadRequest, "invalid_alert"
    case errors.Is(err, alert.ErrStoreUnavailable):
        status, code, msg = http.StatusServiceUnavailable, "store_unavailable", LimitedModeMessage
    }
    if status >= 500 {
        s.log().Warn("api request failed", "path", c.FullPath(), "status", status, "error", err)
    }
    c.AbortWithStatusJSON(status, errorBody{Error: code, Message: msg})
}

func (s *Server) requireStore(c *gin.Context) {
    if s.Store == nil {
        s.fail(c, alert.ErrStoreUnavailable)
        return
    }
    c.Next()
}
