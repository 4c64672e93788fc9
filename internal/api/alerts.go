package api

import (
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"

    "github.com/gin-gonic/gin"

    "pricewatch/internal/alert"
    "pricewatch/internal/provider"
    "pricewatch/internal/provider/symbols"
)

type createAlertBody struct {
    Ticker    string `json:"ticker"`
    Direction string `json:"direction"`
    // Target is a JSON number or a string such as "70,000".
    Target json.RawMessage `json:"target"`
}

type createAlertResponse struct {
    Alert        alert.Alert `json:"alert"`
    CurrentPrice *float64    `json:"current_price,omitempty"`
}

func badRequest(format string, args ...any) error {
    return fmt.Errorf("%w: %s", alert.ErrInvalidAlert, fmt.Sprintf(format, args...))
}

// GET /api/users/:user/alerts
func (s *Server) listAlerts(c *gin.Context) {
    list, err := s.Store.ListByUser(c.Request.Context(), c.Param("user"))
    if err != nil {
        s.fail(c, err)
        return
    }
    if list == nil { list = []alert.Alert{} }
    c.JSON(http.StatusOK, gin.H{"alerts": list})
}

// POST /api/users/:user/alerts
func (s *Server) createAlert(c *gin.Context) {
    var body createAlertBody
    if err := c.ShouldBindJSON(&body); err != nil {
        s.fail(c, badRequest("invalid JSON body"))
        return
    }
    target, ok := alert.ParseTargetPrice(strings.Trim(string(body.Target), `"`))
    if !ok {
        s.fail(c, badRequest("target must be a positive number"))
        return
    }
    a, err := alert.New(c.Param("user"), body.Ticker, body.Direction, target, s.now())
    if err != nil {
        s.fail(c, err)
        return
    }

    // Unknown tickers are rejected. A provider outage does not block creation.
    ctx := c.Request.Context()
    resp := createAlertResponse{}
    res, err := s.Quotes.GetQuoteBySymbol(ctx, a.Ticker, true)
    switch {
    case err == nil:
        price := res.PriceUSD
        resp.CurrentPrice = &price
    case errors.Is(err, provider.ErrUnknownSymbol), errors.Is(err, provider.ErrMissingSymbol):
        s.fail(c, err)
        return
    default:
        s.log().Warn("alert create without price", "symbol", a.Ticker, "error", err)
    }

    if err := s.Store.UpsertUser(ctx, a.UserID, a.UserID); err != nil {
        s.fail(c, err)
        return
    }
    id, err := s.Store.Insert(ctx, a)
    if err != nil {
        s.fail(c, err)
        return
    }
    a.ID = id
    resp.Alert = a
    c.JSON(http.StatusCreated, resp)
}

// DELETE /api/users/:user/alerts/:id
func (s *Server) deleteAlert(c *gin.Context) {
    ok, err := s.Store.Delete(c.Request.Context(), c.Param("id"), c.Param("user"))
    if err != nil {
        s.fail(c, err)
        return
    }
    if !ok {
        c.JSON(http.StatusNotFound, errorBody{Error: "not_found", Message: "alert not found"})
        return
    }
    c.Status(http.StatusNoContent)
}

// DELETE /api/users/:user/alerts
func (s *Server) clearAlerts(c *gin.Context) {
    n, err := s.Store.ClearByUser(c.Request.Context(), c.Param("user"))
    if err != nil {
        s.fail(c, err)
        return
    }
    c.JSON(http.StatusOK, gin.H{"removed": n})
}

type watchlistBody struct {
    Ticker string `json:"ticker"`
}

type watchlistResponse struct {
    Symbols []string `json:"symbols"`
    batchResponse
}

// GET /api/users/:user/watchlist
func (s *Server) getWatchlist(c *gin.Context) {
    ctx := c.Request.Context()
    list, err := s.Store.Watchlist(ctx, c.Param("user"))
    if err != nil {
        s.fail(c, err)
        return
    }
    if list == nil { list = []string{} }
    quoted := list[:min(len(list), WatchlistQuoteLimit)]
    c.JSON(http.StatusOK, watchlistResponse{Symbols: list, batchResponse: toBatch(s.Quotes.GetQuotesForSymbols(ctx, quoted))})
}

// POST /api/users/:user/watchlist
func (s *Server) addWatchlist(c *gin.Context) {
    var body watchlistBody
    if err := c.ShouldBindJSON(&body); err != nil {
        s.fail(c, badRequest("invalid JSON body"))
        return
    }
    ctx := c.Request.Context()
    res, err := s.Quotes.GetQuoteBySymbol(ctx, body.Ticker, true)
    if err != nil && (errors.Is(err, provider.ErrUnknownSymbol) || errors.Is(err, provider.ErrMissingSymbol)) {
        s.fail(c, err)
        return
    }
    ticker := body.Ticker
    if err == nil { ticker = res.Ticker }
    if err := s.Store.UpsertUser(ctx, c.Param("user"), c.Param("user")); err != nil {
        s.fail(c, err)
        return
    }
    if err := s.Store.AddToWatchlist(ctx, c.Param("user"), ticker); err != nil {
        s.fail(c, err)
        return
    }
    c.JSON(http.StatusCreated, gin.H{"symbol": symbols.Normalize(ticker)})
}

// DELETE /api/users/:user/watchlist/:ticker
func (s *Server) removeWatchlist(c *gin.Context) {
    if err := s.Store.RemoveFromWatchlist(c.Request.Context(), c.Param("user"), c.Param("ticker")); err != nil {
        s.fail(c, err)
        return
    }
    c.Status(http.StatusNoContent)
}

// DELETE /api/users/:user/watchlist
func (s *Server) clearWatchlist(c *gin.Context) {
    if err := s.Store.ClearWatchlist(c.Request.Context(), c.Param("user")); err != nil {
        s.fail(c, err)
        return
    }
    c.Status(http.StatusNoContent)
}
