package api

import (
    "fmt"
    "net/http"
    "strings"

    "github.com/gin-gonic/gin"

    "pricewatch/internal/provider"
)

type quoteResponse struct {
    provider.Result
    StaleAgeMs int64 `json:"stale_age_ms,omitempty"`
}

func toQuote(r provider.Result) quoteResponse {
    out := quoteResponse{Result: r}
    if r.Stale { out.StaleAgeMs = r.StaleAge.Milliseconds() }
    return out
}

type batchResponse struct {
    Quotes map[string]quoteResponse `json:"quotes"`
    Errors map[string]string        `json:"errors,omitempty"`
}

func toBatch(results map[string]provider.Result) batchResponse {
    out := batchResponse{Quotes: make(map[string]quoteResponse, len(results))}
    for sym, r := range results {
        if r.OK() {
            out.Quotes[sym] = toQuote(r)
            continue
        }
        if out.Errors == nil { out.Errors = map[string]string{} }
        reason := provider.ReasonOf(r.Err)
        if reason == "" { reason = provider.ReasonProviderUnavailable }
        out.Errors[sym] = string(reason)
    }
    return out
}

// GET /api/quotes/:ticker
func (s *Server) getQuote(c *gin.Context) {
    res, err := s.Quotes.GetQuoteBySymbol(c.Request.Context(), c.Param("ticker"), true)
    if err != nil {
        s.fail(c, err)
        return
    }
    c.JSON(http.StatusOK, toQuote(res))
}

// GET /api/quotes?symbols=BTC,ETH
func (s *Server) getQuotes(c *gin.Context) {
    tickers := splitCSV(c.Query("symbols"))
    if len(tickers) == 0 {
        c.JSON(http.StatusBadRequest, errorBody{Error: string(provider.ReasonMissingSymbol), Message: "missing symbols query param"})
        return
    }
    if len(tickers) > MaxBatchSymbols {
        c.JSON(http.StatusBadRequest, errorBody{Error: "too_many_symbols", Message: fmt.Sprintf("too many symbols (max %d)", MaxBatchSymbols)})
        return
    }
    c.JSON(http.StatusOK, toBatch(s.Quotes.GetQuotesForSymbols(c.Request.Context(), tickers)))
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}
