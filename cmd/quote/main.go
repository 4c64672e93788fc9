package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "log"
    "os"
    "slices"
    "strings"
    "time"

    "pricewatch/internal/config"
    "pricewatch/internal/format"
    "pricewatch/internal/httpx"
    "pricewatch/internal/obs"
    "pricewatch/internal/provider"
    "pricewatch/internal/provider/cache"
    "pricewatch/internal/provider/coingecko"
    "pricewatch/internal/provider/coingeckoadapter"
    "pricewatch/internal/provider/ratelimit"
    "pricewatch/internal/provider/symbols"
)

func main() {
    var symbolsCSV string
    var asJSON bool
    var timeout int
    var configPath string

    flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", "BTC,ETH"), "comma-separated tickers")
    flag.BoolVar(&asJSON, "json", false, "print raw JSON instead of a table")
    flag.IntVar(&timeout, "timeout", 0, "request timeout seconds (default from config)")
    flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to a config file (optional)")
    flag.Parse()

    cfg, err := config.Load(configPath)
    if err != nil { log.Fatalf("config: %v", err) }
    if timeout > 0 { cfg.RequestTimeoutSec = timeout }
    logger := obs.InitLoggerTo(os.Stderr, cfg.LogLevel)

    tickers := splitCSV(symbolsCSV)
    if len(tickers) == 0 { log.Fatal("no symbols provided") }

    cg, err := coingecko.NewCoinGeckoAPIClient(cfg.CoinAPIKey,
        coingecko.WithBaseURL(cfg.CoinAPIBaseURL),
        coingecko.WithHTTPClient(httpx.New(cfg.RequestTimeout())),
    )
    if err != nil { log.Fatalf("market client: %v", err) }
    market := &ratelimit.Provider{
        P: coingeckoadapter.New(coingeckoadapter.Config{}, cg),
        L: ratelimit.PerMinute(cfg.CoinAPIMaxPerMinute, cfg.CoinAPIBurst),
    }
    quotes := &cache.Quotes{
        P:            market,
        Symbols:      symbols.New(market, symbols.WithLogger(logger)),
        FetchTimeout: cfg.RequestTimeout(),
        Log:          logger,
    }

    ctx, cancel := context.WithTimeout(context.Background(), time.Duration(len(tickers)+1)*cfg.RequestTimeout())
    defer cancel()
    results := quotes.GetQuotesForSymbols(ctx, tickers)

    keys := make([]string, 0, len(results))
    for k := range results { keys = append(keys, k) }
    slices.Sort(keys)

    if asJSON {
        out := make(map[string]provider.Result, len(results))
        for k, r := range results {
            if r.OK() { out[k] = r }
        }
        b, _ := json.MarshalIndent(out, "", "  ")
        fmt.Println(string(b))
    } else {
        for _, k := range keys {
            r := results[k]
            if !r.OK() {
                fmt.Printf("%-8s error: %v\n", k, r.Err)
                continue
            }
            fmt.Printf("%-8s %-16s %14s  24h %s\n", k, r.DisplayName, format.USD(r.PriceUSD), format.PctPtr(r.Change24hPct))
        }
    }

    failed := 0
    for _, r := range results {
        if !r.OK() { failed++ }
    }
    if failed == len(results) { os.Exit(1) }
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

func getenv(key, def string) string { if v := os.Getenv(key); v != "" { return v }; return def }
