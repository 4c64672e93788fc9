package main

import (
    "context"
    "errors"
    "net/http"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/gin-gonic/gin"

    "pricewatch/internal/alert"
    "pricewatch/internal/alert/memstore"
    "pricewatch/internal/alert/mongostore"
    "pricewatch/internal/api"
    "pricewatch/internal/config"
    "pricewatch/internal/httpx"
    "pricewatch/internal/notify"
    "pricewatch/internal/obs"
    "pricewatch/internal/poller"
    "pricewatch/internal/provider/cache"
    "pricewatch/internal/provider/coingecko"
    "pricewatch/internal/provider/coingeckoadapter"
    "pricewatch/internal/provider/ratelimit"
    "pricewatch/internal/provider/symbols"
)

func main() {
    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    log := obs.InitLogger(cfg.LogLevel)
    if err != nil {
        log.Error("config load failed", "err", err.Error())
        os.Exit(1)
    }
    if cfg.LogLevel != "debug" { gin.SetMode(gin.ReleaseMode) }

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    // Market data
    httpClient := httpx.New(cfg.RequestTimeout())
    cg, err := coingecko.NewCoinGeckoAPIClient(cfg.CoinAPIKey,
        coingecko.WithBaseURL(cfg.CoinAPIBaseURL),
        coingecko.WithHTTPClient(httpClient),
    )
    if err != nil {
        log.Error("market client init failed", "err", err.Error())
        os.Exit(1)
    }
    market := &ratelimit.Provider{
        P: coingeckoadapter.New(coingeckoadapter.Config{}, cg),
        L: ratelimit.PerMinute(cfg.CoinAPIMaxPerMinute, cfg.CoinAPIBurst),
    }
    resolver := symbols.New(market, symbols.WithRefreshTimeout(cfg.RequestTimeout()), symbols.WithLogger(log))
    quotes := &cache.Quotes{
        P:            market,
        Symbols:      resolver,
        TTL:          cfg.CacheTTL(),
        FetchTimeout: cfg.RequestTimeout(),
        Log:          log,
    }
    go resolver.RefreshIfNeeded(ctx)

    // Alerts
    var store alert.Repository
    var mongoStore *mongostore.Store
    switch {
    case cfg.MongoURI == "":
        log.Warn("MONGODB_URI not set; alerts are kept in memory")
        store = memstore.New()
    default:
        mongoStore, err = mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, mongostore.WithLogger(log))
        if err != nil {
            log.Error("db connect failed; running in limited mode", "host", obs.SafeHost(cfg.MongoURI), "err", err.Error())
        } else {
            store = mongoStore
        }
    }

    var notifier notify.Notifier = notify.LogNotifier{Log: log}
    if cfg.TelegramBotToken != "" {
        tg, err := notify.NewTelegram(cfg.TelegramBotToken,
            notify.WithTelegramBaseURL(cfg.TelegramAPIBaseURL),
            notify.WithTelegramTimeout(cfg.RequestTimeout()),
            notify.WithTelegramHTTPClient(httpClient.HTTP),
        )
        if err != nil {
            log.Error("telegram init failed", "err", err.Error())
            os.Exit(1)
        }
        notifier = notify.NewThrottled(tg, cfg.TelegramMaxPerSecond, cfg.TelegramBurst)
    } else {
        log.Warn("TELEGRAM_BOT_TOKEN not set; notifications go to the log")
    }

    var p *poller.Poller
    if store != nil {
        p = poller.New(store, quotes, notifier, poller.WithInterval(cfg.PollInterval()), poller.WithLogger(log))
        if err := p.Start(ctx); err != nil {
            log.Error("poller start failed", "err", err.Error())
            os.Exit(1)
        }
    }

    // HTTP
    srvAPI := &api.Server{Quotes: quotes, Store: store, Log: log}
    srv := &http.Server{
        Addr:              ":" + cfg.Port,
        Handler:           srvAPI.Router(),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        WriteTimeout:      cfg.RequestTimeout() + 10*time.Second,
        IdleTimeout:       60 * time.Second,
    }
    go func() {
        log.Info("server listening", "port", cfg.Port, "store", store != nil, "poll_interval_ms", cfg.PollInterval().Milliseconds())
        if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Error("server failed", "err", err.Error())
            stop()
        }
    }()

    // graceful shutdown
    <-ctx.Done()
    log.Info("shutting down")
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
    if p != nil { p.Stop() }
    if mongoStore != nil { _ = mongoStore.Close(shutdownCtx) }
}
