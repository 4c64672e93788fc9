package api

import (
    "log/slog"
    "net/http"
    "time"

    "github.com/gin-gonic/gin"
)

func corsMiddleware() gin.HandlerFunc {
    return func(c *gin.Context) {
        c.Header("Access-Control-Allow-Origin", "*")
        c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
        c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
        if c.Request.Method == http.MethodOptions {
            c.AbortWithStatus(http.StatusNoContent)
            return
        }
        c.Next()
    }
}

// limitBody caps request body size.
func limitBody(max int64) gin.HandlerFunc {
    return func(c *gin.Context) {
        if c.Request.Body != nil {
            c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
        }
        c.Next()
    }
}

// requestLogger logs failed and slow requests. Health checks are skipped.
func requestLogger(log *slog.Logger) gin.HandlerFunc {
    return func(c *gin.Context) {
        path := c.Request.URL.Path
        if path == "/healthz" {
            c.Next()
            return
        }
        start := time.Now()
        c.Next()
        took := time.Since(start)
        status := c.Writer.Status()
        if status >= 400 || took > time.Second {
            log.Info("http request", "method", c.Request.Method, "path", path, "status", status, "took_ms", took.Milliseconds())
        }
    }
}
