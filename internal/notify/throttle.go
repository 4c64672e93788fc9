package notify

import (
    "context"

    "golang.org/x/time/rate"
)

// Throttled gates a Notifier with a token bucket. Send blocks until a token
// is available or ctx is done.
type Throttled struct {
    N Notifier
    L *rate.Limiter
}

// NewThrottled allows perSecond sends on average with the given burst.
// A non-positive rate disables throttling.
func NewThrottled(n Notifier, perSecond float64, burst int) *Throttled {
    if burst <= 0 { burst = 1 }
    lim := rate.NewLimiter(rate.Inf, burst)
    if perSecond > 0 { lim = rate.NewLimiter(rate.Limit(perSecond), burst) }
    return &Throttled{N: n, L: lim}
}

func (t *Throttled) Send(ctx context.Context, userID, message string, actions [][]Action) error {
    if t.L != nil {
        if err := t.L.Wait(ctx); err != nil { return err }
    }
    return t.N.Send(ctx, userID, message, actions)
}
