package provider

import (
    "errors"
    "fmt"
)

// Reason categorizes a failed quote lookup.
type Reason string

const (
    // ReasonMissingSymbol means the caller passed an empty ticker.
    ReasonMissingSymbol Reason = "missing_symbol"
    // ReasonUnknownSymbol means the ticker has no provider mapping. User-correctable.
    ReasonUnknownSymbol Reason = "unknown_symbol"
    // ReasonProviderUnavailable means the fetch failed and no stale quote could be served.
    ReasonProviderUnavailable Reason = "provider_unavailable"
    // ReasonMalformedResponse means the provider answered with an unusable body.
    // It is handled exactly like ReasonProviderUnavailable.
    ReasonMalformedResponse Reason = "malformed_provider_response"
)

var (
    ErrMissingSymbol       = errors.New("missing symbol")
    ErrUnknownSymbol       = errors.New("unknown symbol")
    ErrProviderUnavailable = errors.New("provider unavailable")
    ErrMalformedResponse   = errors.New("malformed provider response")
)

// Error is a failed lookup carrying the asset identifiers for caller-side messaging.
type Error struct {
    Reason     Reason
    ProviderID string
    Ticker     string
    Cause      error
}

func (e *Error) Error() string {
    id := e.Ticker
    if e.ProviderID != "" {
        id = fmt.Sprintf("%s (%s)", e.Ticker, e.ProviderID)
    }
    if e.Cause != nil {
        return fmt.Sprintf("%s: %s: %v", e.Reason, id, e.Cause)
    }
    return fmt.Sprintf("%s: %s", e.Reason, id)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is maps reasons onto the package sentinels so callers can use errors.Is.
func (e *Error) Is(target error) bool {
    switch e.Reason {
    case ReasonMissingSymbol:
        return target == ErrMissingSymbol
    case ReasonUnknownSymbol:
        return target == ErrUnknownSymbol
    case ReasonProviderUnavailable:
        return target == ErrProviderUnavailable
    case ReasonMalformedResponse:
        return target == ErrProviderUnavailable || target == ErrMalformedResponse
    }
    return false
}

// ReasonOf extracts the lookup failure reason from err, or "" when err is not a lookup error.
func ReasonOf(err error) Reason {
    var e *Error
    if errors.As(err, &e) {
        return e.Reason
    }
    return ""
}
