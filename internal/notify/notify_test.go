package notify

import (
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "github.com/stretchr/testify/require"
    "golang.org/x/time/rate"

    "pricewatch/internal/obs"
)

func TestTelegram_Send(t *testing.T) {
    t.Parallel()

    // Arrange: a fake Bot API that records the request
    var got sendMessageRequest
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        require.Equal(t, http.MethodPost, r.Method)
        require.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
        require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
    }))
    t.Cleanup(srv.Close)

    tg, err := NewTelegram("TOKEN", WithTelegramBaseURL(srv.URL+"/"))
    require.NoError(t, err)

    // Act
    actions := [][]Action{{{Text: "View Price", Data: "px:BTC"}}}
    err = tg.Send(t.Context(), "12345", "hello", actions)

    // Assert
    require.NoError(t, err)
    require.Equal(t, "12345", got.ChatID)
    require.Equal(t, "hello", got.Text)
    require.NotNil(t, got.ReplyMarkup)
    require.Equal(t, actions, got.ReplyMarkup.InlineKeyboard)
}

func TestTelegram_SendRejected(t *testing.T) {
    t.Parallel()

    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        w.WriteHeader(http.StatusForbidden)
        _, _ = w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
    }))
    t.Cleanup(srv.Close)

    tg, err := NewTelegram("TOKEN", WithTelegramBaseURL(srv.URL))
    require.NoError(t, err)

    err = tg.Send(t.Context(), "1", "hi", nil)
    require.ErrorContains(t, err, "status 403")
    require.ErrorContains(t, err, "blocked by the user")
}

func TestTelegram_RetriesServerErrors(t *testing.T) {
    t.Parallel()

    var calls atomic.Int32
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if calls.Add(1) == 1 {
            w.WriteHeader(http.StatusBadGateway)
            return
        }
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write([]byte(`{"ok":true}`))
    }))
    t.Cleanup(srv.Close)

    tg, err := NewTelegram("TOKEN", WithTelegramBaseURL(srv.URL), WithTelegramRetries(1))
    require.NoError(t, err)

    require.NoError(t, tg.Send(t.Context(), "1", "hi", nil))
    require.EqualValues(t, 2, calls.Load())
}

type countingTransport struct {
    calls atomic.Int32
    next  http.RoundTripper
}

func (c *countingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
    c.calls.Add(1)
    return c.next.RoundTrip(r)
}

func TestTelegram_UsesSharedHTTPClient(t *testing.T) {
    t.Parallel()

    // Arrange
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        _, _ = w.Write([]byte(`{"ok":true}`))
    }))
    t.Cleanup(srv.Close)
    rt := &countingTransport{next: http.DefaultTransport}
    tg, err := NewTelegram("TOKEN", WithTelegramBaseURL(srv.URL), WithTelegramHTTPClient(&http.Client{Transport: rt}))
    require.NoError(t, err)

    // Act
    err = tg.Send(t.Context(), "1", "hi", nil)

    // Assert
    require.NoError(t, err)
    require.Equal(t, int32(1), rt.calls.Load())
}

func TestNewTelegram_EmptyToken(t *testing.T) {
    t.Parallel()

    _, err := NewTelegram(" ")
    require.Error(t, err)
}

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) Send(ctx context.Context, userID, message string, actions [][]Action) error {
    c.n.Add(1)
    return nil
}

func TestThrottled_WaitsForToken(t *testing.T) {
    t.Parallel()

    // Arrange: one token, refilled far in the future
    inner := &countingNotifier{}
    th := &Throttled{N: inner, L: rate.NewLimiter(rate.Every(time.Hour), 1)}

    // Act + Assert: the first send spends the burst
    require.NoError(t, th.Send(t.Context(), "1", "a", nil))

    // Act + Assert: the second blocks until the context gives up
    ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
    defer cancel()
    require.Error(t, th.Send(ctx, "1", "b", nil))
    require.EqualValues(t, 1, inner.n.Load())
}

func TestNewThrottled_Unlimited(t *testing.T) {
    t.Parallel()

    inner := &countingNotifier{}
    th := NewThrottled(inner, 0, 0)
    for i := 0; i < 100; i++ {
        require.NoError(t, th.Send(t.Context(), "1", "x", nil))
    }
    require.EqualValues(t, 100, inner.n.Load())
}

func TestLogNotifier(t *testing.T) {
    t.Parallel()

    require.NoError(t, LogNotifier{Log: obs.Discard()}.Send(t.Context(), "1", "x", [][]Action{{{Text: "a"}}}))
}
