package notify

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "resty.dev/v3"
)

const DefaultTelegramBaseURL = "https://api.telegram.org"

type inlineKeyboard struct {
    InlineKeyboard [][]Action `json:"inline_keyboard"`
}

type sendMessageRequest struct {
    ChatID      string          `json:"chat_id"`
    Text        string          `json:"text"`
    ReplyMarkup *inlineKeyboard `json:"reply_markup,omitempty"`
}

type apiResponse struct {
    OK          bool   `json:"ok"`
    Description string `json:"description"`
}

// Telegram sends messages through the Bot API sendMessage method. Users are
// addressed by their chat id.
type Telegram struct {
    client *resty.Client
    token  string
}

type TelegramOption func(*telegramConfig)

type telegramConfig struct {
    baseURL string
    timeout time.Duration
    retries int
    http    *http.Client
}

// WithTelegramBaseURL points the client at another Bot API server.
func WithTelegramBaseURL(u string) TelegramOption {
    return func(c *telegramConfig) { if u != "" { c.baseURL = strings.TrimRight(u, "/") } }
}

func WithTelegramTimeout(d time.Duration) TelegramOption {
    return func(c *telegramConfig) { if d > 0 { c.timeout = d } }
}

// WithTelegramHTTPClient sends through hc, so the notifier shares the
// service's pooled transport.
func WithTelegramHTTPClient(hc *http.Client) TelegramOption {
    return func(c *telegramConfig) { if hc != nil { c.http = hc } }
}

// WithTelegramRetries sets how often rate-limited or 5xx sends are retried.
func WithTelegramRetries(n int) TelegramOption {
    return func(c *telegramConfig) { if n >= 0 { c.retries = n } }
}

func NewTelegram(token string, opts ...TelegramOption) (*Telegram, error) {
    if strings.TrimSpace(token) == "" {
        return nil, errors.New("telegram: empty bot token")
    }
    cfg := telegramConfig{baseURL: DefaultTelegramBaseURL, timeout: 10 * time.Second, retries: 2}
    for _, o := range opts { o(&cfg) }

    client := resty.New()
    if cfg.http != nil { client = resty.NewWithClient(cfg.http) }
    client.
        SetBaseURL(cfg.baseURL).
        SetTimeout(cfg.timeout).
        SetHeader("Accept", "application/json").
        SetRetryCount(cfg.retries).
        SetAllowNonIdempotentRetry(true).
        SetRetryDefaultConditions(false).
        SetRetryWaitTime(500 * time.Millisecond).
        SetRetryMaxWaitTime(5 * time.Second).
        AddRetryConditions(retryable)
    return &Telegram{client: client, token: token}, nil
}

// retryable only retries answers the server asked us to repeat; a transport
// error may mean the message was already delivered.
func retryable(r *resty.Response, err error) bool {
    if err != nil || r == nil { return false }
    return r.StatusCode() == 429 || r.StatusCode() >= 500
}

func (t *Telegram) Send(ctx context.Context, userID, message string, actions [][]Action) error {
    body := sendMessageRequest{ChatID: userID, Text: message}
    if len(actions) > 0 {
        body.ReplyMarkup = &inlineKeyboard{InlineKeyboard: actions}
    }

    var out, failed apiResponse
    resp, err := t.client.R().
        SetContext(ctx).
        SetHeader("Content-Type", "application/json").
        SetBody(body).
        SetResult(&out).
        SetError(&failed).
        Post("/bot" + t.token + "/sendMessage")
    if err != nil {
        if ctxErr := ctx.Err(); ctxErr != nil {
            return fmt.Errorf("telegram sendMessage: %w", ctxErr)
        }
        // transport errors quote the URL, which carries the token
        return fmt.Errorf("telegram sendMessage: %s", strings.ReplaceAll(err.Error(), t.token, "***"))
    }
    if !resp.IsSuccess() {
        reason := failed.Description
        if reason == "" { reason = resp.String() }
        return fmt.Errorf("telegram sendMessage: status %d: %s", resp.StatusCode(), reason)
    }
    if !out.OK {
        return fmt.Errorf("telegram sendMessage: %s", out.Description)
    }
    return nil
}
