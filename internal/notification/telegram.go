package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"perpetual-enginev1/internal/model"
)

// TelegramAlerter implements model.Alerter over the Telegram Bot API's
// sendMessage endpoint.
type TelegramAlerter struct {
	botToken string
	chatID   string
	client   *http.Client
}

func NewTelegramAlerter(botToken, chatID string) *TelegramAlerter {
	return &TelegramAlerter{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramAlerter) OnStrategyStart(name string) {
	t.post(fmt.Sprintf("*Strategy Started*\n%s is now active", escapeMarkdown(name)))
}

func (t *TelegramAlerter) OnTradeOpen(p model.Position) {
	t.post(fmt.Sprintf("*Position Opened: %s*\nEntry: %s\nSize: %s\nSL: %s  TP: %s\nID: %s",
		escapeMarkdown(string(p.Side)), money(p.EntryPrice), money(p.SizeUSD),
		money(p.StopLoss), money(p.TakeProfit), escapeMarkdown(p.ID)))
}

func (t *TelegramAlerter) OnTradeClose(tr model.Trade) {
	t.post(fmt.Sprintf("*Trade Closed: %s*\nEntry: %s\nExit: %s\nPnL: %s \\(%+.2f%%\\)\nID: %s",
		escapeMarkdown(string(tr.ExitReason)), money(tr.EntryPrice), money(tr.ExitPrice),
		escapeMarkdown(signedMoney(tr.PnL)), tr.PnLPercent, escapeMarkdown(tr.ID)))
}

func (t *TelegramAlerter) OnError(message string) {
	t.post(fmt.Sprintf("*Error*\n%s", escapeMarkdown(message)))
}

func (t *TelegramAlerter) SendAlert(level model.AlertLevel, text string) {
	t.post(fmt.Sprintf("*%s*\n%s", escapeMarkdown(strings.ToUpper(string(level))), escapeMarkdown(text)))
}

func (t *TelegramAlerter) post(text string) {
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "MarkdownV2",
	})
	if err != nil {
		slog.Error("telegram alerter: marshal failed", "err", err)
		return
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			slog.Error("telegram alerter: build request failed", "err", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			slog.Error("telegram alerter: request failed", "err", err)
			return
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := parseTelegramRetryAfter(resp)
			resp.Body.Close()
			if attempt < maxRateLimitRetries {
				slog.Warn("telegram alerter rate limited, retrying", "retry_after", retryAfter, "attempt", attempt+1, "max", maxRateLimitRetries)
				time.Sleep(retryAfter)
				continue
			}
			slog.Error("telegram alerter: rate limit exceeded, dropping message", "max_retries", maxRateLimitRetries)
			return
		}

		if resp.StatusCode >= 400 {
			raw, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			slog.Error("telegram alerter: api rejected message", "status", resp.StatusCode, "body", string(raw))
			return
		}

		resp.Body.Close()
		return
	}
}

func parseTelegramRetryAfter(resp *http.Response) time.Duration {
	var body struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Parameters.RetryAfter > 0 {
		return time.Duration(body.Parameters.RetryAfter) * time.Second
	}
	return time.Second
}

// escapeMarkdown escapes Telegram MarkdownV2's reserved characters.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}

var _ model.Alerter = (*TelegramAlerter)(nil)
