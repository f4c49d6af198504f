package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"price-history/internal/pricing"
)

// ItemLine 是报告中展示的单个商品。
type ItemLine struct {
	ProductCode string
	Price       int64
	Lowest      *int64
}

// Notification 封装一次渠道重算的结果。
type Notification struct {
	Channel       string
	Trigger       string
	Mode          string
	PeriodDays    int
	Items         int
	Updated       int64
	Failed        int
	Duration      time.Duration
	FinishedAt    time.Time
	Exponent      int32
	Sample        []ItemLine
	AdditionalMsg string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("channel", note.Channel).
		Str("trigger", note.Trigger).
		Int64("updated", note.Updated).
		Msg("重算报告已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Price History Recompute]\n")
	builder.WriteString(fmt.Sprintf("Channel: %s\n", note.Channel))
	if note.Trigger != "" {
		builder.WriteString(fmt.Sprintf("Trigger: %s\n", note.Trigger))
	}
	builder.WriteString(fmt.Sprintf("Checking period: %d days (%s mode)\n", note.PeriodDays, note.Mode))
	builder.WriteString(fmt.Sprintf("Items: %d, updated %d (%s%%), failed %d\n",
		note.Items, note.Updated, updatedShare(note.Updated, note.Items), note.Failed))
	builder.WriteString(fmt.Sprintf("Duration: %s\n", note.Duration.Round(time.Millisecond)))
	if !note.FinishedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Finished: %s UTC\n", note.FinishedAt.UTC().Format(time.RFC3339)))
	}
	for _, line := range note.Sample {
		builder.WriteString(fmt.Sprintf("- %s: %s, lowest before discount %s\n",
			line.ProductCode,
			pricing.FormatMinor(line.Price, note.Exponent),
			pricing.FormatOptional(line.Lowest, note.Exponent)))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func updatedShare(updated int64, items int) string {
	if items <= 0 {
		return decimal.Zero.StringFixed(1)
	}
	return decimal.NewFromInt(updated).
		Div(decimal.NewFromInt(int64(items))).
		Mul(decimal.NewFromInt(100)).
		StringFixed(1)
}

var _ Notifier = (*TelegramNotifier)(nil)
