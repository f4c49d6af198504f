package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"price-history/internal/pricing"
)

func testNote() Notification {
	return Notification{
		Channel:    "WEB",
		Trigger:    "checking_period_changed",
		Mode:       "item",
		PeriodDays: 7,
		Items:      4,
		Updated:    3,
		Duration:   1500 * time.Millisecond,
		FinishedAt: time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
		Exponent:   2,
		Sample: []ItemLine{
			{ProductCode: "MUG", Price: 1999, Lowest: pricing.Int64(2450)},
			{ProductCode: "CAP", Price: 500},
		},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testNote()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if received["text"] == "" {
		t.Fatalf("text 应非空")
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())

	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNote()); err == nil {
		t.Fatal("502 应报错")
	}
}

func TestRenderMessage(t *testing.T) {
	text := renderMessage(testNote())

	for _, want := range []string{
		"Channel: WEB",
		"Checking period: 7 days (item mode)",
		"updated 3 (75.0%)",
		"MUG: 19.99, lowest before discount 24.50",
		"CAP: 5.00, lowest before discount -",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("message should contain %q:\n%s", want, text)
		}
	}
}

func TestUpdatedShareWithoutItems(t *testing.T) {
	if got := updatedShare(0, 0); got != "0.0" {
		t.Fatalf("want 0.0, got %s", got)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
