package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookDingTalkSenderPostsTextMessage(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := &WebhookDingTalkSender{WebhookURL: server.URL, HTTPClient: server.Client()}
	if err := sender.Send(context.Background(), "交易 tx-1 已废弃"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["msgtype"] != "text" {
		t.Fatalf("unexpected msgtype: %v", got["msgtype"])
	}
	text, ok := got["text"].(map[string]any)
	if !ok || text["content"] != "交易 tx-1 已废弃" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestWebhookSlackSenderPostsChannelAndText(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := &WebhookSlackSender{WebhookURL: server.URL, HTTPClient: server.Client()}
	if err := sender.Send(context.Background(), "C123", "告警内容"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["channel"] != "C123" || got["text"] != "告警内容" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestWebhookSenderRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := &WebhookDingTalkSender{WebhookURL: server.URL, HTTPClient: server.Client()}
	if err := sender.Send(context.Background(), "x"); err == nil {
		t.Fatalf("expected error on non-2xx response")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	notifier := &LogNotifier{}
	if notifier.Channel() != ChannelLog {
		t.Fatalf("unexpected channel: %s", notifier.Channel())
	}
	if err := notifier.Notify(context.Background(), Event{RunID: "run-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
