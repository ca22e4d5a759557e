package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookDingTalkSender 调用钉钉群机器人的 Webhook 发送文本消息。
type WebhookDingTalkSender struct {
	WebhookURL string
	HTTPClient *http.Client
}

// Send 发送一条文本消息。
func (s *WebhookDingTalkSender) Send(ctx context.Context, content string) error {
	payload := map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	}
	return postJSON(ctx, s.HTTPClient, s.WebhookURL, payload)
}

// WebhookSlackSender 调用 Slack Incoming Webhook 发送消息。
type WebhookSlackSender struct {
	WebhookURL string
	HTTPClient *http.Client
}

// Send 向指定频道发送一条消息。
func (s *WebhookSlackSender) Send(ctx context.Context, channel, content string) error {
	payload := map[string]string{
		"channel": channel,
		"text":    content,
	}
	return postJSON(ctx, s.HTTPClient, s.WebhookURL, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	if url == "" {
		return fmt.Errorf("Webhook 地址为空")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化告警消息失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("构造告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警请求失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("告警 Webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}
