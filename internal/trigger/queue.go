package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PromptRequest 是一次运行触发：来自定时器或操作接口的提示消息。
type PromptRequest struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Message   string `json:"message"`
	CreatedAt int64  `json:"created_at"`
}

// 触发来源。
const (
	SourceScheduler = "scheduler"
	SourceOperator  = "operator"
)

// NewPromptRequest 创建带唯一 ID 的触发请求。
func NewPromptRequest(source, message string) PromptRequest {
	return PromptRequest{
		ID:        uuid.NewString(),
		Source:    source,
		Message:   strings.TrimSpace(message),
		CreatedAt: time.Now().Unix(),
	}
}

// Encode 将触发请求序列化为队列消息体。
func (p PromptRequest) Encode() ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("序列化触发请求失败: %w", err)
	}
	return body, nil
}

// DecodePromptRequest 从队列消息体还原触发请求。
func DecodePromptRequest(body []byte) (PromptRequest, error) {
	var request PromptRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return PromptRequest{}, fmt.Errorf("解析触发请求失败: %w", err)
	}
	return request, nil
}

// Handler 处理来自队列的触发请求。
type Handler func(ctx context.Context, request PromptRequest) error

// Producer 负责向队列投递触发请求。
type Producer interface {
	Publish(ctx context.Context, request PromptRequest) error
	Close() error
}

// Consumer 负责从队列中消费触发请求。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
