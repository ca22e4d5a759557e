package llm

import "context"

// Request 描述发送给推理服务的完整上下文。
// Instruction 是系统指令（场景策略加账户状态摘要），Message 是用户消息。
type Request struct {
	Instruction string
	Message     string
}

// Response 是推理服务返回的自由文本。
// 文本末尾可能携带一个 json 围栏块，由 agent 层的 Intake 负责解析。
type Response struct {
	Text string
}

// Client 定义了调用推理服务的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
