package agent

import (
	"encoding/json"
	"strconv"
	"strings"

	"StakePilot-Chain/internal/aggregator"
	xerrors "StakePilot-Chain/internal/errors"

	"github.com/shopspring/decimal"
)

// StepDirection 表示一个步骤的方向。
type StepDirection string

const (
	StepEnter StepDirection = "ENTER"
	StepExit  StepDirection = "EXIT"
)

// Step 是一条针对特定收益产品的操作指令。
// Amount 为空时由 Resolver 在执行前根据实时余额补全。
type Step struct {
	Direction StepDirection `json:"action"`
	YieldID   string        `json:"yieldId"`
	Amount    string        `json:"amount,omitempty"`
}

// ActionDirection 把步骤方向映射为聚合器的操作方向。
func (s Step) ActionDirection() aggregator.ActionDirection {
	if s.Direction == StepExit {
		return aggregator.ActionExit
	}
	return aggregator.ActionEnter
}

// Operation 是一组有序步骤。步骤之间严格串行执行，
// 后面的步骤可能依赖前面步骤造成的余额变化。
type Operation struct {
	Steps []Step `json:"steps"`
}

// ParseOperation 是推理服务自由文本到结构化 Operation 的唯一归一化边界。
// 文本必须以一个 json 围栏块结尾：块内是空对象表示无需操作，
// 含 steps 数组则为待执行操作。块缺失或块后还有正文都视作无操作，
// 不是错误；块内缺少 steps 键则是 MALFORMED_OPERATION。
func ParseOperation(text string) (*Operation, error) {
	block, ok := trailingFencedBlock(text)
	if !ok {
		return nil, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(block), &probe); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedOperation, err, "操作内容不是合法的 JSON 对象")
	}
	// 空对象是明确的"无需操作"信号。
	if len(probe) == 0 {
		return nil, nil
	}

	rawSteps, ok := probe["steps"]
	if !ok {
		return nil, xerrors.New(xerrors.CodeMalformedOperation, "操作缺少 steps 序列")
	}

	var steps []Step
	if err := json.Unmarshal(rawSteps, &steps); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformedOperation, err, "steps 序列格式不正确")
	}
	for i, step := range steps {
		// 模型输出的方向大小写不稳定，在归一化边界统一成大写。
		steps[i].Direction = StepDirection(strings.ToUpper(string(step.Direction)))
		if err := validateStep(steps[i]); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeMalformedOperation, err, "第 "+strconv.Itoa(i+1)+" 个步骤不合法")
		}
	}
	return &Operation{Steps: steps}, nil
}

func validateStep(step Step) error {
	if step.Direction != StepEnter && step.Direction != StepExit {
		return xerrors.New(xerrors.CodeInvalidArgument, "步骤方向必须是 ENTER 或 EXIT")
	}
	if strings.TrimSpace(step.YieldID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "步骤缺少收益产品 ID")
	}
	if step.Amount != "" {
		amount, err := decimal.NewFromString(step.Amount)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "步骤金额不是合法的十进制数")
		}
		if !amount.IsPositive() {
			return xerrors.New(xerrors.CodeInvalidArgument, "步骤金额必须为正数")
		}
	}
	return nil
}

// trailingFencedBlock 提取文本末尾的围栏块内容。
// 块后除空白外还有内容、或找不到成对围栏时返回 false。
func trailingFencedBlock(text string) (string, bool) {
	trimmed := strings.TrimRight(text, " \t\r\n")
	if !strings.HasSuffix(trimmed, "```") {
		return "", false
	}
	body := trimmed[:len(trimmed)-3]
	open := strings.LastIndex(body, "```")
	if open < 0 {
		return "", false
	}
	content := body[open+3:]
	// 跳过围栏起始行上的语言标签（如 json）。
	if idx := strings.IndexByte(content, '\n'); idx >= 0 {
		content = content[idx+1:]
	} else {
		return "", false
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", false
	}
	return content, true
}
