package agent

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/llm"
	"StakePilot-Chain/internal/observability/alerting"
	"StakePilot-Chain/internal/policy"
	"StakePilot-Chain/internal/storage/mysql"
	"StakePilot-Chain/internal/trigger"

	"github.com/google/uuid"
)

// RunResult 汇总一轮"刷新-决策-执行"循环的结果。
type RunResult struct {
	ID           string       `json:"id"`
	Source       string       `json:"source"`
	Prompt       string       `json:"prompt"`
	Reply        string       `json:"reply"`
	Steps        []StepResult `json:"steps,omitempty"`
	Observations string       `json:"observations"`
	CreatedAt    int64        `json:"created_at"`
}

// Agent 协调大模型与质押聚合器，是系统的业务核心。
// 一次 RunCycle 完成刷新账户状态、请求再平衡建议、执行操作步骤三件事。
type Agent struct {
	llmClient  llm.Client
	client     StakingClient
	executor   *StepExecutor
	runStorage mysql.RunRepository
	policy     policy.Provider
	alerts     alerting.Dispatcher
	network    string
	address    string
	llmTimeout time.Duration

	mu    sync.RWMutex
	state *AccountState
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithPolicyProvider 配置策略库，用于在推理前补充再平衡准则。
func WithPolicyProvider(provider policy.Provider) Option {
	return func(a *Agent) {
		a.policy = provider
	}
}

// WithAlertDispatcher 配置告警分发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerts = dispatcher
	}
}

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.llmTimeout = 0
			return
		}
		a.llmTimeout = timeout
	}
}

// New 创建一个 Agent。
func New(llmClient llm.Client, client StakingClient, executor *StepExecutor, repo mysql.RunRepository, network, address string, opts ...Option) *Agent {
	ag := &Agent{
		llmClient:  llmClient,
		client:     client,
		executor:   executor,
		runStorage: repo,
		network:    network,
		address:    address,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	return ag
}

// SetExecutor 注入步骤执行器。
// 执行器的刷新回调指向 Agent 自身，所以两者需要分两步组装。
func (a *Agent) SetExecutor(executor *StepExecutor) {
	a.executor = executor
}

// State 返回最近一次刷新的账户快照。
func (a *Agent) State() *AccountState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Refresh 重新拉取账户状态并整体替换快照。
// 步骤执行器在每个步骤结束后也会通过它刷新，
// 保证后续步骤基于包含前序变化的余额决策。
func (a *Agent) Refresh(ctx context.Context) error {
	state, err := RefreshAccountState(ctx, a.client, a.network, a.address)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRequestFailure, err, "刷新账户状态失败")
	}
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	return nil
}

// RunCycle 处理一次触发：刷新状态、请求建议、解析并执行操作、落库。
func (a *Agent) RunCycle(ctx context.Context, request trigger.PromptRequest) (*RunResult, error) {
	// 验证必要的组件是否已配置。
	if a.llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	if a.client == nil || a.executor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置聚合器客户端或步骤执行器")
	}

	runID := request.ID
	if strings.TrimSpace(runID) == "" {
		runID = uuid.NewString()
	}

	// 刷新账户状态，拿到本轮决策依据的快照。
	if err := a.Refresh(ctx); err != nil {
		a.alert(ctx, runID, request.Source, err)
		return nil, err
	}
	summary := a.State().Summary()

	// 调用大模型生成再平衡建议。
	llmCtx := ctx
	if a.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, a.llmTimeout)
		defer cancel()
	}
	reply, err := a.llmClient.Generate(llmCtx, llm.Request{
		Instruction: a.buildInstruction(request.Message),
		Message:     fmt.Sprintf("%s\n\n当前账户状态:\n%s", request.Message, summary),
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			err = xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		} else {
			err = xerrors.Wrap(xerrors.CodeRequestFailure, err, "大模型推理失败")
		}
		a.alert(ctx, runID, request.Source, err)
		return nil, err
	}

	// 解析回复末尾的操作块。没有操作块表示模型建议保持现状。
	observations := ""
	op, err := ParseOperation(reply.Text)
	if err != nil {
		a.alert(ctx, runID, request.Source, err)
		return nil, err
	}
	if op == nil || len(op.Steps) == 0 {
		observations = appendObservation(observations, "模型未给出操作，保持现状")
	}

	// 串行执行操作步骤。执行错误也要落库和告警，便于事后排查。
	steps, execErr := a.executor.ExecuteOperation(ctx, op)
	if execErr != nil {
		observations = appendObservation(observations, fmt.Sprintf("执行中止: %v", execErr))
		a.alert(ctx, runID, request.Source, execErr)
	}
	observations = appendObservation(observations, summarizeOutcomes(steps))

	now := time.Now().Unix()
	result := &RunResult{
		ID:           runID,
		Source:       request.Source,
		Prompt:       request.Message,
		Reply:        reply.Text,
		Steps:        steps,
		Observations: observations,
		CreatedAt:    now,
	}

	// 保存运行记录（如已配置存储）。
	if a.runStorage != nil {
		record := mysql.RunRecord{
			ID:           runID,
			Source:       request.Source,
			Prompt:       request.Message,
			Reply:        reply.Text,
			StepsSummary: encodeSteps(steps),
			Observations: observations,
			CreatedAt:    now,
		}
		if err := a.runStorage.Save(ctx, record); err != nil {
			return result, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存运行记录失败")
		}
	}

	if execErr != nil {
		return result, execErr
	}
	return result, nil
}

// ListHistory 获取最近的运行记录。
func (a *Agent) ListHistory(ctx context.Context, limit int) ([]RunResult, error) {
	if a.runStorage == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置运行记录仓库")
	}

	records, err := a.runStorage.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行记录失败")
	}

	results := make([]RunResult, 0, len(records))
	for _, record := range records {
		results = append(results, RunResult{
			ID:           record.ID,
			Source:       record.Source,
			Prompt:       record.Prompt,
			Reply:        record.Reply,
			Steps:        decodeSteps(record.StepsSummary),
			Observations: record.Observations,
			CreatedAt:    record.CreatedAt,
		})
	}
	return results, nil
}

// buildInstruction 组装系统指令：回复契约加上策略库检索到的准则。
func (a *Agent) buildInstruction(message string) string {
	var builder strings.Builder
	builder.WriteString("你是一个质押收益管理助手，负责为单个地址做再平衡决策。\n")
	builder.WriteString("先分析给出的账户状态，再决定是否需要调整。\n")
	builder.WriteString("如需调整，在回复的最末尾输出一个 ```json 代码块，格式为:\n")
	builder.WriteString("{\"steps\":[{\"action\":\"ENTER|EXIT\",\"yieldId\":\"产品ID\",\"amount\":\"可选的十进制金额\"}]}\n")
	builder.WriteString("省略 amount 表示使用全部可用余额。代码块之后不能有任何文字。\n")
	builder.WriteString("保持现状时不要输出代码块。")

	if a.policy == nil {
		return builder.String()
	}
	rules := a.policy.Query(message, a.network)
	if len(rules) == 0 {
		return builder.String()
	}
	builder.WriteString("\n\n决策时遵守以下准则:\n")
	for _, rule := range rules {
		if strings.TrimSpace(rule.Guidance) == "" {
			continue
		}
		builder.WriteString("- ")
		if strings.TrimSpace(rule.Title) != "" {
			builder.WriteString(rule.Title)
			builder.WriteString(": ")
		}
		builder.WriteString(rule.Guidance)
		builder.WriteString("\n")
	}
	return builder.String()
}

// alert 在配置了告警分发器时发送事件，失败只影响通知不影响主流程。
func (a *Agent) alert(ctx context.Context, runID, source string, err error) {
	if a.alerts == nil || err == nil {
		return
	}
	if !xerrors.ShouldAlert(err) {
		return
	}
	_ = a.alerts.Notify(ctx, alerting.Event{
		Code:       xerrors.CodeOf(err),
		Message:    err.Error(),
		Severity:   xerrors.SeverityOf(err),
		RunID:      runID,
		Source:     source,
		OccurredAt: time.Now(),
	})
}

// summarizeOutcomes 把步骤结果压成人可读的观察文本。
func summarizeOutcomes(steps []StepResult) string {
	if len(steps) == 0 {
		return ""
	}
	lines := make([]string, 0, len(steps))
	for i, step := range steps {
		if step.Skipped {
			lines = append(lines, fmt.Sprintf("步骤 %d (%s %s): 跳过，%s", i+1, step.Step.Direction, step.Step.YieldID, step.SkipReason))
			continue
		}
		states := make([]string, 0, len(step.Outcomes))
		for _, outcome := range step.Outcomes {
			states = append(states, fmt.Sprintf("%s=%s", outcome.TxID, outcome.State))
		}
		lines = append(lines, fmt.Sprintf("步骤 %d (%s %s, 金额 %s): %s", i+1, step.Step.Direction, step.Step.YieldID, step.Amount, strings.Join(states, ", ")))
	}
	return strings.Join(lines, "\n")
}

func encodeSteps(steps []StepResult) string {
	if len(steps) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(steps)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func decodeSteps(raw string) []StepResult {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var steps []StepResult
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil
	}
	if len(steps) == 0 {
		return nil
	}
	return steps
}

// appendObservation 将新的观察结果追加到现有的观察字符串中。
func appendObservation(existing, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return existing
	}
	if strings.TrimSpace(existing) == "" {
		return next
	}
	return existing + "\n" + next
}
