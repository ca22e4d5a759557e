package agent

import (
	"context"
	"log/slog"

	xerrors "StakePilot-Chain/internal/errors"
)

// StepResult 汇总一个步骤的执行结果。
type StepResult struct {
	Step       Step        `json:"step"`
	Amount     string      `json:"amount,omitempty"`
	Skipped    bool        `json:"skipped,omitempty"`
	SkipReason string      `json:"skip_reason,omitempty"`
	Outcomes   []TxOutcome `json:"outcomes,omitempty"`
}

// RefreshFunc 在步骤完成后触发账户状态的整体刷新，
// 保证后续步骤看到的余额包含前面步骤造成的变化。
type RefreshFunc func(ctx context.Context) error

// StepExecutor 按声明顺序串行执行操作的各个步骤：
// 解析金额 → 创建操作会话 → 驱动交易批次 → 刷新账户状态。
type StepExecutor struct {
	client   StakingClient
	driver   *Driver
	resolver *Resolver
	refresh  RefreshFunc
	address  string
	logger   *slog.Logger
}

// ExecutorOption 定义可选配置。
type ExecutorOption func(*StepExecutor)

// WithRefreshFunc 配置步骤完成后的状态刷新回调。
func WithRefreshFunc(refresh RefreshFunc) ExecutorOption {
	return func(e *StepExecutor) {
		e.refresh = refresh
	}
}

// WithExecutorLogger 指定日志输出。
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *StepExecutor) {
		e.logger = logger
	}
}

// NewStepExecutor 构造步骤执行器。
func NewStepExecutor(client StakingClient, driver *Driver, resolver *Resolver, address string, opts ...ExecutorOption) *StepExecutor {
	e := &StepExecutor{
		client:   client,
		driver:   driver,
		resolver: resolver,
		address:  address,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// ExecuteOperation 依次执行操作的所有步骤。
// 金额解析为跳过的步骤直接略过（记录后继续，不是错误）；
// 签名或提交失败会中止整个操作并把错误上抛到本轮循环。
func (e *StepExecutor) ExecuteOperation(ctx context.Context, op *Operation) ([]StepResult, error) {
	if e.client == nil || e.driver == nil || e.resolver == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "步骤执行器未初始化")
	}
	if op == nil || len(op.Steps) == 0 {
		return nil, nil
	}

	results := make([]StepResult, 0, len(op.Steps))
	for _, step := range op.Steps {
		result, err := e.executeStep(ctx, step)
		results = append(results, result)
		if err != nil {
			return results, err
		}
		if result.Skipped {
			continue
		}
		// 步骤到达终态（包括其中被废弃或状态未知的交易）后整体刷新，
		// 让下一个步骤基于最新余额决策。
		if e.refresh != nil {
			if err := e.refresh(ctx); err != nil {
				return results, xerrors.Wrap(xerrors.CodeRequestFailure, err, "步骤完成后刷新账户状态失败")
			}
		}
	}
	return results, nil
}

func (e *StepExecutor) executeStep(ctx context.Context, step Step) (StepResult, error) {
	result := StepResult{Step: step}

	resolution, err := e.resolver.Resolve(ctx, step)
	if err != nil {
		return result, err
	}
	if resolution.Skip {
		result.Skipped = true
		result.SkipReason = resolution.Reason
		e.logger.Info("步骤跳过",
			slog.String("direction", string(step.Direction)),
			slog.String("yield_id", step.YieldID),
			slog.String("reason", resolution.Reason),
		)
		return result, nil
	}
	result.Amount = resolution.Amount
	if resolution.Clamped {
		e.logger.Warn("显式金额超出实时余额，已按余额裁剪",
			slog.String("yield_id", step.YieldID),
			slog.String("amount", resolution.Amount),
		)
	}

	session, err := e.client.CreateActionSession(ctx, step.ActionDirection(), step.YieldID, e.address, resolution.Amount)
	if err != nil {
		return result, xerrors.Wrap(xerrors.CodeRequestFailure, err, "创建操作会话失败")
	}
	e.logger.Info("操作会话已创建",
		slog.String("session_id", session.ID),
		slog.String("direction", string(step.Direction)),
		slog.String("yield_id", step.YieldID),
		slog.String("amount", resolution.Amount),
		slog.Int("transactions", len(session.Transactions)),
	)

	outcomes, err := e.driver.Run(ctx, session.Transactions)
	result.Outcomes = outcomes
	return result, err
}
