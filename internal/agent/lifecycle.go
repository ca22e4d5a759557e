package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"StakePilot-Chain/internal/aggregator"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/observability/alerting"
	"StakePilot-Chain/internal/observability/metrics"
	"StakePilot-Chain/pkg/logger"

	"github.com/samber/lo"
)

// TxState 是交易生命周期的状态。
type TxState string

const (
	StatePendingConstruction TxState = "PENDING_CONSTRUCTION"
	StateConstructed         TxState = "CONSTRUCTED"
	StateSigned              TxState = "SIGNED"
	StateSubmitted           TxState = "SUBMITTED"
	StateConfirmed           TxState = "CONFIRMED"
	StateFailed              TxState = "FAILED"
	StateUnknown             TxState = "UNKNOWN"
	StateAbandoned           TxState = "ABANDONED"
)

// Terminal 判断状态是否为终态。
func (s TxState) Terminal() bool {
	switch s {
	case StateConfirmed, StateFailed, StateUnknown, StateAbandoned:
		return true
	}
	return false
}

// TxOutcome 记录一笔交易最终到达的状态。
type TxOutcome struct {
	TxID        string  `json:"tx_id"`
	Type        string  `json:"type,omitempty"`
	State       TxState `json:"state"`
	ExplorerURL string  `json:"explorer_url,omitempty"`
	Err         error   `json:"-"`
}

const (
	defaultConstructAttempts = 3
	defaultConstructDelay    = time.Second
	defaultPollInterval      = 2 * time.Second
)

// Sleeper 是可注入的等待原语，测试里替换后无需真实延时。
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleeper(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Driver 把单笔未签名交易推进到终态：
// 构造（带上限重试）→ 签名 → 提交 → 轮询确认。
// 一个批次内的交易严格按聚合器返回的顺序串行处理，绝不并行，
// 因为批次内后面的交易可能依赖前面的交易（例如先授权再操作）。
type Driver struct {
	client            StakingClient
	signer            TxSigner
	constructAttempts int
	constructDelay    time.Duration
	pollInterval      time.Duration
	sleep             Sleeper
	logger            *slog.Logger
	alerts            alerting.Dispatcher
}

// DriverOption 定义可选配置。
type DriverOption func(*Driver)

// WithConstructAttempts 设置构造的最大尝试次数。
func WithConstructAttempts(attempts int) DriverOption {
	return func(d *Driver) {
		if attempts > 0 {
			d.constructAttempts = attempts
		}
	}
}

// WithConstructDelay 设置构造重试的间隔。
func WithConstructDelay(delay time.Duration) DriverOption {
	return func(d *Driver) {
		if delay >= 0 {
			d.constructDelay = delay
		}
	}
}

// WithPollInterval 设置状态轮询的固定间隔。
func WithPollInterval(interval time.Duration) DriverOption {
	return func(d *Driver) {
		if interval >= 0 {
			d.pollInterval = interval
		}
	}
}

// WithSleeper 替换等待原语，供测试注入。
func WithSleeper(sleep Sleeper) DriverOption {
	return func(d *Driver) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

// WithDriverLogger 指定日志输出。
func WithDriverLogger(logger *slog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithDriverAlerts 注入告警分发器，交易落入需要关注的状态时通知运维。
func WithDriverAlerts(dispatcher alerting.Dispatcher) DriverOption {
	return func(d *Driver) {
		d.alerts = dispatcher
	}
}

// NewDriver 构造生命周期驱动器。
func NewDriver(client StakingClient, signer TxSigner, opts ...DriverOption) *Driver {
	d := &Driver{
		client:            client,
		signer:            signer,
		constructAttempts: defaultConstructAttempts,
		constructDelay:    defaultConstructDelay,
		pollInterval:      defaultPollInterval,
		sleep:             defaultSleeper,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Run 依次处理批次内的所有交易。
// 构造耗尽只废弃当前交易，批次继续；签名或提交失败会中止批次内
// 剩余交易并返回错误；状态查询出错按 UNKNOWN 软失败处理，批次继续。
func (d *Driver) Run(ctx context.Context, txs []aggregator.Transaction) ([]TxOutcome, error) {
	if d.client == nil || d.signer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "生命周期驱动器未初始化")
	}

	// 聚合器在生成批次时标记 SKIPPED 的交易不进入生命周期。
	pending := lo.Filter(txs, func(tx aggregator.Transaction, _ int) bool {
		return tx.Status != aggregator.TxStatusSkipped
	})

	outcomes := make([]TxOutcome, 0, len(pending))
	for _, tx := range pending {
		outcome, fatal := d.runOne(ctx, tx)
		outcomes = append(outcomes, outcome)
		metrics.ObserveTransaction(string(outcome.State))
		d.alert(ctx, outcome)
		logger.Audit().Info("交易处理结束",
			slog.String("tx_id", outcome.TxID),
			slog.String("state", string(outcome.State)),
			slog.String("explorer_url", outcome.ExplorerURL),
		)
		if fatal != nil {
			return outcomes, fatal
		}
	}
	return outcomes, nil
}

// alert 对带有可告警错误的交易结果发出通知。
func (d *Driver) alert(ctx context.Context, outcome TxOutcome) {
	if d.alerts == nil || outcome.Err == nil || !xerrors.ShouldAlert(outcome.Err) {
		return
	}
	event := alerting.Event{
		Code:       xerrors.CodeOf(outcome.Err),
		Message:    outcome.Err.Error(),
		Severity:   xerrors.SeverityOf(outcome.Err),
		TxID:       outcome.TxID,
		Metadata:   map[string]string{"state": string(outcome.State)},
		OccurredAt: time.Now(),
	}
	if err := d.alerts.Notify(ctx, event); err != nil {
		d.logger.Warn("告警通知发送失败",
			slog.String("tx_id", outcome.TxID),
			slog.String("error", err.Error()),
		)
	}
}

// runOne 驱动单笔交易。返回的 error 非空表示批次必须中止。
func (d *Driver) runOne(ctx context.Context, tx aggregator.Transaction) (TxOutcome, error) {
	outcome := TxOutcome{TxID: tx.ID, Type: tx.Type, State: StatePendingConstruction}

	unsigned, err := d.construct(ctx, tx.ID)
	if err != nil {
		outcome.State = StateAbandoned
		outcome.Err = err
		d.logger.Warn("交易构造重试耗尽，已废弃",
			slog.String("tx_id", tx.ID),
			slog.String("error", err.Error()),
		)
		return outcome, nil
	}
	outcome.State = StateConstructed

	signed, err := d.signer.SignTransaction(ctx, unsigned)
	if err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeSigningFailure, err, "交易 "+tx.ID+" 签名失败")
		outcome.State = StateConstructed
		outcome.Err = wrapped
		return outcome, wrapped
	}
	outcome.State = StateSigned

	if err := d.client.SubmitTransaction(ctx, tx.ID, signed); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeSubmissionFailure, err, "交易 "+tx.ID+" 提交失败")
		outcome.State = StateSigned
		outcome.Err = wrapped
		return outcome, wrapped
	}
	outcome.State = StateSubmitted
	d.logger.Info("交易已提交，开始轮询确认", slog.String("tx_id", tx.ID))

	state, url, pollErr := d.pollToTerminal(ctx, tx.ID)
	outcome.State = state
	outcome.ExplorerURL = url
	outcome.Err = pollErr
	return outcome, nil
}

// construct 调用构造接口，失败时按固定间隔重试到上限。
func (d *Driver) construct(ctx context.Context, txID string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= d.constructAttempts; attempt++ {
		if attempt > 1 && d.constructDelay > 0 {
			if err := d.sleep(ctx, d.constructDelay); err != nil {
				return "", xerrors.Wrap(xerrors.CodeConstructionExhausted, err, "构造等待被取消")
			}
		}
		tx, err := d.client.ConstructTransaction(ctx, txID)
		if err == nil && strings.TrimSpace(tx.UnsignedTransaction) != "" {
			return tx.UnsignedTransaction, nil
		}
		if err == nil {
			err = xerrors.New(xerrors.CodeRequestFailure, "构造结果缺少未签名交易")
		}
		lastErr = err
		d.logger.Warn("交易构造失败",
			slog.String("tx_id", txID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return "", xerrors.Wrap(xerrors.CodeConstructionExhausted, lastErr, "交易 "+txID+" 构造失败")
}

// pollToTerminal 按固定间隔轮询，直到观察到终态。
// 状态查询本身出错时停止轮询并报告 UNKNOWN，而不是无限重试。
func (d *Driver) pollToTerminal(ctx context.Context, txID string) (TxState, string, error) {
	for {
		status, err := d.client.GetTransactionStatus(ctx, txID)
		if err != nil {
			return StateUnknown, "", xerrors.Wrap(xerrors.CodeStatusUnknown, err, "交易 "+txID+" 状态查询失败")
		}
		switch status.Status {
		case aggregator.TxConfirmed:
			return StateConfirmed, status.URL, nil
		case aggregator.TxFailed:
			return StateFailed, status.URL, nil
		}
		if err := d.sleep(ctx, d.pollInterval); err != nil {
			return StateUnknown, "", xerrors.Wrap(xerrors.CodeStatusUnknown, err, "状态轮询被取消")
		}
	}
}
