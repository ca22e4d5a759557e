package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/observability/metrics"
	"StakePilot-Chain/internal/trigger"
	"StakePilot-Chain/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Runner 是调度器驱动的业务入口，通常包装 Agent 的 RunCycle。
type Runner func(ctx context.Context, request trigger.PromptRequest) error

// Scheduler 把定时器和触发队列汇聚到单一执行槽位上。
// 同一时刻最多只有一轮循环在运行：槽位被占用时到达的触发直接丢弃，
// 绝不排队补跑，因为下一次触发会基于更新的状态重新决策。
type Scheduler struct {
	runner   Runner
	queue    trigger.Queue
	interval time.Duration
	prompt   string
	logger   *slog.Logger
	busy     atomic.Bool
	cron     *cron.Cron
}

// Option 定义可选配置。
type Option func(*Scheduler)

// WithLogger 指定日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// defaultInterval 是未配置时的循环周期。
const defaultInterval = 15 * time.Minute

// New 创建调度器。
func New(runner Runner, queue trigger.Queue, interval time.Duration, prompt string, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = defaultInterval
	}
	s := &Scheduler{
		runner:   runner,
		queue:    queue,
		interval: interval,
		prompt:   prompt,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// TryAcquire 以 CAS 方式占用执行槽位。
func (s *Scheduler) TryAcquire() bool {
	return s.busy.CompareAndSwap(false, true)
}

// Release 释放执行槽位。
func (s *Scheduler) Release() {
	s.busy.Store(false)
}

// Busy 返回当前是否有循环在执行。
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

// Dispatch 尝试执行一次触发。槽位被占用时记录后丢弃。
func (s *Scheduler) Dispatch(ctx context.Context, request trigger.PromptRequest) error {
	if s.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "调度器未配置执行器")
	}
	if !s.TryAcquire() {
		s.logger.Info("上一轮循环仍在执行，触发被丢弃",
			slog.String("trigger_id", request.ID),
			slog.String("source", request.Source),
		)
		return nil
	}
	defer s.Release()

	s.logger.Info("开始执行循环",
		slog.String("trigger_id", request.ID),
		slog.String("source", request.Source),
	)
	err := s.runner(ctx, request)
	metrics.ObserveCycle(request.Source, err)
	if err != nil {
		s.logger.Error("循环执行失败",
			slog.String("trigger_id", request.ID),
			slog.String("error", err.Error()),
		)
		logger.Audit().Warn("循环执行失败",
			slog.String("trigger_id", request.ID),
			slog.String("source", request.Source),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.logger.Info("循环执行完成", slog.String("trigger_id", request.ID))
	logger.Audit().Info("循环执行完成",
		slog.String("trigger_id", request.ID),
		slog.String("source", request.Source),
	)
	return nil
}

// Start 启动定时触发与队列消费，阻塞直到上下文取消。
func (s *Scheduler) Start(ctx context.Context) error {
	if s.queue == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "调度器未配置触发队列")
	}

	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		request := trigger.NewPromptRequest(trigger.SourceScheduler, s.prompt)
		if err := s.queue.Publish(ctx, request); err != nil {
			s.logger.Error("定时触发投递失败", slog.String("error", err.Error()))
		}
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册定时触发失败")
	}
	s.cron.Start()
	defer s.cron.Stop()

	// 队列消费只用单个工作协程：真正的并发上限由槽位保证，
	// 单消费者避免两个触发同时到达时一个白白被丢弃前还占用连接。
	return s.queue.Consume(ctx, 1, func(ctx context.Context, request trigger.PromptRequest) error {
		return s.Dispatch(ctx, request)
	})
}
