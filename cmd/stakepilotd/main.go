package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"StakePilot-Chain/internal/agent"
	"StakePilot-Chain/internal/aggregator"
	"StakePilot-Chain/internal/api"
	"StakePilot-Chain/internal/config"
	"StakePilot-Chain/internal/llm"
	"StakePilot-Chain/internal/llm/anthropic"
	"StakePilot-Chain/internal/llm/openai"
	"StakePilot-Chain/internal/observability/alerting"
	"StakePilot-Chain/internal/policy"
	"StakePilot-Chain/internal/scheduler"
	"StakePilot-Chain/internal/signer"
	"StakePilot-Chain/internal/storage/mysql"
	"StakePilot-Chain/internal/trigger"
	"StakePilot-Chain/pkg/logger"
)

// main 是 StakePilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("stakepilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("STAKEPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "stakepilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	if strings.TrimSpace(cfg.Agent.Address) == "" {
		return errors.New("配置缺少被管理的账户地址 agent.address")
	}

	// 初始化聚合器客户端。
	apiKey := strings.TrimSpace(os.Getenv(cfg.Aggregator.APIKeyEnv))
	aggClient, err := aggregator.NewClient(aggregator.Config{
		BaseURL: cfg.Aggregator.BaseURL,
		APIKey:  apiKey,
		Timeout: cfg.AggregatorTimeout(),
	})
	if err != nil {
		return err
	}

	// 初始化本地签名器。
	privateKey := strings.TrimSpace(os.Getenv(cfg.Signer.PrivateKeyEnv))
	if privateKey == "" {
		return fmt.Errorf("环境变量 %s 未提供签名私钥", cfg.Signer.PrivateKeyEnv)
	}
	txSigner, err := signer.NewLocalSigner(privateKey)
	if err != nil {
		return err
	}

	// 初始化大模型客户端。
	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// 初始化运行记录仓库。
	var runRepo mysql.RunRepository
	switch cfg.Storage.RunStore.Driver {
	case "memory", "":
		repo, err := mysql.NewMemoryRunRepository(dataDir)
		if err != nil {
			return err
		}
		runRepo = repo
	case "mysql":
		repo, err := mysql.NewSQLRunRepository(cfg.Storage.RunStore.DSN)
		if err != nil {
			return err
		}
		runRepo = repo
	default:
		return mysql.ErrUnsupportedDriver
	}
	if closer, ok := runRepo.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// 初始化触发队列。
	var triggerQueue trigger.Queue
	switch cfg.Trigger.Driver {
	case "", "memory":
		triggerQueue = trigger.NewMemoryQueue(cfg.Trigger.QueueSize)
	case "redis":
		queue, err := trigger.NewRedisQueue(trigger.RedisQueueConfig{
			Address:   cfg.Trigger.Redis.Address,
			Password:  cfg.Trigger.Redis.Password,
			DB:        cfg.Trigger.Redis.DB,
			Queue:     cfg.Trigger.Redis.Queue,
			BlockWait: time.Duration(cfg.Trigger.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		triggerQueue = queue
	case "rabbitmq":
		queue, err := trigger.NewRabbitMQQueue(trigger.RabbitMQConfig{
			URL:        cfg.Trigger.RabbitMQ.URL,
			Queue:      cfg.Trigger.RabbitMQ.Queue,
			Prefetch:   cfg.Trigger.RabbitMQ.Prefetch,
			Durable:    cfg.Trigger.RabbitMQ.Durable,
			AutoDelete: cfg.Trigger.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		triggerQueue = queue
	default:
		return fmt.Errorf("未知的触发队列驱动: %s", cfg.Trigger.Driver)
	}
	defer func() {
		if err := triggerQueue.Close(); err != nil {
			logger.L().Warn("关闭触发队列失败", "error", err.Error())
		}
	}()

	// 初始化策略库。
	var policyProvider policy.Provider
	if cfg.Policy.Path != "" {
		provider, err := policy.LoadStaticProvider(cfg.Policy.Path, cfg.Policy.MaxResults)
		if err != nil {
			return err
		}
		policyProvider = provider
	} else {
		policyProvider = policy.Default(cfg.Policy.MaxResults)
	}

	// 初始化告警分发器。
	dispatcher, err := buildAlertDispatcher(cfg)
	if err != nil {
		return err
	}

	// 组装执行链路：金额解析 → 生命周期驱动 → 步骤执行。
	resolver := agent.NewResolver(aggClient, cfg.Agent.Address)
	driver := agent.NewDriver(aggClient, txSigner,
		agent.WithDriverLogger(logger.Named("lifecycle")),
		agent.WithDriverAlerts(dispatcher),
	)

	ag := agent.New(
		llmClient,
		aggClient,
		nil,
		runRepo,
		cfg.Agent.Network,
		cfg.Agent.Address,
		agent.WithPolicyProvider(policyProvider),
		agent.WithLLMTimeout(cfg.LLMTimeout()),
		agent.WithAlertDispatcher(dispatcher),
	)

	executor := agent.NewStepExecutor(aggClient, driver, resolver, cfg.Agent.Address,
		agent.WithRefreshFunc(ag.Refresh),
		agent.WithExecutorLogger(logger.Named("executor")),
	)
	ag.SetExecutor(executor)

	sched := scheduler.New(
		func(ctx context.Context, request trigger.PromptRequest) error {
			_, err := ag.RunCycle(ctx, request)
			return err
		},
		triggerQueue,
		cfg.SchedulerInterval(),
		cfg.Scheduler.Prompt,
		scheduler.WithLogger(logger.Named("scheduler")),
	)

	schedCtx, schedCancel := context.WithCancel(ctx)
	defer schedCancel()

	go func() {
		if err := sched.Start(schedCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("调度器异常退出", "error", err.Error())
		}
	}()

	server := api.NewServer(cfg.Server.Address, ag, triggerQueue)

	logger.L().Info("stakepilotd 已启动",
		"address", cfg.Server.Address,
		"network", cfg.Agent.Network,
		"account", txSigner.Address(),
	)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAlertDispatcher 按配置组装告警渠道，未配置任何渠道时退回日志渠道。
func buildAlertDispatcher(cfg *config.Config) (*alerting.FanoutDispatcher, error) {
	var notifiers []alerting.Notifier
	for _, channel := range cfg.Alerting.Channels {
		switch alerting.Channel(channel) {
		case alerting.ChannelLog:
			notifiers = append(notifiers, &alerting.LogNotifier{Logger: logger.Audit()})
		case alerting.ChannelDingTalk:
			webhookURL := strings.TrimSpace(os.Getenv(cfg.Alerting.DingTalk.WebhookURLEnv))
			if webhookURL == "" {
				return nil, fmt.Errorf("环境变量 %s 未提供钉钉 Webhook 地址", cfg.Alerting.DingTalk.WebhookURLEnv)
			}
			notifiers = append(notifiers, &alerting.DingTalkNotifier{
				Sender: &alerting.WebhookDingTalkSender{WebhookURL: webhookURL},
			})
		case alerting.ChannelSlack:
			webhookURL := strings.TrimSpace(os.Getenv(cfg.Alerting.Slack.WebhookURLEnv))
			if webhookURL == "" {
				return nil, fmt.Errorf("环境变量 %s 未提供 Slack Webhook 地址", cfg.Alerting.Slack.WebhookURLEnv)
			}
			notifiers = append(notifiers, &alerting.SlackNotifier{
				Sender:    &alerting.WebhookSlackSender{WebhookURL: webhookURL},
				ChannelID: cfg.Alerting.Slack.ChannelID,
			})
		default:
			return nil, fmt.Errorf("未知的告警渠道: %s", channel)
		}
	}
	if len(notifiers) == 0 {
		notifiers = append(notifiers, &alerting.LogNotifier{Logger: logger.Audit()})
	}
	return alerting.NewFanout(notifiers...), nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "anthropic":
		apiKey := strings.TrimSpace(os.Getenv(cfg.LLM.Anthropic.APIKeyEnv))
		if apiKey == "" {
			return nil, fmt.Errorf("环境变量 %s 未提供 Anthropic API Key", cfg.LLM.Anthropic.APIKeyEnv)
		}
		return anthropic.NewClient(anthropic.Config{
			APIKey:    apiKey,
			Model:     cfg.LLM.Anthropic.Model,
			MaxTokens: cfg.LLM.Anthropic.MaxTokens,
		})
	case "openai":
		apiKey := strings.TrimSpace(os.Getenv(cfg.LLM.OpenAI.APIKeyEnv))
		if apiKey == "" {
			return nil, fmt.Errorf("环境变量 %s 未提供 OpenAI API Key", cfg.LLM.OpenAI.APIKeyEnv)
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}
