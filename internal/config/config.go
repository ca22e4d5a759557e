package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Config 描述了 StakePilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Aggregator AggregatorConfig `json:"aggregator"`
	Agent      AgentConfig      `json:"agent"`
	LLM        LLMConfig        `json:"llm"`
	Signer     SignerConfig     `json:"signer"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Trigger    TriggerConfig    `json:"trigger"`
	Storage    StorageConfig    `json:"storage"`
	Policy     PolicyConfig     `json:"policy"`
	Alerting   AlertingConfig   `json:"alerting"`
	Logging    LoggingConfig    `json:"logging"`
	Runtime    RuntimeConfig    `json:"runtime"`
}

// ServerConfig 控制操作接口的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AggregatorConfig 包含访问质押聚合器所需的信息。
// API Key 通过环境变量注入，配置文件里只写变量名。
type AggregatorConfig struct {
	BaseURL        string `json:"base_url"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AgentConfig 描述被管理的账户。
type AgentConfig struct {
	Network           string `json:"network"`
	Address           string `json:"address"`
	LLMTimeoutSeconds int    `json:"llm_timeout_seconds"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider  string          `json:"provider"`
	Anthropic AnthropicConfig `json:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai"`
}

// AnthropicConfig 描述通过 Anthropic Messages API 完成推理时所需的信息。
type AnthropicConfig struct {
	APIKeyEnv string `json:"api_key_env"`
	Model     string `json:"model"`
	MaxTokens int64  `json:"max_tokens"`
}

// OpenAIConfig 描述通过 OpenAI Chat Completions API 完成推理时所需的信息。
type OpenAIConfig struct {
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SignerConfig 描述本地签名私钥的来源。
// 私钥绝不进配置文件，只能通过环境变量注入。
type SignerConfig struct {
	PrivateKeyEnv string `json:"private_key_env"`
}

// SchedulerConfig 控制周期循环的间隔与默认提示。
type SchedulerConfig struct {
	IntervalSeconds int    `json:"interval_seconds"`
	Prompt          string `json:"prompt"`
}

// TriggerConfig 描述触发队列的驱动与连接信息。
type TriggerConfig struct {
	Driver    string         `json:"driver"`
	QueueSize int            `json:"queue_size"`
	Redis     RedisConfig    `json:"redis"`
	RabbitMQ  RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// StorageConfig 统一描述运行记录后端的连接信息。
type StorageConfig struct {
	RunStore RunStoreConfig `json:"run_store"`
}

// RunStoreConfig 提供内存实现，也可以切换到真正的 MySQL。
type RunStoreConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// PolicyConfig 指向再平衡策略文件。留空时使用内置保守策略。
type PolicyConfig struct {
	Path       string `json:"path"`
	MaxResults int    `json:"max_results"`
}

// AlertingConfig 描述告警事件的通知渠道。
// Webhook 地址属于敏感信息，配置文件里只写环境变量名。
type AlertingConfig struct {
	Channels []string            `json:"channels"`
	DingTalk DingTalkAlertConfig `json:"dingtalk"`
	Slack    SlackAlertConfig    `json:"slack"`
}

// DingTalkAlertConfig 描述钉钉机器人渠道。
type DingTalkAlertConfig struct {
	WebhookURLEnv string `json:"webhook_url_env"`
}

// SlackAlertConfig 描述 Slack Webhook 渠道。
type SlackAlertConfig struct {
	WebhookURLEnv string `json:"webhook_url_env"`
	ChannelID     string `json:"channel_id"`
}

// LoggingConfig 控制结构化日志与审计日志的输出。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志文件的滚动策略。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// AggregatorTimeout 返回聚合器请求超时。
func (c *Config) AggregatorTimeout() time.Duration {
	return time.Duration(c.Aggregator.TimeoutSeconds) * time.Second
}

// LLMTimeout 返回单次推理的超时。
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.Agent.LLMTimeoutSeconds) * time.Second
}

// SchedulerInterval 返回周期循环的间隔。
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.IntervalSeconds) * time.Second
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Aggregator.APIKeyEnv == "" {
		c.Aggregator.APIKeyEnv = "STAKEPILOT_AGGREGATOR_API_KEY"
	}
	if c.Aggregator.TimeoutSeconds <= 0 {
		c.Aggregator.TimeoutSeconds = 30
	}

	if c.Agent.Network == "" {
		c.Agent.Network = "ethereum"
	}
	if c.Agent.LLMTimeoutSeconds < 0 {
		c.Agent.LLMTimeoutSeconds = 0
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.Anthropic.APIKeyEnv == "" {
		c.LLM.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}

	if c.Signer.PrivateKeyEnv == "" {
		c.Signer.PrivateKeyEnv = "STAKEPILOT_SIGNER_KEY"
	}

	if c.Scheduler.IntervalSeconds <= 0 {
		c.Scheduler.IntervalSeconds = 900
	}
	if c.Scheduler.Prompt == "" {
		c.Scheduler.Prompt = "评估当前账户的质押收益，在必要时做再平衡。"
	}

	if c.Trigger.Driver == "" {
		c.Trigger.Driver = "memory"
	}
	if c.Trigger.QueueSize <= 0 {
		c.Trigger.QueueSize = 64
	}

	if c.Storage.RunStore.Driver == "" {
		c.Storage.RunStore.Driver = "memory"
	}

	if c.Policy.MaxResults <= 0 {
		c.Policy.MaxResults = 3
	}

	if len(c.Alerting.Channels) == 0 {
		c.Alerting.Channels = []string{"log"}
	}
	if c.Alerting.DingTalk.WebhookURLEnv == "" {
		c.Alerting.DingTalk.WebhookURLEnv = "STAKEPILOT_DINGTALK_WEBHOOK"
	}
	if c.Alerting.Slack.WebhookURLEnv == "" {
		c.Alerting.Slack.WebhookURLEnv = "STAKEPILOT_SLACK_WEBHOOK"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
