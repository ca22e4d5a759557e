package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Provider 定义策略检索的通用接口。
type Provider interface {
	Query(message, network string) []Rule
}

// Rule 描述一条可供大模型引用的再平衡策略。
type Rule struct {
	Title    string   `yaml:"title"`
	Guidance string   `yaml:"guidance"`
	Keywords []string `yaml:"keywords"`
	Networks []string `yaml:"networks"`
}

// Document 是策略文件的顶层结构。
type Document struct {
	Rules []Rule `yaml:"rules"`
}

// StaticProvider 通过加载 YAML 文件提供静态策略检索能力。
type StaticProvider struct {
	rules      []Rule
	maxResults int
}

// NewStaticProvider 创建静态策略实例。
func NewStaticProvider(rules []Rule, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{
		rules:      rules,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 YAML 文件加载策略条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("策略文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析策略文件路径失败: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取策略文件失败: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("解析策略文件失败: %w", err)
	}

	return NewStaticProvider(doc.Rules, maxResults), nil
}

// Default 返回内置的保守再平衡策略，未配置策略文件时使用。
func Default(maxResults int) *StaticProvider {
	return NewStaticProvider([]Rule{
		{
			Title:    "优先高年化",
			Guidance: "在风险相当的前提下，把闲置余额迁移到当前年化最高且可进入的产品。",
		},
		{
			Title:    "避免无效腾挪",
			Guidance: "年化差距不足一个百分点时保持现状，频繁进出会被锁定期和手续费吃掉收益。",
			Keywords: []string{"rebalance", "再平衡"},
		},
		{
			Title:    "尊重锁定期",
			Guidance: "退出带冷却期或提取锁定期的产品前，确认锁定窗口不会压过收益差。",
			Keywords: []string{"exit", "退出", "cooldown"},
		},
	}, maxResults)
}

// Query 根据触发消息和目标网络做简单关键词匹配。
func (p *StaticProvider) Query(message, network string) []Rule {
	if p == nil {
		return nil
	}

	message = strings.ToLower(strings.TrimSpace(message))
	network = strings.ToLower(strings.TrimSpace(network))

	results := make([]Rule, 0, p.maxResults)
	for _, rule := range p.rules {
		if matches(rule, message, network) {
			results = append(results, rule)
			if len(results) >= p.maxResults {
				break
			}
		}
	}
	return results
}

func matches(rule Rule, message, network string) bool {
	if len(rule.Networks) > 0 {
		hit := false
		for _, candidate := range rule.Networks {
			if strings.EqualFold(strings.TrimSpace(candidate), network) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	if len(rule.Keywords) == 0 {
		return true
	}
	for _, keyword := range rule.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(message, normalized) {
			return true
		}
	}
	return false
}

// 确保 StaticProvider 实现 Provider 接口。
var _ Provider = (*StaticProvider)(nil)
