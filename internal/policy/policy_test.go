package policy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultProviderAlwaysReturnsGuidance(t *testing.T) {
	provider := Default(3)
	rules := provider.Query("例行检查", "ethereum")
	if len(rules) == 0 {
		t.Fatalf("default policy must return at least one rule")
	}
}

func TestQueryMatchesKeywords(t *testing.T) {
	provider := NewStaticProvider([]Rule{
		{Title: "A", Guidance: "g", Keywords: []string{"exit"}},
		{Title: "B", Guidance: "g", Keywords: []string{"enter"}},
		{Title: "C", Guidance: "g"},
	}, 10)

	rules := provider.Query("请帮我 EXIT 所有仓位", "ethereum")
	titles := make([]string, 0, len(rules))
	for _, rule := range rules {
		titles = append(titles, rule.Title)
	}
	if len(titles) != 2 || titles[0] != "A" || titles[1] != "C" {
		t.Fatalf("unexpected matches: %v", titles)
	}
}

func TestQueryFiltersByNetwork(t *testing.T) {
	provider := NewStaticProvider([]Rule{
		{Title: "eth-only", Guidance: "g", Networks: []string{"ethereum"}},
	}, 10)

	if rules := provider.Query("检查", "gnosis"); len(rules) != 0 {
		t.Fatalf("rule for another network must not match: %v", rules)
	}
	if rules := provider.Query("检查", "ethereum"); len(rules) != 1 {
		t.Fatalf("expected network match, got %v", rules)
	}
}

func TestQueryRespectsMaxResults(t *testing.T) {
	provider := NewStaticProvider([]Rule{
		{Title: "1", Guidance: "g"},
		{Title: "2", Guidance: "g"},
		{Title: "3", Guidance: "g"},
	}, 2)

	if rules := provider.Query("检查", ""); len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
}

func TestLoadStaticProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `rules:
  - title: 优先高年化
    guidance: 迁移到年化更高的产品。
    keywords: [rebalance]
  - title: 保守
    guidance: 差距小就别动。
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write policy file: %v", err)
	}

	provider, err := LoadStaticProvider(path, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rules := provider.Query("需要 rebalance", "")
	if len(rules) != 2 {
		t.Fatalf("expected both rules, got %v", rules)
	}
	if rules[0].Title != "优先高年化" {
		t.Fatalf("unexpected first rule: %+v", rules[0])
	}
}

func TestLoadStaticProviderMissingFile(t *testing.T) {
	if _, err := LoadStaticProvider(filepath.Join(t.TempDir(), "missing.yaml"), 3); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
