package agent

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"StakePilot-Chain/internal/aggregator"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// EarningPosition 是一笔持有中的质押。金额为正才会出现在快照里。
type EarningPosition struct {
	YieldID string `json:"yieldId"`
	Amount  string `json:"amount"`
}

// AccountState 是一次刷新得到的账户状态快照。
// 快照只整体替换，绝不增量修补，避免陈旧余额影响连续两次决策。
type AccountState struct {
	Yields    []aggregator.YieldOpportunity `json:"yields"`
	Positions []EarningPosition             `json:"positions"`
	Idle      map[string]string             `json:"idleBalances"`
}

// RefreshAccountState 拉取收益目录、质押余额与闲置余额，生成全新快照。
func RefreshAccountState(ctx context.Context, client StakingClient, network, address string) (*AccountState, error) {
	yields, err := client.ListYields(ctx, network)
	if err != nil {
		return nil, err
	}

	// 目录里只保留可操作的产品，按利率从高到低排列。
	usable := lo.Filter(yields, func(y aggregator.YieldOpportunity, _ int) bool {
		return y.CanEnter || y.CanExit
	})
	usable = lo.UniqBy(usable, func(y aggregator.YieldOpportunity) string { return y.ID })
	sort.SliceStable(usable, func(i, j int) bool { return usable[i].APY > usable[j].APY })

	ids := lo.Map(usable, func(y aggregator.YieldOpportunity, _ int) string { return y.ID })
	balances, err := client.GetPositionBalances(ctx, address, ids)
	if err != nil {
		return nil, err
	}

	positions := make([]EarningPosition, 0, len(balances))
	for _, balance := range balances {
		if balance.Type != aggregator.BalanceTypeStaked {
			continue
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(balance.Amount))
		if err != nil || !amount.IsPositive() {
			continue
		}
		positions = append(positions, EarningPosition{
			YieldID: balance.IntegrationID,
			Amount:  balance.Amount,
		})
	}

	idle, err := client.GetIdleBalances(ctx, address)
	if err != nil {
		return nil, err
	}

	return &AccountState{
		Yields:    usable,
		Positions: positions,
		Idle:      idle,
	}, nil
}

// Summary 把快照序列化成注入推理指令的紧凑 JSON。
func (s *AccountState) Summary() string {
	if s == nil {
		return "{}"
	}
	encoded, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
