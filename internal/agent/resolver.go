package agent

import (
	"context"
	"strings"

	"StakePilot-Chain/internal/aggregator"
	xerrors "StakePilot-Chain/internal/errors"

	"github.com/shopspring/decimal"
)

// Resolution 是金额解析的结果。Skip 为真表示该步骤应整体跳过（不是错误）。
type Resolution struct {
	Amount  string
	Skip    bool
	Clamped bool
	Reason  string
}

// Resolver 在步骤缺少显式金额时根据实时余额补全金额。
// 默认策略是"全部可用余额"：EXIT 取全部质押量，ENTER 取全部闲置余额。
// 调用方给出的显式金额会对照实时余额做上限裁剪，避免按过期推荐超额操作。
type Resolver struct {
	client  StakingClient
	address string
}

// NewResolver 创建金额解析器。
func NewResolver(client StakingClient, address string) *Resolver {
	return &Resolver{client: client, address: address}
}

// Resolve 计算步骤的执行金额。
func (r *Resolver) Resolve(ctx context.Context, step Step) (Resolution, error) {
	if r.client == nil {
		return Resolution{}, xerrors.New(xerrors.CodeInitializationFailure, "未配置聚合器客户端")
	}

	switch step.Direction {
	case StepExit:
		return r.resolveExit(ctx, step)
	case StepEnter:
		return r.resolveEnter(ctx, step)
	default:
		return Resolution{}, xerrors.New(xerrors.CodeInvalidArgument, "未知的步骤方向: "+string(step.Direction))
	}
}

// resolveExit 查询质押余额。没有正余额时解析为跳过，只做全额退出。
func (r *Resolver) resolveExit(ctx context.Context, step Step) (Resolution, error) {
	balances, err := r.client.GetPositionBalances(ctx, r.address, []string{step.YieldID})
	if err != nil {
		return Resolution{}, xerrors.Wrap(xerrors.CodeRequestFailure, err, "查询质押余额失败")
	}

	staked := decimal.Zero
	stakedRaw := ""
	for _, balance := range balances {
		if balance.IntegrationID != step.YieldID || balance.Type != aggregator.BalanceTypeStaked {
			continue
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(balance.Amount))
		if err != nil {
			continue
		}
		staked = amount
		stakedRaw = balance.Amount
		break
	}

	if !staked.IsPositive() {
		return Resolution{Skip: true, Reason: "没有可退出的质押余额"}, nil
	}
	return clampExplicit(step.Amount, staked, stakedRaw)
}

// resolveEnter 先查产品底层代币，再查对应的闲置余额。余额不足时解析为跳过。
func (r *Resolver) resolveEnter(ctx context.Context, step Step) (Resolution, error) {
	detail, err := r.client.GetYieldDetail(ctx, step.YieldID)
	if err != nil {
		return Resolution{}, xerrors.Wrap(xerrors.CodeRequestFailure, err, "查询收益产品详情失败")
	}

	idle, err := r.client.GetIdleBalances(ctx, r.address)
	if err != nil {
		return Resolution{}, xerrors.Wrap(xerrors.CodeRequestFailure, err, "查询闲置余额失败")
	}

	raw, ok := idle[detail.Token.Key()]
	if !ok {
		return Resolution{Skip: true, Reason: "没有可质押的闲置余额"}, nil
	}
	available, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || !available.IsPositive() {
		return Resolution{Skip: true, Reason: "没有可质押的闲置余额"}, nil
	}
	return clampExplicit(step.Amount, available, raw)
}

// clampExplicit 在调用方显式给出金额时按实时余额做上限裁剪。
func clampExplicit(explicit string, available decimal.Decimal, availableRaw string) (Resolution, error) {
	if strings.TrimSpace(explicit) == "" {
		return Resolution{Amount: availableRaw}, nil
	}
	requested, err := decimal.NewFromString(strings.TrimSpace(explicit))
	if err != nil {
		return Resolution{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "显式金额不是合法的十进制数")
	}
	if !requested.IsPositive() {
		return Resolution{Skip: true, Reason: "显式金额不为正数"}, nil
	}
	if requested.GreaterThan(available) {
		return Resolution{Amount: availableRaw, Clamped: true, Reason: "显式金额超出实时余额，已裁剪"}, nil
	}
	return Resolution{Amount: explicit}, nil
}
