package agent

import (
	"context"

	"StakePilot-Chain/internal/aggregator"
)

// StakingClient 定义了核心流水线所需的聚合器能力。
// 生产实现是 aggregator.Client，测试里用桩替代。
type StakingClient interface {
	ListYields(ctx context.Context, network string) ([]aggregator.YieldOpportunity, error)
	GetYieldDetail(ctx context.Context, id string) (*aggregator.YieldOpportunity, error)
	GetPositionBalances(ctx context.Context, address string, integrationIDs []string) ([]aggregator.PositionBalance, error)
	GetIdleBalances(ctx context.Context, address string) (map[string]string, error)
	CreateActionSession(ctx context.Context, direction aggregator.ActionDirection, integrationID, address, amount string) (*aggregator.ActionSession, error)
	ConstructTransaction(ctx context.Context, txID string) (*aggregator.Transaction, error)
	SubmitTransaction(ctx context.Context, txID, signedPayload string) error
	GetTransactionStatus(ctx context.Context, txID string) (*aggregator.TransactionStatus, error)
}

// TxSigner 定义了外部签名能力。签名失败对所在交易是致命的。
type TxSigner interface {
	SignTransaction(ctx context.Context, unsigned string) (string, error)
	Address() string
}
