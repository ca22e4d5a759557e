package aggregator

import "strings"

// NativeToken 是无合约地址代币的统一标识。
const NativeToken = "native"

// Token 描述收益产品的底层代币。
type Token struct {
	Address string `json:"address,omitempty"`
	Symbol  string `json:"symbol"`
	Network string `json:"network,omitempty"`
}

// Key 返回代币的余额索引键：小写合约地址，原生代币返回 native。
func (t Token) Key() string {
	addr := strings.TrimSpace(t.Address)
	if addr == "" {
		return NativeToken
	}
	return strings.ToLower(addr)
}

// YieldOpportunity 描述一个可质押的收益产品快照。
// 每次刷新整体替换，绝不原地修改。
type YieldOpportunity struct {
	ID               string  `json:"id"`
	APY              float64 `json:"apy"`
	Name             string  `json:"name"`
	Token            Token   `json:"token"`
	CooldownDays     int     `json:"cooldownDays,omitempty"`
	WarmupDays       int     `json:"warmupDays,omitempty"`
	WithdrawLockDays int     `json:"withdrawLockDays,omitempty"`
	CanEnter         bool    `json:"canEnter"`
	CanExit          bool    `json:"canExit"`
}

// PositionBalance 表示某个收益产品下的一条余额记录。
// 金额是任意精度的十进制字符串，不能用定宽浮点解析。
type PositionBalance struct {
	IntegrationID string `json:"integrationId"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Token         Token  `json:"token"`
}

// BalanceTypeStaked 标记真正质押中的余额。
const BalanceTypeStaked = "staked"

// ActionDirection 表示操作方向。
type ActionDirection string

const (
	ActionEnter ActionDirection = "ENTER"
	ActionExit  ActionDirection = "EXIT"
)

// ActionSession 是聚合器为一个操作步骤生成的交易批次。
type ActionSession struct {
	ID           string        `json:"id"`
	Transactions []Transaction `json:"transactions"`
}

// Transaction 是批次中的一笔链上交易。
// ID 是后续 construct/submit/status 调用的稳定键，整个生命周期不变。
type Transaction struct {
	ID                  string `json:"id"`
	Type                string `json:"type,omitempty"`
	Status              string `json:"status,omitempty"`
	UnsignedTransaction string `json:"unsignedTransaction,omitempty"`
	StepIndex           int    `json:"stepIndex,omitempty"`
}

// TxStatusSkipped 表示聚合器在生成批次时已经跳过该交易。
const TxStatusSkipped = "SKIPPED"

// TransactionStatus 是状态轮询的响应。
type TransactionStatus struct {
	Status string `json:"status"`
	URL    string `json:"url,omitempty"`
}

// 聚合器侧的交易终态。
const (
	TxPending   = "PENDING"
	TxConfirmed = "CONFIRMED"
	TxFailed    = "FAILED"
)
