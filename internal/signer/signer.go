package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner 持有操作者的私钥，负责把聚合器构造的未签名交易转换成可提交的签名负载。
// 密钥材料不合法属于不可恢复的启动错误，进程应当直接退出。
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner 从十六进制私钥创建签名器。
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if trimmed == "" {
		return nil, errors.New("未配置签名私钥")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("解析签名私钥失败: %w", err)
	}
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address 返回操作者地址的十六进制表示。
func (s *LocalSigner) Address() string {
	return s.address.Hex()
}

// unsignedPayload 是聚合器下发的未签名交易 JSON 结构。
type unsignedPayload struct {
	To                   *common.Address `json:"to"`
	Value                *hexutil.Big    `json:"value"`
	Data                 hexutil.Bytes   `json:"data"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	GasLimit             hexutil.Uint64  `json:"gasLimit"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	ChainID              *hexutil.Big    `json:"chainId"`
}

// SignTransaction 解析未签名负载，完成 EIP-155 签名并返回 RLP 编码的十六进制串。
func (s *LocalSigner) SignTransaction(_ context.Context, unsigned string) (string, error) {
	if strings.TrimSpace(unsigned) == "" {
		return "", errors.New("未签名交易内容为空")
	}

	var payload unsignedPayload
	if err := json.Unmarshal([]byte(unsigned), &payload); err != nil {
		return "", fmt.Errorf("解析未签名交易失败: %w", err)
	}
	if payload.ChainID == nil {
		return "", errors.New("未签名交易缺少 chainId")
	}
	chainID := payload.ChainID.ToInt()

	tx := buildTransaction(payload, chainID)
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("序列化签名交易失败: %w", err)
	}
	return hexutil.Encode(raw), nil
}

func buildTransaction(payload unsignedPayload, chainID *big.Int) *coretypes.Transaction {
	value := big.NewInt(0)
	if payload.Value != nil {
		value = payload.Value.ToInt()
	}

	// 带动态费用字段的走 EIP-1559，否则回退到 legacy 交易。
	if payload.MaxFeePerGas != nil {
		tip := big.NewInt(0)
		if payload.MaxPriorityFeePerGas != nil {
			tip = payload.MaxPriorityFeePerGas.ToInt()
		}
		return coretypes.NewTx(&coretypes.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     uint64(payload.Nonce),
			GasTipCap: tip,
			GasFeeCap: payload.MaxFeePerGas.ToInt(),
			Gas:       uint64(payload.GasLimit),
			To:        payload.To,
			Value:     value,
			Data:      payload.Data,
		})
	}

	gasPrice := big.NewInt(0)
	if payload.GasPrice != nil {
		gasPrice = payload.GasPrice.ToInt()
	}
	return coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    uint64(payload.Nonce),
		GasPrice: gasPrice,
		Gas:      uint64(payload.GasLimit),
		To:       payload.To,
		Value:    value,
		Data:     payload.Data,
	})
}
