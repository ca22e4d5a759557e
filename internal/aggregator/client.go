package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultTimeout = 30 * time.Second

	// maxBalanceBatch 是一次余额查询允许携带的 integrationId 数量上限。
	maxBalanceBatch = 15
)

// Config 描述访问质押聚合器所需的信息。
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RequestError 表示聚合器返回了非 2xx 状态。
// 客户端本身不做任何重试，重试策略由调用方决定。
type RequestError struct {
	StatusCode int
	Path       string
}

// Error 实现 error 接口。
func (e *RequestError) Error() string {
	return fmt.Sprintf("聚合器请求失败: %s 返回状态 %d", e.Path, e.StatusCode)
}

// Client 是质押聚合器读写接口的类型化封装。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient 根据配置创建聚合器客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("未配置聚合器地址")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未配置聚合器 API Key")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ListYields 拉取指定网络的收益产品目录。
func (c *Client) ListYields(ctx context.Context, network string) ([]YieldOpportunity, error) {
	path := "/yields"
	if network = strings.TrimSpace(network); network != "" {
		path += "?network=" + url.QueryEscape(network)
	}
	var decoded struct {
		Data []YieldOpportunity `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &decoded); err != nil {
		return nil, err
	}
	return decoded.Data, nil
}

// GetYieldDetail 查询单个收益产品的详情。
func (c *Client) GetYieldDetail(ctx context.Context, id string) (*YieldOpportunity, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("收益产品 ID 不能为空")
	}
	var detail YieldOpportunity
	if err := c.do(ctx, http.MethodGet, "/yields/"+url.PathEscape(id), nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetPositionBalances 批量查询质押余额。
// 聚合器限制每次调用最多 15 个 integrationId，这里自动拆分批次。
func (c *Client) GetPositionBalances(ctx context.Context, address string, integrationIDs []string) ([]PositionBalance, error) {
	if strings.TrimSpace(address) == "" {
		return nil, errors.New("查询余额需要提供地址")
	}

	var balances []PositionBalance
	for start := 0; start < len(integrationIDs); start += maxBalanceBatch {
		end := start + maxBalanceBatch
		if end > len(integrationIDs) {
			end = len(integrationIDs)
		}
		body := map[string]any{
			"addresses":      []string{address},
			"integrationIds": integrationIDs[start:end],
		}
		var decoded []PositionBalance
		if err := c.do(ctx, http.MethodPost, "/yields/balances", body, &decoded); err != nil {
			return nil, err
		}
		balances = append(balances, decoded...)
	}
	return balances, nil
}

// GetIdleBalances 查询地址上未质押的闲置余额。
// 返回值以代币键（小写地址或 native）索引，只保留正余额。
func (c *Client) GetIdleBalances(ctx context.Context, address string) (map[string]string, error) {
	if strings.TrimSpace(address) == "" {
		return nil, errors.New("查询余额需要提供地址")
	}
	body := map[string]any{
		"addresses": []string{address},
	}
	var decoded []struct {
		Token  Token  `json:"token"`
		Amount string `json:"amount"`
	}
	if err := c.do(ctx, http.MethodPost, "/tokens/balances", body, &decoded); err != nil {
		return nil, err
	}

	idle := make(map[string]string, len(decoded))
	for _, entry := range decoded {
		amount, err := decimal.NewFromString(strings.TrimSpace(entry.Amount))
		if err != nil || !amount.IsPositive() {
			continue
		}
		idle[entry.Token.Key()] = entry.Amount
	}
	return idle, nil
}

// CreateActionSession 请求聚合器为一个步骤生成交易批次。
func (c *Client) CreateActionSession(ctx context.Context, direction ActionDirection, integrationID, address, amount string) (*ActionSession, error) {
	var path string
	switch direction {
	case ActionEnter:
		path = "/actions/enter"
	case ActionExit:
		path = "/actions/exit"
	default:
		return nil, fmt.Errorf("未知的操作方向: %s", direction)
	}

	body := map[string]any{
		"integrationId": integrationID,
		"addresses": map[string]string{
			"address": address,
		},
		"args": map[string]any{
			"amount": amount,
		},
	}
	var session ActionSession
	if err := c.do(ctx, http.MethodPost, path, body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ConstructTransaction 请求聚合器构造未签名交易。该调用幂等，可安全重试。
func (c *Client) ConstructTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var tx Transaction
	if err := c.do(ctx, http.MethodPatch, "/transactions/"+url.PathEscape(txID), map[string]any{}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// SubmitTransaction 提交已签名的交易负载。
func (c *Client) SubmitTransaction(ctx context.Context, txID, signedPayload string) error {
	body := map[string]any{
		"signedTransaction": signedPayload,
	}
	return c.do(ctx, http.MethodPost, "/transactions/"+url.PathEscape(txID)+"/submit", body, nil)
}

// GetTransactionStatus 查询交易的链上状态。
func (c *Client) GetTransactionStatus(ctx context.Context, txID string) (*TransactionStatus, error) {
	var status TransactionStatus
	if err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(txID)+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// do 执行一次 HTTP 调用。任何非 2xx 状态都转换为 *RequestError。
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("构建聚合器请求失败: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("请求聚合器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return &RequestError{StatusCode: resp.StatusCode, Path: pathOnly(path)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("解析聚合器响应失败: %w", err)
	}
	return nil
}

func pathOnly(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		return path[:idx]
	}
	return path
}
