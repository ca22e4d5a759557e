package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"StakePilot-Chain/internal/aggregator"
	xerrors "StakePilot-Chain/internal/errors"
)

// stubStakingClient 用函数字段按需覆盖聚合器行为。
type stubStakingClient struct {
	listYields           func(ctx context.Context, network string) ([]aggregator.YieldOpportunity, error)
	getYieldDetail       func(ctx context.Context, id string) (*aggregator.YieldOpportunity, error)
	getPositionBalances  func(ctx context.Context, address string, integrationIDs []string) ([]aggregator.PositionBalance, error)
	getIdleBalances      func(ctx context.Context, address string) (map[string]string, error)
	createActionSession  func(ctx context.Context, direction aggregator.ActionDirection, integrationID, address, amount string) (*aggregator.ActionSession, error)
	constructTransaction func(ctx context.Context, txID string) (*aggregator.Transaction, error)
	submitTransaction    func(ctx context.Context, txID, signedPayload string) error
	getTransactionStatus func(ctx context.Context, txID string) (*aggregator.TransactionStatus, error)
}

func (s *stubStakingClient) ListYields(ctx context.Context, network string) ([]aggregator.YieldOpportunity, error) {
	if s.listYields == nil {
		return nil, nil
	}
	return s.listYields(ctx, network)
}

func (s *stubStakingClient) GetYieldDetail(ctx context.Context, id string) (*aggregator.YieldOpportunity, error) {
	if s.getYieldDetail == nil {
		return nil, errors.New("unexpected GetYieldDetail call")
	}
	return s.getYieldDetail(ctx, id)
}

func (s *stubStakingClient) GetPositionBalances(ctx context.Context, address string, integrationIDs []string) ([]aggregator.PositionBalance, error) {
	if s.getPositionBalances == nil {
		return nil, nil
	}
	return s.getPositionBalances(ctx, address, integrationIDs)
}

func (s *stubStakingClient) GetIdleBalances(ctx context.Context, address string) (map[string]string, error) {
	if s.getIdleBalances == nil {
		return nil, nil
	}
	return s.getIdleBalances(ctx, address)
}

func (s *stubStakingClient) CreateActionSession(ctx context.Context, direction aggregator.ActionDirection, integrationID, address, amount string) (*aggregator.ActionSession, error) {
	if s.createActionSession == nil {
		return nil, errors.New("unexpected CreateActionSession call")
	}
	return s.createActionSession(ctx, direction, integrationID, address, amount)
}

func (s *stubStakingClient) ConstructTransaction(ctx context.Context, txID string) (*aggregator.Transaction, error) {
	if s.constructTransaction == nil {
		return nil, errors.New("unexpected ConstructTransaction call")
	}
	return s.constructTransaction(ctx, txID)
}

func (s *stubStakingClient) SubmitTransaction(ctx context.Context, txID, signedPayload string) error {
	if s.submitTransaction == nil {
		return errors.New("unexpected SubmitTransaction call")
	}
	return s.submitTransaction(ctx, txID, signedPayload)
}

func (s *stubStakingClient) GetTransactionStatus(ctx context.Context, txID string) (*aggregator.TransactionStatus, error) {
	if s.getTransactionStatus == nil {
		return nil, errors.New("unexpected GetTransactionStatus call")
	}
	return s.getTransactionStatus(ctx, txID)
}

// stubSigner 返回固定前缀的签名结果。
type stubSigner struct {
	err   error
	calls int
}

func (s *stubSigner) SignTransaction(_ context.Context, unsigned string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "signed:" + unsigned, nil
}

func (s *stubSigner) Address() string { return "0xabc" }

// noSleep 让生命周期测试不产生真实延时。
func noSleep(context.Context, time.Duration) error { return nil }

func TestDriverConfirmedFlow(t *testing.T) {
	polls := 0
	client := &stubStakingClient{
		constructTransaction: func(_ context.Context, txID string) (*aggregator.Transaction, error) {
			return &aggregator.Transaction{ID: txID, UnsignedTransaction: "payload"}, nil
		},
		submitTransaction: func(_ context.Context, _, signed string) error {
			if signed != "signed:payload" {
				t.Fatalf("unexpected signed payload: %s", signed)
			}
			return nil
		},
		getTransactionStatus: func(_ context.Context, _ string) (*aggregator.TransactionStatus, error) {
			polls++
			if polls < 3 {
				return &aggregator.TransactionStatus{Status: aggregator.TxPending}, nil
			}
			return &aggregator.TransactionStatus{Status: aggregator.TxConfirmed, URL: "https://scan/tx/1"}, nil
		},
	}
	driver := NewDriver(client, &stubSigner{}, WithSleeper(noSleep))

	outcomes, err := driver.Run(context.Background(), []aggregator.Transaction{{ID: "tx1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(outcomes))
	}
	if outcomes[0].State != StateConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", outcomes[0].State)
	}
	if outcomes[0].ExplorerURL != "https://scan/tx/1" {
		t.Fatalf("unexpected explorer url: %s", outcomes[0].ExplorerURL)
	}
	if polls != 3 {
		t.Fatalf("expected polling to stop at first terminal status, polled %d times", polls)
	}
}

func TestDriverConstructExhaustionAbandonsAndContinues(t *testing.T) {
	attempts := map[string]int{}
	client := &stubStakingClient{
		constructTransaction: func(_ context.Context, txID string) (*aggregator.Transaction, error) {
			attempts[txID]++
			if txID == "tx1" {
				return nil, errors.New("boom")
			}
			return &aggregator.Transaction{ID: txID, UnsignedTransaction: "payload"}, nil
		},
		submitTransaction: func(context.Context, string, string) error { return nil },
		getTransactionStatus: func(_ context.Context, _ string) (*aggregator.TransactionStatus, error) {
			return &aggregator.TransactionStatus{Status: aggregator.TxConfirmed}, nil
		},
	}
	driver := NewDriver(client, &stubSigner{}, WithSleeper(noSleep))

	outcomes, err := driver.Run(context.Background(), []aggregator.Transaction{{ID: "tx1"}, {ID: "tx2"}})
	if err != nil {
		t.Fatalf("construction exhaustion must not abort the batch: %v", err)
	}
	if attempts["tx1"] != 3 {
		t.Fatalf("expected exactly 3 construct attempts, got %d", attempts["tx1"])
	}
	if outcomes[0].State != StateAbandoned {
		t.Fatalf("expected ABANDONED, got %s", outcomes[0].State)
	}
	if xerrors.CodeOf(outcomes[0].Err) != xerrors.CodeConstructionExhausted {
		t.Fatalf("expected CONSTRUCTION_EXHAUSTED, got %v", outcomes[0].Err)
	}
	if outcomes[1].State != StateConfirmed {
		t.Fatalf("second transaction should still run, got %s", outcomes[1].State)
	}
}

func TestDriverEmptyUnsignedCountsAsConstructFailure(t *testing.T) {
	attempts := 0
	client := &stubStakingClient{
		constructTransaction: func(_ context.Context, txID string) (*aggregator.Transaction, error) {
			attempts++
			return &aggregator.Transaction{ID: txID}, nil
		},
	}
	driver := NewDriver(client, &stubSigner{}, WithSleeper(noSleep))

	outcomes, err := driver.Run(context.Background(), []aggregator.Transaction{{ID: "tx1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 || outcomes[0].State != StateAbandoned {
		t.Fatalf("empty unsigned payload must exhaust retries, attempts=%d state=%s", attempts, outcomes[0].State)
	}
}

func TestDriverSignFailureAbortsBatch(t *testing.T) {
	constructed := 0
	client := &stubStakingClient{
		constructTransaction: func(_ context.Context, txID string) (*aggregator.Transaction, error) {
			constructed++
			return &aggregator.Transaction{ID: txID, UnsignedTransaction: "payload"}, nil
		},
	}
	signer := &stubSigner{err: errors.New("bad key")}
	driver := NewDriver(client, signer, WithSleeper(noSleep))

	outcomes, err := driver.Run(context.Background(), []aggregator.Transaction{{ID: "tx1"}, {ID: "tx2"}})
	if err == nil {
		t.Fatalf("expected batch abort")
	}
	if xerrors.CodeOf(err) != xerrors.CodeSigningFailure {
		t.Fatalf("expected SIGNING_FAILURE, got %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("remaining transactions must not run, got %d outcomes", len(outcomes))
	}
	if constructed != 1 {
		t.Fatalf("second transaction must not be constructed, constructed=%d", constructed)
	}
}

func TestDriverSubmitFailureAbortsBatch(t *testing.T) {
	client := &stubStakingClient{
		constructTransaction: func(_ context.Context, txID string) (*aggregator.Transaction, error) {
			return &aggregator.Transaction{ID: txID, UnsignedTransaction: "payload"}, nil
		},
		submitTransaction: func(context.Context, string, string) error {
			return errors.New("node rejected")
		},
	}
	driver := NewDriver(client, &stubSigner{}, WithSleeper(noSleep))

	outcomes, err := driver.Run(context.Background(), []aggregator.Transaction{{ID: "tx1"}, {ID: "tx2"}})
	if err == nil {
		t.Fatalf("expected batch abort")
	}
	if xerrors.CodeOf(err) != xerrors.CodeSubmissionFailure {
		t.Fatalf("expected SUBMISSION_FAILURE, got %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].State != StateSigned {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
}

func TestDriverPollErrorYieldsUnknown(t *testing.T) {
	client := &stubStakingClient{
		constructTransaction: func(_ context.Context, txID string) (*aggregator.Transaction, error) {
			return &aggregator.Transaction{ID: txID, UnsignedTransaction: "payload"}, nil
		},
		submitTransaction: func(context.Context, string, string) error { return nil },
		getTransactionStatus: func(context.Context, string) (*aggregator.TransactionStatus, error) {
			return nil, errors.New("status endpoint down")
		},
	}
	driver := NewDriver(client, &stubSigner{}, WithSleeper(noSleep))

	outcomes, err := driver.Run(context.Background(), []aggregator.Transaction{{ID: "tx1"}, {ID: "tx2"}})
	if err != nil {
		t.Fatalf("poll errors are soft failures, batch must continue: %v", err)
	}
	if outcomes[0].State != StateUnknown || outcomes[1].State != StateUnknown {
		t.Fatalf("expected UNKNOWN outcomes, got %+v", outcomes)
	}
	if xerrors.CodeOf(outcomes[0].Err) != xerrors.CodeStatusUnknown {
		t.Fatalf("expected STATUS_UNKNOWN, got %v", outcomes[0].Err)
	}
}

func TestDriverAbandonedTransactionTriggersAlert(t *testing.T) {
	client := &stubStakingClient{
		constructTransaction: func(context.Context, string) (*aggregator.Transaction, error) {
			return nil, errors.New("boom")
		},
	}
	dispatcher := &capturingDispatcher{}
	driver := NewDriver(client, &stubSigner{},
		WithSleeper(noSleep),
		WithDriverAlerts(dispatcher),
	)

	outcomes, err := driver.Run(context.Background(), []aggregator.Transaction{{ID: "tx1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcomes[0].State != StateAbandoned {
		t.Fatalf("expected ABANDONED, got %s", outcomes[0].State)
	}
	if len(dispatcher.events) != 1 {
		t.Fatalf("expected one alert event, got %d", len(dispatcher.events))
	}
	event := dispatcher.events[0]
	if event.Code != xerrors.CodeConstructionExhausted {
		t.Fatalf("expected CONSTRUCTION_EXHAUSTED alert, got %s", event.Code)
	}
	if event.TxID != "tx1" {
		t.Fatalf("unexpected tx id: %s", event.TxID)
	}
	if event.Metadata["state"] != string(StateAbandoned) {
		t.Fatalf("unexpected metadata: %+v", event.Metadata)
	}
}

func TestDriverFiltersSkippedTransactions(t *testing.T) {
	client := &stubStakingClient{
		constructTransaction: func(_ context.Context, txID string) (*aggregator.Transaction, error) {
			return &aggregator.Transaction{ID: txID, UnsignedTransaction: "payload"}, nil
		},
		submitTransaction: func(context.Context, string, string) error { return nil },
		getTransactionStatus: func(context.Context, string) (*aggregator.TransactionStatus, error) {
			return &aggregator.TransactionStatus{Status: aggregator.TxConfirmed}, nil
		},
	}
	driver := NewDriver(client, &stubSigner{}, WithSleeper(noSleep))

	outcomes, err := driver.Run(context.Background(), []aggregator.Transaction{
		{ID: "tx1", Status: aggregator.TxStatusSkipped},
		{ID: "tx2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].TxID != "tx2" {
		t.Fatalf("skipped transaction must not enter the lifecycle: %+v", outcomes)
	}
}
