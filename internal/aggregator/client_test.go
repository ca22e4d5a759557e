package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{BaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func TestListYieldsSendsAPIKey(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "test-key" {
			t.Fatalf("missing api key header")
		}
		if r.URL.Path != "/yields" || r.URL.Query().Get("network") != "ethereum" {
			t.Fatalf("unexpected request: %s %s", r.URL.Path, r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "y1", "apy": 0.05, "canEnter": true},
			},
		})
	}))

	yields, err := client.ListYields(context.Background(), "ethereum")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(yields) != 1 || yields[0].ID != "y1" || !yields[0].CanEnter {
		t.Fatalf("unexpected yields: %+v", yields)
	}
}

func TestRequestErrorCarriesStatusAndPath(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.ListYields(context.Background(), "ethereum")
	if err == nil {
		t.Fatalf("expected request error")
	}
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError, got %T", err)
	}
	if reqErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d", reqErr.StatusCode)
	}
	// 查询参数不进入错误信息。
	if reqErr.Path != "/yields" {
		t.Fatalf("unexpected path: %s", reqErr.Path)
	}
}

func TestGetPositionBalancesSplitsBatches(t *testing.T) {
	var batchSizes []int
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Addresses      []string `json:"addresses"`
			IntegrationIDs []string `json:"integrationIds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.Addresses) != 1 || body.Addresses[0] != "0xabc" {
			t.Fatalf("unexpected addresses: %v", body.Addresses)
		}
		batchSizes = append(batchSizes, len(body.IntegrationIDs))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"integrationId": body.IntegrationIDs[0], "type": "staked", "amount": "1"},
		})
	}))

	ids := make([]string, 35)
	for i := range ids {
		ids[i] = "y"
	}
	balances, err := client.GetPositionBalances(context.Background(), "0xabc", ids)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(batchSizes) != 3 || batchSizes[0] != 15 || batchSizes[1] != 15 || batchSizes[2] != 5 {
		t.Fatalf("unexpected batch sizes: %v", batchSizes)
	}
	if len(balances) != 3 {
		t.Fatalf("expected merged results from all batches, got %d", len(balances))
	}
}

func TestGetIdleBalancesFiltersNonPositive(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"token": map[string]any{"address": "0xAAA"}, "amount": "10.5"},
			{"token": map[string]any{"address": "0xBBB"}, "amount": "0"},
			{"token": map[string]any{}, "amount": "2"},
			{"token": map[string]any{"address": "0xCCC"}, "amount": "oops"},
		})
	}))

	idle, err := client.GetIdleBalances(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(idle) != 2 {
		t.Fatalf("expected two positive balances, got %v", idle)
	}
	if idle["0xaaa"] != "10.5" {
		t.Fatalf("token keys must be lowercased: %v", idle)
	}
	if idle[NativeToken] != "2" {
		t.Fatalf("token without address must map to native: %v", idle)
	}
}

func TestCreateActionSessionBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/actions/enter" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var body struct {
			IntegrationID string `json:"integrationId"`
			Addresses     struct {
				Address string `json:"address"`
			} `json:"addresses"`
			Args struct {
				Amount string `json:"amount"`
			} `json:"args"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.IntegrationID != "y1" || body.Addresses.Address != "0xabc" || body.Args.Amount != "100" {
			t.Fatalf("unexpected body: %+v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           "s1",
			"transactions": []map[string]any{{"id": "tx1"}},
		})
	}))

	session, err := client.CreateActionSession(context.Background(), ActionEnter, "y1", "0xabc", "100")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.ID != "s1" || len(session.Transactions) != 1 {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestSubmitAndStatusEndpoints(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/transactions/tx1/submit":
			var body struct {
				SignedTransaction string `json:"signedTransaction"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.SignedTransaction != "0xsigned" {
				t.Fatalf("unexpected payload: %s", body.SignedTransaction)
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/transactions/tx1/status":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": TxConfirmed, "url": "https://scan/tx1"})
		case r.Method == http.MethodPatch && r.URL.Path == "/transactions/tx1":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "tx1", "unsignedTransaction": "0xraw"})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))

	ctx := context.Background()
	tx, err := client.ConstructTransaction(ctx, "tx1")
	if err != nil || tx.UnsignedTransaction != "0xraw" {
		t.Fatalf("construct: %v %+v", err, tx)
	}
	if err := client.SubmitTransaction(ctx, "tx1", "0xsigned"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	status, err := client.GetTransactionStatus(ctx, "tx1")
	if err != nil || status.Status != TxConfirmed {
		t.Fatalf("status: %v %+v", err, status)
	}
}
