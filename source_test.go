package composer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newTestNode serves the subset of the fullnode REST API the client uses,
// rooted at /v1.
func newTestNode(t *testing.T, apiKey string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var moduleHits atomic.Int32
	coinPath := "/v1/accounts/" + AddressOne.StringLong() + "/module/coin"

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/", func(w http.ResponseWriter, r *http.Request) {
		if apiKey != "" && r.Header.Get("Authorization") != "Bearer "+apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"bad key","error_code":"unauthorized"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case coinPath:
			moduleHits.Add(1)
			fmt.Fprintf(w, `{"bytecode":"0x00","abi":%s}`, coinABI)
		case "/v1/accounts/" + testAccount.StringLong():
			fmt.Fprint(w, `{"sequence_number":"42","authentication_key":"0x00"}`)
		case "/v1/estimate_gas_price":
			fmt.Fprint(w, `{"gas_estimate":150}`)
		case "/v1/accounts/" + AddressOne.StringLong() + "/module/broken":
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "boom")
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"message":"Module not found","error_code":"module_not_found"}`)
		}
	})
	mux.HandleFunc("/v1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"chain_id":2,"epoch":"1","ledger_version":"100"}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &moduleHits
}

func TestNewNodeClient(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://fullnode.mainnet.aptoslabs.com/v1", false},
		{"http://localhost:8080/v1/", false},
		{"ftp://example.com", true},
		{"fullnode", true},
		{"://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			_, err := NewNodeClient(tt.url, "")
			if tt.wantErr != (err != nil) {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNodeClientFetchModule(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestNode(t, "")
	client, err := NewNodeClient(srv.URL+"/v1", "")
	if err != nil {
		t.Fatalf("NewNodeClient: %v", err)
	}

	t.Run("found", func(t *testing.T) {
		m, err := client.FetchModule(ctx, ModuleID{Address: AddressOne, Name: "coin"})
		if err != nil {
			t.Fatalf("FetchModule: %v", err)
		}
		if m.ID().String() != "0x1::coin" {
			t.Errorf("Unexpected module %s", m.ID())
		}
		if _, ok := m.Function("withdraw"); !ok {
			t.Error("Expected withdraw to be exposed")
		}
		if hits.Load() != 1 {
			t.Errorf("Expected 1 request, got %d", hits.Load())
		}
	})

	t.Run("not found", func(t *testing.T) {
		_, err := client.FetchModule(ctx, ModuleID{Address: AddressOne, Name: "missing"})
		if !errors.Is(err, ErrModuleNotFound) {
			t.Fatalf("Expected ErrModuleNotFound, got %v", err)
		}
		var ne *NodeError
		if !errors.As(err, &ne) || ne.ErrorCode != "module_not_found" {
			t.Errorf("Expected NodeError with code, got %v", err)
		}
	})

	t.Run("server error", func(t *testing.T) {
		_, err := client.FetchModule(ctx, ModuleID{Address: AddressOne, Name: "broken"})
		if err == nil || errors.Is(err, ErrModuleNotFound) {
			t.Fatalf("Expected a non-not-found error, got %v", err)
		}
		var ne *NodeError
		if !errors.As(err, &ne) || ne.StatusCode != http.StatusInternalServerError || ne.Message != "boom" {
			t.Errorf("Unexpected error %v", err)
		}
	})
}

func TestNodeClientFetchModuleCancel(t *testing.T) {
	var hits atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		fmt.Fprintf(w, `{"bytecode":"0x00","abi":%s}`, coinABI)
	}))
	t.Cleanup(srv.Close)

	client, err := NewNodeClient(srv.URL+"/v1", "")
	if err != nil {
		t.Fatalf("NewNodeClient: %v", err)
	}
	id := ModuleID{Address: AddressOne, Name: "coin"}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := client.FetchModule(ctxA, id)
		errA <- err
	}()
	<-started

	type result struct {
		m   *MoveModule
		err error
	}
	resB := make(chan result, 1)
	go func() {
		m, err := client.FetchModule(context.Background(), id)
		resB <- result{m, err}
	}()
	// give the second caller time to join the in-flight request
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected the cancelled caller to get context.Canceled, got %v", err)
	}
	close(release)

	b := <-resB
	if b.err != nil {
		t.Fatalf("Expected the live caller to succeed, got %v", b.err)
	}
	if b.m.ID() != id {
		t.Errorf("Unexpected module %s", b.m.ID())
	}
	if hits.Load() != 1 {
		t.Errorf("Expected one shared request, got %d", hits.Load())
	}
}

func TestNodeClientAPIKey(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestNode(t, "secret")

	good, err := NewNodeClient(srv.URL+"/v1", "secret")
	if err != nil {
		t.Fatalf("NewNodeClient: %v", err)
	}
	if _, err := good.EstimateGasPrice(ctx); err != nil {
		t.Errorf("Expected authorized request to succeed, got %v", err)
	}

	bad, err := NewNodeClient(srv.URL+"/v1", "wrong")
	if err != nil {
		t.Fatalf("NewNodeClient: %v", err)
	}
	_, err = bad.EstimateGasPrice(ctx)
	var ne *NodeError
	if !errors.As(err, &ne) || ne.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 NodeError, got %v", err)
	}
}

func TestNodeClientLedger(t *testing.T) {
	ctx := context.Background()
	srv, _ := newTestNode(t, "")
	client, err := NewNodeClient(srv.URL+"/v1", "")
	if err != nil {
		t.Fatalf("NewNodeClient: %v", err)
	}

	seq, err := client.SequenceNumber(ctx, testAccount)
	if err != nil {
		t.Fatalf("SequenceNumber: %v", err)
	}
	if seq != 42 {
		t.Errorf("Expected sequence number 42, got %d", seq)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		t.Fatalf("ChainID: %v", err)
	}
	if chainID != 2 {
		t.Errorf("Expected chain id 2, got %d", chainID)
	}

	price, err := client.EstimateGasPrice(ctx)
	if err != nil {
		t.Fatalf("EstimateGasPrice: %v", err)
	}
	if price != 150 {
		t.Errorf("Expected gas price 150, got %d", price)
	}

	if _, err := client.SequenceNumber(ctx, testRecipient); err == nil {
		t.Error("Expected error for unknown account")
	}
}

func TestComposerWithNodeClient(t *testing.T) {
	ctx := context.Background()
	srv, hits := newTestNode(t, "")
	client, err := NewNodeClient(srv.URL+"/v1", "")
	if err != nil {
		t.Fatalf("NewNodeClient: %v", err)
	}

	c, err := New(client)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	coins, err := c.Invoke(ctx, "0x1::coin::withdraw", []any{aptosCoin}, Signer(0), uint64(10))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := c.Invoke(ctx, "0x1::coin::deposit", []any{aptosCoin}, testRecipient, coins[0]); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := c.Build(); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected 1 module request, got %d", hits.Load())
	}
}

func TestStaticSource(t *testing.T) {
	src := NewStaticSource()
	id := ModuleID{Address: MustParseAddress("0xcafe"), Name: "math"}
	if _, err := src.FetchModule(context.Background(), id); !errors.Is(err, ErrModuleNotFound) {
		t.Fatalf("Expected ErrModuleNotFound, got %v", err)
	}
	src.Add(MustParseModuleABI(mathABI))
	m, err := src.FetchModule(context.Background(), id)
	if err != nil {
		t.Fatalf("FetchModule: %v", err)
	}
	if m.ID() != id {
		t.Errorf("Expected %s, got %s", id, m.ID())
	}
}
