package integration

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	composer "github.com/branched-services/go-scriptcomposer"
)

// Funded account of a local testnet started with `aptos node run-localnet`.
// Override with INTEGRATION_SENDER when running against another network.
const defaultSender = "0x1"

const aptosCoin = "0x1::aptos_coin::AptosCoin"

func nodeClient(t *testing.T) *composer.NodeClient {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "1" {
		t.Skip("Set INTEGRATION_TEST=1 to run integration tests")
	}
	nodeURL := os.Getenv("INTEGRATION_NODE_URL")
	if nodeURL == "" {
		nodeURL = "http://127.0.0.1:8080/v1"
	}
	client, err := composer.NewNodeClient(nodeURL, os.Getenv("INTEGRATION_API_KEY"))
	if err != nil {
		t.Fatalf("Failed to create node client: %v", err)
	}
	return client
}

func TestFrameworkModules(t *testing.T) {
	client := nodeClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	coin, err := client.FetchModule(ctx, composer.ModuleID{Address: composer.AddressOne, Name: "coin"})
	if err != nil {
		t.Fatalf("Failed to fetch 0x1::coin: %v", err)
	}
	for _, name := range []string{"withdraw", "deposit", "value", "merge"} {
		fn, ok := coin.Function(name)
		if !ok {
			t.Fatalf("0x1::coin::%s missing", name)
		}
		if _, err := fn.ParamTypes(); err != nil {
			t.Errorf("Failed to parse params of %s: %v", name, err)
		}
		if _, err := fn.ReturnTypes(); err != nil {
			t.Errorf("Failed to parse returns of %s: %v", name, err)
		}
	}

	_, err = client.FetchModule(ctx, composer.ModuleID{Address: composer.AddressOne, Name: "no_such_module"})
	if !errors.Is(err, composer.ErrModuleNotFound) {
		t.Errorf("Expected ErrModuleNotFound, got %v", err)
	}
}

func TestWithdrawMergeDeposit(t *testing.T) {
	client := nodeClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	senderHex := os.Getenv("INTEGRATION_SENDER")
	if senderHex == "" {
		senderHex = defaultSender
	}
	sender, err := composer.ParseAddress(senderHex)
	if err != nil {
		t.Fatalf("Invalid sender: %v", err)
	}
	recipient := composer.MustParseAddress("0xb0b")

	var fetches int
	tx, err := composer.BuildTransaction(ctx, composer.BuildTransactionInput{
		Sender: sender,
		Source: client,
		Ledger: client,
		Build: func(ctx context.Context, c *composer.Composer) (*composer.Composer, error) {
			// withdraw twice, merge the second into the first, deposit the sum
			first, err := c.Invoke(ctx, "0x1::coin::withdraw", []any{aptosCoin}, composer.Signer(0), uint64(100))
			if err != nil {
				return nil, err
			}
			second, err := c.Invoke(ctx, "0x1::coin::withdraw", []any{aptosCoin}, composer.Signer(0), uint64(50))
			if err != nil {
				return nil, err
			}
			if _, err := c.Invoke(ctx, "0x1::coin::merge", []any{aptosCoin}, first[0].BorrowMut(), second[0]); err != nil {
				return nil, err
			}
			if _, err := c.Invoke(ctx, "0x1::coin::value", []any{aptosCoin}, first[0].Borrow()); err != nil {
				return nil, err
			}
			if _, err := c.Invoke(ctx, "0x1::coin::deposit", []any{aptosCoin}, recipient, first[0]); err != nil {
				return nil, err
			}
			fetches = c.FetchCount()
			return c, nil
		},
	})
	if err != nil {
		t.Fatalf("Failed to build transaction: %v", err)
	}

	if fetches != 1 {
		t.Errorf("Expected one module fetch, got %d", fetches)
	}
	raw := tx.RawTransaction
	t.Logf("Built transaction: sender=%s seq=%d chain=%d gas_price=%d", raw.Sender, raw.SequenceNumber, raw.ChainID, raw.GasUnitPrice)

	prog, err := raw.Payload.Program()
	if err != nil {
		t.Fatalf("Failed to decode program: %v", err)
	}
	if len(prog.Calls) != 5 {
		t.Errorf("Expected 5 calls, got %d", len(prog.Calls))
	}
	encoded, err := tx.Bytes()
	if err != nil {
		t.Fatalf("Failed to encode transaction: %v", err)
	}
	t.Logf("Encoded transaction: %d bytes", len(encoded))
}
