package composer

import (
	"context"
	"sync"
	"testing"

	"github.com/branched-services/go-scriptcomposer/bcs"
)

const coinABI = `{
	"address": "0x1",
	"name": "coin",
	"friends": [],
	"exposed_functions": [
		{
			"name": "withdraw",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [{"constraints": []}],
			"params": ["&signer", "u64"],
			"return": ["0x1::coin::Coin<T0>"]
		},
		{
			"name": "deposit",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [{"constraints": []}],
			"params": ["address", "0x1::coin::Coin<T0>"],
			"return": []
		},
		{
			"name": "transfer",
			"visibility": "public",
			"is_entry": true,
			"is_view": false,
			"generic_type_params": [{"constraints": []}],
			"params": ["&signer", "address", "u64"],
			"return": []
		},
		{
			"name": "value",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [{"constraints": []}],
			"params": ["&0x1::coin::Coin<T0>"],
			"return": ["u64"]
		},
		{
			"name": "merge",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [{"constraints": []}],
			"params": ["&mut 0x1::coin::Coin<T0>", "0x1::coin::Coin<T0>"],
			"return": []
		}
	],
	"structs": [
		{
			"name": "Coin",
			"is_native": false,
			"abilities": ["store"],
			"generic_type_params": [{"constraints": []}],
			"fields": [{"name": "value", "type": "u64"}]
		}
	]
}`

const mathABI = `{
	"address": "0xcafe",
	"name": "math",
	"exposed_functions": [
		{
			"name": "add",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [],
			"params": ["u64", "u64"],
			"return": ["u64"]
		},
		{
			"name": "pair",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [],
			"params": [],
			"return": ["u64", "bool"]
		},
		{
			"name": "negate",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [],
			"params": ["bool"],
			"return": ["bool"]
		},
		{
			"name": "record",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [],
			"params": ["0x1::string::String", "0x1::option::Option<u64>", "vector<u8>"],
			"return": []
		},
		{
			"name": "wide",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [],
			"params": ["u128", "u256"],
			"return": []
		},
		{
			"name": "make_point",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [],
			"params": ["u64", "u64"],
			"return": ["0xcafe::math::Point"]
		},
		{
			"name": "use_point",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [],
			"params": ["0xcafe::math::Point"],
			"return": []
		},
		{
			"name": "swap",
			"visibility": "public",
			"is_entry": false,
			"is_view": false,
			"generic_type_params": [{"constraints": []}, {"constraints": []}],
			"params": ["T0", "T1"],
			"return": ["T1", "T0"]
		}
	],
	"structs": [
		{
			"name": "Point",
			"is_native": false,
			"abilities": ["copy", "drop"],
			"generic_type_params": [],
			"fields": [{"name": "x", "type": "u64"}, {"name": "y", "type": "u64"}]
		}
	]
}`

var (
	testAccount   = MustParseAddress("0x7a")
	testRecipient = MustParseAddress("0xb0b")
	aptosCoin     = "0x1::aptos_coin::AptosCoin"
)

// rawPoint is a caller-encoded 0xcafe::math::Point.
type rawPoint struct{ x, y uint64 }

func (p rawPoint) MarshalBCS(s *bcs.Serializer) {
	s.U64(p.x)
	s.U64(p.y)
}

// rawCoin is a caller-encoded 0x1::coin::Coin.
type rawCoin uint64

func (c rawCoin) MarshalBCS(s *bcs.Serializer) {
	s.U64(uint64(c))
}

// countingSource records how often each module was fetched.
type countingSource struct {
	inner InterfaceSource

	mu     sync.Mutex
	counts map[ModuleID]int
}

func newCountingSource(modules ...*MoveModule) *countingSource {
	return &countingSource{
		inner:  NewStaticSource(modules...),
		counts: make(map[ModuleID]int),
	}
}

func (s *countingSource) FetchModule(ctx context.Context, id ModuleID) (*MoveModule, error) {
	s.mu.Lock()
	s.counts[id]++
	s.mu.Unlock()
	return s.inner.FetchModule(ctx, id)
}

func (s *countingSource) count(id ModuleID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[id]
}

func testSource() *countingSource {
	return newCountingSource(MustParseModuleABI(coinABI), MustParseModuleABI(mathABI))
}

func newTestComposer(t interface {
	Helper()
	Fatalf(string, ...any)
}, opts ...Option) (*Composer, *countingSource) {
	t.Helper()
	src := testSource()
	c, err := New(src, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, src
}

// sessionRef builds a ref issued by c's engine without appending a call.
func sessionRef(t *testing.T, c *Composer, call, slot uint16) ResultRef {
	t.Helper()
	e, ok := c.engine.(*batchEngine)
	if !ok {
		t.Fatalf("Expected the default engine, got %T", c.engine)
	}
	return ResultRef{session: e.session, call: call, slot: slot}
}
