package composer

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/branched-services/go-scriptcomposer/bcs"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0x1", "0x1"},
		{"1", "0x1"},
		{"0x0", "0x0"},
		{"0xf", "0xf"},
		{"0x10", "0x" + strings.Repeat("0", 62) + "10"},
		{"0X0A", "0xa"},
		{"0x" + strings.Repeat("ab", 32), "0x" + strings.Repeat("ab", 32)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAddress(tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestParseAddressErrors(t *testing.T) {
	for _, input := range []string{"", "0x", "0xzz", "0x" + strings.Repeat("1", 65)} {
		t.Run(input, func(t *testing.T) {
			if _, err := ParseAddress(input); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestAddressStringLong(t *testing.T) {
	want := "0x" + strings.Repeat("0", 63) + "1"
	if got := AddressOne.StringLong(); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestAddressJSON(t *testing.T) {
	var v struct {
		Addr AccountAddress `json:"addr"`
	}
	if err := json.Unmarshal([]byte(`{"addr":"0xcafe"}`), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v.Addr != MustParseAddress("0xcafe") {
		t.Errorf("Unexpected address %s", v.Addr)
	}
	out, err := json.Marshal(struct {
		Addr AccountAddress `json:"addr"`
	}{AddressOne})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `{"addr":"0x1"}` {
		t.Errorf("Unexpected JSON %s", out)
	}
}

func TestAddressBCS(t *testing.T) {
	addr := MustParseAddress("0xb0b")
	out, err := bcs.Serialize(&addr)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if len(out) != AddressLength {
		t.Fatalf("Expected %d bytes with no length prefix, got %d", AddressLength, len(out))
	}
	var back AccountAddress
	if err := bcs.Deserialize(out, &back); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if back != addr {
		t.Errorf("Expected %s, got %s", addr, back)
	}
}
