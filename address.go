package composer

import (
	"fmt"
	"strings"

	"github.com/branched-services/go-scriptcomposer/bcs"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressLength is the size of an account address in bytes.
const AddressLength = 32

// AccountAddress is a 32-byte Move account address.
type AccountAddress [AddressLength]byte

// Well-known addresses.
var (
	AddressZero = AccountAddress{}
	AddressOne  = AccountAddress{31: 0x01}
)

// ParseAddress parses a hex address with or without the 0x prefix.
// Short forms such as "0x1" are left-padded with zeros.
func ParseAddress(s string) (AccountAddress, error) {
	var addr AccountAddress
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if raw == "" || len(raw) > 2*AddressLength {
		return addr, fmt.Errorf("composer: invalid address %q", s)
	}
	decoded, err := hexutil.Decode("0x" + strings.Repeat("0", 2*AddressLength-len(raw)) + raw)
	if err != nil {
		return addr, fmt.Errorf("composer: invalid address %q: %w", s, err)
	}
	copy(addr[:], decoded)
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) AccountAddress {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// IsSpecial reports whether the address is one of 0x0 through 0xf.
func (a AccountAddress) IsSpecial() bool {
	for _, b := range a[:AddressLength-1] {
		if b != 0 {
			return false
		}
	}
	return a[AddressLength-1] < 0x10
}

// String returns the canonical form: short for special addresses, 64 hex
// digits otherwise.
func (a AccountAddress) String() string {
	if a.IsSpecial() {
		return fmt.Sprintf("0x%x", a[AddressLength-1])
	}
	return a.StringLong()
}

// StringLong always returns all 64 hex digits.
func (a AccountAddress) StringLong() string {
	return hexutil.Encode(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a AccountAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AccountAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a *AccountAddress) MarshalBCS(s *bcs.Serializer) {
	s.FixedBytes(a[:])
}

func (a *AccountAddress) UnmarshalBCS(d *bcs.Deserializer) {
	copy(a[:], d.ReadFixedBytes(AddressLength))
}
