package composer

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"fortio.org/safecast"
	"github.com/branched-services/go-scriptcomposer/bcs"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

var (
	errSignerValue   = errors.New("signer parameters take a Signer call argument")
	errUnknownStruct = errors.New("unknown struct type")
)

// encodeArgument turns one user-supplied argument into a CallArgument.
// CallArguments pass through untouched: checking a ResultRef against the
// parameter type is left to the engine. Anything else is BCS-encoded for
// param after substituting typeArgs.
//
// A string passed for vector<u8> is encoded as its UTF-8 bytes even when it
// looks like hex. Pass []byte or hexutil.Bytes for raw bytes.
func encodeArgument(arg any, param TypeTag, typeArgs []TypeTag, allowUnknownStructs bool) (CallArgument, error) {
	if ca, ok := arg.(CallArgument); ok {
		return ca, nil
	}

	expected, err := param.Substitute(typeArgs)
	if err != nil {
		return nil, err
	}
	expected, _, _ = expected.Deref()

	s := bcs.NewSerializer()
	if err := encodeValue(s, arg, expected, allowUnknownStructs); err != nil {
		return nil, err
	}
	if err := s.Error(); err != nil {
		return nil, err
	}
	return RawArgument{data: s.Bytes()}, nil
}

func encodeValue(s *bcs.Serializer, v any, t TypeTag, allowUnknownStructs bool) error {
	switch t.Kind {
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return mismatch(t, v)
		}
		s.Bool(b)
		return nil

	case KindU8, KindU16, KindU32, KindU64:
		n, err := toBigInt(v, t)
		if err != nil {
			return err
		}
		if !n.IsUint64() {
			return fmt.Errorf("%w: %s does not fit %s", bcs.ErrOutOfRange, n, t)
		}
		return writeUint(s, n.Uint64(), t)

	case KindU128:
		n, err := toBigInt(v, t)
		if err != nil {
			return err
		}
		s.U128(n)
		return s.Error()

	case KindU256:
		n, err := toBigInt(v, t)
		if err != nil {
			return err
		}
		if n.Sign() < 0 {
			return fmt.Errorf("%w: %s does not fit u256", bcs.ErrOutOfRange, n)
		}
		u, overflow := uint256.FromBig(n)
		if overflow {
			return fmt.Errorf("%w: %s does not fit u256", bcs.ErrOutOfRange, n)
		}
		s.U256(u)
		return nil

	case KindAddress:
		addr, err := toAddress(v, t)
		if err != nil {
			return err
		}
		s.Struct(&addr)
		return nil

	case KindSigner:
		return errSignerValue

	case KindVector:
		return encodeVector(s, v, t, allowUnknownStructs)

	case KindStruct:
		return encodeStruct(s, v, t, allowUnknownStructs)

	case KindReference:
		inner, _, _ := t.Deref()
		return encodeValue(s, v, inner, allowUnknownStructs)

	default:
		return fmt.Errorf("cannot encode a value for unresolved type %s", t)
	}
}

func writeUint(s *bcs.Serializer, n uint64, t TypeTag) error {
	switch t.Kind {
	case KindU8:
		v, err := safecast.Conv[uint8](n)
		if err != nil {
			return fmt.Errorf("%w: %d does not fit u8", bcs.ErrOutOfRange, n)
		}
		s.U8(v)
	case KindU16:
		v, err := safecast.Conv[uint16](n)
		if err != nil {
			return fmt.Errorf("%w: %d does not fit u16", bcs.ErrOutOfRange, n)
		}
		s.U16(v)
	case KindU32:
		v, err := safecast.Conv[uint32](n)
		if err != nil {
			return fmt.Errorf("%w: %d does not fit u32", bcs.ErrOutOfRange, n)
		}
		s.U32(v)
	default:
		s.U64(n)
	}
	return nil
}

// toBigInt accepts Go integers, *big.Int, *uint256.Int and decimal strings.
func toBigInt(v any, t TypeTag) (*big.Int, error) {
	switch n := v.(type) {
	case int:
		return big.NewInt(int64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case *big.Int:
		if n == nil {
			return nil, mismatch(t, v)
		}
		return n, nil
	case *uint256.Int:
		if n == nil {
			return nil, mismatch(t, v)
		}
		return n.ToBig(), nil
	case string:
		parsed, ok := new(big.Int).SetString(strings.TrimSpace(n), 10)
		if !ok {
			return nil, fmt.Errorf("invalid %s literal %q", t, n)
		}
		return parsed, nil
	}
	return nil, mismatch(t, v)
}

func toAddress(v any, t TypeTag) (AccountAddress, error) {
	switch a := v.(type) {
	case AccountAddress:
		return a, nil
	case *AccountAddress:
		if a != nil {
			return *a, nil
		}
	case string:
		return ParseAddress(a)
	}
	return AccountAddress{}, mismatch(t, v)
}

func encodeVector(s *bcs.Serializer, v any, t TypeTag, allowUnknownStructs bool) error {
	if t.Elem.Kind == KindU8 {
		switch b := v.(type) {
		case []byte:
			s.WriteBytes(b)
			return nil
		case hexutil.Bytes:
			s.WriteBytes(b)
			return nil
		case string:
			// always the UTF-8 bytes, "0x.." included; hex goes through hexutil.Bytes
			s.WriteString(b)
			return nil
		}
	}

	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return mismatch(t, v)
	}
	s.Length(rv.Len())
	for i := 0; i < rv.Len(); i++ {
		if err := encodeValue(s, rv.Index(i).Interface(), *t.Elem, allowUnknownStructs); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func encodeStruct(s *bcs.Serializer, v any, t TypeTag, allowUnknownStructs bool) error {
	st := t.Struct
	switch {
	case st.Is(AddressOne, "string", "String"):
		str, ok := v.(string)
		if !ok {
			return mismatch(t, v)
		}
		s.WriteString(str)
		return nil

	case st.Is(AddressOne, "option", "Option") && len(st.TypeArgs) == 1:
		return encodeOption(s, v, st.TypeArgs[0], allowUnknownStructs)

	case st.Is(AddressOne, "object", "Object"):
		addr, err := toAddress(v, t)
		if err != nil {
			return err
		}
		s.Struct(&addr)
		return nil
	}

	if !allowUnknownStructs {
		return fmt.Errorf("%w %s", errUnknownStruct, t)
	}
	m, ok := v.(bcs.Marshaler)
	if !ok {
		return fmt.Errorf("%w %s: value %T does not implement bcs.Marshaler", errUnknownStruct, t, v)
	}
	s.Struct(m)
	return s.Error()
}

// encodeOption writes Option<T> as a vector of zero or one element.
// nil and nil pointers are none; anything else is some.
func encodeOption(s *bcs.Serializer, v any, elem TypeTag, allowUnknownStructs bool) error {
	if v == nil {
		s.Length(0)
		return nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			s.Length(0)
			return nil
		}
		if !isEncodablePointer(v) {
			v = rv.Elem().Interface()
		}
	}
	s.Length(1)
	return encodeValue(s, v, elem, allowUnknownStructs)
}

// isEncodablePointer reports pointer types that are values in their own
// right rather than optional wrappers.
func isEncodablePointer(v any) bool {
	switch v.(type) {
	case *big.Int, *uint256.Int, bcs.Marshaler:
		return true
	}
	return false
}

func mismatch(t TypeTag, v any) error {
	return &TypeMismatchError{Expected: t.String(), Got: fmt.Sprintf("%T", v)}
}
