// Package bcs implements Binary Canonical Serialization, the value encoding
// used by Move for transaction arguments, type tags and payloads.
//
// Integers are little-endian and fixed width, sequence lengths and enum
// variant indexes are ULEB128, and byte strings are length-prefixed. Both
// the Serializer and the Deserializer latch the first error they hit; later
// calls become no-ops so callers can check Error once at the end.
package bcs

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"fortio.org/safecast"
	"github.com/holiman/uint256"
)

// Sentinel errors for malformed input.
var (
	// ErrOutOfRange indicates a value does not fit the target integer width.
	ErrOutOfRange = errors.New("bcs: value out of range")

	// ErrUnexpectedEOF indicates the input ended before a value was complete.
	ErrUnexpectedEOF = errors.New("bcs: unexpected end of input")

	// ErrTrailingBytes indicates input remained after a full value was read.
	ErrTrailingBytes = errors.New("bcs: trailing bytes after value")

	// ErrInvalidBool indicates a bool byte other than 0 or 1.
	ErrInvalidBool = errors.New("bcs: invalid bool encoding")

	// ErrInvalidUleb128 indicates an overlong or overflowing ULEB128 value.
	ErrInvalidUleb128 = errors.New("bcs: invalid uleb128 encoding")
)

var maxU128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

// Marshaler is implemented by values that know their own BCS encoding.
type Marshaler interface {
	MarshalBCS(s *Serializer)
}

// Unmarshaler is implemented by values that can decode themselves from BCS.
type Unmarshaler interface {
	UnmarshalBCS(d *Deserializer)
}

// Serializer accumulates BCS output.
type Serializer struct {
	buf bytes.Buffer
	err error
}

// NewSerializer creates an empty Serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// Error returns the first error recorded, if any.
func (s *Serializer) Error() error {
	return s.err
}

// SetError records err unless an error is already recorded.
func (s *Serializer) SetError(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Bytes returns the bytes written so far.
func (s *Serializer) Bytes() []byte {
	return s.buf.Bytes()
}

func (s *Serializer) Bool(v bool) {
	if v {
		s.U8(1)
	} else {
		s.U8(0)
	}
}

func (s *Serializer) U8(v uint8) {
	if s.err != nil {
		return
	}
	s.buf.WriteByte(v)
}

func (s *Serializer) U16(v uint16) {
	if s.err != nil {
		return
	}
	s.buf.Write(binary.LittleEndian.AppendUint16(nil, v))
}

func (s *Serializer) U32(v uint32) {
	if s.err != nil {
		return
	}
	s.buf.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func (s *Serializer) U64(v uint64) {
	if s.err != nil {
		return
	}
	s.buf.Write(binary.LittleEndian.AppendUint64(nil, v))
}

// U128 writes v as 16 little-endian bytes. v must be in [0, 2^128).
func (s *Serializer) U128(v *big.Int) {
	if s.err != nil {
		return
	}
	if v == nil || v.Sign() < 0 || v.Cmp(maxU128) > 0 {
		s.SetError(fmt.Errorf("%w: %v does not fit u128", ErrOutOfRange, v))
		return
	}
	var be [16]byte
	v.FillBytes(be[:])
	s.FixedBytes(reversed(be[:]))
}

// U256 writes v as 32 little-endian bytes.
func (s *Serializer) U256(v *uint256.Int) {
	if s.err != nil {
		return
	}
	if v == nil {
		s.SetError(fmt.Errorf("%w: nil u256", ErrOutOfRange))
		return
	}
	be := v.Bytes32()
	s.FixedBytes(reversed(be[:]))
}

// Uleb128 writes v as an unsigned LEB128 varint.
func (s *Serializer) Uleb128(v uint32) {
	if s.err != nil {
		return
	}
	for v >= 0x80 {
		s.buf.WriteByte(byte(v&0x7f) | 0x80)
		v >>= 7
	}
	s.buf.WriteByte(byte(v))
}

// Length writes a sequence length prefix.
func (s *Serializer) Length(n int) {
	l, err := safecast.Conv[uint32](n)
	if err != nil {
		s.SetError(fmt.Errorf("%w: length %d", ErrOutOfRange, n))
		return
	}
	s.Uleb128(l)
}

// FixedBytes writes b without a length prefix.
func (s *Serializer) FixedBytes(b []byte) {
	if s.err != nil {
		return
	}
	s.buf.Write(b)
}

// WriteBytes writes b with a length prefix.
func (s *Serializer) WriteBytes(b []byte) {
	s.Length(len(b))
	s.FixedBytes(b)
}

// WriteString writes the UTF-8 bytes of v with a length prefix.
func (s *Serializer) WriteString(v string) {
	s.WriteBytes([]byte(v))
}

// Struct delegates to m.
func (s *Serializer) Struct(m Marshaler) {
	if s.err != nil {
		return
	}
	m.MarshalBCS(s)
}

// SerializeSequence writes a length-prefixed sequence of values.
func SerializeSequence[T Marshaler](s *Serializer, items []T) {
	s.Length(len(items))
	for _, item := range items {
		s.Struct(item)
	}
}

// Serialize encodes m into a fresh byte slice.
func Serialize(m Marshaler) ([]byte, error) {
	s := NewSerializer()
	s.Struct(m)
	if s.err != nil {
		return nil, s.err
	}
	return s.Bytes(), nil
}

// Deserializer reads BCS input.
type Deserializer struct {
	src []byte
	pos int
	err error
}

// NewDeserializer creates a Deserializer over b.
func NewDeserializer(b []byte) *Deserializer {
	return &Deserializer{src: b}
}

// Error returns the first error recorded, if any.
func (d *Deserializer) Error() error {
	return d.err
}

// SetError records err unless an error is already recorded.
func (d *Deserializer) SetError(err error) {
	if d.err == nil {
		d.err = err
	}
}

// Remaining returns the number of unread bytes.
func (d *Deserializer) Remaining() int {
	return len(d.src) - d.pos
}

func (d *Deserializer) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.Remaining() < n {
		d.SetError(ErrUnexpectedEOF)
		return nil
	}
	out := d.src[d.pos : d.pos+n]
	d.pos += n
	return out
}

func (d *Deserializer) Bool() bool {
	b := d.take(1)
	if b == nil {
		return false
	}
	switch b[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		d.SetError(fmt.Errorf("%w: 0x%02x", ErrInvalidBool, b[0]))
		return false
	}
}

func (d *Deserializer) U8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Deserializer) U16() uint16 {
	b := d.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *Deserializer) U32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *Deserializer) U64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *Deserializer) U128() *big.Int {
	b := d.take(16)
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(reversed(b))
}

func (d *Deserializer) U256() *uint256.Int {
	b := d.take(32)
	if b == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).SetBytes(reversed(b))
}

// Uleb128 reads an unsigned LEB128 varint that must fit in 32 bits.
func (d *Deserializer) Uleb128() uint32 {
	var v uint64
	for shift := 0; shift < 35; shift += 7 {
		b := d.take(1)
		if b == nil {
			return 0
		}
		v |= uint64(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			if v > 0xffffffff || (shift > 0 && b[0] == 0) {
				d.SetError(ErrInvalidUleb128)
				return 0
			}
			return uint32(v)
		}
	}
	d.SetError(ErrInvalidUleb128)
	return 0
}

// Length reads a sequence length prefix.
func (d *Deserializer) Length() int {
	n := d.Uleb128()
	if d.err != nil {
		return 0
	}
	if int(n) > d.Remaining() {
		// every element takes at least one byte
		d.SetError(ErrUnexpectedEOF)
		return 0
	}
	return int(n)
}

// ReadFixedBytes reads exactly n bytes and returns a copy.
func (d *Deserializer) ReadFixedBytes(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

// ReadBytes reads a length-prefixed byte string.
func (d *Deserializer) ReadBytes() []byte {
	n := d.Length()
	if d.err != nil {
		return nil
	}
	out := d.ReadFixedBytes(n)
	if out == nil && d.err == nil {
		return []byte{}
	}
	return out
}

// ReadString reads a length-prefixed UTF-8 string.
func (d *Deserializer) ReadString() string {
	return string(d.ReadBytes())
}

// Struct delegates to u.
func (d *Deserializer) Struct(u Unmarshaler) {
	if d.err != nil {
		return
	}
	u.UnmarshalBCS(d)
}

// DeserializeSequence reads a length-prefixed sequence using decode for
// each element.
func DeserializeSequence[T any](d *Deserializer, decode func(d *Deserializer) T) []T {
	n := d.Length()
	if d.err != nil {
		return nil
	}
	out := make([]T, 0, n)
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, decode(d))
	}
	return out
}

// Deserialize decodes b into u and requires every byte to be consumed.
func Deserialize(b []byte, u Unmarshaler) error {
	d := NewDeserializer(b)
	d.Struct(u)
	if d.err != nil {
		return d.err
	}
	if d.Remaining() != 0 {
		return fmt.Errorf("%w: %d bytes", ErrTrailingBytes, d.Remaining())
	}
	return nil
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[len(b)-1-i] = b[i]
	}
	return out
}
