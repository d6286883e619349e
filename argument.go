package composer

import (
	"bytes"
	"fmt"

	"github.com/branched-services/go-scriptcomposer/bcs"
)

// CallArgument is one argument of a batched call.
// This is a sealed interface - only types within this package can implement it.
type CallArgument interface {
	bcs.Marshaler

	// isCallArgument is unexported to seal the interface.
	isCallArgument()
}

// Variant indexes of the CallArgument wire enum.
const (
	argVariantRaw            = 0
	argVariantSigner         = 1
	argVariantPreviousResult = 2
)

// RawArgument is an already BCS-encoded concrete value.
type RawArgument struct {
	data []byte
}

// NewRawArgument wraps BCS bytes. The slice is copied.
func NewRawArgument(data []byte) RawArgument {
	return RawArgument{data: bytes.Clone(data)}
}

func (RawArgument) isCallArgument() {}

// Bytes returns a copy of the encoded value.
func (a RawArgument) Bytes() []byte {
	return bytes.Clone(a.data)
}

func (a RawArgument) MarshalBCS(s *bcs.Serializer) {
	s.Uleb128(argVariantRaw)
	s.WriteBytes(a.data)
}

// SignerArgument passes the transaction signer at the given index.
type SignerArgument struct {
	index uint16
}

// Signer returns the signer argument for signer index i. Single-signer
// transactions only have index 0.
func Signer(i uint16) SignerArgument {
	return SignerArgument{index: i}
}

func (SignerArgument) isCallArgument() {}

// Index returns the signer index.
func (a SignerArgument) Index() int {
	return int(a.index)
}

func (a SignerArgument) MarshalBCS(s *bcs.Serializer) {
	s.Uleb128(argVariantSigner)
	s.U16(a.index)
}

// AccessMode says how a later call consumes a previous result.
type AccessMode uint8

const (
	// AccessMove moves the value; it can be consumed only once.
	AccessMove AccessMode = iota

	// AccessCopy copies the value; the type must have the copy ability.
	AccessCopy

	// AccessBorrow passes an immutable reference.
	AccessBorrow

	// AccessBorrowMut passes a mutable reference.
	AccessBorrowMut
)

func (m AccessMode) String() string {
	switch m {
	case AccessMove:
		return "move"
	case AccessCopy:
		return "copy"
	case AccessBorrow:
		return "borrow"
	case AccessBorrowMut:
		return "borrow_mut"
	default:
		return fmt.Sprintf("AccessMode(%d)", uint8(m))
	}
}

// ResultRef stands in for a value returned by an earlier call in the same
// session. It is only meaningful inside the Composer that produced it.
type ResultRef struct {
	session uint64 // engine that issued the ref; not serialized
	call    uint16
	slot    uint16
	mode    AccessMode
}

func (ResultRef) isCallArgument() {}

// CallIndex returns the index of the producing call.
func (r ResultRef) CallIndex() int {
	return int(r.call)
}

// Slot returns the index into the producing call's return values.
func (r ResultRef) Slot() int {
	return int(r.slot)
}

// Mode returns how the value is consumed.
func (r ResultRef) Mode() AccessMode {
	return r.mode
}

// Copy returns a reference that copies the value instead of moving it.
func (r ResultRef) Copy() ResultRef {
	r.mode = AccessCopy
	return r
}

// Borrow returns a reference that passes &value.
func (r ResultRef) Borrow() ResultRef {
	r.mode = AccessBorrow
	return r
}

// BorrowMut returns a reference that passes &mut value.
func (r ResultRef) BorrowMut() ResultRef {
	r.mode = AccessBorrowMut
	return r
}

func (r ResultRef) String() string {
	return fmt.Sprintf("result(%d.%d, %s)", r.call, r.slot, r.mode)
}

func (r ResultRef) MarshalBCS(s *bcs.Serializer) {
	s.Uleb128(argVariantPreviousResult)
	s.U16(r.call)
	s.U16(r.slot)
	s.U8(uint8(r.mode))
}

// decodeCallArgument reads one CallArgument written by MarshalBCS.
func decodeCallArgument(d *bcs.Deserializer) CallArgument {
	variant := d.Uleb128()
	switch variant {
	case argVariantRaw:
		return RawArgument{data: d.ReadBytes()}
	case argVariantSigner:
		return SignerArgument{index: d.U16()}
	case argVariantPreviousResult:
		ref := ResultRef{call: d.U16(), slot: d.U16()}
		mode := d.U8()
		if mode > uint8(AccessBorrowMut) {
			d.SetError(fmt.Errorf("composer: unknown access mode %d", mode))
		}
		ref.mode = AccessMode(mode)
		return ref
	default:
		d.SetError(fmt.Errorf("composer: unknown call argument variant %d", variant))
		return nil
	}
}
