package composer

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/branched-services/go-scriptcomposer/bcs"
)

// Program encoding constants.
const (
	// ProgramVersion is the current program encoding version.
	ProgramVersion = 1

	// programFlagMetadata marks a program that carries function signatures.
	programFlagMetadata = 0x01

	// payloadVariantScript is the TransactionPayload::Script variant index.
	payloadVariantScript = 0
)

// ProgramMagic prefixes every encoded program.
var ProgramMagic = [4]byte{'M', 'V', 'B', 'C'}

var (
	// ErrInvalidProgram indicates script code that is not a batched-call program.
	ErrInvalidProgram = errors.New("composer: invalid batched call program")

	// ErrNotScriptPayload indicates a transaction payload of another variant.
	ErrNotScriptPayload = errors.New("composer: payload is not a script")
)

// BatchedCall is one entry in the call graph.
type BatchedCall struct {
	Module   ModuleID
	Function string
	TypeArgs []TypeTag
	Args     []CallArgument
}

func (c *BatchedCall) MarshalBCS(s *bcs.Serializer) {
	s.Struct(&c.Module)
	s.WriteString(c.Function)
	s.Length(len(c.TypeArgs))
	for i := range c.TypeArgs {
		s.Struct(&c.TypeArgs[i])
	}
	bcs.SerializeSequence(s, c.Args)
}

func (c *BatchedCall) UnmarshalBCS(d *bcs.Deserializer) {
	d.Struct(&c.Module)
	c.Function = d.ReadString()
	c.TypeArgs = deserializeTypeTags(d)
	c.Args = bcs.DeserializeSequence(d, decodeCallArgument)
}

func (m *ModuleID) MarshalBCS(s *bcs.Serializer) {
	s.Struct(&m.Address)
	s.WriteString(m.Name)
}

func (m *ModuleID) UnmarshalBCS(d *bcs.Deserializer) {
	d.Struct(&m.Address)
	m.Name = d.ReadString()
}

// FunctionSignature records the resolved signature of a called function so
// a program can be type-checked without refetching module interfaces.
type FunctionSignature struct {
	Module            ModuleID
	Function          string
	GenericParamCount uint16
	Params            []TypeTag
	Returns           []TypeTag
}

func (f *FunctionSignature) MarshalBCS(s *bcs.Serializer) {
	s.Struct(&f.Module)
	s.WriteString(f.Function)
	s.U16(f.GenericParamCount)
	s.Length(len(f.Params))
	for i := range f.Params {
		s.Struct(&f.Params[i])
	}
	s.Length(len(f.Returns))
	for i := range f.Returns {
		s.Struct(&f.Returns[i])
	}
}

func (f *FunctionSignature) UnmarshalBCS(d *bcs.Deserializer) {
	d.Struct(&f.Module)
	f.Function = d.ReadString()
	f.GenericParamCount = d.U16()
	f.Params = deserializeTypeTags(d)
	f.Returns = deserializeTypeTags(d)
}

// Program is the ordered call graph stored in a script's code.
type Program struct {
	Version    uint8
	Calls      []BatchedCall
	Signatures []FunctionSignature // nil unless encoded with metadata
}

// HasMetadata reports whether the program carries function signatures.
func (p *Program) HasMetadata() bool {
	return p.Signatures != nil
}

func (p *Program) MarshalBCS(s *bcs.Serializer) {
	s.FixedBytes(ProgramMagic[:])
	s.U8(p.Version)
	var flags uint8
	if p.HasMetadata() {
		flags |= programFlagMetadata
	}
	s.U8(flags)
	s.Length(len(p.Calls))
	for i := range p.Calls {
		s.Struct(&p.Calls[i])
	}
	if p.HasMetadata() {
		s.Length(len(p.Signatures))
		for i := range p.Signatures {
			s.Struct(&p.Signatures[i])
		}
	}
}

func (p *Program) UnmarshalBCS(d *bcs.Deserializer) {
	magic := d.ReadFixedBytes(len(ProgramMagic))
	if d.Error() == nil && !bytes.Equal(magic, ProgramMagic[:]) {
		d.SetError(fmt.Errorf("%w: bad magic %x", ErrInvalidProgram, magic))
		return
	}
	p.Version = d.U8()
	if d.Error() == nil && p.Version != ProgramVersion {
		d.SetError(fmt.Errorf("%w: unsupported version %d", ErrInvalidProgram, p.Version))
		return
	}
	flags := d.U8()
	if d.Error() == nil && flags&^programFlagMetadata != 0 {
		d.SetError(fmt.Errorf("%w: unknown flags 0x%02x", ErrInvalidProgram, flags))
		return
	}
	p.Calls = bcs.DeserializeSequence(d, func(d *bcs.Deserializer) BatchedCall {
		var c BatchedCall
		d.Struct(&c)
		return c
	})
	if flags&programFlagMetadata != 0 {
		p.Signatures = bcs.DeserializeSequence(d, func(d *bcs.Deserializer) FunctionSignature {
			var f FunctionSignature
			d.Struct(&f)
			return f
		})
	}
}

// DecodeProgram decodes script code produced by the engine.
func DecodeProgram(code []byte) (*Program, error) {
	var p Program
	if err := bcs.Deserialize(code, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ScriptPayload is the TransactionPayload::Script variant.
type ScriptPayload struct {
	Code     []byte
	TypeArgs []TypeTag
	Args     []ScriptArgument
}

// ScriptArgument is one TransactionArgument of a script payload.
// Value holds the variant's encoded bytes without the variant index.
type ScriptArgument struct {
	Variant uint32
	Value   []byte
}

// fixed widths of TransactionArgument variants; -1 means length-prefixed.
var scriptArgumentWidths = map[uint32]int{
	0: 1,  // u8
	1: 8,  // u64
	2: 16, // u128
	3: 32, // address
	4: -1, // vector<u8>
	5: 1,  // bool
	6: 2,  // u16
	7: 4,  // u32
	8: 32, // u256
	9: -1, // serialized
}

func (a *ScriptArgument) MarshalBCS(s *bcs.Serializer) {
	width, ok := scriptArgumentWidths[a.Variant]
	if !ok {
		s.SetError(fmt.Errorf("composer: unknown script argument variant %d", a.Variant))
		return
	}
	s.Uleb128(a.Variant)
	if width < 0 {
		s.WriteBytes(a.Value)
		return
	}
	if len(a.Value) != width {
		s.SetError(fmt.Errorf("composer: script argument variant %d needs %d bytes, got %d", a.Variant, width, len(a.Value)))
		return
	}
	s.FixedBytes(a.Value)
}

func (a *ScriptArgument) UnmarshalBCS(d *bcs.Deserializer) {
	a.Variant = d.Uleb128()
	width, ok := scriptArgumentWidths[a.Variant]
	if d.Error() == nil && !ok {
		d.SetError(fmt.Errorf("composer: unknown script argument variant %d", a.Variant))
		return
	}
	if width < 0 {
		a.Value = d.ReadBytes()
		return
	}
	a.Value = d.ReadFixedBytes(width)
}

func (p *ScriptPayload) MarshalBCS(s *bcs.Serializer) {
	s.Uleb128(payloadVariantScript)
	s.WriteBytes(p.Code)
	s.Length(len(p.TypeArgs))
	for i := range p.TypeArgs {
		s.Struct(&p.TypeArgs[i])
	}
	s.Length(len(p.Args))
	for i := range p.Args {
		s.Struct(&p.Args[i])
	}
}

func (p *ScriptPayload) UnmarshalBCS(d *bcs.Deserializer) {
	variant := d.Uleb128()
	if d.Error() == nil && variant != payloadVariantScript {
		d.SetError(fmt.Errorf("%w: variant %d", ErrNotScriptPayload, variant))
		return
	}
	p.Code = d.ReadBytes()
	p.TypeArgs = deserializeTypeTags(d)
	p.Args = bcs.DeserializeSequence(d, func(d *bcs.Deserializer) ScriptArgument {
		var a ScriptArgument
		d.Struct(&a)
		return a
	})
}

// DecodeScriptPayload decodes the bytes produced by Composer.Build.
func DecodeScriptPayload(data []byte) (*ScriptPayload, error) {
	var p ScriptPayload
	if err := bcs.Deserialize(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Bytes returns the BCS encoding of the payload.
func (p *ScriptPayload) Bytes() ([]byte, error) {
	return bcs.Serialize(p)
}

// Program decodes the batched calls carried in the script code.
func (p *ScriptPayload) Program() (*Program, error) {
	return DecodeProgram(p.Code)
}

func deserializeTypeTags(d *bcs.Deserializer) []TypeTag {
	return bcs.DeserializeSequence(d, func(d *bcs.Deserializer) TypeTag {
		var t TypeTag
		d.Struct(&t)
		return t
	})
}
