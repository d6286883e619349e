package composer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fortio.org/safecast"
	"github.com/branched-services/go-scriptcomposer/bcs"
)

// TypeKind identifies the shape of a TypeTag.
type TypeKind uint8

const (
	KindBool TypeKind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindU256
	KindAddress
	KindSigner
	KindVector
	KindStruct
	// KindGeneric is a placeholder bound per call, written T0, T1, ...
	KindGeneric
	// KindReference only appears in function parameter and return types.
	KindReference
)

// TypeTag is the canonical representation of a Move type.
// Two tags are equal iff their canonical strings are equal.
type TypeTag struct {
	Kind    TypeKind
	Elem    *TypeTag   // vector element or referenced type
	Mutable bool       // &mut for references
	Struct  *StructTag // struct types
	Index   uint16     // generic placeholder index
}

// StructTag names a struct type and its type arguments.
type StructTag struct {
	Address  AccountAddress
	Module   string
	Name     string
	TypeArgs []TypeTag
}

// Primitive type tags.
var (
	TypeBool    = TypeTag{Kind: KindBool}
	TypeU8      = TypeTag{Kind: KindU8}
	TypeU16     = TypeTag{Kind: KindU16}
	TypeU32     = TypeTag{Kind: KindU32}
	TypeU64     = TypeTag{Kind: KindU64}
	TypeU128    = TypeTag{Kind: KindU128}
	TypeU256    = TypeTag{Kind: KindU256}
	TypeAddress = TypeTag{Kind: KindAddress}
	TypeSigner  = TypeTag{Kind: KindSigner}
)

var primitiveNames = map[string]TypeTag{
	"bool":    TypeBool,
	"u8":      TypeU8,
	"u16":     TypeU16,
	"u32":     TypeU32,
	"u64":     TypeU64,
	"u128":    TypeU128,
	"u256":    TypeU256,
	"address": TypeAddress,
	"signer":  TypeSigner,
}

// VectorOf returns vector<elem>.
func VectorOf(elem TypeTag) TypeTag {
	return TypeTag{Kind: KindVector, Elem: &elem}
}

// StructOf returns addr::module::name<typeArgs...>.
func StructOf(addr AccountAddress, module, name string, typeArgs ...TypeTag) TypeTag {
	return TypeTag{Kind: KindStruct, Struct: &StructTag{
		Address:  addr,
		Module:   module,
		Name:     name,
		TypeArgs: typeArgs,
	}}
}

// GenericOf returns the placeholder T<index>.
func GenericOf(index uint16) TypeTag {
	return TypeTag{Kind: KindGeneric, Index: index}
}

// ReferenceTo returns &elem or &mut elem.
func ReferenceTo(elem TypeTag, mutable bool) TypeTag {
	return TypeTag{Kind: KindReference, Elem: &elem, Mutable: mutable}
}

// String returns the canonical form of the tag.
func (t TypeTag) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t TypeTag) write(b *strings.Builder) {
	switch t.Kind {
	case KindBool:
		b.WriteString("bool")
	case KindU8:
		b.WriteString("u8")
	case KindU16:
		b.WriteString("u16")
	case KindU32:
		b.WriteString("u32")
	case KindU64:
		b.WriteString("u64")
	case KindU128:
		b.WriteString("u128")
	case KindU256:
		b.WriteString("u256")
	case KindAddress:
		b.WriteString("address")
	case KindSigner:
		b.WriteString("signer")
	case KindVector:
		b.WriteString("vector<")
		t.Elem.write(b)
		b.WriteString(">")
	case KindStruct:
		b.WriteString(t.Struct.String())
	case KindGeneric:
		b.WriteString("T")
		b.WriteString(strconv.Itoa(int(t.Index)))
	case KindReference:
		if t.Mutable {
			b.WriteString("&mut ")
		} else {
			b.WriteString("&")
		}
		t.Elem.write(b)
	default:
		fmt.Fprintf(b, "<unknown kind %d>", t.Kind)
	}
}

// String returns the canonical form of the struct tag.
func (s *StructTag) String() string {
	var b strings.Builder
	b.WriteString(s.Address.String())
	b.WriteString("::")
	b.WriteString(s.Module)
	b.WriteString("::")
	b.WriteString(s.Name)
	if len(s.TypeArgs) > 0 {
		b.WriteString("<")
		for i, arg := range s.TypeArgs {
			if i > 0 {
				b.WriteString(", ")
			}
			arg.write(&b)
		}
		b.WriteString(">")
	}
	return b.String()
}

// ModuleID returns the module that declares the struct.
func (s *StructTag) ModuleID() ModuleID {
	return ModuleID{Address: s.Address, Name: s.Module}
}

// Is reports whether the struct is addr::module::name, ignoring type args.
func (s *StructTag) Is(addr AccountAddress, module, name string) bool {
	return s.Address == addr && s.Module == module && s.Name == name
}

// Equal reports structural equality.
func (t TypeTag) Equal(o TypeTag) bool {
	return t.String() == o.String()
}

// Validate reports a tag built by hand with a missing element or struct,
// or with an unknown kind.
func (t TypeTag) Validate() error {
	switch t.Kind {
	case KindBool, KindU8, KindU16, KindU32, KindU64, KindU128, KindU256,
		KindAddress, KindSigner, KindGeneric:
		return nil
	case KindVector, KindReference:
		if t.Elem == nil {
			return fmt.Errorf("%s tag has no element type", kindName(t.Kind))
		}
		return t.Elem.Validate()
	case KindStruct:
		if t.Struct == nil {
			return errors.New("struct tag has no struct")
		}
		for i, arg := range t.Struct.TypeArgs {
			if err := arg.Validate(); err != nil {
				return fmt.Errorf("%s::%s type argument %d: %w", t.Struct.Module, t.Struct.Name, i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown type kind %d", t.Kind)
	}
}

func kindName(k TypeKind) string {
	if k == KindVector {
		return "vector"
	}
	return "reference"
}

// IsConcrete reports whether the tag contains no generic placeholders.
func (t TypeTag) IsConcrete() bool {
	switch t.Kind {
	case KindGeneric:
		return false
	case KindVector, KindReference:
		return t.Elem.IsConcrete()
	case KindStruct:
		for _, arg := range t.Struct.TypeArgs {
			if !arg.IsConcrete() {
				return false
			}
		}
	}
	return true
}

// Substitute replaces every placeholder T<i> with typeArgs[i].
func (t TypeTag) Substitute(typeArgs []TypeTag) (TypeTag, error) {
	switch t.Kind {
	case KindGeneric:
		if int(t.Index) >= len(typeArgs) {
			return TypeTag{}, fmt.Errorf("%w: type parameter T%d unbound (%d type arguments)",
				ErrTypeResolution, t.Index, len(typeArgs))
		}
		return typeArgs[t.Index], nil
	case KindVector, KindReference:
		elem, err := t.Elem.Substitute(typeArgs)
		if err != nil {
			return TypeTag{}, err
		}
		out := t
		out.Elem = &elem
		return out, nil
	case KindStruct:
		args := make([]TypeTag, len(t.Struct.TypeArgs))
		for i, arg := range t.Struct.TypeArgs {
			sub, err := arg.Substitute(typeArgs)
			if err != nil {
				return TypeTag{}, err
			}
			args[i] = sub
		}
		st := *t.Struct
		st.TypeArgs = args
		return TypeTag{Kind: KindStruct, Struct: &st}, nil
	default:
		return t, nil
	}
}

// Deref strips one level of reference.
func (t TypeTag) Deref() (inner TypeTag, mutable, isRef bool) {
	if t.Kind != KindReference {
		return t, false, false
	}
	return *t.Elem, t.Mutable, true
}

// structs returns every struct tag reachable from t, outermost first.
func (t TypeTag) structs() []*StructTag {
	var out []*StructTag
	var walk func(TypeTag)
	walk = func(t TypeTag) {
		switch t.Kind {
		case KindVector, KindReference:
			walk(*t.Elem)
		case KindStruct:
			out = append(out, t.Struct)
			for _, arg := range t.Struct.TypeArgs {
				walk(arg)
			}
		}
	}
	walk(t)
	return out
}

// BCS variant indexes of the on-chain TypeTag enum. Generic and reference
// tags never appear on chain; they only travel in program metadata.
const (
	tagVariantBool      = 0
	tagVariantU8        = 1
	tagVariantU64       = 2
	tagVariantU128      = 3
	tagVariantAddress   = 4
	tagVariantSigner    = 5
	tagVariantVector    = 6
	tagVariantStruct    = 7
	tagVariantU16       = 8
	tagVariantU32       = 9
	tagVariantU256      = 10
	tagVariantReference = 254
	tagVariantGeneric   = 255
)

var kindVariants = map[TypeKind]uint32{
	KindBool:      tagVariantBool,
	KindU8:        tagVariantU8,
	KindU16:       tagVariantU16,
	KindU32:       tagVariantU32,
	KindU64:       tagVariantU64,
	KindU128:      tagVariantU128,
	KindU256:      tagVariantU256,
	KindAddress:   tagVariantAddress,
	KindSigner:    tagVariantSigner,
	KindVector:    tagVariantVector,
	KindStruct:    tagVariantStruct,
	KindGeneric:   tagVariantGeneric,
	KindReference: tagVariantReference,
}

var variantKinds = func() map[uint32]TypeKind {
	m := make(map[uint32]TypeKind, len(kindVariants))
	for kind, v := range kindVariants {
		m[v] = kind
	}
	return m
}()

func (t *TypeTag) MarshalBCS(s *bcs.Serializer) {
	variant, ok := kindVariants[t.Kind]
	if !ok {
		s.SetError(fmt.Errorf("composer: cannot serialize type kind %d", t.Kind))
		return
	}
	s.Uleb128(variant)
	switch t.Kind {
	case KindVector:
		s.Struct(t.Elem)
	case KindReference:
		s.Bool(t.Mutable)
		s.Struct(t.Elem)
	case KindStruct:
		s.Struct(&t.Struct.Address)
		s.WriteString(t.Struct.Module)
		s.WriteString(t.Struct.Name)
		s.Length(len(t.Struct.TypeArgs))
		for i := range t.Struct.TypeArgs {
			s.Struct(&t.Struct.TypeArgs[i])
		}
	case KindGeneric:
		s.U16(t.Index)
	}
}

func (t *TypeTag) UnmarshalBCS(d *bcs.Deserializer) {
	variant := d.Uleb128()
	if d.Error() != nil {
		return
	}
	kind, ok := variantKinds[variant]
	if !ok {
		d.SetError(fmt.Errorf("composer: unknown type tag variant %d", variant))
		return
	}
	t.Kind = kind
	switch variant {
	case tagVariantVector:
		elem := &TypeTag{}
		d.Struct(elem)
		t.Elem = elem
	case tagVariantReference:
		t.Mutable = d.Bool()
		elem := &TypeTag{}
		d.Struct(elem)
		t.Elem = elem
	case tagVariantStruct:
		st := &StructTag{}
		d.Struct(&st.Address)
		st.Module = d.ReadString()
		st.Name = d.ReadString()
		st.TypeArgs = bcs.DeserializeSequence(d, func(d *bcs.Deserializer) TypeTag {
			var arg TypeTag
			d.Struct(&arg)
			return arg
		})
		t.Struct = st
	case tagVariantGeneric:
		t.Index = d.U16()
	}
}

// ParseTypeTag parses a type expression such as
// "0x1::coin::Coin<0x1::aptos_coin::AptosCoin>" or "vector<u8>".
// Whitespace and address padding do not affect the result.
// Placeholders T0, T1, ... are accepted; references are not.
func ParseTypeTag(s string) (TypeTag, error) {
	return parseType(s, false)
}

// MustParseTypeTag is like ParseTypeTag but panics on error.
func MustParseTypeTag(s string) TypeTag {
	t, err := ParseTypeTag(s)
	if err != nil {
		panic(err)
	}
	return t
}

// parseSignatureType parses a type from a function signature, where a
// leading reference is allowed.
func parseSignatureType(s string) (TypeTag, error) {
	return parseType(s, true)
}

func parseType(s string, allowRef bool) (TypeTag, error) {
	p := &typeParser{tokens: tokenizeType(s)}
	t, err := p.parse(allowRef)
	if err == nil && p.pos != len(p.tokens) {
		err = fmt.Errorf("unexpected %q", p.tokens[p.pos])
	}
	if err != nil {
		return TypeTag{}, &TypeResolutionError{Input: s, Err: err}
	}
	return t, nil
}

// tokenizeType splits s into identifiers and the punctuation "::", "<",
// ">", ",", "&". Whitespace separates tokens and is otherwise dropped.
func tokenizeType(s string) []string {
	var tokens []string
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '<' || c == '>' || c == ',' || c == '&':
			tokens = append(tokens, string(c))
			i++
		case c == ':':
			if i+1 < len(s) && s[i+1] == ':' {
				tokens = append(tokens, "::")
				i += 2
			} else {
				tokens = append(tokens, ":")
				i++
			}
		case isIdentByte(c):
			start := i
			for i < len(s) && isIdentByte(s[i]) {
				i++
			}
			tokens = append(tokens, s[start:i])
		default:
			tokens = append(tokens, string(c))
			i++
		}
	}
	return tokens
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

type typeParser struct {
	tokens []string
	pos    int
}

func (p *typeParser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return ""
}

func (p *typeParser) next() string {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *typeParser) expect(tok string) error {
	if got := p.next(); got != tok {
		if got == "" {
			return fmt.Errorf("expected %q, got end of input", tok)
		}
		return fmt.Errorf("expected %q, got %q", tok, got)
	}
	return nil
}

func (p *typeParser) parse(allowRef bool) (TypeTag, error) {
	tok := p.next()
	switch {
	case tok == "":
		return TypeTag{}, fmt.Errorf("empty type")
	case tok == "&":
		if !allowRef {
			return TypeTag{}, fmt.Errorf("reference types are not allowed here")
		}
		mutable := false
		if p.peek() == "mut" {
			p.next()
			mutable = true
		}
		inner, err := p.parse(false)
		if err != nil {
			return TypeTag{}, err
		}
		return ReferenceTo(inner, mutable), nil
	case tok == "vector":
		if err := p.expect("<"); err != nil {
			return TypeTag{}, err
		}
		elem, err := p.parse(false)
		if err != nil {
			return TypeTag{}, err
		}
		if err := p.expect(">"); err != nil {
			return TypeTag{}, err
		}
		return VectorOf(elem), nil
	}

	if prim, ok := primitiveNames[tok]; ok {
		return prim, nil
	}
	if idx, ok := genericIndex(tok); ok {
		return GenericOf(idx), nil
	}
	return p.parseStruct(tok)
}

func (p *typeParser) parseStruct(addrTok string) (TypeTag, error) {
	if !strings.HasPrefix(addrTok, "0x") && !strings.HasPrefix(addrTok, "0X") {
		return TypeTag{}, fmt.Errorf("unknown type %q", addrTok)
	}
	addr, err := ParseAddress(addrTok)
	if err != nil {
		return TypeTag{}, err
	}
	if err := p.expect("::"); err != nil {
		return TypeTag{}, err
	}
	module := p.next()
	if !isIdentifier(module) {
		return TypeTag{}, fmt.Errorf("invalid module name %q", module)
	}
	if err := p.expect("::"); err != nil {
		return TypeTag{}, err
	}
	name := p.next()
	if !isIdentifier(name) {
		return TypeTag{}, fmt.Errorf("invalid struct name %q", name)
	}

	var args []TypeTag
	if p.peek() == "<" {
		p.next()
		for {
			arg, err := p.parse(false)
			if err != nil {
				return TypeTag{}, err
			}
			args = append(args, arg)
			if p.peek() == "," {
				p.next()
				continue
			}
			if err := p.expect(">"); err != nil {
				return TypeTag{}, err
			}
			break
		}
	}
	return StructOf(addr, module, name, args...), nil
}

func genericIndex(tok string) (uint16, bool) {
	if len(tok) < 2 || tok[0] != 'T' {
		return 0, false
	}
	n, err := strconv.Atoi(tok[1:])
	if err != nil {
		return 0, false
	}
	idx, err := safecast.Conv[uint16](n)
	if err != nil {
		return 0, false
	}
	return idx, true
}

func isIdentifier(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}
