package composer

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// ModuleID identifies a deployed Move module.
type ModuleID struct {
	Address AccountAddress
	Name    string
}

// ParseModuleID parses "address::module".
func ParseModuleID(s string) (ModuleID, error) {
	parts := strings.Split(s, "::")
	if len(parts) != 2 || !isIdentifier(parts[1]) {
		return ModuleID{}, fmt.Errorf("composer: invalid module identifier %q", s)
	}
	addr, err := ParseAddress(parts[0])
	if err != nil {
		return ModuleID{}, err
	}
	return ModuleID{Address: addr, Name: parts[1]}, nil
}

func (m ModuleID) String() string {
	return m.Address.String() + "::" + m.Name
}

// FunctionID identifies a function as "address::module::function".
type FunctionID struct {
	Module ModuleID
	Name   string
}

// ParseFunctionID splits "address::module::function" into its parts.
func ParseFunctionID(s string) (FunctionID, error) {
	parts := strings.Split(s, "::")
	if len(parts) != 3 || !isIdentifier(parts[1]) || !isIdentifier(parts[2]) {
		return FunctionID{}, fmt.Errorf("%w: %q", ErrInvalidFunctionID, s)
	}
	addr, err := ParseAddress(parts[0])
	if err != nil {
		return FunctionID{}, fmt.Errorf("%w: %q: %v", ErrInvalidFunctionID, s, err)
	}
	return FunctionID{Module: ModuleID{Address: addr, Name: parts[1]}, Name: parts[2]}, nil
}

func (f FunctionID) String() string {
	return f.Module.String() + "::" + f.Name
}

// MoveModule is the public interface of a module as served by a fullnode.
type MoveModule struct {
	Address   AccountAddress `json:"address"`
	Name      string         `json:"name"`
	Friends   []string       `json:"friends,omitempty"`
	Functions []MoveFunction `json:"exposed_functions"`
	Structs   []MoveStruct   `json:"structs"`
}

// MoveFunction is the declared signature of a module function.
type MoveFunction struct {
	Name              string             `json:"name"`
	Visibility        string             `json:"visibility"`
	IsEntry           bool               `json:"is_entry"`
	IsView            bool               `json:"is_view"`
	GenericTypeParams []GenericTypeParam `json:"generic_type_params"`
	Params            []string           `json:"params"`
	Return            []string           `json:"return"`
}

// GenericTypeParam lists the ability constraints of one type parameter.
type GenericTypeParam struct {
	Constraints []string `json:"constraints"`
}

// MoveStruct describes a struct declared by a module.
type MoveStruct struct {
	Name              string             `json:"name"`
	IsNative          bool               `json:"is_native"`
	Abilities         []string           `json:"abilities"`
	GenericTypeParams []GenericTypeParam `json:"generic_type_params"`
	Fields            []MoveStructField  `json:"fields"`
}

// MoveStructField is one field of a struct.
type MoveStructField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ParseModuleABI parses the JSON module ABI returned by a fullnode.
func ParseModuleABI(abiJSON string) (*MoveModule, error) {
	var m MoveModule
	if err := json.Unmarshal([]byte(abiJSON), &m); err != nil {
		return nil, fmt.Errorf("composer: parse module ABI: %w", err)
	}
	if !isIdentifier(m.Name) {
		return nil, fmt.Errorf("composer: parse module ABI: invalid module name %q", m.Name)
	}
	return &m, nil
}

// MustParseModuleABI is like ParseModuleABI but panics on error.
func MustParseModuleABI(abiJSON string) *MoveModule {
	m, err := ParseModuleABI(abiJSON)
	if err != nil {
		panic(err)
	}
	return m
}

// ID returns the module identifier.
func (m *MoveModule) ID() ModuleID {
	return ModuleID{Address: m.Address, Name: m.Name}
}

// Function returns the exposed function with the given name.
func (m *MoveModule) Function(name string) (*MoveFunction, bool) {
	for i := range m.Functions {
		if m.Functions[i].Name == name {
			return &m.Functions[i], true
		}
	}
	return nil, false
}

// Struct returns the struct with the given name.
func (m *MoveModule) Struct(name string) (*MoveStruct, bool) {
	for i := range m.Structs {
		if m.Structs[i].Name == name {
			return &m.Structs[i], true
		}
	}
	return nil, false
}

// FunctionNames returns all exposed function names.
func (m *MoveModule) FunctionNames() []string {
	names := make([]string, 0, len(m.Functions))
	for _, fn := range m.Functions {
		names = append(names, fn.Name)
	}
	return names
}

// ParamTypes parses the declared parameter types.
func (f *MoveFunction) ParamTypes() ([]TypeTag, error) {
	return parseSignature(f.Params)
}

// ReturnTypes parses the declared return types.
func (f *MoveFunction) ReturnTypes() ([]TypeTag, error) {
	return parseSignature(f.Return)
}

func parseSignature(types []string) ([]TypeTag, error) {
	out := make([]TypeTag, len(types))
	for i, s := range types {
		t, err := parseSignatureType(s)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

// HasAbility reports whether the struct declares the ability ("copy",
// "drop", "store" or "key").
func (s *MoveStruct) HasAbility(ability string) bool {
	return slices.Contains(s.Abilities, ability)
}
