package composer

import (
	"errors"
	"testing"

	"github.com/branched-services/go-scriptcomposer/bcs"
	"github.com/google/go-cmp/cmp"
)

func testProgram(withMetadata bool) *Program {
	coin := ModuleID{Address: AddressOne, Name: "coin"}
	p := &Program{
		Version: ProgramVersion,
		Calls: []BatchedCall{
			{
				Module:   coin,
				Function: "withdraw",
				TypeArgs: []TypeTag{MustParseTypeTag(aptosCoin)},
				Args:     []CallArgument{Signer(0), NewRawArgument([]byte{100, 0, 0, 0, 0, 0, 0, 0})},
			},
			{
				Module:   coin,
				Function: "deposit",
				TypeArgs: []TypeTag{MustParseTypeTag(aptosCoin)},
				Args:     []CallArgument{NewRawArgument(testRecipient[:]), ResultRef{call: 0, slot: 0}},
			},
		},
	}
	if withMetadata {
		p.Signatures = []FunctionSignature{{
			Module:            coin,
			Function:          "withdraw",
			GenericParamCount: 1,
			Params:            []TypeTag{ReferenceTo(TypeSigner, false), TypeU64},
			Returns:           []TypeTag{StructOf(AddressOne, "coin", "Coin", GenericOf(0))},
		}}
	}
	return p
}

func TestProgramRoundTrip(t *testing.T) {
	for _, withMetadata := range []bool{false, true} {
		name := "without metadata"
		if withMetadata {
			name = "with metadata"
		}
		t.Run(name, func(t *testing.T) {
			encoded, err := bcs.Serialize(testProgram(withMetadata))
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			if string(encoded[:4]) != "MVBC" {
				t.Errorf("Expected magic prefix, got %q", encoded[:4])
			}

			decoded, err := DecodeProgram(encoded)
			if err != nil {
				t.Fatalf("DecodeProgram: %v", err)
			}
			if decoded.HasMetadata() != withMetadata {
				t.Errorf("Expected HasMetadata=%v", withMetadata)
			}
			if len(decoded.Calls) != 2 {
				t.Fatalf("Expected 2 calls, got %d", len(decoded.Calls))
			}

			again, err := bcs.Serialize(decoded)
			if err != nil {
				t.Fatalf("Serialize: %v", err)
			}
			if diff := cmp.Diff(encoded, again); diff != "" {
				t.Errorf("Re-encoded program differs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeProgramErrors(t *testing.T) {
	good, err := bcs.Serialize(testProgram(false))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	mutate := func(i int, b byte) []byte {
		out := append([]byte(nil), good...)
		out[i] = b
		return out
	}

	tests := []struct {
		name    string
		input   []byte
		wantErr error
	}{
		{"bad magic", mutate(0, 'X'), ErrInvalidProgram},
		{"bad version", mutate(4, 9), ErrInvalidProgram},
		{"unknown flags", mutate(5, 0x80), ErrInvalidProgram},
		{"truncated", good[:len(good)-1], bcs.ErrUnexpectedEOF},
		{"trailing", append(append([]byte(nil), good...), 0), bcs.ErrTrailingBytes},
		{"empty", nil, bcs.ErrUnexpectedEOF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeProgram(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestScriptPayload(t *testing.T) {
	code, err := bcs.Serialize(testProgram(true))
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	payload := &ScriptPayload{
		Code: code,
		Args: []ScriptArgument{
			{Variant: 1, Value: []byte{1, 0, 0, 0, 0, 0, 0, 0}},
			{Variant: 4, Value: []byte("hello")},
		},
	}

	encoded, err := payload.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	if encoded[0] != payloadVariantScript {
		t.Errorf("Expected script variant, got %d", encoded[0])
	}

	decoded, err := DecodeScriptPayload(encoded)
	if err != nil {
		t.Fatalf("DecodeScriptPayload: %v", err)
	}
	if diff := cmp.Diff(payload.Args, decoded.Args); diff != "" {
		t.Errorf("Arguments differ (-want +got):\n%s", diff)
	}
	prog, err := decoded.Program()
	if err != nil {
		t.Fatalf("Program: %v", err)
	}
	if len(prog.Signatures) != 1 || prog.Signatures[0].GenericParamCount != 1 {
		t.Errorf("Unexpected signatures %+v", prog.Signatures)
	}

	t.Run("wrong width", func(t *testing.T) {
		bad := &ScriptPayload{Args: []ScriptArgument{{Variant: 1, Value: []byte{1}}}}
		if _, err := bad.Bytes(); err == nil {
			t.Error("Expected error")
		}
	})

	t.Run("not a script", func(t *testing.T) {
		if _, err := DecodeScriptPayload([]byte{2, 0}); !errors.Is(err, ErrNotScriptPayload) {
			t.Errorf("Expected ErrNotScriptPayload, got %v", err)
		}
	})
}
