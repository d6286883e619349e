package composer

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"fortio.org/safecast"
	"github.com/branched-services/go-scriptcomposer/bcs"
)

// Engine validates and serializes the call graph of one session.
// An Engine is not safe for concurrent use.
type Engine interface {
	// LoadModule makes a module's functions and structs known to the engine.
	// Loading the same module twice is a no-op.
	LoadModule(m *MoveModule) error

	// LoadTypeTag checks that every struct named by t is known.
	LoadTypeTag(t TypeTag) error

	// AppendCall records a call and returns one reference per return value.
	AppendCall(module ModuleID, function string, typeArgs []TypeTag, args []CallArgument) ([]ResultRef, error)

	// Serialize validates the whole graph and encodes it as a script
	// payload. withMetadata embeds the signature of every called function.
	Serialize(withMetadata bool) ([]byte, error)
}

// preludeArtifact describes framework structs the engine knows without
// loading their modules.
//
//go:embed prelude.json
var preludeArtifact []byte

var (
	runtimeOnce sync.Once
	runtimeInst *EngineRuntime
	runtimeErr  error
)

// EngineRuntime is the process-wide engine state. It is built once from the
// embedded prelude and is read-only afterwards, so it can create engines
// for any number of sessions concurrently.
type EngineRuntime struct {
	prelude map[ModuleID]*MoveModule
}

// Runtime returns the process-wide engine runtime, initializing it on first
// use. Concurrent first calls initialize it exactly once.
func Runtime() (*EngineRuntime, error) {
	runtimeOnce.Do(func() {
		runtimeInst, runtimeErr = newEngineRuntime(preludeArtifact)
	})
	return runtimeInst, runtimeErr
}

func newEngineRuntime(artifact []byte) (*EngineRuntime, error) {
	var modules []*MoveModule
	if err := json.Unmarshal(artifact, &modules); err != nil {
		return nil, fmt.Errorf("composer: load engine prelude: %w", err)
	}
	r := &EngineRuntime{prelude: make(map[ModuleID]*MoveModule, len(modules))}
	for _, m := range modules {
		r.prelude[m.ID()] = m
	}
	return r, nil
}

// InPrelude reports whether the runtime already knows the module's structs.
func (r *EngineRuntime) InPrelude(id ModuleID) bool {
	_, ok := r.prelude[id]
	return ok
}

// NewEngine creates an engine for a transaction with the given number of
// signers.
func (r *EngineRuntime) NewEngine(signers int) Engine {
	return &batchEngine{
		runtime: r,
		session: engineSessions.Add(1),
		signers: signers,
		modules: make(map[ModuleID]*MoveModule),
	}
}

// engineCall is an appended call with its generic signature.
type engineCall struct {
	call    BatchedCall
	fn      *MoveFunction
	params  []TypeTag
	returns []TypeTag
}

// engineSessions numbers engines so refs from another session are rejected.
var engineSessions atomic.Uint64

// batchEngine is the default Engine.
type batchEngine struct {
	runtime *EngineRuntime
	session uint64
	signers int
	modules map[ModuleID]*MoveModule
	calls   []engineCall
}

func (e *batchEngine) LoadModule(m *MoveModule) error {
	if m == nil {
		return fmt.Errorf("composer: nil module")
	}
	if _, ok := e.modules[m.ID()]; ok {
		return nil
	}
	e.modules[m.ID()] = m
	return nil
}

func (e *batchEngine) LoadTypeTag(t TypeTag) error {
	for _, st := range t.structs() {
		def, ok := e.structDef(st)
		if !ok {
			return &TypeResolutionError{Input: t.String(), Err: fmt.Errorf("struct %s::%s is not loaded", st.ModuleID(), st.Name)}
		}
		if len(def.GenericTypeParams) != len(st.TypeArgs) {
			return &TypeResolutionError{Input: t.String(), Err: fmt.Errorf("struct %s::%s expects %d type arguments, got %d",
				st.ModuleID(), st.Name, len(def.GenericTypeParams), len(st.TypeArgs))}
		}
	}
	return nil
}

func (e *batchEngine) structDef(st *StructTag) (*MoveStruct, bool) {
	m, ok := e.modules[st.ModuleID()]
	if !ok {
		m, ok = e.runtime.prelude[st.ModuleID()]
	}
	if !ok {
		return nil, false
	}
	return m.Struct(st.Name)
}

func (e *batchEngine) AppendCall(module ModuleID, function string, typeArgs []TypeTag, args []CallArgument) ([]ResultRef, error) {
	index := len(e.calls)
	fail := func(format string, args ...any) error {
		return &EngineValidationError{CallIndex: index, Err: fmt.Errorf(format, args...)}
	}

	m, ok := e.modules[module]
	if !ok {
		return nil, fail("module %s is not loaded", module)
	}
	fn, ok := m.Function(function)
	if !ok {
		return nil, fail("function %s::%s does not exist", module, function)
	}
	if len(typeArgs) != len(fn.GenericTypeParams) {
		return nil, fail("function %s::%s expects %d type arguments, got %d",
			module, function, len(fn.GenericTypeParams), len(typeArgs))
	}
	for _, t := range typeArgs {
		if !t.IsConcrete() {
			return nil, fail("type argument %s is not concrete", t)
		}
		if err := e.LoadTypeTag(t); err != nil {
			return nil, fail("%v", err)
		}
	}
	params, err := fn.ParamTypes()
	if err != nil {
		return nil, fail("%v", err)
	}
	returns, err := fn.ReturnTypes()
	if err != nil {
		return nil, fail("%v", err)
	}
	if len(args) != len(params) {
		return nil, fail("function %s::%s expects %d arguments, got %d", module, function, len(params), len(args))
	}

	callIdx, err := safecast.Conv[uint16](index)
	if err != nil {
		return nil, fail("too many calls in one script")
	}
	refs := make([]ResultRef, len(returns))
	for i := range returns {
		slot, err := safecast.Conv[uint16](i)
		if err != nil {
			return nil, fail("too many return values")
		}
		refs[i] = ResultRef{session: e.session, call: callIdx, slot: slot, mode: AccessMove}
	}

	e.calls = append(e.calls, engineCall{
		call: BatchedCall{
			Module:   module,
			Function: function,
			TypeArgs: append([]TypeTag(nil), typeArgs...),
			Args:     append([]CallArgument(nil), args...),
		},
		fn:      fn,
		params:  params,
		returns: returns,
	})
	return refs, nil
}

func (e *batchEngine) Serialize(withMetadata bool) ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}

	prog := &Program{Version: ProgramVersion, Calls: make([]BatchedCall, len(e.calls))}
	for i, c := range e.calls {
		prog.Calls[i] = c.call
	}
	if withMetadata {
		prog.Signatures = e.signatures()
	}

	code, err := bcs.Serialize(prog)
	if err != nil {
		return nil, &EngineValidationError{CallIndex: -1, Err: err}
	}
	payload := &ScriptPayload{Code: code}
	out, err := payload.Bytes()
	if err != nil {
		return nil, &EngineValidationError{CallIndex: -1, Err: err}
	}
	return out, nil
}

// signatures lists each called function once, in first-use order.
func (e *batchEngine) signatures() []FunctionSignature {
	sigs := make([]FunctionSignature, 0, len(e.calls))
	seen := make(map[string]bool)
	for _, c := range e.calls {
		key := c.call.Module.String() + "::" + c.call.Function
		if seen[key] {
			continue
		}
		seen[key] = true
		// generic parameter counts are bounded by AppendCall's type argument check
		count, _ := safecast.Conv[uint16](len(c.fn.GenericTypeParams))
		sigs = append(sigs, FunctionSignature{
			Module:            c.call.Module,
			Function:          c.call.Function,
			GenericParamCount: count,
			Params:            c.params,
			Returns:           c.returns,
		})
	}
	return sigs
}

// validate checks every argument of every call against the declared
// parameter type, in call order.
func (e *batchEngine) validate() error {
	type slotKey struct{ call, slot uint16 }
	moved := make(map[slotKey]bool)

	for k, c := range e.calls {
		for i, arg := range c.call.Args {
			fail := func(format string, args ...any) error {
				return &EngineValidationError{CallIndex: k, Err: fmt.Errorf("argument %d: %w", i, fmt.Errorf(format, args...))}
			}
			param, err := c.params[i].Substitute(c.call.TypeArgs)
			if err != nil {
				return fail("%v", err)
			}
			inner, _, _ := param.Deref()

			switch a := arg.(type) {
			case RawArgument:
				if inner.Kind == KindSigner {
					return fail("signer parameter cannot take a raw value")
				}

			case SignerArgument:
				if inner.Kind != KindSigner {
					return fail("signer passed to parameter of type %s", param)
				}
				if a.Index() >= e.signers {
					return fail("signer %d out of range (%d signers)", a.Index(), e.signers)
				}

			case ResultRef:
				if a.session != e.session {
					return fail("%s was issued by another session", a)
				}
				if a.CallIndex() >= k {
					return fail("%s does not refer to an earlier call", a)
				}
				producer := e.calls[a.CallIndex()]
				if a.Slot() >= len(producer.returns) {
					return fail("%s: call %d returns %d values", a, a.CallIndex(), len(producer.returns))
				}
				ret, err := producer.returns[a.Slot()].Substitute(producer.call.TypeArgs)
				if err != nil {
					return fail("%v", err)
				}
				key := slotKey{a.call, a.slot}
				if moved[key] {
					return fail("%s used after it was moved", a)
				}
				if err := e.checkFlow(ret, param, a.Mode()); err != nil {
					return fail("%s: %v", a, err)
				}
				if _, _, isRef := ret.Deref(); a.Mode() == AccessMove && !isRef {
					moved[key] = true
				}

			default:
				return fail("unsupported call argument %T", arg)
			}
		}
	}
	return nil
}

// checkFlow reports whether a value of type ret, consumed with mode, can be
// passed to a parameter of type param.
func (e *batchEngine) checkFlow(ret, param TypeTag, mode AccessMode) error {
	retInner, retMut, retIsRef := ret.Deref()
	paramInner, paramMut, paramIsRef := param.Deref()

	switch mode {
	case AccessMove:
		if retIsRef {
			if !paramIsRef || !retInner.Equal(paramInner) || (paramMut && !retMut) {
				return fmt.Errorf("cannot pass %s as %s", ret, param)
			}
			return nil
		}
		if !ret.Equal(param) {
			return fmt.Errorf("cannot pass %s as %s", ret, param)
		}
	case AccessCopy:
		if retIsRef {
			return fmt.Errorf("cannot copy reference %s", ret)
		}
		if !e.hasCopy(ret) {
			return fmt.Errorf("type %s does not have the copy ability", ret)
		}
		if !ret.Equal(param) {
			return fmt.Errorf("cannot pass %s as %s", ret, param)
		}
	case AccessBorrow, AccessBorrowMut:
		if retIsRef {
			return fmt.Errorf("cannot borrow reference %s", ret)
		}
		wantMut := mode == AccessBorrowMut
		if !paramIsRef || paramMut != wantMut || !retInner.Equal(paramInner) {
			return fmt.Errorf("cannot pass %s of %s as %s", mode, ret, param)
		}
	default:
		return fmt.Errorf("unknown access mode %s", mode)
	}
	return nil
}

func (e *batchEngine) hasCopy(t TypeTag) bool {
	switch t.Kind {
	case KindSigner, KindReference, KindGeneric:
		return false
	case KindVector:
		return e.hasCopy(*t.Elem)
	case KindStruct:
		def, ok := e.structDef(t.Struct)
		if !ok || !def.HasAbility("copy") {
			return false
		}
		for _, arg := range t.Struct.TypeArgs {
			if !e.hasCopy(arg) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
