package composer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
)

// SessionState is the lifecycle state of a Composer.
type SessionState uint8

const (
	// StateEmpty means no call has been appended yet.
	StateEmpty SessionState = iota

	// StateBuilding means at least one call has been appended.
	StateBuilding

	// StateFinalized means Build succeeded; the session is closed.
	StateFinalized

	// StateFailed means an append or build failed; the session is unusable.
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("SessionState(%d)", uint8(s))
	}
}

// BatchedFunction describes one call to append.
type BatchedFunction struct {
	// Function is "address::module::function".
	Function string

	// TypeArguments are type strings, TypeTag or *TypeTag values.
	TypeArguments []any

	// Arguments are Go values to encode, or CallArguments such as the
	// ResultRefs returned by earlier calls.
	Arguments []any

	// Module optionally supplies the module interface, skipping the fetch.
	// Its address and name must match Function; the rest is trusted.
	Module *MoveModule
}

// Composer builds one script out of a sequence of dependent calls.
// A Composer is a single-use session and is not safe for concurrent use.
type Composer struct {
	config   *composerConfig
	engine   Engine
	resolver *moduleResolver
	logger   *slog.Logger
	state    SessionState
	calls    int
}

// New creates a session that resolves module interfaces from source.
func New(source InterfaceSource, opts ...Option) (*Composer, error) {
	if source == nil {
		return nil, fmt.Errorf("composer: nil interface source")
	}
	cfg := defaultComposerConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	rt, err := Runtime()
	if err != nil {
		return nil, err
	}
	engine := cfg.newEngine(rt, cfg.signers)

	return &Composer{
		config:   cfg,
		engine:   engine,
		resolver: newModuleResolver(source, engine, rt, cfg.logger),
		logger:   cfg.logger,
		state:    StateEmpty,
	}, nil
}

// State returns the session state.
func (c *Composer) State() SessionState {
	return c.state
}

// Len returns the number of appended calls.
func (c *Composer) Len() int {
	return c.calls
}

// FetchCount returns how many module interfaces the session fetched.
func (c *Composer) FetchCount() int {
	return c.resolver.fetchCount()
}

func (c *Composer) checkOpen() error {
	switch c.state {
	case StateFinalized:
		return ErrSessionAlreadyFinalized
	case StateFailed:
		return ErrSessionFailed
	}
	return nil
}

// fail poisons the session and returns err.
func (c *Composer) fail(err error) error {
	c.state = StateFailed
	return err
}

// Prefetch resolves several modules concurrently so later calls hit the
// cache. Each module is still fetched at most once per session.
func (c *Composer) Prefetch(ctx context.Context, modules ...ModuleID) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.resolver.prefetch(ctx, modules); err != nil {
		return c.fail(err)
	}
	return nil
}

// AddBatchedCall appends a call and returns one ResultRef per declared
// return value. The refs can be passed as arguments to later calls.
func (c *Composer) AddBatchedCall(ctx context.Context, in BatchedFunction) ([]ResultRef, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	fid, err := ParseFunctionID(in.Function)
	if err != nil {
		return nil, c.fail(err)
	}

	var module *MoveModule
	if in.Module != nil {
		module, err = c.resolver.supply(fid.Module, in.Module)
	} else {
		module, err = c.resolver.resolve(ctx, fid.Module)
	}
	if err != nil {
		return nil, c.fail(err)
	}

	typeArgs := make([]TypeTag, len(in.TypeArguments))
	for i, raw := range in.TypeArguments {
		t, err := c.resolver.resolveTypeArgument(ctx, raw)
		if err != nil {
			return nil, c.fail(err)
		}
		typeArgs[i] = t
	}

	fn, ok := module.Function(fid.Name)
	if !ok {
		return nil, c.fail(&FunctionNotFoundError{Module: fid.Module, Function: fid.Name})
	}
	if len(typeArgs) != len(fn.GenericTypeParams) {
		return nil, c.fail(&TypeArgumentCountError{
			Function: fid.String(),
			Expected: len(fn.GenericTypeParams),
			Got:      len(typeArgs),
		})
	}

	params, err := fn.ParamTypes()
	if err != nil {
		return nil, c.fail(err)
	}
	if len(in.Arguments) != len(params) {
		return nil, c.fail(fmt.Errorf("%w: %s expects %d arguments, received %d",
			ErrArgumentCountMismatch, fid, len(params), len(in.Arguments)))
	}

	args := make([]CallArgument, len(in.Arguments))
	for i, raw := range in.Arguments {
		arg, err := encodeArgument(raw, params[i], typeArgs, c.config.allowUnknownStructs)
		if err != nil {
			return nil, c.fail(&ArgumentError{Function: fid.String(), Position: i, Err: err})
		}
		args[i] = arg
	}

	refs, err := c.engine.AppendCall(fid.Module, fid.Name, typeArgs, args)
	if err != nil {
		return nil, c.fail(wrapEngineError(err, c.calls))
	}

	c.logger.DebugContext(ctx, "appended batched call",
		"index", c.calls, "function", fid.String(), "type_args", len(typeArgs), "returns", len(refs))
	c.calls++
	c.state = StateBuilding
	return refs, nil
}

// Invoke is a shorthand for AddBatchedCall.
func (c *Composer) Invoke(ctx context.Context, function string, typeArgs []any, args ...any) ([]ResultRef, error) {
	return c.AddBatchedCall(ctx, BatchedFunction{
		Function:      function,
		TypeArguments: typeArgs,
		Arguments:     args,
	})
}

// Build validates the call graph and returns the serialized script payload.
// A session can be built once; later calls fail with
// ErrSessionAlreadyFinalized.
func (c *Composer) Build() ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	out, err := c.engine.Serialize(c.config.withMetadata)
	if err != nil {
		return nil, c.fail(wrapEngineError(err, -1))
	}
	c.state = StateFinalized
	c.logger.Debug("built script payload", "calls", c.calls, "bytes", len(out))
	return bytes.Clone(out), nil
}

// BuildPayload is Build followed by DecodeScriptPayload.
func (c *Composer) BuildPayload() (*ScriptPayload, error) {
	out, err := c.Build()
	if err != nil {
		return nil, err
	}
	return DecodeScriptPayload(out)
}
