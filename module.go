package composer

import "context"

// Module binds a known module interface to a session. Calls made through
// it use that interface instead of fetching one, unless the session already
// holds an interface for the same module.
type Module struct {
	composer *Composer
	abi      *MoveModule
	function string // "address::module::" prefix
}

// Module binds abi to the session.
func (c *Composer) Module(abi *MoveModule) *Module {
	return &Module{
		composer: c,
		abi:      abi,
		function: abi.ID().String() + "::",
	}
}

// ID returns the module identifier.
func (m *Module) ID() ModuleID {
	return m.abi.ID()
}

// ABI returns the bound interface.
func (m *Module) ABI() *MoveModule {
	return m.abi
}

// HasFunction returns true if the module exposes a function with the given name.
func (m *Module) HasFunction(name string) bool {
	_, ok := m.abi.Function(name)
	return ok
}

// Invoke appends a call to the named function.
func (m *Module) Invoke(ctx context.Context, function string, typeArgs []any, args ...any) ([]ResultRef, error) {
	return m.composer.AddBatchedCall(ctx, BatchedFunction{
		Function:      m.function + function,
		TypeArguments: typeArgs,
		Arguments:     args,
		Module:        m.abi,
	})
}
