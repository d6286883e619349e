package composer

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions. The typed errors below
// unwrap to one of these so callers can use errors.Is.
var (
	// ErrModuleNotFound indicates the interface source has no such module.
	ErrModuleNotFound = errors.New("composer: module not found")

	// ErrModuleMismatch indicates a pre-supplied module interface does not
	// describe the module being called.
	ErrModuleMismatch = errors.New("composer: supplied module does not match call target")

	// ErrFunctionNotFound indicates the module does not expose the function.
	ErrFunctionNotFound = errors.New("composer: function not found")

	// ErrInvalidFunctionID indicates a malformed "address::module::function" string.
	ErrInvalidFunctionID = errors.New("composer: invalid function identifier")

	// ErrTypeResolution indicates a type argument could not be parsed or loaded.
	ErrTypeResolution = errors.New("composer: type resolution failed")

	// ErrTypeArgumentCountMismatch indicates the wrong number of type arguments.
	ErrTypeArgumentCountMismatch = errors.New("composer: type argument count mismatch")

	// ErrArgumentCountMismatch indicates the wrong number of arguments.
	ErrArgumentCountMismatch = errors.New("composer: argument count mismatch")

	// ErrArgumentEncoding indicates a value does not fit its parameter type.
	ErrArgumentEncoding = errors.New("composer: argument encoding failed")

	// ErrSessionAlreadyFinalized indicates Build was already called.
	ErrSessionAlreadyFinalized = errors.New("composer: session already finalized")

	// ErrSessionFailed indicates an earlier error left the session unusable.
	ErrSessionFailed = errors.New("composer: session failed earlier and must be discarded")

	// ErrNilSession indicates a build function returned no session.
	ErrNilSession = errors.New("composer: build function returned a nil session")

	// ErrEngineValidation indicates the engine rejected the call graph.
	ErrEngineValidation = errors.New("composer: engine rejected call graph")
)

// ModuleNotFoundError indicates the requested module does not exist.
type ModuleNotFoundError struct {
	Module ModuleID
	Err    error
}

func (e *ModuleNotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("composer: could not find module ABI for '%s': %v", e.Module, e.Err)
	}
	return fmt.Sprintf("composer: could not find module ABI for '%s'", e.Module)
}

func (e *ModuleNotFoundError) Is(target error) bool {
	return target == ErrModuleNotFound
}

func (e *ModuleNotFoundError) Unwrap() error {
	return e.Err
}

// FunctionNotFoundError indicates the module doesn't expose the requested function.
type FunctionNotFoundError struct {
	Module   ModuleID
	Function string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("composer: could not find function ABI for '%s::%s'", e.Module, e.Function)
}

func (e *FunctionNotFoundError) Unwrap() error {
	return ErrFunctionNotFound
}

// TypeResolutionError indicates a type expression could not be resolved.
type TypeResolutionError struct {
	Input string
	Err   error
}

func (e *TypeResolutionError) Error() string {
	return fmt.Sprintf("composer: cannot resolve type %q: %v", e.Input, e.Err)
}

func (e *TypeResolutionError) Is(target error) bool {
	return target == ErrTypeResolution
}

func (e *TypeResolutionError) Unwrap() error {
	return e.Err
}

// TypeArgumentCountError indicates a call supplied the wrong number of
// type arguments for the function's generic parameters.
type TypeArgumentCountError struct {
	Function string
	Expected int
	Got      int
}

func (e *TypeArgumentCountError) Error() string {
	return fmt.Sprintf("composer: type argument count mismatch for %s, expected %d, received %d",
		e.Function, e.Expected, e.Got)
}

func (e *TypeArgumentCountError) Unwrap() error {
	return ErrTypeArgumentCountMismatch
}

// TypeMismatchError indicates a value's type doesn't match the expected parameter type.
type TypeMismatchError struct {
	Expected string
	Got      string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("composer: type mismatch: expected %s, got %s", e.Expected, e.Got)
}

// ArgumentError indicates an issue with a function argument.
// Position is zero-based.
type ArgumentError struct {
	Function string
	Position int
	Err      error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("composer: argument %d for function %q: %v", e.Position, e.Function, e.Err)
}

func (e *ArgumentError) Is(target error) bool {
	return target == ErrArgumentEncoding
}

func (e *ArgumentError) Unwrap() error {
	return e.Err
}

// EngineValidationError wraps an error raised by the engine while
// appending a call or serializing the graph.
type EngineValidationError struct {
	CallIndex int // -1 when the error is not tied to one call
	Err       error
}

func (e *EngineValidationError) Error() string {
	if e.CallIndex >= 0 {
		return fmt.Sprintf("composer: engine rejected call %d: %v", e.CallIndex, e.Err)
	}
	return fmt.Sprintf("composer: engine rejected call graph: %v", e.Err)
}

func (e *EngineValidationError) Is(target error) bool {
	return target == ErrEngineValidation
}

func (e *EngineValidationError) Unwrap() error {
	return e.Err
}
