package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	hostlink "github.com/wippyai/wasm-hostlink"
)

// Op tags the first word of a thunk.
type Op = Word

const (
	opInvalid Op = iota
	// OpCallRaw is [OpCallRaw, routine].
	OpCallRaw
	// OpCallRawEx is [OpCallRawEx, routine, userdata].
	OpCallRawEx
)

// ErrNone is returned by routines that completed normally.
var ErrNone error

// Traps raised by the dispatcher.
var (
	ErrMissingImport  = errors.New("missing imported function")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrInvalidOpcode  = errors.New("invalid thunk opcode")
	ErrInvalidRoutine = errors.New("invalid routine address")
)

// dispatcher returns the wazero host function bound to an import slot. It
// reads the slot's compiled entry on every call, so linking after
// instantiation takes effect immediately.
func (rt *Runtime) dispatcher(fn *Function) api.GoModuleFunc {
	return func(ctx context.Context, caller api.Module, stack []uint64) {
		if err := rt.dispatch(ctx, fn, caller, stack); err != nil {
			panic(err)
		}
	}
}

func (rt *Runtime) dispatch(ctx context.Context, fn *Function, caller api.Module, stack []uint64) error {
	if fn.Compiled.IsZero() {
		return fmt.Errorf("%w: %s", ErrMissingImport, fn.Import)
	}

	nparams, nresults := len(fn.Type.Params), len(fn.Type.Results)
	frame := max(nparams, nresults)
	base := rt.sp
	if base+frame > len(rt.stack) {
		return fmt.Errorf("%w: calling %s", ErrStackOverflow, fn.Import)
	}

	copy(rt.stack[base:base+nparams], stack[:nparams])
	rt.sp = base + frame
	defer func() { rt.sp = base }()

	var mem hostlink.Memory
	if caller != nil {
		if m := caller.Memory(); m != nil {
			mem = NewMemory(m)
		}
	}

	if err := rt.Execute(ctx, fn.Compiled, StackPointer(base), mem); err != nil {
		return err
	}
	copy(stack[:nresults], rt.stack[base:base+nresults])
	return nil
}

// Execute interprets the thunk at pc with its frame starting at sp.
func (rt *Runtime) Execute(ctx context.Context, pc PC, sp StackPointer, mem hostlink.Memory) error {
	code := pc.Words()
	if len(code) == 0 {
		return fmt.Errorf("%w at %s", ErrInvalidOpcode, pc)
	}

	switch code[0] {
	case OpCallRaw:
		if len(code) < 2 {
			return fmt.Errorf("%w: truncated call at %s", ErrInvalidOpcode, pc)
		}
		fn, ok := rt.routine(code[1]).(RawFunc)
		if !ok {
			return fmt.Errorf("%w: %d", ErrInvalidRoutine, code[1])
		}
		return fn(ctx, rt, sp, mem)
	case OpCallRawEx:
		if len(code) < 3 {
			return fmt.Errorf("%w: truncated call at %s", ErrInvalidOpcode, pc)
		}
		fn, ok := rt.routine(code[1]).(RawFuncEx)
		if !ok {
			return fmt.Errorf("%w: %d", ErrInvalidRoutine, code[1])
		}
		return fn(ctx, rt, sp, mem, code[2])
	default:
		return fmt.Errorf("%w: 0x%x at %s", ErrInvalidOpcode, code[0], pc)
	}
}
