package engine

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	hostlink "github.com/wippyai/wasm-hostlink"
	"github.com/wippyai/wasm-hostlink/errors"
)

const (
	// DefaultStackSize is the value stack size in bytes.
	DefaultStackSize = 64 * 1024
	// DefaultCodePageWords is the size of a freshly allocated code page.
	DefaultCodePageWords = 256
)

// RuntimeConfig holds configuration for runtime creation
type RuntimeConfig struct {
	// StackSize is the value stack size in bytes. Each slot is 8 bytes.
	StackSize uint32

	// CodePageWords is the capacity of a new code page in words.
	CodePageWords int

	// MaxCodePages caps the number of code pages. 0 means unlimited.
	MaxCodePages int

	// WASI configures modules linked with WASI.
	WASI WASIConfig
}

// WASIConfig is the process view given to WASI-linked modules.
type WASIConfig struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Args   []string
	Env    map[string]string
}

// RawFunc is a host routine called through an OpCallRaw thunk. Arguments
// start at sp; results are written back starting at sp.
type RawFunc func(ctx context.Context, rt *Runtime, sp StackPointer, mem hostlink.Memory) error

// RawFuncEx is RawFunc with the userdata word embedded in an OpCallRawEx thunk.
type RawFuncEx func(ctx context.Context, rt *Runtime, sp StackPointer, mem hostlink.Memory, userdata Word) error

// StackPointer is a slot index into a runtime's value stack.
type StackPointer int

// Runtime is one execution context: a wazero runtime, a value stack, the
// code pages holding linked thunks and the routines they call.
//
// A Runtime is not safe for concurrent use.
type Runtime struct {
	env *Environment
	cfg RuntimeConfig
	wz  wazero.Runtime

	stack []uint64
	sp    int

	pages    []*CodePage
	routines []any // RawFunc or RawFuncEx

	modules []*Module
	seq     int
	started time.Time
	closed  bool

	wasiNames map[string]struct{}
}

// NewRuntime creates a runtime in env. The runtime holds a reference to env
// until it is closed.
func NewRuntime(ctx context.Context, env *Environment, cfg *RuntimeConfig) (*Runtime, error) {
	rt := &Runtime{env: env, started: time.Now()}
	if cfg != nil {
		rt.cfg = *cfg
	}
	if rt.cfg.StackSize == 0 {
		rt.cfg.StackSize = DefaultStackSize
	}
	if rt.cfg.CodePageWords <= 0 {
		rt.cfg.CodePageWords = DefaultCodePageWords
	}
	if rt.cfg.StackSize < 8 {
		return nil, errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("stack size %d is smaller than one slot", rt.cfg.StackSize))
	}

	rt.stack = make([]uint64, rt.cfg.StackSize/8)
	rt.wz = wazero.NewRuntimeWithConfig(ctx, env.runtimeConfig())
	env.Retain()

	Logger().Debug("runtime created",
		zap.Int("stack_slots", len(rt.stack)),
		zap.Int("code_page_words", rt.cfg.CodePageWords),
		zap.Int("max_code_pages", rt.cfg.MaxCodePages))
	return rt, nil
}

// Environment returns the environment the runtime was created in.
func (rt *Runtime) Environment() *Environment {
	return rt.env
}

// Config returns the effective runtime configuration.
func (rt *Runtime) Config() RuntimeConfig {
	return rt.cfg
}

// NumStackSlots is the total number of 64-bit slots in the value stack.
func (rt *Runtime) NumStackSlots() int {
	return len(rt.stack)
}

// StackBase is the first slot of the value stack.
func (rt *Runtime) StackBase() StackPointer {
	return 0
}

// Slots returns a view of n slots starting at sp. The view is clamped to
// the end of the stack.
func (rt *Runtime) Slots(sp StackPointer, n int) []uint64 {
	start := int(sp)
	if start < 0 || start > len(rt.stack) || n < 0 {
		return nil
	}
	end := min(start+n, len(rt.stack))
	return rt.stack[start:end:end]
}

// RegisterRoutine adds fn to the routine table and returns its address.
func (rt *Runtime) RegisterRoutine(fn RawFunc) Word {
	rt.routines = append(rt.routines, fn)
	return Word(len(rt.routines))
}

// RegisterRoutineEx adds fn to the routine table and returns its address.
func (rt *Runtime) RegisterRoutineEx(fn RawFuncEx) Word {
	rt.routines = append(rt.routines, fn)
	return Word(len(rt.routines))
}

func (rt *Runtime) routine(addr Word) any {
	if addr == 0 || addr > Word(len(rt.routines)) {
		return nil
	}
	return rt.routines[addr-1]
}

// Modules returns the loaded modules in load order.
func (rt *Runtime) Modules() []*Module {
	return rt.modules
}

// Closed reports whether Close has been called.
func (rt *Runtime) Closed() bool {
	return rt.closed
}

// LoadModule compiles m into the runtime. On success the runtime owns m and
// m's environment reference; on failure m is left unloaded.
func (rt *Runtime) LoadModule(ctx context.Context, m *Module) error {
	if rt.closed {
		return errors.NotInitialized(errors.PhaseLoad, "runtime")
	}
	if m.rt != nil {
		return errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("module %q is already loaded", m.Name))
	}
	if m.freed {
		return errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("module %q has been freed", m.Name))
	}
	if m.env != rt.env {
		return errors.InvalidInput(errors.PhaseLoad, "module was parsed in a different environment")
	}

	seq := rt.seq + 1
	bin, err := m.rewrite(seq)
	if err != nil {
		return errors.Load("rewrite imports", err)
	}
	compiled, err := rt.wz.CompileModule(ctx, bin)
	if err != nil {
		return errors.Load("compile module", err)
	}

	rt.seq = seq
	m.rt = rt
	m.seq = seq
	m.compiled = compiled
	rt.modules = append(rt.modules, m)

	Logger().Debug("module loaded",
		zap.String("module", m.Name),
		zap.Int("seq", seq),
		zap.Int("functions", len(m.Functions)))
	return nil
}

// Close tears down the wazero runtime and every module loaded into it, then
// drops the runtime's environment references. It is safe to call twice.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.closed {
		return nil
	}
	rt.closed = true

	err := rt.wz.Close(ctx)
	for _, m := range rt.modules {
		m.instance = nil
		if rerr := rt.env.Release(ctx); err == nil {
			err = rerr
		}
	}
	if rerr := rt.env.Release(ctx); err == nil {
		err = rerr
	}

	Logger().Debug("runtime closed",
		zap.Int("modules", len(rt.modules)),
		zap.Int("code_pages", len(rt.pages)),
		zap.Int("routines", len(rt.routines)))
	rt.pages = nil
	rt.routines = nil
	return err
}
