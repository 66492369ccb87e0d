package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostlink/engine"
	"github.com/wippyai/wasm-hostlink/errors"
)

// Runtime is an execution context that modules are loaded into. It owns the
// code pages and closures created by linking, and releases them on Close.
//
// A Runtime is not safe for concurrent use.
type Runtime struct {
	raw      *engine.Runtime
	env      *Environment
	closures *closureRegistry
	shimAddr engine.Word
}

// NewRuntime creates a runtime in env. A nil config selects defaults.
func NewRuntime(ctx context.Context, env *Environment, cfg *RuntimeConfig) (*Runtime, error) {
	if env == nil || env.closed {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "environment")
	}
	raw, err := engine.NewRuntime(ctx, env.raw, cfg)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		raw:      raw,
		env:      env,
		closures: newClosureRegistry(),
	}
	rt.shimAddr = raw.RegisterRoutineEx(rt.shim)
	return rt, nil
}

// Engine returns the underlying engine runtime.
func (r *Runtime) Engine() *engine.Runtime {
	return r.raw
}

// Environment returns the environment the runtime was created in.
func (r *Runtime) Environment() *Environment {
	return r.env
}

// LoadModule registers pm with the runtime and returns its token. The
// runtime takes ownership of pm.
func (r *Runtime) LoadModule(ctx context.Context, pm *ParsedModule) (Module, error) {
	if pm == nil {
		return Module{}, errors.InvalidInput(errors.PhaseLoad, "nil module")
	}
	if pm.env != r.env {
		return Module{}, errors.InvalidInput(errors.PhaseLoad, "module was parsed in a different environment")
	}
	if err := r.raw.LoadModule(ctx, pm.raw); err != nil {
		return Module{}, err
	}
	pm.loaded = true
	return Module{raw: pm.raw, rt: r.raw}, nil
}

// Modules returns tokens for the loaded modules in load order.
func (r *Runtime) Modules() []Module {
	loaded := r.raw.Modules()
	out := make([]Module, len(loaded))
	for i, m := range loaded {
		out[i] = Module{raw: m, rt: r.raw}
	}
	return out
}

// FindFunction searches every loaded module in load order.
func (r *Runtime) FindFunction(ctx context.Context, name string) (*Function, error) {
	for _, m := range r.Modules() {
		if _, ok := m.raw.FindFunction(name); ok {
			return m.FindFunction(ctx, r, name)
		}
	}
	return nil, errors.FunctionNotFound(errors.PhaseLookup, name)
}

// Close shuts the engine down, then releases every linked closure in the
// order it was linked. It is safe to call twice.
func (r *Runtime) Close(ctx context.Context) error {
	if r.raw.Closed() {
		return nil
	}
	closures := r.closures.len()
	err := r.raw.Close(ctx)
	r.closures.release()
	Logger().Debug("runtime closed", zap.Int("closures", closures))
	return err
}
