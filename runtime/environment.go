package runtime

import (
	"context"

	"github.com/wippyai/wasm-hostlink/engine"
	"github.com/wippyai/wasm-hostlink/errors"
	"github.com/wippyai/wasm-hostlink/wasm"
)

// Config, RuntimeConfig and WASIConfig are the engine's configuration types.
type (
	Config        = engine.Config
	RuntimeConfig = engine.RuntimeConfig
	WASIConfig    = engine.WASIConfig
)

// Mode selects how the engine executes guest code.
type Mode = engine.Mode

const (
	ModeAuto        = engine.ModeAuto
	ModeInterpreter = engine.ModeInterpreter
	ModeCompiler    = engine.ModeCompiler
)

// MaxModuleSize is the largest module the engine can address.
const MaxModuleSize = wasm.MaxModuleSize

// Environment is shared by runtimes and parsed modules. Parsed modules and
// runtimes keep it alive; Close drops only the caller's own reference.
type Environment struct {
	raw    *engine.Environment
	closed bool
}

// NewEnvironment creates an environment. A nil config selects defaults.
func NewEnvironment(cfg *Config) (*Environment, error) {
	raw, err := engine.NewEnvironment(cfg)
	if err != nil {
		return nil, err
	}
	return &Environment{raw: raw}, nil
}

// Engine returns the underlying engine environment.
func (e *Environment) Engine() *engine.Environment {
	return e.raw
}

// Close releases the caller's reference. It is safe to call twice.
func (e *Environment) Close(ctx context.Context) error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.raw.Release(ctx)
}

// ParsedModule is a decoded module not yet registered with a runtime.
type ParsedModule struct {
	raw    *engine.Module
	env    *Environment
	loaded bool
}

// Parse decodes a module. Inputs longer than MaxModuleSize fail with
// errors.ErrModuleTooLarge before any decoding happens.
func Parse(env *Environment, data []byte) (*ParsedModule, error) {
	if uint64(len(data)) > MaxModuleSize {
		return nil, errors.ModuleTooLarge(uint64(len(data)), MaxModuleSize)
	}
	if env == nil || env.closed {
		return nil, errors.NotInitialized(errors.PhaseParse, "environment")
	}

	raw, err := env.raw.ParseModule(data)
	if err != nil {
		return nil, err
	}
	return &ParsedModule{raw: raw, env: env}, nil
}

// Environment returns the environment the module was parsed in.
func (pm *ParsedModule) Environment() *Environment {
	return pm.env
}

// Name returns the module name, or ".unnamed".
func (pm *ParsedModule) Name() string {
	return pm.raw.Name
}

// Close frees a module that was never loaded. Loaded modules belong to
// their runtime and Close does nothing for them.
func (pm *ParsedModule) Close(ctx context.Context) error {
	if pm.loaded {
		return nil
	}
	return pm.raw.Free(ctx)
}
