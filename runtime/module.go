package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostlink/engine"
	"github.com/wippyai/wasm-hostlink/errors"
)

// Module is a token for a module loaded into a runtime. It is a small
// comparable value that owns nothing: copying or dropping it has no effect,
// and the runtime tears the module down when it closes.
//
// Every method takes the runtime the module was loaded into and panics with
// errors.ErrRuntimeMismatch when given another one.
type Module struct {
	raw *engine.Module
	rt  *engine.Runtime
}

// rtCheck enforces that a token is only used with its own runtime.
func (m Module) rtCheck(rt *Runtime) {
	if m.raw == nil || rt == nil || rt.raw != m.rt {
		name := "<nil>"
		if m.raw != nil {
			name = m.raw.Name
		}
		panic(errors.RuntimeMismatch(name))
	}
}

// Name returns the module name from its name section, or ".unnamed".
func (m Module) Name(rt *Runtime) string {
	m.rtCheck(rt)
	return m.raw.Name
}

// FindFunction looks a function up by name, first match in table order,
// and prepares the module for calls.
func (m Module) FindFunction(ctx context.Context, rt *Runtime, name string) (*Function, error) {
	m.rtCheck(rt)
	fn, ok := m.raw.FindFunction(name)
	if !ok {
		return nil, errors.FunctionNotFound(errors.PhaseLookup, m.raw.Name, name)
	}
	return m.function(ctx, rt, fn)
}

// FunctionAt looks a function up by its index in the function table, where
// imports come first.
func (m Module) FunctionAt(ctx context.Context, rt *Runtime, index int) (*Function, error) {
	m.rtCheck(rt)
	fn, ok := m.raw.FunctionAt(index)
	if !ok {
		return nil, errors.IndexOutOfBounds(errors.PhaseLookup, index, len(m.raw.Functions))
	}
	return m.function(ctx, rt, fn)
}

func (m Module) function(ctx context.Context, rt *Runtime, fn *engine.Function) (*Function, error) {
	if err := m.raw.Instantiate(ctx); err != nil {
		return nil, err
	}
	return &Function{module: m, rt: rt, raw: fn, sig: signatureOf(fn.Type)}, nil
}

// LinkWASI serves the module's wasi_snapshot_preview1 imports from the
// engine's WASI implementation. Imports linked explicitly take precedence.
// It must be called before the first function lookup.
func (m Module) LinkWASI(rt *Runtime) error {
	m.rtCheck(rt)
	if err := m.raw.EnableWASI(); err != nil {
		return err
	}
	Logger().Debug("wasi linked", zap.String("module", m.raw.Name))
	return nil
}

// LinkLibC links the engine's libc routines into the module's "env"
// imports. Routines the module does not import are skipped.
func (m Module) LinkLibC(rt *Runtime) error {
	m.rtCheck(rt)
	linked := 0
	for _, lf := range engine.LibC() {
		sig, err := ParseSignature(lf.Signature)
		if err != nil {
			return err
		}
		err = m.LinkFunction(rt, engine.LibCNamespace, lf.Name, sig, lf.Fn)
		if errors.Is(err, errors.ErrFunctionNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		linked++
	}
	Logger().Debug("libc linked", zap.String("module", m.raw.Name), zap.Int("functions", linked))
	return nil
}

// FunctionInfo describes one function table entry.
type FunctionInfo struct {
	Index     int
	Name      string
	Names     []string
	Import    *engine.ImportName
	Signature Signature
	Linked    bool
}

// Functions lists the function table: imports first, then definitions.
// Linked reports whether an import slot has a thunk.
func (m Module) Functions(rt *Runtime) []FunctionInfo {
	m.rtCheck(rt)
	out := make([]FunctionInfo, len(m.raw.Functions))
	for i, fn := range m.raw.Functions {
		out[i] = FunctionInfo{
			Index:     int(fn.Index),
			Name:      fn.Name(),
			Names:     fn.Names,
			Import:    fn.Import,
			Signature: signatureOf(fn.Type),
			Linked:    !fn.IsImport() || !fn.Compiled.IsZero(),
		}
	}
	return out
}
