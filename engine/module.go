package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-hostlink/errors"
	"github.com/wippyai/wasm-hostlink/wasm"
)

// DefaultModuleName names modules without a name section.
const DefaultModuleName = ".unnamed"

const (
	hostModulePrefix = "hostlink#"
	funcExportPrefix = "hostlink:func#"
)

// ImportName is the (module, field) pair an import slot declares.
type ImportName struct {
	Module string
	Field  string
}

func (n ImportName) String() string {
	return n.Module + "." + n.Field
}

// Function is one entry in a module's function table.
type Function struct {
	// Module is the owning module. Import slots get it when linked.
	Module *Module
	Index  uint32
	// Names holds export names, then the import field, then the debug name.
	Names []string
	// Import is nil for functions defined by the module.
	Import *ImportName
	Type   wasm.FuncType
	// Compiled is the thunk an import slot dispatches through.
	Compiled PC

	// bound is set when the slot's dispatcher was installed at instantiation.
	bound bool
}

// Name returns the function's primary name, or "" if it has none.
func (f *Function) Name() string {
	if len(f.Names) == 0 {
		return ""
	}
	return f.Names[0]
}

// IsImport reports whether the function is an import slot.
func (f *Function) IsImport() bool {
	return f.Import != nil
}

// Module is a parsed module. After LoadModule it belongs to one runtime.
type Module struct {
	env     *Environment
	decoded *wasm.Module
	data    []byte

	// Name is the module name from the name section, or DefaultModuleName.
	Name string
	// Functions lists imports first, then defined functions, in index order.
	Functions []*Function

	rt       *Runtime
	seq      int
	compiled wazero.CompiledModule
	instance api.Module
	wasi     bool
	freed    bool
}

func newModule(env *Environment, decoded *wasm.Module, data []byte) *Module {
	m := &Module{env: env, decoded: decoded, data: data, Name: decoded.Name}
	if m.Name == "" {
		m.Name = DefaultModuleName
	}

	exports := make(map[uint32][]string)
	for _, exp := range decoded.Exports {
		if exp.Kind == wasm.KindFunc {
			exports[exp.Idx] = append(exports[exp.Idx], exp.Name)
		}
	}

	idx := uint32(0)
	add := func(fn *Function) {
		fn.Index = idx
		fn.Names = append(fn.Names, exports[idx]...)
		if fn.Import != nil {
			fn.Names = append(fn.Names, fn.Import.Field)
		}
		if debug, ok := decoded.FuncNames[idx]; ok {
			fn.Names = append(fn.Names, debug)
		}
		m.Functions = append(m.Functions, fn)
		idx++
	}

	for _, imp := range decoded.Imports {
		if imp.Kind != wasm.KindFunc {
			continue
		}
		add(&Function{
			Import: &ImportName{Module: imp.Module, Field: imp.Name},
			Type:   decoded.Types[imp.TypeIdx],
		})
	}
	for _, typeIdx := range decoded.Funcs {
		add(&Function{Module: m, Type: decoded.Types[typeIdx]})
	}
	return m
}

// Environment returns the environment the module was parsed in.
func (m *Module) Environment() *Environment {
	return m.env
}

// Runtime returns the runtime the module is loaded in, or nil.
func (m *Module) Runtime() *Runtime {
	return m.rt
}

// Instantiated reports whether the module has been instantiated.
func (m *Module) Instantiated() bool {
	return m.instance != nil
}

// Free releases an unloaded module's environment reference. Loaded modules
// are freed by their runtime.
func (m *Module) Free(ctx context.Context) error {
	if m.rt != nil || m.freed {
		return nil
	}
	m.freed = true
	return m.env.Release(ctx)
}

// FindImport returns the first import slot in table order matching both
// module and field.
func (m *Module) FindImport(module, field string) (*Function, bool) {
	for _, fn := range m.Functions {
		if fn.Import == nil {
			// imports come first
			break
		}
		if fn.Import.Module == module && fn.Import.Field == field {
			return fn, true
		}
	}
	return nil, false
}

// FindFunction returns the first function in table order carrying name.
func (m *Module) FindFunction(name string) (*Function, bool) {
	for _, fn := range m.Functions {
		for _, n := range fn.Names {
			if n == name {
				return fn, true
			}
		}
	}
	return nil, false
}

// FunctionAt returns the function at index.
func (m *Module) FunctionAt(index int) (*Function, bool) {
	if index < 0 || index >= len(m.Functions) {
		return nil, false
	}
	return m.Functions[index], true
}

// CanLink reports why fn cannot take a new thunk, or nil if it can.
// Once instantiated, a WASI slot left to the WASI implementation cannot be
// redirected.
func (m *Module) CanLink(fn *Function) error {
	if m.instance != nil && !fn.bound {
		return errors.Unsupported(errors.PhaseLinking,
			fmt.Sprintf("%s is served by WASI since instantiation", fn.Import))
	}
	return nil
}

// EnableWASI serves the wasi_snapshot_preview1 namespace from wazero's WASI
// implementation at instantiation. Explicitly linked slots take precedence.
func (m *Module) EnableWASI() error {
	if m.instance != nil {
		return errors.Unsupported(errors.PhaseLinking, "WASI must be linked before the module is instantiated")
	}
	m.wasi = true
	return nil
}

// WASIEnabled reports whether EnableWASI was called.
func (m *Module) WASIEnabled() bool {
	return m.wasi
}

func hostModuleName(seq int, namespace string) string {
	return hostModulePrefix + strconv.Itoa(seq) + "/" + namespace
}

func funcExportName(idx uint32) string {
	return funcExportPrefix + strconv.FormatUint(uint64(idx), 10)
}

// rewrite namespaces function imports per load and exports every function
// so any table index can be called from the host.
func (m *Module) rewrite(seq int) ([]byte, error) {
	return wasm.RewriteImports(m.data, wasm.RewriteOptions{
		ImportModule: func(imp wasm.Import) string {
			return hostModuleName(seq, imp.Module)
		},
		FuncExportName: funcExportName,
		NumFuncs:       uint32(len(m.Functions)),
	})
}

// Instantiate builds one host module per import namespace and instantiates
// the guest. It is a no-op once the module is instantiated. The start
// section runs here.
func (m *Module) Instantiate(ctx context.Context) error {
	if m.instance != nil {
		return nil
	}
	rt := m.rt
	if rt == nil {
		return errors.NotInitialized(errors.PhaseLookup, "module "+m.Name)
	}
	if rt.closed {
		return errors.NotInitialized(errors.PhaseLookup, "runtime")
	}

	var wasiNames map[string]struct{}
	if m.wasi {
		names, err := rt.wasiFunctionNames(ctx)
		if err != nil {
			return errors.Instantiation(err)
		}
		wasiNames = names
	}

	var order []string
	byNamespace := make(map[string][]*Function)
	for _, fn := range m.Functions {
		if fn.Import == nil {
			break
		}
		ns := fn.Import.Module
		if _, ok := byNamespace[ns]; !ok {
			order = append(order, ns)
		}
		byNamespace[ns] = append(byNamespace[ns], fn)
	}

	for _, ns := range order {
		builder := rt.wz.NewHostModuleBuilder(hostModuleName(m.seq, ns))
		wasiNS := m.wasi && ns == WASINamespace
		if wasiNS {
			wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
		}
		for _, fn := range byNamespace[ns] {
			if _, served := wasiNames[fn.Import.Field]; wasiNS && served && fn.Compiled.IsZero() {
				continue
			}
			builder.NewFunctionBuilder().
				WithGoModuleFunction(rt.dispatcher(fn), valueTypes(fn.Type.Params), valueTypes(fn.Type.Results)).
				WithName(fn.Import.String()).
				Export(fn.Import.Field)
			fn.bound = true
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return errors.Instantiation(fmt.Errorf("host module %q: %w", ns, err))
		}
	}

	cfg := wazero.NewModuleConfig().WithName("").WithStartFunctions()
	if m.wasi {
		cfg = rt.wasiModuleConfig(cfg)
	}
	inst, err := rt.wz.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return errors.Instantiation(err)
	}
	m.instance = inst

	Logger().Debug("module instantiated",
		zap.String("module", m.Name),
		zap.Int("namespaces", len(order)),
		zap.Bool("wasi", m.wasi))
	return nil
}

// Call invokes fn through its synthetic export, instantiating the module
// first if needed.
func (m *Module) Call(ctx context.Context, fn *Function, params ...uint64) ([]uint64, error) {
	if err := m.Instantiate(ctx); err != nil {
		return nil, err
	}
	exported := m.instance.ExportedFunction(funcExportName(fn.Index))
	if exported == nil {
		return nil, errors.FunctionNotFound(errors.PhaseCall, m.Name, fn.Name())
	}
	return exported.Call(ctx, params...)
}

// MemoryView returns the instance's linear memory, or nil if it has none or
// is not instantiated.
func (m *Module) MemoryView() *Memory {
	if m.instance == nil {
		return nil
	}
	return NewMemory(m.instance.Memory())
}

func valueTypes(types []wasm.ValType) []api.ValueType {
	if len(types) == 0 {
		return nil
	}
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		out[i] = api.ValueType(t)
	}
	return out
}
