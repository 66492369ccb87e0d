package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-hostlink/wasm"
)

// fib32 exports "fib": func(i32) -> i32, computed recursively.
var fib32 = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, 0x01, 0x06, 0x01, 0x60, 0x01, 0x7f, 0x01,
	0x7f, 0x03, 0x02, 0x01, 0x00, 0x07, 0x07, 0x01, 0x03, 0x66, 0x69, 0x62, 0x00, 0x00, 0x0a,
	0x1f, 0x01, 0x1d, 0x00, 0x20, 0x00, 0x41, 0x02, 0x49, 0x04, 0x40, 0x20, 0x00, 0x0f, 0x0b,
	0x20, 0x00, 0x41, 0x02, 0x6b, 0x10, 0x00, 0x20, 0x00, 0x41, 0x01, 0x6b, 0x10, 0x00, 0x6a,
	0x0f, 0x0b,
}

type importSpec struct {
	module string
	field  string
	sig    string
}

// importer builds a module with one linear memory page that imports every
// importSpec and exports "call_<field>", which forwards its parameters to the
// import and returns its result.
func importer(name string, specs ...importSpec) []byte {
	m := &wasm.Module{
		Memories: []wasm.MemoryType{{Min: 1}},
		Name:     name,
	}
	for i, s := range specs {
		m.Types = append(m.Types, MustParseSignature(s.sig).funcType())
		m.Imports = append(m.Imports, wasm.Import{
			Module: s.module, Name: s.field, Kind: wasm.KindFunc, TypeIdx: uint32(i),
		})
	}
	for i, s := range specs {
		var body []byte
		for p := range m.Types[i].Params {
			body = append(body, 0x20, byte(p)) // local.get p
		}
		body = append(body, 0x10, byte(i), 0x0b) // call i; end

		m.Funcs = append(m.Funcs, uint32(i))
		m.Code = append(m.Code, wasm.FuncBody{Code: body})
		m.Exports = append(m.Exports, wasm.Export{
			Name: "call_" + s.field, Kind: wasm.KindFunc, Idx: uint32(len(specs) + i),
		})
	}
	return m.Encode()
}

type fixture struct {
	ctx context.Context
	env *Environment
	rt  *Runtime
}

func newFixture(t *testing.T, cfg *RuntimeConfig) *fixture {
	t.Helper()
	ctx := context.Background()

	env, err := NewEnvironment(&Config{Mode: ModeInterpreter})
	require.NoError(t, err)
	rt, err := NewRuntime(ctx, env, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = rt.Close(ctx)
		_ = env.Close(ctx)
	})
	return &fixture{ctx: ctx, env: env, rt: rt}
}

func (f *fixture) load(t *testing.T, data []byte) Module {
	t.Helper()
	parsed, err := Parse(f.env, data)
	require.NoError(t, err)
	mod, err := f.rt.LoadModule(f.ctx, parsed)
	require.NoError(t, err)
	return mod
}

func (f *fixture) call(t *testing.T, mod Module, export string, args ...any) (any, error) {
	t.Helper()
	fn, err := mod.FindFunction(f.ctx, f.rt, export)
	require.NoError(t, err)
	return fn.Call(f.ctx, args...)
}
