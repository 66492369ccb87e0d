package engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hostlink "github.com/wippyai/wasm-hostlink"
	"github.com/wippyai/wasm-hostlink/errors"
	"github.com/wippyai/wasm-hostlink/wasm"
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
)

// forwarder builds a module importing ns.field with type ft and exporting
// "call", which passes its parameters straight through to the import.
func forwarder(ns, field string, ft wasm.FuncType) []byte {
	body := make([]byte, 0, 2*len(ft.Params)+3)
	for i := range ft.Params {
		body = append(body, 0x20, byte(i)) // local.get i
	}
	body = append(body, 0x10, 0x00, 0x0b) // call 0; end

	m := &wasm.Module{
		Types:    []wasm.FuncType{ft},
		Imports:  []wasm.Import{{Module: ns, Name: field, Kind: wasm.KindFunc, TypeIdx: 0}},
		Funcs:    []uint32{0},
		Memories: []wasm.MemoryType{{Min: 1}},
		Exports:  []wasm.Export{{Name: "call", Kind: wasm.KindFunc, Idx: 1}},
		Code:     []wasm.FuncBody{{Code: body}},
	}
	return m.Encode()
}

func newTestRuntime(t *testing.T, cfg *RuntimeConfig) *Runtime {
	t.Helper()
	ctx := context.Background()

	env, err := NewEnvironment(&Config{Mode: ModeInterpreter})
	require.NoError(t, err)
	rt, err := NewRuntime(ctx, env, cfg)
	require.NoError(t, err)
	require.NoError(t, env.Release(ctx))

	t.Cleanup(func() { _ = rt.Close(ctx) })
	return rt
}

func loadModule(t *testing.T, rt *Runtime, data []byte) *Module {
	t.Helper()
	m, err := rt.Environment().ParseModule(data)
	require.NoError(t, err)
	require.NoError(t, rt.LoadModule(context.Background(), m))
	return m
}

func linkRaw(rt *Runtime, fn *Function, routine RawFunc) {
	page := rt.AcquireCodePage(2)
	fn.Compiled = page.PC()
	page.Emit(OpCallRaw)
	page.Emit(rt.RegisterRoutine(routine))
	rt.ReleaseCodePage(page)
}

func callExport(t *testing.T, m *Module, name string, params ...uint64) ([]uint64, error) {
	t.Helper()
	fn, ok := m.FindFunction(name)
	require.True(t, ok, "export %q", name)
	return m.Call(context.Background(), fn, params...)
}

func TestNewEnvironment_RejectsUnknownMode(t *testing.T) {
	_, err := NewEnvironment(&Config{Mode: "jit"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jit")
}

func TestEnvironment_ReferenceCounting(t *testing.T) {
	ctx := context.Background()
	env, err := NewEnvironment(nil)
	require.NoError(t, err)

	env.Retain()
	require.NoError(t, env.Release(ctx))
	require.NoError(t, env.Release(ctx))

	err = env.Release(ctx)
	require.Error(t, err, "over-release must be reported")
}

func TestParseModule_InvalidData(t *testing.T) {
	ctx := context.Background()
	env, err := NewEnvironment(nil)
	require.NoError(t, err)

	_, err = env.ParseModule([]byte{0x00, 0x61, 0x73})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[parse]")

	// a failed parse takes no reference
	require.NoError(t, env.Release(ctx))
	assert.Error(t, env.Release(ctx))
}

func TestParseModule_ReservedExportName(t *testing.T) {
	ctx := context.Background()
	env, err := NewEnvironment(nil)
	require.NoError(t, err)

	m := &wasm.Module{
		Types:   []wasm.FuncType{{}},
		Funcs:   []uint32{0},
		Code:    []wasm.FuncBody{{Code: []byte{0x0b}}},
		Exports: []wasm.Export{{Name: funcExportName(0), Kind: wasm.KindFunc, Idx: 0}},
	}
	_, err = env.ParseModule(m.Encode())
	require.Error(t, err)
	assert.True(t, errors.Is(err, &errors.Error{Kind: errors.KindInvalidData}))
	assert.Contains(t, err.Error(), funcExportPrefix)

	// names that only resemble the prefix are fine
	m.Exports[0].Name = "hostlink:func"
	parsed, err := env.ParseModule(m.Encode())
	require.NoError(t, err)
	require.NoError(t, parsed.Free(ctx))
	require.NoError(t, env.Release(ctx))
}

func TestModule_FunctionTable(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := loadModule(t, rt, forwarder("env", "add", wasm.FuncType{
		Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32},
	}))

	assert.Equal(t, DefaultModuleName, m.Name)
	require.Len(t, m.Functions, 2)

	imp := m.Functions[0]
	assert.True(t, imp.IsImport())
	assert.Nil(t, imp.Module, "import slots have no owner until linked")
	assert.Equal(t, "env.add", imp.Import.String())
	assert.Equal(t, "add", imp.Name())
	assert.True(t, imp.Compiled.IsZero())

	def := m.Functions[1]
	assert.False(t, def.IsImport())
	assert.Same(t, m, def.Module)
	assert.Equal(t, []string{"call"}, def.Names)

	found, ok := m.FindImport("env", "add")
	require.True(t, ok)
	assert.Same(t, imp, found)

	_, ok = m.FindImport("env", "call")
	assert.False(t, ok, "exports are not import slots")
	_, ok = m.FindImport("other", "add")
	assert.False(t, ok)

	_, ok = m.FunctionAt(2)
	assert.False(t, ok)
	_, ok = m.FunctionAt(-1)
	assert.False(t, ok)
}

func TestFindImport_FirstMatchWins(t *testing.T) {
	ft := wasm.FuncType{}
	data := (&wasm.Module{
		Types: []wasm.FuncType{ft},
		Imports: []wasm.Import{
			{Module: "env", Name: "f", Kind: wasm.KindFunc},
			{Module: "env", Name: "f", Kind: wasm.KindFunc},
		},
	}).Encode()

	rt := newTestRuntime(t, nil)
	m := loadModule(t, rt, data)

	fn, ok := m.FindImport("env", "f")
	require.True(t, ok)
	assert.Equal(t, uint32(0), fn.Index)
}

func TestDispatch_RawRoutine(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := loadModule(t, rt, forwarder("env", "add", wasm.FuncType{
		Params: []wasm.ValType{i32, i64}, Results: []wasm.ValType{i64},
	}))

	fn, _ := m.FindImport("env", "add")
	var sawMemory bool
	linkRaw(rt, fn, func(_ context.Context, rt *Runtime, sp StackPointer, mem hostlink.Memory) error {
		sawMemory = mem != nil
		s := rt.Slots(sp, 2)
		s[0] = uint64(int64(int32(s[0])) + int64(s[1]))
		return ErrNone
	})

	res, err := callExport(t, m, "call", uint64(uint32(40)), 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res[0])
	assert.True(t, sawMemory)
	assert.Equal(t, 0, rt.sp, "stack pointer restored after the call")
}

func TestDispatch_RawRoutineEx(t *testing.T) {
	rt := newTestRuntime(t, nil)
	m := loadModule(t, rt, forwarder("env", "get", wasm.FuncType{Results: []wasm.ValType{i32}}))

	fn, _ := m.FindImport("env", "get")
	page := rt.AcquireCodePage(3)
	fn.Compiled = page.PC()
	page.Emit(OpCallRawEx)
	page.Emit(rt.RegisterRoutineEx(func(_ context.Context, rt *Runtime, sp StackPointer, _ hostlink.Memory, userdata Word) error {
		rt.Slots(sp, 1)[0] = userdata
		return ErrNone
	}))
	page.Emit(7)
	rt.ReleaseCodePage(page)

	res, err := callExport(t, m, "call")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), res[0])
}

func TestDispatch_Traps(t *testing.T) {
	ft := wasm.FuncType{Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32}}

	t.Run("missing import", func(t *testing.T) {
		rt := newTestRuntime(t, nil)
		m := loadModule(t, rt, forwarder("env", "add", ft))

		_, err := callExport(t, m, "call", 1, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ErrMissingImport.Error())
		assert.Contains(t, err.Error(), "env.add")
	})

	t.Run("stack overflow", func(t *testing.T) {
		rt := newTestRuntime(t, &RuntimeConfig{StackSize: 8})
		m := loadModule(t, rt, forwarder("env", "add", ft))
		fn, _ := m.FindImport("env", "add")
		linkRaw(rt, fn, func(context.Context, *Runtime, StackPointer, hostlink.Memory) error {
			t.Fatal("routine must not run")
			return nil
		})

		_, err := callExport(t, m, "call", 1, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ErrStackOverflow.Error())
	})

	t.Run("invalid opcode", func(t *testing.T) {
		rt := newTestRuntime(t, nil)
		m := loadModule(t, rt, forwarder("env", "add", ft))
		fn, _ := m.FindImport("env", "add")
		page := rt.AcquireCodePage(1)
		fn.Compiled = page.PC()
		page.Emit(0xdead)
		rt.ReleaseCodePage(page)

		_, err := callExport(t, m, "call", 1, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ErrInvalidOpcode.Error())
	})

	t.Run("routine error", func(t *testing.T) {
		rt := newTestRuntime(t, nil)
		m := loadModule(t, rt, forwarder("env", "add", ft))
		fn, _ := m.FindImport("env", "add")
		linkRaw(rt, fn, libcAbort)

		_, err := callExport(t, m, "call", 1, 2)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ErrAbort.Error())
		assert.Equal(t, 0, rt.sp)
	})
}

func TestCodePages(t *testing.T) {
	rt := newTestRuntime(t, &RuntimeConfig{CodePageWords: 4, MaxCodePages: 2})

	p1 := rt.AcquireCodePage(2)
	require.NotNil(t, p1)
	pc := p1.PC()
	p1.Emit(OpCallRaw)
	p1.Emit(1)
	rt.ReleaseCodePage(p1)

	// the tail of a released page is reused
	p2 := rt.AcquireCodePage(2)
	assert.Same(t, p1, p2)
	p2.Emit(OpCallRaw)
	p2.Emit(2)

	// an acquired page is not handed out twice
	p3 := rt.AcquireCodePage(1)
	require.NotNil(t, p3)
	assert.NotSame(t, p2, p3)
	p3.Emit(OpCallRaw)
	rt.ReleaseCodePage(p2)
	rt.ReleaseCodePage(p3)

	assert.Nil(t, rt.AcquireCodePage(4), "page limit reached")
	assert.Equal(t, 2, rt.NumCodePages())

	assert.Equal(t, []Word{OpCallRaw, 1, OpCallRaw, 2}, pc.Words())
	assert.Panics(t, func() { p1.Emit(3) }, "released pages are sealed")
}

func TestCodePages_OversizedRequest(t *testing.T) {
	rt := newTestRuntime(t, &RuntimeConfig{CodePageWords: 2})
	p := rt.AcquireCodePage(3)
	require.NotNil(t, p)
	assert.Equal(t, 3, p.Capacity())
}

func TestSlots(t *testing.T) {
	rt := newTestRuntime(t, &RuntimeConfig{StackSize: 32})
	assert.Equal(t, 4, rt.NumStackSlots())
	assert.Equal(t, StackPointer(0), rt.StackBase())

	assert.Len(t, rt.Slots(1, 2), 2)
	assert.Len(t, rt.Slots(3, 5), 1, "clamped to the stack end")
	assert.Nil(t, rt.Slots(5, 1))

	view := rt.Slots(1, 1)
	assert.Equal(t, 1, cap(view), "views cannot grow into neighbouring slots")
}

func TestWASI(t *testing.T) {
	yield := forwarder(WASINamespace, "sched_yield", wasm.FuncType{Results: []wasm.ValType{i32}})

	t.Run("served by wazero", func(t *testing.T) {
		rt := newTestRuntime(t, nil)
		m := loadModule(t, rt, yield)
		require.NoError(t, m.EnableWASI())

		res, err := callExport(t, m, "call")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), res[0])

		fn, _ := m.FindImport(WASINamespace, "sched_yield")
		err = m.CanLink(fn)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported")

		assert.Error(t, m.EnableWASI(), "too late after instantiation")
	})

	t.Run("explicit link overrides", func(t *testing.T) {
		rt := newTestRuntime(t, nil)
		m := loadModule(t, rt, yield)
		require.NoError(t, m.EnableWASI())

		fn, _ := m.FindImport(WASINamespace, "sched_yield")
		linkRaw(rt, fn, func(_ context.Context, rt *Runtime, sp StackPointer, _ hostlink.Memory) error {
			rt.Slots(sp, 1)[0] = 6
			return ErrNone
		})

		res, err := callExport(t, m, "call")
		require.NoError(t, err)
		assert.Equal(t, uint64(6), res[0])
		assert.NoError(t, m.CanLink(fn))
	})

	t.Run("without WASI the slot traps", func(t *testing.T) {
		rt := newTestRuntime(t, nil)
		m := loadModule(t, rt, yield)

		_, err := callExport(t, m, "call")
		require.Error(t, err)
		assert.Contains(t, err.Error(), ErrMissingImport.Error())
	})
}

func TestLibC_MemoryRoutines(t *testing.T) {
	i32x3 := wasm.FuncType{Params: []wasm.ValType{i32, i32, i32}, Results: []wasm.ValType{i32}}

	t.Run("memset", func(t *testing.T) {
		rt := newTestRuntime(t, nil)
		m := loadModule(t, rt, forwarder(LibCNamespace, "_memset", i32x3))
		fn, _ := m.FindImport(LibCNamespace, "_memset")
		linkRaw(rt, fn, libcMemset)

		res, err := callExport(t, m, "call", 16, 0xAB, 4)
		require.NoError(t, err)
		assert.Equal(t, uint64(16), res[0])

		data, err := m.MemoryView().Read(15, 6)
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 0xAB, 0xAB, 0xAB, 0xAB, 0}, data)
	})

	t.Run("memcpy overlapping", func(t *testing.T) {
		rt := newTestRuntime(t, nil)
		m := loadModule(t, rt, forwarder(LibCNamespace, "_memcpy", i32x3))
		fn, _ := m.FindImport(LibCNamespace, "_memcpy")
		linkRaw(rt, fn, libcMemcpy)
		require.NoError(t, m.Instantiate(context.Background()))

		mem := m.MemoryView()
		require.NoError(t, mem.Write(0, []byte{1, 2, 3, 4, 5}))

		res, err := callExport(t, m, "call", 1, 0, 4)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), res[0])

		data, err := mem.Read(0, 5)
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 1, 2, 3, 4}, data)
	})

	t.Run("debug", func(t *testing.T) {
		var out bytes.Buffer
		rt := newTestRuntime(t, &RuntimeConfig{WASI: WASIConfig{Stdout: &out}})
		m := loadModule(t, rt, forwarder(LibCNamespace, "_debug", wasm.FuncType{
			Params: []wasm.ValType{i32, i32}, Results: []wasm.ValType{i32},
		}))
		fn, _ := m.FindImport(LibCNamespace, "_debug")
		linkRaw(rt, fn, libcDebug)
		require.NoError(t, m.Instantiate(context.Background()))
		require.NoError(t, m.MemoryView().Write(100, []byte("hello")))

		res, err := callExport(t, m, "call", 100, 5)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), res[0])
		assert.Equal(t, "hello", out.String())
	})
}

func TestRuntime_Close(t *testing.T) {
	ctx := context.Background()
	env, err := NewEnvironment(nil)
	require.NoError(t, err)
	rt, err := NewRuntime(ctx, env, nil)
	require.NoError(t, err)

	m, err := env.ParseModule(forwarder("env", "f", wasm.FuncType{}))
	require.NoError(t, err)
	require.NoError(t, rt.LoadModule(ctx, m))
	assert.Error(t, rt.LoadModule(ctx, m), "a module loads once")

	require.NoError(t, rt.Close(ctx))
	require.NoError(t, rt.Close(ctx))
	assert.True(t, rt.Closed())

	// the runtime released its own and the module's references
	require.NoError(t, env.Release(ctx))
	assert.Error(t, env.Release(ctx))
}

// sparseMemory reads zero everywhere except the bytes it holds.
type sparseMemory map[uint32]byte

func (m sparseMemory) Read(offset, length uint32) ([]byte, error) {
	out := make([]byte, length)
	for i := range out {
		out[i] = m[offset+uint32(i)]
	}
	return out, nil
}
func (m sparseMemory) Write(offset uint32, data []byte) error {
	for i, b := range data {
		m[offset+uint32(i)] = b
	}
	return nil
}
func (m sparseMemory) ReadU8(offset uint32) (uint8, error)       { return m[offset], nil }
func (m sparseMemory) ReadU32(uint32) (uint32, error)            { return 0, nil }
func (m sparseMemory) ReadU64(uint32) (uint64, error)            { return 0, nil }
func (m sparseMemory) WriteU8(offset uint32, value uint8) error  { m[offset] = value; return nil }
func (m sparseMemory) WriteU32(uint32, uint32) error             { return nil }
func (m sparseMemory) WriteU64(uint32, uint64) error             { return nil }

func TestReadCString_AddressWrap(t *testing.T) {
	mem := sparseMemory{0xFFFFFFFE: 'h', 0xFFFFFFFF: 'i', 0x10: 'o', 0x11: 'k'}

	s, err := readCString(mem, 0x10)
	require.NoError(t, err)
	assert.Equal(t, "ok", s)

	s, err = readCString(mem, 0xFFFFFFFF)
	require.Error(t, err, "read must not continue at address 0")
	assert.Empty(t, s)

	_, err = readCString(mem, 0xFFFFFFFE)
	assert.Error(t, err)
}
