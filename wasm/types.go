package wasm

import "strings"

// Module is the subset of a WebAssembly module needed to build a function
// table and rewrite imports. Sections that do not affect the function index
// space are skipped during decoding.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices for declared functions
	Memories []MemoryType
	Exports  []Export
	Start    *uint32
	Code     []FuncBody

	// Name and FuncNames come from the custom "name" section.
	Name      string
	FuncNames map[uint32]string

	CustomSections []CustomSection
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// String renders the type in compact signature notation, e.g. "i(iI)".
func (ft FuncType) String() string {
	var b strings.Builder
	switch len(ft.Results) {
	case 0:
		b.WriteByte('v')
	default:
		for _, r := range ft.Results {
			b.WriteByte(r.Code())
		}
	}
	b.WriteByte('(')
	for _, p := range ft.Params {
		b.WriteByte(p.Code())
	}
	b.WriteByte(')')
	return b.String()
}

// Equal reports whether two function types are identical.
func (ft FuncType) Equal(other FuncType) bool {
	if len(ft.Params) != len(other.Params) || len(ft.Results) != len(other.Results) {
		return false
	}
	for i := range ft.Params {
		if ft.Params[i] != other.Params[i] {
			return false
		}
	}
	for i := range ft.Results {
		if ft.Results[i] != other.Results[i] {
			return false
		}
	}
	return true
}

// ValType represents a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// Code returns the single-letter signature code for the type.
func (v ValType) Code() byte {
	switch v {
	case ValI32:
		return 'i'
	case ValI64:
		return 'I'
	case ValF32:
		return 'f'
	case ValF64:
		return 'F'
	default:
		return '?'
	}
}

// Import represents an imported function, table, memory, global, or tag.
// Only function imports keep their type index; other descriptors are skipped.
type Import struct {
	Module  string
	Name    string
	Kind    byte
	TypeIdx uint32
	Memory  *MemoryType
}

// Export represents an exported item.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// MemoryType describes linear memory limits in 64KiB pages.
type MemoryType struct {
	Max *uint32
	Min uint32
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// FuncBody holds a function's locals and its raw instruction bytes
// (terminated by the end opcode).
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// CustomSection holds a named custom section.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of function imports, which occupy the
// first indices of the function index space.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumFuncs returns the size of the function index space.
func (m *Module) NumFuncs() int {
	return m.NumImportedFuncs() + len(m.Funcs)
}

// FuncTypeAt returns the type of the function at index idx.
func (m *Module) FuncTypeAt(idx uint32) (FuncType, bool) {
	var typeIdx uint32
	n := uint32(0)
	found := false
	for _, imp := range m.Imports {
		if imp.Kind != KindFunc {
			continue
		}
		if n == idx {
			typeIdx = imp.TypeIdx
			found = true
			break
		}
		n++
	}
	if !found {
		local := idx - n
		if idx < n || int(local) >= len(m.Funcs) {
			return FuncType{}, false
		}
		typeIdx = m.Funcs[local]
	}
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}
