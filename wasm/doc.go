// Package wasm decodes and encodes the parts of the WebAssembly binary format
// that shape a module's function index space.
//
// The engine uses it to build function tables (imports first, then defined
// functions), to pick up debug names from the custom "name" section, and to
// rewrite import namespaces before handing bytes to the compiler.
//
// # Parsing
//
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for i := 0; i < module.NumFuncs(); i++ {
//	    ft, _ := module.FuncTypeAt(uint32(i))
//	    fmt.Println(i, ft) // e.g. "0 i(ii)"
//	}
//
// Decoding is structural: instruction bodies are kept as raw bytes and only
// the cross-section invariants the function table needs are checked. Full
// validation happens when the engine compiles the module.
//
// # Encoding
//
// Encode writes a Module back out, which is handy for assembling small
// modules in tests and examples:
//
//	m := &wasm.Module{
//	    Types:   []wasm.FuncType{{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}}},
//	    Funcs:   []uint32{0},
//	    Exports: []wasm.Export{{Name: "id", Kind: wasm.KindFunc, Idx: 0}},
//	    Code:    []wasm.FuncBody{{Code: []byte{0x20, 0x00, 0x0b}}},
//	}
//	bin := m.Encode()
//
// # Rewriting
//
// RewriteImports renames function import namespaces and can add an export
// for every function index, leaving all other sections byte-for-byte intact.
package wasm
