// Package hostlink embeds a WebAssembly engine and binds host functions into
// a module's import slots.
//
// Host code is linked either as a raw routine that works directly on the
// engine's value stack, or as an ordinary Go closure whose arguments and
// result are marshalled by a generic shim. Each link writes a small thunk
// into an engine-owned code page and points the import slot at it.
//
// # Architecture Overview
//
//	hostlink/          Root package with the Memory interface
//	├── runtime/       Public API: parse, load, link, look up and call
//	├── engine/        wazero integration: stack, code pages, dispatcher
//	├── wasm/          Core WASM binary decoding, encoding and rewriting
//	├── errors/        Structured error types
//	└── cmd/run/       Command line runner with an interactive mode
//
// # Quick Start
//
//	env, err := runtime.NewEnvironment(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer env.Close(ctx)
//
//	rt, err := runtime.NewRuntime(ctx, env, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	parsed, err := runtime.Parse(env, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mod, err := rt.LoadModule(ctx, parsed)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	calls := 0
//	err = mod.LinkClosure(rt, "env", "tick", func(n int32) int32 {
//	    calls++
//	    return n + 1
//	})
//
//	fn, err := mod.FindFunction(ctx, rt, "run")
//	result, err := fn.Call(ctx, int32(10))
//
// # Ownership
//
// A loaded Module is a copyable token; it owns nothing. Code pages and linked
// closures belong to the Runtime and are released together when it closes.
//
// # Thread Safety
//
// A Runtime and everything derived from it must be confined to one goroutine
// at a time. Use one runtime per worker instead of sharing.
package hostlink
