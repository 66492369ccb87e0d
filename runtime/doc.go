// Package runtime provides the high-level API for loading modules and
// linking host functions into their imports.
//
// # Quick Start
//
//	ctx := context.Background()
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
//	fib, err := mod.FindFunction(ctx, rt, "fib")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	n, err := runtime.Invoke[int32](ctx, fib, 10)
//	fmt.Println(n) // 55
//
// # Linking
//
// Imports are linked by (module, field) name, first match in table order.
// Two forms are supported:
//
//	// A closure: arguments and result are marshalled by reflection.
//	mod.LinkClosure(rt, "env", "add", func(a, b int32) int32 { return a + b })
//
//	// A raw routine: reads and writes the engine's value stack directly.
//	mod.LinkFunction(rt, "env", "add", runtime.MustParseSignature("i(ii)"),
//	    func(ctx context.Context, ert *engine.Runtime, sp engine.StackPointer, mem hostlink.Memory) error {
//	        s := ert.Slots(sp, 2)
//	        s[0] = uint64(uint32(int32(s[0]) + int32(s[1])))
//	        return engine.ErrNone
//	    })
//
// The contract must match the import's declared type exactly. Linking fails
// with errors.ErrFunctionNotFound, errors.ErrSignatureMismatch or
// errors.ErrOutOfMemory and leaves the import untouched when it does.
// Unlinked imports trap when the guest calls them.
//
// # Type Mapping
//
//	Go Type          Wasm Type
//	───────────────────────────
//	int32/uint32     i32
//	int64/uint64     i64
//	float32          f32
//	float64          f64
//
// A closure may take a leading context.Context and return a trailing error.
// A non-nil error traps the guest call.
//
// # Lifetimes
//
// Module is a copyable token that owns nothing. Linked closures live until
// the Runtime closes; closures implementing Releaser get Release called
// once, in link order, after the engine has shut down.
//
// # Thread Safety
//
// Runtime, Module and Function are NOT thread-safe. Use one runtime per
// goroutine, or synchronize externally.
package runtime
