// Package errors provides structured error types for wasm-hostlink.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the import path, the Go and wasm types involved, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseLinking, errors.KindSignatureMismatch).
//		Path("env", "add").
//		GoType("func(int32) int64").
//		WasmType("i(ii)").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.FunctionNotFound(errors.PhaseLinking, "env", "missing")
//	err := errors.AllocationFailed(errors.PhaseLinking, "code page", 3)
//
// The package sentinels carry only a Kind and match any error of that kind:
//
//	if errors.Is(err, hlerrors.ErrFunctionNotFound) { /* optional import */ }
package errors
