// Package engine is the execution layer under the runtime package.
//
// It wraps wazero and adds the primitives host linking is built on: a value
// stack, code pages holding link thunks, a routine table, and one dispatcher
// per import slot.
//
// # Architecture
//
//	Environment - compilation cache and engine mode, reference counted
//	Runtime     - wazero runtime, value stack, code pages, routines
//	Module      - decoded module with its function table
//	CodePage    - append-only words, sealed after emission
//
// # Thunks
//
// A linked import slot points at a thunk in a code page:
//
//	[OpCallRaw,   routine]            call a RawFunc
//	[OpCallRawEx, routine, userdata]  call a RawFuncEx with userdata
//
// Routine addresses are indexes into the runtime's routine table, with 0 as
// null. When the guest calls an import, the slot's dispatcher pushes the
// arguments onto the value stack, interprets the thunk, and copies the
// results back. A slot with no thunk traps with ErrMissingImport.
//
// # Loading and Instantiation
//
// LoadModule compiles a module after rewriting its function imports into a
// namespace private to the load, and exporting every function so that any
// table index is callable. Instantiation is deferred until the first call,
// which lets imports be linked in any order after loading.
//
// # Thread Safety
//
// Nothing in this package locks. A Runtime and its modules must be used by
// one goroutine at a time.
package engine
