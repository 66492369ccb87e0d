package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse   Phase = "parse"   // module decoding
	PhaseLoad    Phase = "load"    // registration with a runtime
	PhaseLinking Phase = "linking" // import binding
	PhaseLookup  Phase = "lookup"  // function lookup
	PhaseCall    Phase = "call"    // host-to-guest invocation
	PhaseRuntime Phase = "runtime" // runtime operations
	PhaseHost    Phase = "host"    // host function contracts
)

// Kind categorizes the error
type Kind string

const (
	KindModuleTooLarge    Kind = "module_too_large"
	KindNotFound          Kind = "not_found"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindAllocation        Kind = "allocation"
	KindRuntimeMismatch   Kind = "runtime_mismatch"
	KindInvalidData       Kind = "invalid_data"
	KindInvalidInput      Kind = "invalid_input"
	KindUnsupported       Kind = "unsupported"
	KindNotInitialized    Kind = "not_initialized"
	KindInstantiation     Kind = "instantiation"
	KindTrap              Kind = "trap"
)

// Sentinels for errors.Is. They carry no phase, so they match any error of
// the same kind.
var (
	ErrModuleTooLarge    = &Error{Kind: KindModuleTooLarge}
	ErrFunctionNotFound  = &Error{Kind: KindNotFound}
	ErrSignatureMismatch = &Error{Kind: KindSignatureMismatch}
	ErrOutOfMemory       = &Error{Kind: KindAllocation}
	ErrRuntimeMismatch   = &Error{Kind: KindRuntimeMismatch}
)

// Error is the structured error type used throughout the module
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	GoType   string
	WasmType string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	if e.Phase != "" {
		b.WriteByte('[')
		b.WriteString(string(e.Phase))
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" || e.WasmType != "" {
		b.WriteString(": ")
		if e.GoType != "" && e.WasmType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
			b.WriteString(", wasm type ")
			b.WriteString(e.WasmType)
		} else if e.GoType != "" {
			b.WriteString("Go type ")
			b.WriteString(e.GoType)
		} else {
			b.WriteString("wasm type ")
			b.WriteString(e.WasmType)
		}
	}

	if e.Detail != "" {
		if e.GoType != "" || e.WasmType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a phase
// matches on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the path (typically module and field name)
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// WasmType sets the wasm signature or value type
func (b *Builder) WasmType(t string) *Builder {
	b.err.WasmType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// ModuleTooLarge reports a module whose byte length the engine cannot address
func ModuleTooLarge(size uint64, limit uint64) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindModuleTooLarge,
		Detail: fmt.Sprintf("module is %d bytes, limit is %d", size, limit),
		Value:  size,
	}
}

// FunctionNotFound creates a lookup miss for a name
func FunctionNotFound(phase Phase, path ...string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Path:   path,
		Detail: "function not found",
	}
}

// IndexOutOfBounds creates a lookup miss for an ordinal index
func IndexOutOfBounds(phase Phase, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("function index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// SignatureMismatch creates a contract/slot disagreement error
func SignatureMismatch(phase Phase, path []string, want, got string) *Error {
	return &Error{
		Phase:    phase,
		Kind:     KindSignatureMismatch,
		Path:     path,
		WasmType: got,
		Detail:   fmt.Sprintf("contract requires %s", want),
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, what string, words int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %s of %d words", what, words),
	}
}

// RuntimeMismatch reports a module token used with a runtime it does not belong to
func RuntimeMismatch(module string) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindRuntimeMismatch,
		Detail: fmt.Sprintf("module %q is not loaded in this runtime", module),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, path []string, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Path:   path,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error for missing module/instance
func NotInitialized(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseLookup,
		Kind:   KindInstantiation,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseParse,
		Kind:   KindInvalidData,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}

// Trap wraps a failure raised while the guest was executing
func Trap(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindTrap,
		Path:   []string{name},
		Detail: "call trapped",
		Cause:  cause,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain of type *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
