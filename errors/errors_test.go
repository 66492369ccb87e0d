package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseLinking,
				Kind:     KindSignatureMismatch,
				Path:     []string{"env", "add"},
				GoType:   "func(int32) int32",
				WasmType: "i(ii)",
				Detail:   "arity differs",
			},
			contains: []string{"[linking]", "signature_mismatch", "env.add", "func(int32) int32", "i(ii)", "arity differs"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseLookup,
				Kind:  KindNotFound,
			},
			contains: []string{"[lookup]", "not_found"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseLinking,
				Kind:   KindAllocation,
				Detail: "code page",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[linking]", "allocation", "code page", "caused by", "underlying error"},
		},
		{
			name:     "sentinel without phase",
			err:      ErrFunctionNotFound,
			contains: []string{"not_found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseParse,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseLinking,
		Kind:  KindSignatureMismatch,
		Path:  []string{"env", "f"},
	}

	if !err.Is(&Error{Phase: PhaseLinking, Kind: KindSignatureMismatch}) {
		t.Error("Is should match same phase and kind")
	}

	if err.Is(&Error{Phase: PhaseLookup, Kind: KindSignatureMismatch}) {
		t.Error("Is should not match different phase")
	}

	if err.Is(&Error{Phase: PhaseLinking, Kind: KindNotFound}) {
		t.Error("Is should not match different kind")
	}

	if !errors.Is(err, ErrSignatureMismatch) {
		t.Error("errors.Is should match the phase-less sentinel")
	}
	if errors.Is(err, ErrFunctionNotFound) {
		t.Error("errors.Is should not match a sentinel of another kind")
	}
}

func TestSentinelsThroughWrapping(t *testing.T) {
	inner := FunctionNotFound(PhaseLinking, "env", "missing")
	wrapped := Wrap(PhaseLoad, KindInvalidData, inner, "link libc")

	if !errors.Is(wrapped, ErrFunctionNotFound) {
		t.Error("sentinel should be found through the cause chain")
	}

	var target *Error
	if !errors.As(wrapped, &target) || target.Phase != PhaseLoad {
		t.Errorf("errors.As returned %v", target)
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseLinking, KindSignatureMismatch).
		Path("env", "add").
		GoType("func(int64) int32").
		WasmType("i(i)").
		Value(42).
		Cause(cause).
		Detail("expected %s, got %s", "i32", "i64").
		Build()

	if err.Phase != PhaseLinking {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseLinking)
	}
	if err.Kind != KindSignatureMismatch {
		t.Errorf("Kind = %v, want %v", err.Kind, KindSignatureMismatch)
	}
	if len(err.Path) != 2 || err.Path[0] != "env" || err.Path[1] != "add" {
		t.Errorf("Path = %v, want [env add]", err.Path)
	}
	if err.GoType != "func(int64) int32" {
		t.Errorf("GoType = %v", err.GoType)
	}
	if err.WasmType != "i(i)" {
		t.Errorf("WasmType = %v, want 'i(i)'", err.WasmType)
	}
	if err.Value != 42 {
		t.Errorf("Value = %v, want 42", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "expected i32, got i64" {
		t.Errorf("Detail = %v, want 'expected i32, got i64'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("ModuleTooLarge", func(t *testing.T) {
		err := ModuleTooLarge(1<<33, 1<<32-1)
		if err.Kind != KindModuleTooLarge || err.Phase != PhaseParse {
			t.Errorf("Kind=%v Phase=%v", err.Kind, err.Phase)
		}
		if !errors.Is(err, ErrModuleTooLarge) {
			t.Error("should match ErrModuleTooLarge")
		}
	})

	t.Run("FunctionNotFound", func(t *testing.T) {
		err := FunctionNotFound(PhaseLinking, "env", "nope")
		if err.Kind != KindNotFound {
			t.Errorf("Kind = %v, want %v", err.Kind, KindNotFound)
		}
		if !strings.Contains(err.Error(), "env.nope") {
			t.Errorf("message %q should name the import", err.Error())
		}
	})

	t.Run("IndexOutOfBounds", func(t *testing.T) {
		err := IndexOutOfBounds(PhaseLookup, 10, 5)
		if !errors.Is(err, ErrFunctionNotFound) {
			t.Error("index miss should match ErrFunctionNotFound")
		}
		if err.Value != 10 {
			t.Errorf("Value = %v, want 10", err.Value)
		}
	})

	t.Run("SignatureMismatch", func(t *testing.T) {
		err := SignatureMismatch(PhaseLinking, []string{"env", "f"}, "i(i)", "I(I)")
		if err.WasmType != "I(I)" {
			t.Errorf("WasmType = %v", err.WasmType)
		}
		if !strings.Contains(err.Detail, "i(i)") {
			t.Errorf("Detail = %v", err.Detail)
		}
	})

	t.Run("AllocationFailed", func(t *testing.T) {
		err := AllocationFailed(PhaseLinking, "code page", 3)
		if !errors.Is(err, ErrOutOfMemory) {
			t.Error("should match ErrOutOfMemory")
		}
		if !strings.Contains(err.Detail, "3 words") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("RuntimeMismatch", func(t *testing.T) {
		err := RuntimeMismatch("fib")
		if !errors.Is(err, ErrRuntimeMismatch) {
			t.Error("should match ErrRuntimeMismatch")
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		err := Unsupported(PhaseLinking, "wasi after instantiation")
		if err.Kind != KindUnsupported {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupported)
		}
	})

	t.Run("Trap", func(t *testing.T) {
		cause := errors.New("unreachable")
		err := Trap("run", cause)
		if !errors.Is(err, cause) {
			t.Error("trap should unwrap to its cause")
		}
	})
}

func TestIsAs(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", SignatureMismatch(PhaseLinking, []string{"env", "f"}, "i()", "v()"))

	if !Is(wrapped, ErrSignatureMismatch) {
		t.Error("Is should see through fmt wrapping")
	}
	e, ok := As(wrapped)
	if !ok || e.Kind != KindSignatureMismatch {
		t.Errorf("As = %v, %v", e, ok)
	}
	if _, ok := As(errors.New("plain")); ok {
		t.Error("As should not match a plain error")
	}
}
