package runtime

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-hostlink/engine"
	"github.com/wippyai/wasm-hostlink/errors"
)

// Value is the set of Go types that carry a wasm scalar.
type Value interface {
	~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// Function is a callable handle to an entry in a module's function table.
type Function struct {
	module Module
	rt     *Runtime
	raw    *engine.Function
	sig    Signature
}

// Name returns the function's primary name, or "" if it has none.
func (f *Function) Name() string {
	return f.raw.Name()
}

// Index returns the function's position in the module's table.
func (f *Function) Index() int {
	return int(f.raw.Index)
}

// Module returns the token of the module the function was found in.
func (f *Function) Module() Module {
	return f.module
}

// Signature returns the function's declared contract.
func (f *Function) Signature() Signature {
	return f.sig
}

// Validate checks the function against an expected contract.
func (f *Function) Validate(sig Signature) error {
	return validateSignature(errors.PhaseLookup, []string{f.module.raw.Name, f.Name()}, sig, f.raw.Type)
}

// CallRaw calls the function with encoded arguments and returns the encoded
// results.
func (f *Function) CallRaw(ctx context.Context, params ...uint64) ([]uint64, error) {
	if f.rt.raw.Closed() {
		return nil, errors.NotInitialized(errors.PhaseCall, "runtime")
	}
	if len(params) != len(f.sig.Params) {
		return nil, errors.InvalidInput(errors.PhaseCall,
			fmt.Sprintf("%s takes %d arguments, got %d", f.describe(), len(f.sig.Params), len(params)))
	}
	if err := f.module.raw.Instantiate(ctx); err != nil {
		return nil, err
	}
	results, err := f.module.raw.Call(ctx, f.raw, params...)
	if err != nil {
		return nil, errors.Trap(f.describe(), err)
	}
	return results, nil
}

// Call converts args to the function's parameter types, calls it and
// returns the decoded result: int32, int64, float32 or float64, or nil for
// a function without results.
//
// Integer arguments may be any Go integer type whose value fits the
// parameter; float arguments must be float32 or float64.
func (f *Function) Call(ctx context.Context, args ...any) (any, error) {
	if len(args) != len(f.sig.Params) {
		return nil, errors.InvalidInput(errors.PhaseCall,
			fmt.Sprintf("%s takes %d arguments, got %d", f.describe(), len(f.sig.Params), len(args)))
	}
	params := make([]uint64, len(args))
	for i, arg := range args {
		v, err := encodeArg(arg, f.sig.Params[i])
		if err != nil {
			return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
				Path(f.describe()).
				Cause(err).
				Detail("argument %d", i).
				Build()
		}
		params[i] = v
	}

	results, err := f.CallRaw(ctx, params...)
	if err != nil {
		return nil, err
	}
	if len(f.sig.Results) == 0 {
		return nil, nil
	}
	return decodeResult(results[0], f.sig.Results[0]), nil
}

// Invoke calls f and converts its single result to R. The result's wasm
// type must match R's kind.
func Invoke[R Value](ctx context.Context, f *Function, args ...any) (R, error) {
	var zero R
	rt := reflect.TypeOf(zero)
	want, _ := valueTypeOf(rt)
	if len(f.sig.Results) != 1 || f.sig.Results[0] != want {
		return zero, errors.New(errors.PhaseCall, errors.KindSignatureMismatch).
			Path(f.describe()).
			GoType(rt.String()).
			WasmType(f.sig.String()).
			Detail("result type does not match").
			Build()
	}

	res, err := f.Call(ctx, args...)
	if err != nil {
		return zero, err
	}
	return reflect.ValueOf(res).Convert(rt).Interface().(R), nil
}

func (f *Function) describe() string {
	if name := f.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("func#%d", f.raw.Index)
}

func encodeArg(arg any, vt api.ValueType) (uint64, error) {
	rv := reflect.ValueOf(arg)
	switch vt {
	case api.ValueTypeI32:
		switch {
		case rv.CanInt():
			n := rv.Int()
			if n < math.MinInt32 || n > math.MaxUint32 {
				return 0, fmt.Errorf("%d overflows i32", n)
			}
			return api.EncodeU32(uint32(n)), nil
		case rv.CanUint():
			n := rv.Uint()
			if n > math.MaxUint32 {
				return 0, fmt.Errorf("%d overflows i32", n)
			}
			return api.EncodeU32(uint32(n)), nil
		}
	case api.ValueTypeI64:
		switch {
		case rv.CanInt():
			return api.EncodeI64(rv.Int()), nil
		case rv.CanUint():
			return rv.Uint(), nil
		}
	case api.ValueTypeF32:
		if rv.CanFloat() {
			return api.EncodeF32(float32(rv.Float())), nil
		}
	case api.ValueTypeF64:
		if rv.CanFloat() {
			return api.EncodeF64(rv.Float()), nil
		}
	}
	return 0, fmt.Errorf("cannot pass %T as %s", arg, api.ValueTypeName(vt))
}

func decodeResult(v uint64, vt api.ValueType) any {
	switch vt {
	case api.ValueTypeI32:
		return api.DecodeI32(v)
	case api.ValueTypeI64:
		return int64(v)
	case api.ValueTypeF32:
		return api.DecodeF32(v)
	case api.ValueTypeF64:
		return api.DecodeF64(v)
	default:
		return v
	}
}
