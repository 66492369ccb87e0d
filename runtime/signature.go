package runtime

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-hostlink/errors"
	"github.com/wippyai/wasm-hostlink/wasm"
)

// Signature is the argument and result contract of a host or guest
// function. Types must match an import slot exactly; nothing is widened.
type Signature struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// NewSignature builds a contract with at most one result.
func NewSignature(params []api.ValueType, result ...api.ValueType) Signature {
	return Signature{Params: params, Results: result}
}

// String renders the contract in compact signature notation, e.g. "i(iI)".
func (s Signature) String() string {
	return s.funcType().String()
}

// Equal reports whether both contracts have the same arity and types.
func (s Signature) Equal(other Signature) bool {
	return s.funcType().Equal(other.funcType())
}

func (s Signature) funcType() wasm.FuncType {
	ft := wasm.FuncType{
		Params:  make([]wasm.ValType, len(s.Params)),
		Results: make([]wasm.ValType, len(s.Results)),
	}
	for i, t := range s.Params {
		ft.Params[i] = wasm.ValType(t)
	}
	for i, t := range s.Results {
		ft.Results[i] = wasm.ValType(t)
	}
	return ft
}

func signatureOf(ft wasm.FuncType) Signature {
	s := Signature{}
	for _, t := range ft.Params {
		s.Params = append(s.Params, api.ValueType(t))
	}
	for _, t := range ft.Results {
		s.Results = append(s.Results, api.ValueType(t))
	}
	return s
}

// ParseSignature parses compact signature notation: a result code followed by
// parameter codes in parentheses. Codes are v (no result), i (i32), I (i64),
// f (f32), F (f64) and * (a 32-bit pointer).
func ParseSignature(text string) (Signature, error) {
	open := strings.IndexByte(text, '(')
	if open < 0 || !strings.HasSuffix(text, ")") {
		return Signature{}, errors.InvalidInput(errors.PhaseLinking, fmt.Sprintf("malformed signature %q", text))
	}

	var sig Signature
	switch ret := text[:open]; len(ret) {
	case 0:
	case 1:
		if ret[0] != 'v' {
			t, err := sigCode(ret[0])
			if err != nil {
				return Signature{}, err
			}
			sig.Results = []api.ValueType{t}
		}
	default:
		return Signature{}, errors.InvalidInput(errors.PhaseLinking, fmt.Sprintf("signature %q has more than one result", text))
	}

	for _, c := range []byte(text[open+1 : len(text)-1]) {
		t, err := sigCode(c)
		if err != nil {
			return Signature{}, err
		}
		sig.Params = append(sig.Params, t)
	}
	return sig, nil
}

// MustParseSignature is ParseSignature for literals known to be valid.
func MustParseSignature(text string) Signature {
	sig, err := ParseSignature(text)
	if err != nil {
		panic(err)
	}
	return sig
}

func sigCode(c byte) (api.ValueType, error) {
	switch c {
	case 'i', '*':
		return api.ValueTypeI32, nil
	case 'I':
		return api.ValueTypeI64, nil
	case 'f':
		return api.ValueTypeF32, nil
	case 'F':
		return api.ValueTypeF64, nil
	default:
		return 0, errors.InvalidInput(errors.PhaseLinking, fmt.Sprintf("unknown signature code %q", c))
	}
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// closureShape is the reflected calling convention of a Go closure.
type closureShape struct {
	fn      reflect.Value
	in      []reflect.Type // wasm parameters only
	out     reflect.Type   // nil for no value result
	sig     Signature
	withCtx bool
	withErr bool
}

// SignatureOf derives the contract of a Go function. Parameters and the
// optional result may be int32, uint32, int64, uint64, float32 or float64
// (or named types of those kinds). A leading context.Context and a
// trailing error result are allowed and do not appear in the contract.
func SignatureOf(fn any) (Signature, error) {
	shape, err := shapeOf(fn)
	if err != nil {
		return Signature{}, err
	}
	return shape.sig, nil
}

func shapeOf(fn any) (*closureShape, error) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		goType := "nil"
		if fn != nil {
			goType = reflect.TypeOf(fn).String()
		}
		return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
			GoType(goType).
			Detail("closure must be a non-nil function").
			Build()
	}

	t := rv.Type()
	shape := &closureShape{fn: rv}
	if t.IsVariadic() {
		return nil, shapeError(t, "variadic functions are not supported")
	}

	for i := 0; i < t.NumIn(); i++ {
		in := t.In(i)
		if i == 0 && in == contextType {
			shape.withCtx = true
			continue
		}
		vt, ok := valueTypeOf(in)
		if !ok {
			return nil, shapeError(t, fmt.Sprintf("parameter %d has unsupported type %s", i, in))
		}
		shape.in = append(shape.in, in)
		shape.sig.Params = append(shape.sig.Params, vt)
	}

	outs := t.NumOut()
	if outs > 0 && t.Out(outs-1) == errorType {
		shape.withErr = true
		outs--
	}
	switch outs {
	case 0:
	case 1:
		out := t.Out(0)
		vt, ok := valueTypeOf(out)
		if !ok {
			return nil, shapeError(t, fmt.Sprintf("result has unsupported type %s", out))
		}
		shape.out = out
		shape.sig.Results = []api.ValueType{vt}
	default:
		return nil, shapeError(t, "at most one value result is supported")
	}
	return shape, nil
}

func shapeError(t reflect.Type, detail string) error {
	return errors.New(errors.PhaseHost, errors.KindInvalidInput).
		GoType(t.String()).
		Detail("%s", detail).
		Build()
}

func valueTypeOf(t reflect.Type) (api.ValueType, bool) {
	switch t.Kind() {
	case reflect.Int32, reflect.Uint32:
		return api.ValueTypeI32, true
	case reflect.Int64, reflect.Uint64:
		return api.ValueTypeI64, true
	case reflect.Float32:
		return api.ValueTypeF32, true
	case reflect.Float64:
		return api.ValueTypeF64, true
	default:
		return 0, false
	}
}

// validateSignature checks a contract against a slot's declared type.
func validateSignature(phase errors.Phase, path []string, want Signature, slot wasm.FuncType) error {
	if !want.funcType().Equal(slot) {
		return errors.SignatureMismatch(phase, path, want.String(), slot.String())
	}
	return nil
}
