package runtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"

	"github.com/tetratelabs/wazero/api"

	hostlink "github.com/wippyai/wasm-hostlink"
	"github.com/wippyai/wasm-hostlink/engine"
)

var (
	errClosuresReleased = stderrors.New("closure called after runtime close")
	errStaleClosure     = stderrors.New("closure key does not belong to this runtime")
	errShortStack       = stderrors.New("stack too small for closure frame")
)

// shim is the single routine every closure thunk calls. The thunk's userdata
// word is the closure's registry key.
func (r *Runtime) shim(ctx context.Context, ert *engine.Runtime, sp engine.StackPointer, _ hostlink.Memory, key engine.Word) error {
	entry, err := r.closures.get(key)
	if err != nil {
		return err
	}

	remaining := ert.NumStackSlots() - int(sp-ert.StackBase())
	stack := ert.Slots(sp, remaining)

	if err := entry.shape.invoke(ctx, stack); err != nil {
		return fmt.Errorf("closure %s: %w", entry.name, err)
	}
	return engine.ErrNone
}

// invoke decodes the arguments from stack, calls the closure and encodes
// its result into stack[0]. The stack is only written after the call
// succeeded.
func (s *closureShape) invoke(ctx context.Context, stack []uint64) error {
	if len(stack) < max(len(s.in), len(s.sig.Results)) {
		return errShortStack
	}

	args := make([]reflect.Value, 0, len(s.in)+1)
	if s.withCtx {
		args = append(args, reflect.ValueOf(ctx))
	}
	for i, t := range s.in {
		args = append(args, decodeValue(stack[i], s.sig.Params[i], t))
	}

	out := s.fn.Call(args)

	if s.withErr {
		if errv := out[len(out)-1]; !errv.IsNil() {
			return errv.Interface().(error)
		}
	}
	if s.out != nil {
		stack[0] = encodeValue(out[0], s.sig.Results[0])
	}
	return nil
}

// decodeValue reads one slot as the Go type t.
func decodeValue(slot uint64, vt api.ValueType, t reflect.Type) reflect.Value {
	v := reflect.New(t).Elem()
	switch vt {
	case api.ValueTypeI32:
		if t.Kind() == reflect.Int32 {
			v.SetInt(int64(api.DecodeI32(slot)))
		} else {
			v.SetUint(uint64(api.DecodeU32(slot)))
		}
	case api.ValueTypeI64:
		if t.Kind() == reflect.Int64 {
			v.SetInt(int64(slot))
		} else {
			v.SetUint(slot)
		}
	case api.ValueTypeF32:
		v.SetFloat(float64(api.DecodeF32(slot)))
	case api.ValueTypeF64:
		v.SetFloat(api.DecodeF64(slot))
	}
	return v
}

// encodeValue is the inverse of decodeValue.
func encodeValue(v reflect.Value, vt api.ValueType) uint64 {
	switch vt {
	case api.ValueTypeI32:
		if v.Kind() == reflect.Int32 {
			return api.EncodeI32(int32(v.Int()))
		}
		return api.EncodeU32(uint32(v.Uint()))
	case api.ValueTypeI64:
		if v.Kind() == reflect.Int64 {
			return api.EncodeI64(v.Int())
		}
		return v.Uint()
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v.Float()))
	case api.ValueTypeF64:
		return api.EncodeF64(v.Float())
	}
	return 0
}
