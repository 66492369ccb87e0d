package runtime

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-hostlink/errors"
)

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f32 = api.ValueTypeF32
	f64 = api.ValueTypeF64
)

func TestParseSignature(t *testing.T) {
	tests := []struct {
		text string
		want Signature
	}{
		{"v()", Signature{}},
		{"()", Signature{}},
		{"i()", NewSignature(nil, i32)},
		{"v(i)", NewSignature([]api.ValueType{i32})},
		{"I(iI)", NewSignature([]api.ValueType{i32, i64}, i64)},
		{"F(fF)", NewSignature([]api.ValueType{f32, f64}, f64)},
		{"*(**i)", NewSignature([]api.ValueType{i32, i32, i32}, i32)},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseSignature(tt.text)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseSignature_Errors(t *testing.T) {
	for _, text := range []string{"", "i", "i(", "ii()", "x()", "i(q)", "i(i"} {
		t.Run(text, func(t *testing.T) {
			_, err := ParseSignature(text)
			require.Error(t, err)
			e, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.KindInvalidInput, e.Kind)
		})
	}

	assert.Panics(t, func() { MustParseSignature("?") })
}

func TestSignature_String(t *testing.T) {
	for _, text := range []string{"v()", "i(iI)", "F(fF)", "I()"} {
		assert.Equal(t, text, MustParseSignature(text).String())
	}
	assert.Equal(t, "i(ii)", MustParseSignature("*(**)").String())
}

func TestSignature_Equal(t *testing.T) {
	a := MustParseSignature("i(iI)")
	assert.True(t, a.Equal(MustParseSignature("i(iI)")))
	assert.False(t, a.Equal(MustParseSignature("i(Ii)")))
	assert.False(t, a.Equal(MustParseSignature("I(iI)")))
	assert.False(t, a.Equal(MustParseSignature("v(iI)")))
	assert.False(t, a.Equal(MustParseSignature("i(i)")))
}

type handle uint32

func TestSignatureOf(t *testing.T) {
	tests := []struct {
		name string
		fn   any
		want string
	}{
		{"nothing", func() {}, "v()"},
		{"i32", func(int32) int32 { return 0 }, "i(i)"},
		{"unsigned", func(uint32, uint64) uint64 { return 0 }, "I(iI)"},
		{"floats", func(float32, float64) float32 { return 0 }, "f(fF)"},
		{"named type", func(handle) handle { return 0 }, "i(i)"},
		{"context", func(context.Context, int64) {}, "v(I)"},
		{"error only", func(int32) error { return nil }, "v(i)"},
		{"value and error", func(context.Context) (float64, error) { return 0, nil }, "F()"},
		{"four mixed", func(int32, int64, float32, float64) int32 { return 0 }, "i(iIfF)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := SignatureOf(tt.fn)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig.String())
		})
	}
}

func TestSignatureOf_Rejects(t *testing.T) {
	var nilFn func()
	tests := []struct {
		name string
		fn   any
	}{
		{"nil", nil},
		{"nil func", nilFn},
		{"not a func", "fn"},
		{"string param", func(string) {}},
		{"int param", func(int) {}},
		{"bool result", func() bool { return false }},
		{"two results", func() (int32, int32) { return 0, 0 }},
		{"variadic", func(...int32) {}},
		{"context not first", func(int32, context.Context) {}},
		{"error not last", func() (error, int32) { return nil, 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SignatureOf(tt.fn)
			require.Error(t, err)
			e, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.KindInvalidInput, e.Kind)
			assert.NotEmpty(t, e.GoType)
		})
	}
}

func TestValidateSignature(t *testing.T) {
	slot := MustParseSignature("i(ii)").funcType()

	assert.NoError(t, validateSignature(errors.PhaseLinking, []string{"env", "add"}, MustParseSignature("i(ii)"), slot))

	err := validateSignature(errors.PhaseLinking, []string{"env", "add"}, MustParseSignature("I(ii)"), slot)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrSignatureMismatch))
	assert.Contains(t, err.Error(), "env.add")
	assert.Contains(t, err.Error(), "I(ii)")
}
