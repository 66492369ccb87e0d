package runtime

import (
	"context"
	stderrors "errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-hostlink/engine"
)

func addClosure(t *testing.T, rt *Runtime, fn any) engine.Word {
	t.Helper()
	shape, err := shapeOf(fn)
	require.NoError(t, err)
	return rt.closures.add(&closureEntry{shape: shape, value: fn, name: "test.fn"})
}

func TestShim_ShortStack(t *testing.T) {
	f := newFixture(t, nil)
	ert := f.rt.Engine()

	called := false
	key := addClosure(t, f.rt, func(a, b int32) int32 {
		called = true
		return a + b
	})

	sp := engine.StackPointer(ert.NumStackSlots() - 1)
	last := ert.Slots(sp, 1)
	last[0] = 0xdead

	err := f.rt.shim(f.ctx, ert, sp, nil, key)
	require.Error(t, err)
	assert.ErrorIs(t, err, errShortStack)
	assert.False(t, called)
	assert.Equal(t, uint64(0xdead), last[0])
}

func TestShim_ExactFit(t *testing.T) {
	f := newFixture(t, nil)
	ert := f.rt.Engine()

	key := addClosure(t, f.rt, func(a, b int32) int32 { return a - b })

	sp := engine.StackPointer(ert.NumStackSlots() - 2)
	s := ert.Slots(sp, 2)
	s[0], s[1] = 10, 3

	require.NoError(t, f.rt.shim(f.ctx, ert, sp, nil, key))
	assert.Equal(t, int32(7), int32(s[0]))
}

func TestShim_ErrorLeavesStack(t *testing.T) {
	f := newFixture(t, nil)
	ert := f.rt.Engine()

	boom := stderrors.New("boom")
	key := addClosure(t, f.rt, func(_ context.Context, v int64) (int64, error) { return v, boom })

	s := ert.Slots(0, 1)
	s[0] = 99
	err := f.rt.shim(f.ctx, ert, 0, nil, key)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "test.fn")
	assert.Equal(t, uint64(99), s[0])
}

func TestShim_StaleKey(t *testing.T) {
	f := newFixture(t, nil)
	other := newFixture(t, nil)
	ert := f.rt.Engine()

	foreign := addClosure(t, other.rt, func() int32 { return 1 })
	err := f.rt.shim(f.ctx, ert, 0, nil, foreign)
	assert.ErrorIs(t, err, errStaleClosure)

	own := addClosure(t, f.rt, func() int32 { return 1 })
	err = f.rt.shim(f.ctx, ert, 0, nil, own+1)
	assert.ErrorIs(t, err, errStaleClosure)
}

func TestInvoke_Conversions(t *testing.T) {
	tests := []struct {
		name  string
		fn    any
		stack []uint64
		want  uint64
	}{
		{
			name:  "signed i32 round trip",
			fn:    func(v int32) int32 { return -v },
			stack: []uint64{5},
			want:  uint64(uint32(0xFFFFFFFB)),
		},
		{
			name:  "unsigned i32",
			fn:    func(v uint32) uint32 { return v + 1 },
			stack: []uint64{math.MaxUint32 - 1},
			want:  math.MaxUint32,
		},
		{
			name:  "i64",
			fn:    func(a int64, b uint64) int64 { return a * int64(b) },
			stack: []uint64{math.MaxUint64, 3},
			want:  uint64(math.MaxUint64 - 2),
		},
		{
			name:  "floats",
			fn:    func(a float32, b float64) float64 { return float64(a) * b },
			stack: []uint64{uint64(math.Float32bits(2.5)), math.Float64bits(4)},
			want:  math.Float64bits(10),
		},
		{
			name:  "f32 result",
			fn:    func(a float64) float32 { return float32(a) },
			stack: []uint64{math.Float64bits(0.5)},
			want:  uint64(math.Float32bits(0.5)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shape, err := shapeOf(tt.fn)
			require.NoError(t, err)
			require.NoError(t, shape.invoke(context.Background(), tt.stack))
			assert.Equal(t, tt.want, tt.stack[0])
		})
	}
}

func TestInvoke_VoidWritesNothing(t *testing.T) {
	var got []int32
	shape, err := shapeOf(func(a, b int32) { got = append(got, a, b) })
	require.NoError(t, err)

	stack := []uint64{1, 2}
	require.NoError(t, shape.invoke(context.Background(), stack))
	assert.Equal(t, []int32{1, 2}, got)
	assert.Equal(t, []uint64{1, 2}, stack)
}
