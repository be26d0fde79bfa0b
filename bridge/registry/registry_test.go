package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dBridge/bridge/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(_ context.Context, args []any) (any, error) {
	return args, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(7, "seven", echo))

	op, ok := r.Lookup(7)
	require.True(t, ok)
	assert.Equal(t, common.OpID(7), op.ID)
	assert.Equal(t, "seven", op.Name)

	v, err := op.Handler(context.Background(), []any{"x"})
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, v)

	_, ok = r.Lookup(999)
	assert.False(t, ok)
}

func TestRegistry_RegisterNamed(t *testing.T) {
	r := New()
	id, err := r.RegisterNamed("fs.stat", echo)
	require.NoError(t, err)
	assert.Equal(t, common.OpIDFor("fs.stat"), id)

	op, ok := r.Lookup(common.OpIDFor("fs.stat"))
	require.True(t, ok)
	assert.Equal(t, "fs.stat", op.Name)
}

func TestRegistry_DefaultName(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(0x10, "", echo))
	op, _ := r.Lookup(0x10)
	assert.Equal(t, "0x00000010", op.Name)
}

func TestRegistry_NilHandler(t *testing.T) {
	r := New()
	assert.ErrorIs(t, r.Register(1, "nil", nil), ErrNilHandler)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ReplaceAndUnregister(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(1, "first", echo))
	require.NoError(t, r.Register(1, "second", func(context.Context, []any) (any, error) {
		return "replaced", nil
	}))
	assert.Equal(t, 1, r.Len())

	op, _ := r.Lookup(1)
	assert.Equal(t, "second", op.Name)
	v, _ := op.Handler(context.Background(), nil)
	assert.Equal(t, "replaced", v)

	assert.True(t, r.Unregister(1))
	assert.False(t, r.Unregister(1))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_OperationsSorted(t *testing.T) {
	r := New()
	for _, id := range []common.OpID{30, 10, 20} {
		require.NoError(t, r.Register(id, fmt.Sprintf("op-%d", 40-id), echo))
	}

	ops := r.Operations()
	require.Len(t, ops, 3)
	assert.Equal(t, []common.OpID{10, 20, 30}, []common.OpID{ops[0].ID, ops[1].ID, ops[2].ID})
	assert.Equal(t, []string{"op-10", "op-20", "op-30"}, r.Names())
}

func TestRegistry_ConcurrentRegister(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.RegisterNamed(fmt.Sprintf("op-%d", i), echo)
			assert.NoError(t, err)
			_, ok := r.Lookup(common.OpIDFor(fmt.Sprintf("op-%d", i)))
			assert.True(t, ok)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 64, r.Len())
}
