package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecpipe/vecpipe/arena"
)

func TestNewRequestEventStartsWithEmptyHandle(t *testing.T) {
	e := NewRequestEvent()
	assert.Zero(t, e.Features.Len())
}

func TestRequestEventReleaseIsIdempotent(t *testing.T) {
	a := arena.New(16)
	mut, err := a.Alloc(4)
	require.NoError(t, err)
	e := NewRequestEvent()
	e.Features = mut.Freeze()

	e.Release()
	assert.NotPanics(t, func() { e.Release() })

	inUse, _ := a.Utilization()
	assert.Zero(t, inUse)
}

func TestToResultStorageInlineForSmallResults(t *testing.T) {
	s, err := ToResultStorage(nil, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.False(t, s.Pooled)
	assert.Equal(t, []float32{1, 2, 3}, s.Slice(3))
}

func TestToResultStoragePooledAboveInlineCapacity(t *testing.T) {
	a := arena.New(4096)
	values := make([]float32, InlineResultCapacity+1)
	for i := range values {
		values[i] = float32(i)
	}

	s, err := ToResultStorage(a, values)
	require.NoError(t, err)
	assert.True(t, s.Pooled)
	assert.Equal(t, values, s.Slice(len(values)))

	s.Release()
	inUse, _ := a.Utilization()
	assert.Zero(t, inUse)
}

func TestResultStorageReleaseNoOpWhenInline(t *testing.T) {
	s, err := ToResultStorage(nil, []float32{9})
	require.NoError(t, err)
	assert.NotPanics(t, func() { s.Release() })
}

func TestResponseRecordReleaseDropsPooledHandle(t *testing.T) {
	a := arena.New(4096)
	values := make([]float32, InlineResultCapacity+2)
	storage, err := ToResultStorage(a, values)
	require.NoError(t, err)

	r := NewResponseRecord()
	r.Results = storage
	r.Release()

	inUse, _ := a.Utilization()
	assert.Zero(t, inUse)
}
