package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicAlloc(t *testing.T) {
	a := New(1000)

	m1, err := a.Alloc(10)
	require.NoError(t, err)
	for i := range m1.Slice() {
		m1.Slice()[i] = 1.0
	}
	s1 := m1.Freeze()

	m2, err := a.Alloc(20)
	require.NoError(t, err)
	for i := range m2.Slice() {
		m2.Slice()[i] = 2.0
	}
	s2 := m2.Freeze()

	assert.Len(t, s1.Slice(), 10)
	assert.Len(t, s2.Slice(), 20)
	for _, v := range s1.Slice() {
		assert.Equal(t, float32(1.0), v)
	}
	for _, v := range s2.Slice() {
		assert.Equal(t, float32(2.0), v)
	}
}

func TestAllocTooLarge(t *testing.T) {
	a := New(100)
	_, err := a.Alloc(101)
	require.Error(t, err)
	ae, ok := err.(*AllocError)
	require.True(t, ok)
	assert.True(t, ae.TooLarge)
}

func TestAllocExhaustion(t *testing.T) {
	a := New(100)
	_, err := a.Alloc(60)
	require.NoError(t, err)
	_, err = a.Alloc(50)
	require.Error(t, err)
	ae, ok := err.(*AllocError)
	require.True(t, ok)
	assert.False(t, ae.TooLarge)
}

func TestAllocZeroLenIsOkAndNoop(t *testing.T) {
	a := New(10)
	m, err := a.Alloc(0)
	require.NoError(t, err)
	assert.Empty(t, m.Slice())
	h := m.Freeze()
	assert.Equal(t, 0, h.Len())
	h.Release()

	inUse, _ := a.Utilization()
	assert.Zero(t, inUse)
}

func TestAllocExactCapacityThenFreeAllowsReuse(t *testing.T) {
	a := New(64)
	m, err := a.Alloc(64)
	require.NoError(t, err)
	h := m.Freeze()

	_, err = a.Alloc(1)
	require.Error(t, err)

	h.Release()

	_, err = a.Alloc(64)
	require.NoError(t, err)
}

func TestExhaustionThenReuseAfterRelease(t *testing.T) {
	a := New(100)
	m1, err := a.Alloc(80)
	require.NoError(t, err)
	h1 := m1.Freeze()

	_, err = a.Alloc(30)
	require.Error(t, err)

	h1.Release()

	m2, err := a.Alloc(30)
	require.NoError(t, err)
	assert.Len(t, m2.Slice(), 30)
}

func TestUtilizationTracksAllocAndRelease(t *testing.T) {
	a := New(100)
	inUse, cap := a.Utilization()
	assert.Zero(t, inUse)
	assert.Equal(t, 100, cap)

	m, err := a.Alloc(40)
	require.NoError(t, err)
	inUse, _ = a.Utilization()
	assert.Equal(t, 40, inUse)

	h := m.Freeze()
	h.Release()
	inUse, _ = a.Utilization()
	assert.Zero(t, inUse)
}

func TestVectorAccessReturnsExpectedSlice(t *testing.T) {
	a := New(32)
	m, err := a.Alloc(16)
	require.NoError(t, err)
	for i, v := range m.Slice() {
		_ = v
		m.Slice()[i] = float32(i)
	}
	h := m.Freeze()

	v0 := h.Vector(0, 8)
	v1 := h.Vector(1, 8)
	assert.Equal(t, float32(0), v0[0])
	assert.Equal(t, float32(8), v1[0])
}

func TestVectorAccessOutOfBoundsPanics(t *testing.T) {
	a := New(16)
	m, err := a.Alloc(8)
	require.NoError(t, err)
	h := m.Freeze()

	assert.Panics(t, func() {
		h.Vector(2, 8)
	})
}

func TestEmptySliceRequiresNoBackingArena(t *testing.T) {
	h := Empty()
	assert.Equal(t, 0, h.Len())
	assert.Nil(t, h.Slice())
	h.Release()
	h.Release()
}

func TestWrapAroundAllowsAllocationAfterPadding(t *testing.T) {
	a := New(100)

	m1, err := a.Alloc(95)
	require.NoError(t, err)
	h1 := m1.Freeze()
	h1.Release()

	m2, err := a.Alloc(10)
	require.NoError(t, err)
	assert.Len(t, m2.Slice(), 10)
}

func TestAllocTooLargeErrorIncludesRequestedAndCapacity(t *testing.T) {
	a := New(50)
	_, err := a.Alloc(51)
	ae := err.(*AllocError)
	assert.Equal(t, 51, ae.Requested)
	assert.Equal(t, 50, ae.Capacity)
}

func TestExhaustedErrorIncludesInUseAndCapacity(t *testing.T) {
	a := New(50)
	_, err := a.Alloc(40)
	require.NoError(t, err)
	_, err = a.Alloc(20)
	ae := err.(*AllocError)
	assert.Equal(t, 40, ae.InUse)
	assert.Equal(t, 50, ae.Capacity)
}

func TestMultipleAllocationsFillCapacityThenFail(t *testing.T) {
	a := New(32)
	for i := 0; i < 4; i++ {
		_, err := a.Alloc(8)
		require.NoError(t, err)
	}
	_, err := a.Alloc(1)
	require.Error(t, err)
}

func TestReuseAfterPartialReleaseAllowsAdditionalAllocations(t *testing.T) {
	a := New(30)
	m1, err := a.Alloc(10)
	require.NoError(t, err)
	h1 := m1.Freeze()

	m2, err := a.Alloc(10)
	require.NoError(t, err)
	h2 := m2.Freeze()

	_, err = a.Alloc(15)
	require.Error(t, err)

	h1.Release()

	m3, err := a.Alloc(10)
	require.NoError(t, err)
	assert.Len(t, m3.Slice(), 10)

	h2.Release()
	m3.Freeze().Release()
}

func TestFreezePreservesWrittenDataAcrossMultipleAllocations(t *testing.T) {
	a := New(256)
	handles := make([]Handle, 0, 8)
	for i := 0; i < 8; i++ {
		m, err := a.Alloc(16)
		require.NoError(t, err)
		for j := range m.Slice() {
			m.Slice()[j] = float32(i)
		}
		handles = append(handles, m.Freeze())
	}
	for i, h := range handles {
		for _, v := range h.Slice() {
			assert.Equal(t, float32(i), v)
		}
	}
}
