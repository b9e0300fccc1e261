package ioengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlabInsertAndGet(t *testing.T) {
	s := NewSlab(4)
	c := NewConnection(99)
	key := s.Insert(c)

	got := s.Get(key)
	require.NotNil(t, got)
	assert.Equal(t, 99, got.FD)
}

func TestSlabGetMissingReturnsNil(t *testing.T) {
	s := NewSlab(4)
	assert.Nil(t, s.Get(0))
	assert.Nil(t, s.Get(50))
}

func TestSlabRemoveFreesKeyForReuse(t *testing.T) {
	s := NewSlab(4)
	c1 := NewConnection(1)
	key1 := s.Insert(c1)

	removed := s.Remove(key1)
	require.NotNil(t, removed)
	assert.Equal(t, 1, removed.FD)
	assert.Nil(t, s.Get(key1))

	c2 := NewConnection(2)
	key2 := s.Insert(c2)
	assert.Equal(t, key1, key2)
}

func TestSlabRemoveTwiceIsSafe(t *testing.T) {
	s := NewSlab(4)
	c := NewConnection(1)
	key := s.Insert(c)

	require.NotNil(t, s.Remove(key))
	assert.Nil(t, s.Remove(key))
}

func TestEncodeDecodeUserData(t *testing.T) {
	ud := encodeUserData(OpRead, 4242)
	op, key := decodeUserData(ud)
	assert.Equal(t, OpRead, op)
	assert.Equal(t, uint16(4242), key)
}

func TestNewConnectionResetsStateAfterRelease(t *testing.T) {
	c1 := NewConnection(11)
	c1.ReadLen = 42
	c1.NextRequestSeq = 7
	c1.WriteHeaders = append(c1.WriteHeaders, 1, 2, 3)
	releaseConnection(c1)

	c2 := NewConnection(22)
	assert.Equal(t, 22, c2.FD)
	assert.Zero(t, c2.ReadLen)
	assert.Zero(t, c2.NextRequestSeq)
	assert.Empty(t, c2.WriteHeaders)
	assert.False(t, c2.ReadInflight)
	assert.False(t, c2.WriteInflight)
}

func TestEncodeDecodeUserDataAccept(t *testing.T) {
	ud := encodeUserData(OpAccept, 0)
	op, key := decodeUserData(ud)
	assert.Equal(t, OpAccept, op)
	assert.Equal(t, uint16(0), key)
}
