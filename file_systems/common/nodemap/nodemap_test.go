package nodemap_test

import (
	"math/rand"
	"testing"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
	"github.com/dargueta/wcsufs/file_systems/common/nodemap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeMap__EncodedSize(t *testing.T) {
	assert.Equal(t, 0, nodemap.EncodedSize(0))
	assert.Equal(t, 8, nodemap.EncodedSize(1))
	assert.Equal(t, 8, nodemap.EncodedSize(64))
	assert.Equal(t, 16, nodemap.EncodedSize(65))
	assert.Equal(t, 512, nodemap.EncodedSize(4096))
}

// Index 0 goes in the lowest bit of the last meaningful byte.
func TestNodeMap__Encode__Packing(t *testing.T) {
	nodeMap := nodemap.New(nodemap.InodeMap, 128)
	require.NoError(t, nodeMap.SetAllocated(0, true))
	require.NoError(t, nodeMap.SetAllocated(9, true))
	require.NoError(t, nodeMap.SetAllocated(127, true))

	encoded := nodeMap.Encode()
	require.Len(t, encoded, c.BlockSize)

	expected := make([]byte, c.BlockSize)
	expected[15] = 0x01
	expected[14] = 0x02
	expected[0] = 0x80
	assert.Equal(t, expected, encoded)
}

func TestNodeMap__RoundTrip(t *testing.T) {
	sizes := []int{1, 7, 64, 100, 128, 1000, 4096}
	for _, size := range sizes {
		nodeMap := nodemap.New(nodemap.DataBlockMap, size)
		expected := make([]bool, size)
		for i := 0; i < size; i++ {
			expected[i] = rand.Intn(2) == 1
			require.NoError(t, nodeMap.SetAllocated(i, expected[i]))
		}

		decoded, err := nodemap.Decode(nodemap.DataBlockMap, nodeMap.Encode(), size)
		require.NoErrorf(t, err, "failed to decode map of size %d", size)
		require.Equal(t, size, decoded.Len())

		for i := 0; i < size; i++ {
			assert.Equalf(
				t, expected[i], decoded.IsAllocated(i), "bit %d of %d is wrong", i, size)
		}
	}
}

func TestNodeMap__Decode__TooShort(t *testing.T) {
	_, err := nodemap.Decode(nodemap.InodeMap, make([]byte, 8), 65)
	assert.ErrorIs(t, err, wcsufs.ErrFileSystemCorrupted)
}

func TestNodeMap__SetAllocated__OutOfBounds(t *testing.T) {
	nodeMap := nodemap.New(nodemap.InodeMap, 10)
	assert.ErrorIs(t, nodeMap.SetAllocated(10, true), wcsufs.ErrInvalidArgument)
	assert.ErrorIs(t, nodeMap.SetAllocated(-1, true), wcsufs.ErrInvalidArgument)
	assert.False(t, nodeMap.IsAllocated(10))
}

// Index 0 is a normal, usable index.
func TestNodeMap__Allocate(t *testing.T) {
	nodeMap := nodemap.New(nodemap.InodeMap, 3)

	for expected := 0; expected < 3; expected++ {
		index, err := nodeMap.Allocate()
		require.NoError(t, err)
		assert.Equal(t, expected, index)
	}
	assert.Equal(t, 3, nodeMap.CountAllocated())
	assert.Equal(t, 0, nodeMap.CountFree())

	_, err := nodeMap.Allocate()
	assert.ErrorIs(t, err, wcsufs.ErrOutOfInodes)
	assert.ErrorIs(t, err, wcsufs.ErrNoSpaceOnDevice)

	require.NoError(t, nodeMap.Free(1))
	index, err := nodeMap.FirstUnallocated()
	require.NoError(t, err)
	assert.Equal(t, 1, index)
}

func TestNodeMap__Exhausted__DataBlocks(t *testing.T) {
	nodeMap := nodemap.New(nodemap.DataBlockMap, 1)
	require.NoError(t, nodeMap.SetAllocated(0, true))

	_, err := nodeMap.FirstUnallocated()
	assert.ErrorIs(t, err, wcsufs.ErrOutOfDataBlocks)
	assert.NotErrorIs(t, err, wcsufs.ErrOutOfInodes)
}

func TestNodeMap__Free__AlreadyFree(t *testing.T) {
	nodeMap := nodemap.New(nodemap.DataBlockMap, 8)
	err := nodeMap.Free(3)
	assert.ErrorIs(t, err, wcsufs.ErrAlreadyInProgress)
}

func TestNodeMap__Clone(t *testing.T) {
	original := nodemap.New(nodemap.DataBlockMap, 16)
	require.NoError(t, original.SetAllocated(4, true))

	clone := original.Clone()
	require.NoError(t, clone.SetAllocated(5, true))

	assert.True(t, clone.IsAllocated(4))
	assert.False(t, original.IsAllocated(5), "modifying the clone changed the original")
}
