package wcsu_test

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
	"github.com/dargueta/wcsufs/file_systems/wcsu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLength(t *testing.T) {
	assert.Equal(t, 12, wcsu.RecordLength("."))
	assert.Equal(t, 12, wcsu.RecordLength(".."))
	assert.Equal(t, 12, wcsu.RecordLength("abc"))
	assert.Equal(t, 16, wcsu.RecordLength("abcd"))
	assert.Equal(t, 16, wcsu.RecordLength("a.txt"))

	for length := 1; length <= wcsu.MaxNameLength; length++ {
		recordLength := wcsu.RecordLength(strings.Repeat("x", length))
		assert.Zerof(t, recordLength%4, "record length for %d-byte name isn't aligned", length)
		assert.GreaterOrEqualf(
			t, recordLength, 8+length+1, "record length for %d-byte name is too short", length)
	}
}

func TestDirectoryBlock__Encode__Layout(t *testing.T) {
	block := wcsu.NewDirectoryBlock()
	require.NoError(t, block.CreateEntry(0, "."))
	require.NoError(t, block.CreateEntry(3, "a.txt"))

	encoded := block.Encode()
	require.Len(t, encoded, c.BlockSize)

	expected := []byte{
		0, 0, 0, 0, 0, 12, 0, 2, '.', 0, 0, 0,
		0, 0, 0, 3, 0, 16, 0, 6, 'a', '.', 't', 'x', 't', 0, 0, 0,
	}
	assert.Equal(t, expected, encoded[:len(expected)])
	assert.Equal(t, make([]byte, c.BlockSize-len(expected)), encoded[len(expected):])
	assert.Equal(t, 28, block.AllocatedBytes())
}

func TestDirectoryBlock__RoundTrip(t *testing.T) {
	block := wcsu.NewDirectoryBlock()
	expected := []wcsu.DirectoryEntry{}
	for i := 0; ; i++ {
		name := fmt.Sprintf("file-%d%s", i, strings.Repeat("z", i%13))
		err := block.CreateEntry(i, name)
		if err != nil {
			assert.ErrorIs(t, err, wcsufs.ErrDirectoryBlockFull)
			break
		}
		expected = append(expected, wcsu.DirectoryEntry{InodeNumber: i, Name: name})
	}
	require.Greater(t, len(expected), 100)

	decoded, err := wcsu.DecodeDirectoryBlock(block.Encode())
	require.NoError(t, err)
	assert.Equal(t, expected, decoded.Entries())
	assert.Equal(t, block.AllocatedBytes(), decoded.AllocatedBytes())
}

func TestDirectoryBlock__CreateEntry__NeverOverflows(t *testing.T) {
	block := wcsu.NewDirectoryBlock()
	name := strings.Repeat("n", wcsu.MaxNameLength)

	for i := 0; i < 100; i++ {
		err := block.CreateEntry(i, fmt.Sprintf("%03d%s", i, name[3:]))
		if err != nil {
			assert.ErrorIs(t, err, wcsufs.ErrDirectoryBlockFull)
			assert.NotErrorIs(t, err, wcsufs.ErrNoSpaceOnDevice)
		}
		assert.Less(t, block.AllocatedBytes(), c.BlockSize)
	}
	assert.Equal(t, 15, block.Len(), "264-byte records: 15 fit below 4096 bytes")
}

func TestDirectoryBlock__CreateEntry__Duplicate(t *testing.T) {
	block := wcsu.NewDirectoryBlock()
	require.NoError(t, block.CreateEntry(1, "x"))

	err := block.CreateEntry(2, "x")
	assert.ErrorIs(t, err, wcsufs.ErrExists)
	assert.Equal(t, 1, block.Len())
}

func TestDirectoryBlock__RemoveEntry(t *testing.T) {
	block := wcsu.NewDirectoryBlock()
	require.NoError(t, block.CreateEntry(0, "."))
	require.NoError(t, block.CreateEntry(0, ".."))
	require.NoError(t, block.CreateEntry(5, "hello"))

	err := block.RemoveEntry("missing")
	assert.ErrorIs(t, err, wcsufs.ErrNotFound)

	require.NoError(t, block.RemoveEntry("hello"))
	assert.Equal(t, 24, block.AllocatedBytes())
	_, found := block.Lookup("hello")
	assert.False(t, found)

	decoded, err := wcsu.DecodeDirectoryBlock(block.Encode())
	require.NoError(t, err)
	assert.Equal(
		t,
		[]wcsu.DirectoryEntry{{InodeNumber: 0, Name: "."}, {InodeNumber: 0, Name: ".."}},
		decoded.Entries(),
	)
}

// A block with one entry refuses to give it up, whatever name is asked for.
func TestDirectoryBlock__RemoveEntry__SingleEntry(t *testing.T) {
	block := wcsu.NewDirectoryBlock()
	require.NoError(t, block.CreateEntry(0, "."))

	for _, name := range []string{".", "other", ""} {
		err := block.RemoveEntry(name)
		assert.ErrorIs(t, err, wcsufs.ErrDirectoryEmpty)
		assert.Equal(t, wcsufs.CategoryStateViolation, wcsufs.CategoryOf(err))
	}
	assert.Equal(t, 1, block.Len())

	empty := wcsu.NewDirectoryBlock()
	assert.ErrorIs(t, empty.RemoveEntry("."), wcsufs.ErrDirectoryEmpty)
}

func TestDecodeDirectoryBlock__SkipsDeletedEntries(t *testing.T) {
	data := make([]byte, c.BlockSize)

	// Deleted entry: the record length counts from after the first six bytes.
	binary.BigEndian.PutUint32(data[0:], 0xffffffff)
	binary.BigEndian.PutUint16(data[4:], 10)

	// Live entry at 6 + 10 = 16.
	binary.BigEndian.PutUint32(data[16:], 9)
	binary.BigEndian.PutUint16(data[20:], 12)
	binary.BigEndian.PutUint16(data[22:], 3)
	copy(data[24:], "ok")

	block, err := wcsu.DecodeDirectoryBlock(data)
	require.NoError(t, err)
	assert.Equal(t, []wcsu.DirectoryEntry{{InodeNumber: 9, Name: "ok"}}, block.Entries())
	assert.Equal(t, 12, block.AllocatedBytes())
}

func TestDecodeDirectoryBlock__IgnoresLastNameByte(t *testing.T) {
	data := make([]byte, c.BlockSize)
	binary.BigEndian.PutUint32(data[0:], 1)
	binary.BigEndian.PutUint16(data[4:], 12)
	binary.BigEndian.PutUint16(data[6:], 3)
	copy(data[8:], "abc")

	block, err := wcsu.DecodeDirectoryBlock(data)
	require.NoError(t, err)
	assert.Equal(t, []wcsu.DirectoryEntry{{InodeNumber: 1, Name: "ab"}}, block.Entries())
}

func TestDecodeDirectoryBlock__Empty(t *testing.T) {
	block, err := wcsu.DecodeDirectoryBlock(make([]byte, c.BlockSize))
	require.NoError(t, err)
	assert.Equal(t, 0, block.Len())
	assert.Equal(t, 0, block.AllocatedBytes())
}

func TestDecodeDirectoryBlock__Corrupted(t *testing.T) {
	data := make([]byte, c.BlockSize)
	binary.BigEndian.PutUint32(data[0:], 1)
	binary.BigEndian.PutUint16(data[4:], 12)
	binary.BigEndian.PutUint16(data[6:], 100)

	_, err := wcsu.DecodeDirectoryBlock(data)
	assert.ErrorIs(t, err, wcsufs.ErrFileSystemCorrupted, "name longer than its record")

	binary.BigEndian.PutUint16(data[4:], 0x2000)
	binary.BigEndian.PutUint16(data[6:], 2)
	_, err = wcsu.DecodeDirectoryBlock(data)
	assert.ErrorIs(t, err, wcsufs.ErrFileSystemCorrupted, "record runs past the block")
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, wcsu.ValidateName("notes.txt"))
	assert.NoError(t, wcsu.ValidateName(strings.Repeat("a", wcsu.MaxNameLength)))

	assert.ErrorIs(t, wcsu.ValidateName(""), wcsufs.ErrInvalidArgument)
	assert.ErrorIs(t, wcsu.ValidateName("."), wcsufs.ErrInvalidArgument)
	assert.ErrorIs(t, wcsu.ValidateName(".."), wcsufs.ErrInvalidArgument)
	assert.ErrorIs(t, wcsu.ValidateName("a/b"), wcsufs.ErrInvalidArgument)
	assert.ErrorIs(t, wcsu.ValidateName("a\x00b"), wcsufs.ErrInvalidArgument)
	assert.ErrorIs(
		t, wcsu.ValidateName(strings.Repeat("a", wcsu.MaxNameLength+1)), wcsufs.ErrNameTooLong)
}
