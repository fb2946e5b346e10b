// Package nodemap implements the allocation bitmaps of an image: one bit per
// inode or per data block, set when the unit is in use.
//
// On disk the bytes are stored in reverse order while the bits within each byte
// are in forward order. Logical bit i lives at bit (i mod 8) of byte
// (sizeInBytes - 1 - i/8), where sizeInBytes is the number of bits rounded up to
// a multiple of 64, divided by 8. The rest of the block is zero.

package nodemap

import (
	"fmt"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
)

// Kind says what a [NodeMap] tracks. It only affects error messages.
type Kind int

const (
	InodeMap Kind = iota
	DataBlockMap
)

func (k Kind) String() string {
	if k == InodeMap {
		return "inode map"
	}
	return "data block map"
}

// NodeMap is an in-memory allocation bitmap.
type NodeMap struct {
	kind Kind
	bits bitmap.Bitmap
	size int
}

// New creates a bitmap of `size` units, all free.
func New(kind Kind, size int) *NodeMap {
	return &NodeMap{
		kind: kind,
		bits: bitmap.New(size),
		size: size,
	}
}

// EncodedSize gives the number of meaningful bytes in the on-disk form of a
// bitmap with `size` units.
func EncodedSize(size int) int {
	return c.RoundUp(size, 64) / 8
}

// Decode reads a bitmap of `size` units from its on-disk form. `data` must hold
// at least [EncodedSize] bytes; anything after that is ignored.
func Decode(kind Kind, data []byte, size int) (*NodeMap, error) {
	numBytes := EncodedSize(size)
	if numBytes > len(data) {
		return nil, wcsufs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"%s needs %d bytes for %d entries but only %d are available",
				kind,
				numBytes,
				size,
				len(data),
			),
		)
	}

	nodeMap := New(kind, size)
	for i := 0; i < size; i++ {
		storedByte := data[numBytes-1-i/8]
		if storedByte&(1<<(i%8)) != 0 {
			nodeMap.bits.Set(i, true)
		}
	}
	return nodeMap, nil
}

// Encode returns the on-disk form of the bitmap as one full block.
func (m *NodeMap) Encode() []byte {
	numBytes := EncodedSize(m.size)
	output := make([]byte, c.BlockSize)
	for i := 0; i < m.size; i++ {
		if m.bits.Get(i) {
			output[numBytes-1-i/8] |= 1 << (i % 8)
		}
	}
	return output
}

// Kind returns what the map tracks.
func (m *NodeMap) Kind() Kind {
	return m.kind
}

// Len returns the number of units tracked by the map.
func (m *NodeMap) Len() int {
	return m.size
}

func (m *NodeMap) checkIndex(index int) error {
	if index < 0 || index >= m.size {
		return wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%s index %d not in range [0, %d)", m.kind, index, m.size),
		)
	}
	return nil
}

// IsAllocated returns true if the unit at `index` is in use. Out-of-range
// indexes are reported as free.
func (m *NodeMap) IsAllocated(index int) bool {
	if m.checkIndex(index) != nil {
		return false
	}
	return m.bits.Get(index)
}

// SetAllocated marks the unit at `index` as used or free.
func (m *NodeMap) SetAllocated(index int, allocated bool) error {
	err := m.checkIndex(index)
	if err != nil {
		return err
	}
	m.bits.Set(index, allocated)
	return nil
}

func (m *NodeMap) exhaustedError() wcsufs.DriverError {
	if m.kind == InodeMap {
		return wcsufs.ErrOutOfInodes
	}
	return wcsufs.ErrOutOfDataBlocks
}

// FirstUnallocated returns the lowest free index. If every unit is in use it
// fails with [wcsufs.ErrOutOfInodes] or [wcsufs.ErrOutOfDataBlocks], depending
// on the kind of map.
func (m *NodeMap) FirstUnallocated() (int, error) {
	for i := 0; i < m.size; i++ {
		if !m.bits.Get(i) {
			return i, nil
		}
	}
	return -1, m.exhaustedError()
}

// Allocate finds the lowest free index, marks it as used, and returns it.
func (m *NodeMap) Allocate() (int, error) {
	index, err := m.FirstUnallocated()
	if err != nil {
		return -1, err
	}
	m.bits.Set(index, true)
	return index, nil
}

// Free releases the unit at `index`. Freeing a unit that isn't in use fails
// with EALREADY and leaves the map unchanged.
func (m *NodeMap) Free(index int) error {
	err := m.checkIndex(index)
	if err != nil {
		return err
	}
	if !m.bits.Get(index) {
		return wcsufs.ErrAlreadyInProgress.WithMessage(
			fmt.Sprintf("%s index %d is already free", m.kind, index),
		)
	}
	m.bits.Set(index, false)
	return nil
}

// CountAllocated returns the number of units in use.
func (m *NodeMap) CountAllocated() int {
	count := 0
	for i := 0; i < m.size; i++ {
		if m.bits.Get(i) {
			count++
		}
	}
	return count
}

// CountFree returns the number of units not in use.
func (m *NodeMap) CountFree() int {
	return m.size - m.CountAllocated()
}

// Clone returns an independent copy of the map.
func (m *NodeMap) Clone() *NodeMap {
	bits := bitmap.New(m.size)
	copy(bits, m.bits)
	return &NodeMap{kind: m.kind, bits: bits, size: m.size}
}
