package wcsu

import (
	"encoding/binary"
	"fmt"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
	"github.com/noxer/bytewriter"
)

// IndirectBlock is a data block holding a list of block addresses. The list
// ends at the first address that falls before the data region.
type IndirectBlock struct {
	pointers       []c.BlockAddress
	firstDataBlock c.BlockAddress
}

// NewIndirectBlock creates an empty indirect block for an image whose data
// region begins at `firstDataBlock`.
func NewIndirectBlock(firstDataBlock c.BlockAddress) *IndirectBlock {
	return &IndirectBlock{firstDataBlock: firstDataBlock}
}

// DecodeIndirectBlock reads the addresses stored in an indirect block.
func DecodeIndirectBlock(data []byte, firstDataBlock c.BlockAddress) *IndirectBlock {
	block := NewIndirectBlock(firstDataBlock)
	for offset := 0; offset+4 <= len(data) && len(block.pointers) < PointersPerIndirectBlock; offset += 4 {
		pointer := c.BlockAddress(int32(binary.BigEndian.Uint32(data[offset:])))
		if pointer < firstDataBlock {
			break
		}
		block.pointers = append(block.pointers, pointer)
	}
	return block
}

// Encode writes the addresses into a full block. Unused slots are zero.
func (block *IndirectBlock) Encode() []byte {
	output := make([]byte, c.BlockSize)
	writer := bytewriter.New(output)
	// AddPointer caps the list at one block's worth, so these writes can't
	// run out of room.
	for _, pointer := range block.pointers {
		binary.Write(writer, binary.BigEndian, int32(pointer))
	}
	return output
}

// AddPointer appends an address to the list. It fails with
// [wcsufs.ErrIndirectBlockFull] if the block already holds as many addresses
// as fit.
func (block *IndirectBlock) AddPointer(address c.BlockAddress) error {
	if block.IsFull() {
		return wcsufs.ErrIndirectBlockFull
	}
	if address < block.firstDataBlock {
		return wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"address %d is before the first data block %d",
				address,
				block.firstDataBlock,
			),
		)
	}
	block.pointers = append(block.pointers, address)
	return nil
}

// RemovePointer deletes the first occurrence of `address` from the list,
// shifting later addresses down.
func (block *IndirectBlock) RemovePointer(address c.BlockAddress) error {
	for i, pointer := range block.pointers {
		if pointer == address {
			block.pointers = append(block.pointers[:i], block.pointers[i+1:]...)
			return nil
		}
	}
	return wcsufs.ErrNotFound.WithMessage(
		fmt.Sprintf("block %d isn't in the indirect block", address))
}

// Pointers returns a copy of the addresses in order.
func (block *IndirectBlock) Pointers() []c.BlockAddress {
	pointers := make([]c.BlockAddress, len(block.pointers))
	copy(pointers, block.pointers)
	return pointers
}

func (block *IndirectBlock) Len() int {
	return len(block.pointers)
}

func (block *IndirectBlock) IsFull() bool {
	return len(block.pointers) >= PointersPerIndirectBlock
}
