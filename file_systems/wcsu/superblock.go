package wcsu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
	"github.com/dargueta/wcsufs/file_systems/common/nodemap"
	"github.com/noxer/bytewriter"
)

// Magic is the first four bytes of every image, "WCSU" in ASCII.
const Magic = 0x57435355

const InodeSize = 32
const InodesPerBlock = c.BlockSize / InodeSize
const NumDirectPointers = 4
const PointersPerIndirectBlock = c.BlockSize / 4

// MaxBlocksPerFile is the most data blocks a single file or directory can
// address: the direct pointers plus one full indirect block.
const MaxBlocksPerFile = NumDirectPointers + PointersPerIndirectBlock

// RootInode is the inode number of the root directory.
const RootInode = 0

// These addresses never change between images.
const (
	superblockAddress   = c.BlockAddress(0)
	inodeMapAddress     = c.BlockAddress(1)
	dataBlockMapAddress = c.BlockAddress(2)
	firstInodeAddress   = c.BlockAddress(3)
)

// Superblock is the layout descriptor stored in block 0. Field order is the
// on-disk order; every field is a big-endian int32.
type Superblock struct {
	Magic             int32
	NumInodes         int32
	NumDataBlocks     int32
	InodeMapBlock     int32
	DataBlockMapBlock int32
	FirstInodeBlock   int32
	FirstDataBlock    int32
	TotalBlocks       int32
}

// NewLayout computes the layout of a freshly formatted image with the given
// number of blocks. One inode is reserved for every ten blocks, rounded up to
// fill whole inode blocks; every block after the inode table is a data block.
func NewLayout(totalBlocks uint) (Superblock, error) {
	if totalBlocks > math.MaxInt32 {
		return Superblock{}, wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("image can't have more than %d blocks, got %d", math.MaxInt32, totalBlocks))
	}

	numInodes := c.RoundUp(int(totalBlocks)/10, InodesPerBlock)
	if numInodes == 0 {
		return Superblock{}, wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("image is too small to hold any inodes: %d blocks", totalBlocks))
	}

	numInodeBlocks := numInodes / InodesPerBlock
	numDataBlocks := int(totalBlocks) - int(firstInodeAddress) - numInodeBlocks
	if numDataBlocks < 1 {
		return Superblock{}, wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"image of %d blocks has no room for data after %d inode blocks",
				totalBlocks,
				numInodeBlocks,
			),
		)
	}

	sb := Superblock{
		Magic:             Magic,
		NumInodes:         int32(numInodes),
		NumDataBlocks:     int32(numDataBlocks),
		InodeMapBlock:     int32(inodeMapAddress),
		DataBlockMapBlock: int32(dataBlockMapAddress),
		FirstInodeBlock:   int32(firstInodeAddress),
		FirstDataBlock:    int32(firstInodeAddress) + int32(numInodeBlocks),
		TotalBlocks:       int32(totalBlocks),
	}

	err := sb.Validate()
	if err != nil {
		return Superblock{}, wcsufs.ErrInvalidArgument.Wrap(err)
	}
	return sb, nil
}

// DecodeSuperblock parses the contents of block 0. It fails with
// [wcsufs.ErrInvalidFileSystem] if the magic number is wrong, and with
// [wcsufs.ErrFileSystemCorrupted] if the layout it describes is impossible.
func DecodeSuperblock(data []byte) (Superblock, error) {
	var sb Superblock
	err := binary.Read(bytes.NewReader(data), binary.BigEndian, &sb)
	if err != nil {
		return Superblock{}, wcsufs.ErrIOFailed.Wrap(err)
	}

	if sb.Magic != Magic {
		return Superblock{}, wcsufs.ErrInvalidFileSystem.WithMessage(
			fmt.Sprintf("bad magic number: expected %#08x, got %#08x", Magic, uint32(sb.Magic)))
	}
	return sb, sb.Validate()
}

// Validate checks that the superblock describes the fixed block order: the
// superblock, the two bitmaps, the inode table, then the data region.
func (sb *Superblock) Validate() error {
	corrupted := func(format string, args ...any) error {
		return wcsufs.ErrFileSystemCorrupted.WithMessage(fmt.Sprintf(format, args...))
	}

	if sb.InodeMapBlock != int32(inodeMapAddress) ||
		sb.DataBlockMapBlock != int32(dataBlockMapAddress) ||
		sb.FirstInodeBlock != int32(firstInodeAddress) {
		return corrupted(
			"metadata blocks out of order: inode map %d, data map %d, inodes %d",
			sb.InodeMapBlock,
			sb.DataBlockMapBlock,
			sb.FirstInodeBlock,
		)
	}
	if sb.NumInodes <= 0 || sb.NumInodes%InodesPerBlock != 0 {
		return corrupted("inode count must be a positive multiple of %d, got %d", InodesPerBlock, sb.NumInodes)
	}
	if sb.FirstDataBlock != sb.FirstInodeBlock+sb.NumInodes/InodesPerBlock {
		return corrupted(
			"data region should start at block %d, not %d",
			sb.FirstInodeBlock+sb.NumInodes/InodesPerBlock,
			sb.FirstDataBlock,
		)
	}
	if sb.NumDataBlocks <= 0 || int64(sb.FirstDataBlock)+int64(sb.NumDataBlocks) > int64(sb.TotalBlocks) {
		return corrupted(
			"%d data blocks starting at %d don't fit in %d total blocks",
			sb.NumDataBlocks,
			sb.FirstDataBlock,
			sb.TotalBlocks,
		)
	}
	if nodemap.EncodedSize(int(sb.NumInodes)) > c.BlockSize ||
		nodemap.EncodedSize(int(sb.NumDataBlocks)) > c.BlockSize {
		return corrupted(
			"bitmaps for %d inodes and %d data blocks don't fit in one block each",
			sb.NumInodes,
			sb.NumDataBlocks,
		)
	}
	return nil
}

// Encode serializes the superblock into a full block.
func (sb *Superblock) Encode() []byte {
	output := make([]byte, c.BlockSize)
	// Can't fail: the superblock is far smaller than a block.
	binary.Write(bytewriter.New(output), binary.BigEndian, sb)
	return output
}

// RelativeIndex converts an absolute block address into an index into the data
// block bitmap.
func (sb *Superblock) RelativeIndex(address c.BlockAddress) int {
	return int(address) - int(sb.FirstDataBlock)
}

// AbsoluteAddress converts a data block bitmap index into a block address.
func (sb *Superblock) AbsoluteAddress(index int) c.BlockAddress {
	return c.BlockAddress(index + int(sb.FirstDataBlock))
}

// IsUnset returns true if `address` is the "no block" value of a pointer, i.e.
// anything before the data region.
func (sb *Superblock) IsUnset(address c.BlockAddress) bool {
	return address < c.BlockAddress(sb.FirstDataBlock)
}

// IsDataAddress returns true if `address` is inside the data region.
func (sb *Superblock) IsDataAddress(address c.BlockAddress) bool {
	index := sb.RelativeIndex(address)
	return index >= 0 && index < int(sb.NumDataBlocks)
}

// InodeBlockCount gives the number of blocks taken up by the inode table.
func (sb *Superblock) InodeBlockCount() int {
	return int(sb.NumInodes) / InodesPerBlock
}

// InodeLocation gives the block an inode lives in and its byte offset inside
// that block.
func (sb *Superblock) InodeLocation(inumber int) (c.BlockAddress, int) {
	block := c.BlockAddress(int(sb.FirstInodeBlock) + inumber/InodesPerBlock)
	return block, (inumber % InodesPerBlock) * InodeSize
}
