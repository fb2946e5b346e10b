// Package common contains definitions of fundamental types and functions used
// across the storage layers of the file system.
package common

// BlockAddress is the absolute index of a block in the backing image. Block 0 is
// the superblock.
type BlockAddress int32

// BlockSize is the size of every block in an image, in bytes.
const BlockSize = 4096

// RoundUp rounds `value` up to the nearest multiple of `multiple`, which must be
// positive.
func RoundUp(value, multiple int) int {
	return ((value + multiple - 1) / multiple) * multiple
}

// NumBlocksForSize gives the minimum number of blocks required to hold the
// given number of bytes.
func NumBlocksForSize(size int64) int64 {
	return (size + BlockSize - 1) / BlockSize
}
