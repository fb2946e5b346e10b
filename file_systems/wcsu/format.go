package wcsu

import (
	"encoding/binary"
	"io"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
	"github.com/dargueta/wcsufs/file_systems/common/blockcache"
	"github.com/dargueta/wcsufs/file_systems/common/nodemap"
	"github.com/noxer/bytewriter"
)

// Format lays out a fresh, empty file system over the whole of `stream`,
// destroying anything already in it. The number of blocks is determined from
// the size of the stream; a trailing partial block is left alone.
//
// The root directory is inode 0. Its only block is the first data block, which
// holds a single "." entry.
func Format(stream io.ReadWriteSeeker) (Superblock, error) {
	cache, err := blockcache.WrapStreamWithInferredSize(stream, c.BlockSize)
	if err != nil {
		return Superblock{}, err
	}

	sb, err := NewLayout(cache.TotalBlocks())
	if err != nil {
		return Superblock{}, err
	}

	err = cache.Write(superblockAddress, sb.Encode())
	if err != nil {
		return Superblock{}, err
	}

	// The root directory's inode and data block are both index 0.
	inodeMap := nodemap.New(nodemap.InodeMap, int(sb.NumInodes))
	inodeMap.SetAllocated(RootInode, true)
	dataBlockMap := nodemap.New(nodemap.DataBlockMap, int(sb.NumDataBlocks))
	dataBlockMap.SetAllocated(0, true)

	err = cache.Write(c.BlockAddress(sb.InodeMapBlock), inodeMap.Encode())
	if err != nil {
		return Superblock{}, err
	}
	err = cache.Write(c.BlockAddress(sb.DataBlockMapBlock), dataBlockMap.Encode())
	if err != nil {
		return Superblock{}, err
	}

	// Write the inode table. The root directory's inode always goes first.
	rootDataBlock := c.BlockAddress(sb.FirstDataBlock)
	rootInode := Inode{
		Number:          RootInode,
		FileSize:        c.BlockSize,
		Links:           1,
		Type:            wcsufs.TypeDirectory,
		AccessMode:      wcsufs.AccessAll,
		AllocatedBlocks: 1,
		Direct:          [NumDirectPointers]c.BlockAddress{rootDataBlock},
	}
	blankInode := NewBlankInode(0).ToRaw()
	rawRootInode := rootInode.ToRaw()

	for i := 0; i < sb.InodeBlockCount(); i++ {
		inodeBlock := make([]byte, c.BlockSize)
		writer := bytewriter.New(inodeBlock)

		for j := 0; j < InodesPerBlock; j++ {
			record := &blankInode
			if i == 0 && j == RootInode {
				record = &rawRootInode
			}
			err = binary.Write(writer, binary.BigEndian, record)
			if err != nil {
				return Superblock{}, wcsufs.ErrIOFailed.Wrap(err)
			}
		}

		err = cache.Write(c.BlockAddress(int(sb.FirstInodeBlock)+i), inodeBlock)
		if err != nil {
			return Superblock{}, err
		}
	}

	// Root directory block, then every other data block zeroed out.
	rootDirectory := NewDirectoryBlock()
	rootDirectory.CreateEntry(RootInode, ".")
	err = cache.Write(rootDataBlock, rootDirectory.Encode())
	if err != nil {
		return Superblock{}, err
	}

	for i := 1; i < int(sb.NumDataBlocks); i++ {
		err = cache.Write(sb.AbsoluteAddress(i), nil)
		if err != nil {
			return Superblock{}, err
		}
	}

	cache.Release()
	return sb, nil
}
