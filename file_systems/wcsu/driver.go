// Package wcsu implements the WCSU file system: a small Unix-style file system
// with 4 KiB blocks, a single superblock, one bitmap each for inodes and data
// blocks, 32-byte inodes with four direct pointers and one indirect pointer, and
// variable-length directory entries.
//
// All integers on disk are big-endian.
//
// Block 0 holds the superblock, block 1 the inode bitmap, block 2 the data
// block bitmap. The inode table starts at block 3, 128 inodes per block, and the
// data region follows immediately after it. Inode 0 is the root directory.
package wcsu

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
	"github.com/dargueta/wcsufs/file_systems/common/blockcache"
	"github.com/dargueta/wcsufs/file_systems/common/nodemap"
	"github.com/hashicorp/go-multierror"
)

// Volume is a mounted image. Every exported method takes the volume's lock, so
// a single Volume may be shared between goroutines; operations still run one at
// a time.
type Volume struct {
	mu           sync.Mutex
	stream       io.ReadWriteSeeker
	cache        *blockcache.BlockCache
	superblock   Superblock
	inodeMap     *nodemap.NodeMap
	dataBlockMap *nodemap.NodeMap
	inodeTable   InodeTable
	inodes       []Inode
	cwd          int
	logger       *log.Logger
	isMounted    bool
}

var _ wcsufs.Driver = (*Volume)(nil)

// Option configures a [Volume] at mount time.
type Option func(*Volume)

// WithLogger makes the volume trace mounts, allocations, and write-backs to
// `logger`. By default nothing is logged.
func WithLogger(logger *log.Logger) Option {
	return func(v *Volume) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// Mount reads the metadata of the image in `stream` and returns the mounted
// volume. The volume takes ownership of the stream; [Volume.Unmount] closes it
// if it implements [io.Closer].
//
// Every block reachable from an allocated inode is loaded into memory here.
func Mount(stream io.ReadWriteSeeker, options ...Option) (*Volume, error) {
	volume := &Volume{
		stream: stream,
		logger: log.New(io.Discard, "", 0),
		cwd:    RootInode,
	}
	for _, option := range options {
		option(volume)
	}

	// We don't know the size of the image until we've read the superblock, so
	// use a one-block cache to get it.
	probe := blockcache.WrapStream(stream, c.BlockSize, 1)
	superblockBytes, err := probe.Read(superblockAddress)
	if err != nil {
		return nil, err
	}

	volume.superblock, err = DecodeSuperblock(superblockBytes)
	if err != nil {
		return nil, err
	}
	sb := &volume.superblock

	volume.cache = blockcache.WrapStream(stream, c.BlockSize, uint(sb.TotalBlocks))
	volume.inodeTable = NewInodeTable(volume.cache, sb)

	inodeMapBytes, err := volume.cache.Read(c.BlockAddress(sb.InodeMapBlock))
	if err != nil {
		return nil, err
	}
	volume.inodeMap, err = nodemap.Decode(nodemap.InodeMap, inodeMapBytes, int(sb.NumInodes))
	if err != nil {
		return nil, err
	}

	dataMapBytes, err := volume.cache.Read(c.BlockAddress(sb.DataBlockMapBlock))
	if err != nil {
		return nil, err
	}
	volume.dataBlockMap, err = nodemap.Decode(nodemap.DataBlockMap, dataMapBytes, int(sb.NumDataBlocks))
	if err != nil {
		return nil, err
	}

	volume.inodes, err = volume.inodeTable.ReadAll()
	if err != nil {
		return nil, err
	}

	if !volume.inodes[RootInode].IsDir() {
		return nil, wcsufs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("root inode is a %s, not a directory", volume.inodes[RootInode].Type))
	}

	err = volume.loadReachableBlocks()
	if err != nil {
		return nil, err
	}

	volume.isMounted = true
	volume.logger.Printf(
		"mounted image: %d blocks, %d/%d inodes used, %d/%d data blocks used, %d blocks loaded",
		sb.TotalBlocks,
		volume.inodeMap.CountAllocated(),
		sb.NumInodes,
		volume.dataBlockMap.CountAllocated(),
		sb.NumDataBlocks,
		volume.cache.LoadedCount(),
	)
	return volume, nil
}

// loadReachableBlocks materializes every direct block and the full indirect
// chain of every inode in use.
func (v *Volume) loadReachableBlocks() error {
	for i := range v.inodes {
		if v.inodes[i].Type == wcsufs.TypeUnused {
			continue
		}

		addresses, err := v.inodeBlocks(&v.inodes[i])
		if err != nil {
			return err
		}
		for _, address := range addresses {
			err = v.cache.Load(address)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Unmount releases every materialized block, syncs the stream if it can be
// synced, and closes it if it can be closed. The volume can't be used
// afterwards.
func (v *Volume) Unmount() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.isMounted {
		return wcsufs.ErrNotMounted
	}
	v.isMounted = false
	v.cache.Release()

	var result *multierror.Error
	if syncer, ok := v.stream.(interface{ Sync() error }); ok {
		err := syncer.Sync()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("sync failed: %w", err))
		}
	}
	if closer, ok := v.stream.(io.Closer); ok {
		err := closer.Close()
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("close failed: %w", err))
		}
	}

	v.logger.Printf("unmounted image")
	if result != nil {
		return wcsufs.ErrIOFailed.Wrap(result.ErrorOrNil())
	}
	return nil
}

// Superblock returns a copy of the volume's superblock.
func (v *Volume) Superblock() Superblock {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.superblock
}

func (v *Volume) checkMounted() error {
	if !v.isMounted {
		return wcsufs.ErrNotMounted
	}
	return nil
}

// inode returns the in-memory copy of an inode, or fails if `inumber` isn't a
// valid inode number.
func (v *Volume) inode(inumber int) (*Inode, error) {
	if inumber < 0 || inumber >= len(v.inodes) {
		return nil, wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("inode number %d not in range [0, %d)", inumber, len(v.inodes)))
	}
	return &v.inodes[inumber], nil
}

// writeInode persists an inode and updates the in-memory copy.
func (v *Volume) writeInode(inode Inode) error {
	v.inodes[inode.Number] = inode
	v.logger.Printf(
		"writing inode %d: %s, %d bytes, %d links", inode.Number, inode.Type, inode.FileSize, inode.Links)
	return v.inodeTable.WriteInode(inode)
}

// writeBitmaps persists both allocation bitmaps, inode bitmap first.
func (v *Volume) writeBitmaps() error {
	err := v.cache.Write(c.BlockAddress(v.superblock.InodeMapBlock), v.inodeMap.Encode())
	if err != nil {
		return err
	}
	return v.cache.Write(c.BlockAddress(v.superblock.DataBlockMapBlock), v.dataBlockMap.Encode())
}

// checkPointer verifies that a set pointer belonging to `owner` lies inside the
// data region.
func (v *Volume) checkPointer(owner int, address c.BlockAddress) error {
	if !v.superblock.IsDataAddress(address) {
		return wcsufs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"inode %d points to block %d, outside the data region [%d, %d)",
				owner,
				address,
				v.superblock.FirstDataBlock,
				v.superblock.FirstDataBlock+v.superblock.NumDataBlocks,
			),
		)
	}
	return nil
}

// readDataBlock returns the contents of a data block belonging to `owner`.
func (v *Volume) readDataBlock(owner int, address c.BlockAddress) ([]byte, error) {
	err := v.checkPointer(owner, address)
	if err != nil {
		return nil, err
	}
	return v.cache.Read(address)
}

// readIndirectBlock decodes the indirect block of an inode. It returns nil if
// the inode's indirect pointer isn't set.
func (v *Volume) readIndirectBlock(inode *Inode) (*IndirectBlock, error) {
	if !inode.HasIndirect(&v.superblock) {
		return nil, nil
	}

	data, err := v.readDataBlock(inode.Number, inode.Indirect)
	if err != nil {
		return nil, err
	}

	indirect := DecodeIndirectBlock(data, c.BlockAddress(v.superblock.FirstDataBlock))
	for _, pointer := range indirect.Pointers() {
		err = v.checkPointer(inode.Number, pointer)
		if err != nil {
			return nil, err
		}
	}
	return indirect, nil
}

// contentBlocks lists the addresses of the blocks holding an inode's contents,
// in order: direct blocks by slot, then the blocks referenced by the indirect
// block. The indirect block itself isn't included.
func (v *Volume) contentBlocks(inode *Inode) ([]c.BlockAddress, error) {
	addresses := inode.DirectPointers(&v.superblock)
	for _, address := range addresses {
		err := v.checkPointer(inode.Number, address)
		if err != nil {
			return nil, err
		}
	}

	indirect, err := v.readIndirectBlock(inode)
	if err != nil {
		return nil, err
	}
	if indirect != nil {
		addresses = append(addresses, indirect.Pointers()...)
	}
	return addresses, nil
}

// inodeBlocks lists every data block an inode owns, including its indirect
// block.
func (v *Volume) inodeBlocks(inode *Inode) ([]c.BlockAddress, error) {
	addresses, err := v.contentBlocks(inode)
	if err != nil {
		return nil, err
	}
	if inode.HasIndirect(&v.superblock) {
		addresses = append(addresses, inode.Indirect)
	}
	return addresses, nil
}

// allocateDataBlock reserves the lowest free data block and returns its
// address. The bitmap isn't written.
func (v *Volume) allocateDataBlock() (c.BlockAddress, error) {
	index, err := v.dataBlockMap.Allocate()
	if err != nil {
		return 0, err
	}
	address := v.superblock.AbsoluteAddress(index)
	v.logger.Printf("allocated data block %d (index %d)", address, index)
	return address, nil
}

// freeDataBlock releases a data block and zeroes it on disk. The bitmap isn't
// written.
func (v *Volume) freeDataBlock(address c.BlockAddress) error {
	err := v.dataBlockMap.Free(v.superblock.RelativeIndex(address))
	if err != nil {
		return err
	}
	v.logger.Printf("freed data block %d", address)
	return v.cache.Write(address, nil)
}
