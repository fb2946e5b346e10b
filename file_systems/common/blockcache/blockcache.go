// Package blockcache provides the block store every other layer of the file
// system sits on: fixed-size blocks read from and written to a backing medium,
// with the blocks that have been touched kept in memory until released.
//
// Writes go straight through to the backing medium before returning. There is
// no eviction; blocks stay materialized until [BlockCache.Release] is called.
//
// All block addresses begin at 0.

package blockcache

import (
	"fmt"
	"io"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
)

// FetchBlockCallback is a pointer to a function that writes the contents of a
// single block from the backing storage into `buffer`. The following guarantees
// apply:
//
// - `address` is in the range [0, TotalBlocks).
// - `buffer` is always BytesPerBlock bytes.
type FetchBlockCallback func(address c.BlockAddress, buffer []byte) error

// FlushBlockCallback is a pointer to a function that writes the contents of the
// given buffer to a block in the backing storage. All restrictions and
// guarantees in [FetchBlockCallback] apply here too.
type FlushBlockCallback func(address c.BlockAddress, buffer []byte) error

type BlockCache struct {
	loadedBlocks  bitmap.Bitmap
	blocks        map[c.BlockAddress][]byte
	fetch         FetchBlockCallback
	flush         FlushBlockCallback
	bytesPerBlock uint
	totalBlocks   uint
}

// New creates a new BlockCache.
//
// There are two callback functions:
//
//   - `fetchCb` reads a single block from the backing storage.
//   - `flushCb` writes a single block to the backing storage.
func New(
	bytesPerBlock uint,
	totalBlocks uint,
	fetchCb FetchBlockCallback,
	flushCb FlushBlockCallback,
) *BlockCache {
	return &BlockCache{
		loadedBlocks:  bitmap.New(int(totalBlocks)),
		blocks:        make(map[c.BlockAddress][]byte),
		fetch:         fetchCb,
		flush:         flushCb,
		bytesPerBlock: bytesPerBlock,
		totalBlocks:   totalBlocks,
	}
}

// WrapStream creates a [BlockCache] that wraps any [io.ReadWriteSeeker]. The
// stream must be at least `bytesPerBlock * totalBlocks` bytes; reads that come
// up short fail with [wcsufs.ErrIOFailed].
func WrapStream(
	stream io.ReadWriteSeeker,
	bytesPerBlock uint,
	totalBlocks uint,
) *BlockCache {
	// This function performs the function of the read and write callbacks. It's
	// put into one function because reading and writing differ only by a single
	// method call on the stream.
	runCb := func(block c.BlockAddress, buffer []byte, read bool) error {
		blockOffset := int64(block) * int64(bytesPerBlock)
		_, err := stream.Seek(blockOffset, io.SeekStart)
		if err != nil {
			return err
		}

		if read {
			_, err = io.ReadFull(stream, buffer)
		} else {
			var n int
			n, err = stream.Write(buffer)
			if err == nil && n < len(buffer) {
				err = io.ErrShortWrite
			}
		}
		return err
	}

	fetchCb := func(block c.BlockAddress, buffer []byte) error {
		return runCb(block, buffer, true)
	}

	flushCb := func(block c.BlockAddress, buffer []byte) error {
		return runCb(block, buffer, false)
	}

	return New(bytesPerBlock, totalBlocks, fetchCb, flushCb)
}

// WrapStreamWithInferredSize is like [WrapStream] but determines the number of
// blocks from the size of the stream. A trailing partial block is ignored.
func WrapStreamWithInferredSize(
	stream io.ReadWriteSeeker,
	bytesPerBlock uint,
) (*BlockCache, error) {
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, wcsufs.ErrIOFailed.Wrap(err)
	}
	return WrapStream(stream, bytesPerBlock, uint(size/int64(bytesPerBlock))), nil
}

// BytesPerBlock returns the size of a single block, in bytes.
func (cache *BlockCache) BytesPerBlock() uint {
	return cache.bytesPerBlock
}

// TotalBlocks returns the size of the backing medium, in blocks.
func (cache *BlockCache) TotalBlocks() uint {
	return cache.totalBlocks
}

// Size gives the size of the backing medium, in bytes (not blocks!).
func (cache *BlockCache) Size() int64 {
	return int64(cache.bytesPerBlock) * int64(cache.totalBlocks)
}

// checkAddress verifies that `address` is inside the backing medium. If not, it
// returns an error describing the exact conditions.
func (cache *BlockCache) checkAddress(address c.BlockAddress) error {
	if address < 0 || uint(address) >= cache.totalBlocks {
		return wcsufs.ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"invalid block address: %d not in range [0, %d)",
				address,
				cache.totalBlocks,
			),
		)
	}
	return nil
}

// Load ensures the block at `address` is present in the cache, fetching it from
// the backing storage if needed.
func (cache *BlockCache) Load(address c.BlockAddress) error {
	_, err := cache.getBlock(address)
	return err
}

// getBlock returns the cache's own buffer for a block, fetching it first if it
// isn't loaded. Callers must not modify the returned slice.
func (cache *BlockCache) getBlock(address c.BlockAddress) ([]byte, error) {
	err := cache.checkAddress(address)
	if err != nil {
		return nil, err
	}

	// Skip if the block is in the cache.
	if cache.loadedBlocks.Get(int(address)) {
		return cache.blocks[address], nil
	}

	buffer := make([]byte, cache.bytesPerBlock)
	err = cache.fetch(address, buffer)
	if err != nil {
		return nil, wcsufs.ErrIOFailed.Wrap(
			fmt.Errorf("failed to load block %d from source: %w", address, err))
	}

	cache.blocks[address] = buffer
	cache.loadedBlocks.Set(int(address), true)
	return buffer, nil
}

// Read returns a copy of the block at `address`, loading it first if it isn't
// in the cache.
func (cache *BlockCache) Read(address c.BlockAddress) ([]byte, error) {
	block, err := cache.getBlock(address)
	if err != nil {
		return nil, err
	}

	output := make([]byte, len(block))
	copy(output, block)
	return output, nil
}

// Write replaces the block at `address` with `data` and writes it to the backing
// storage before returning. `data` may be shorter than a block, in which case
// the rest of the block is zeroed.
//
// If writing to storage fails, the cached copy is left as it was.
func (cache *BlockCache) Write(address c.BlockAddress, data []byte) error {
	err := cache.checkAddress(address)
	if err != nil {
		return err
	}

	if uint(len(data)) > cache.bytesPerBlock {
		return wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"can't write %d bytes to block %d; blocks are %d bytes",
				len(data),
				address,
				cache.bytesPerBlock,
			),
		)
	}

	buffer := make([]byte, cache.bytesPerBlock)
	copy(buffer, data)

	err = cache.flush(address, buffer)
	if err != nil {
		return wcsufs.ErrIOFailed.Wrap(
			fmt.Errorf("failed to flush block %d to storage: %w", address, err))
	}

	cache.blocks[address] = buffer
	cache.loadedBlocks.Set(int(address), true)
	return nil
}

// IsLoaded returns true if the block at `address` is currently materialized.
func (cache *BlockCache) IsLoaded(address c.BlockAddress) bool {
	if cache.checkAddress(address) != nil {
		return false
	}
	return cache.loadedBlocks.Get(int(address))
}

// LoadedCount returns the number of materialized blocks.
func (cache *BlockCache) LoadedCount() int {
	return len(cache.blocks)
}

// Release drops every materialized block. Subsequent reads fetch from storage
// again.
func (cache *BlockCache) Release() {
	cache.blocks = make(map[c.BlockAddress][]byte)
	cache.loadedBlocks = bitmap.New(int(cache.totalBlocks))
}
