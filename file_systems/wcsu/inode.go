package wcsu

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
	"github.com/dargueta/wcsufs/file_systems/common/blockcache"
	"github.com/noxer/bytewriter"
)

// RawInode is the on-disk form of an inode, 32 bytes, big-endian.
type RawInode struct {
	FileSize        int32
	Links           int8
	Type            int8
	AccessMode      int8
	Spare           int8
	AllocatedBlocks int32
	Direct          [NumDirectPointers]int32
	Indirect        int32
}

// Inode is the decoded form of a [RawInode] together with its number.
type Inode struct {
	Number          int
	FileSize        int64
	Links           int
	Type            wcsufs.InodeType
	AccessMode      wcsufs.AccessMode
	AllocatedBlocks int
	Direct          [NumDirectPointers]c.BlockAddress
	Indirect        c.BlockAddress
}

// NewBlankInode returns the record written into free inode slots: unused, with
// every pointer unset.
func NewBlankInode(inumber int) Inode {
	return Inode{Number: inumber, Type: wcsufs.TypeUnused}
}

// RawInodeToInode converts the on-disk form of an inode. Unknown type values
// become [wcsufs.TypeUnused].
func RawInodeToInode(inumber int, raw RawInode) Inode {
	inode := Inode{
		Number:          inumber,
		FileSize:        int64(raw.FileSize),
		Links:           int(raw.Links),
		Type:            wcsufs.LookUpInodeType(raw.Type),
		AccessMode:      wcsufs.AccessMode(uint8(raw.AccessMode)),
		AllocatedBlocks: int(raw.AllocatedBlocks),
		Indirect:        c.BlockAddress(raw.Indirect),
	}
	for i, pointer := range raw.Direct {
		inode.Direct[i] = c.BlockAddress(pointer)
	}
	return inode
}

// ToRaw converts an inode to its on-disk form.
func (inode Inode) ToRaw() RawInode {
	raw := RawInode{
		FileSize:        int32(inode.FileSize),
		Links:           int8(inode.Links),
		Type:            int8(inode.Type),
		AccessMode:      int8(inode.AccessMode),
		AllocatedBlocks: int32(inode.AllocatedBlocks),
		Indirect:        int32(inode.Indirect),
	}
	for i, pointer := range inode.Direct {
		raw.Direct[i] = int32(pointer)
	}
	return raw
}

// DecodeInode parses a single 32-byte inode record.
func DecodeInode(inumber int, data []byte) (Inode, error) {
	var raw RawInode
	err := binary.Read(bytes.NewReader(data), binary.BigEndian, &raw)
	if err != nil {
		return Inode{}, wcsufs.ErrIOFailed.Wrap(err)
	}
	return RawInodeToInode(inumber, raw), nil
}

// Encode serializes the inode into a 32-byte record.
func (inode Inode) Encode() []byte {
	output := make([]byte, InodeSize)
	raw := inode.ToRaw()
	// Can't fail: the buffer is exactly the size of a raw inode.
	binary.Write(bytewriter.New(output), binary.BigEndian, &raw)
	return output
}

func (inode Inode) IsDir() bool {
	return inode.Type == wcsufs.TypeDirectory
}

func (inode Inode) IsFile() bool {
	return inode.Type == wcsufs.TypeFile
}

// AddDirectPointer stores `address` in the first unset direct pointer slot and
// returns the slot's index. It returns -1 if every slot is in use. The
// allocated block count isn't touched.
func (inode *Inode) AddDirectPointer(address c.BlockAddress, sb *Superblock) int {
	for i, pointer := range inode.Direct {
		if sb.IsUnset(pointer) {
			inode.Direct[i] = address
			return i
		}
	}
	return -1
}

// DirectPointers returns the set direct pointers in slot order.
func (inode Inode) DirectPointers(sb *Superblock) []c.BlockAddress {
	pointers := make([]c.BlockAddress, 0, NumDirectPointers)
	for _, pointer := range inode.Direct {
		if !sb.IsUnset(pointer) {
			pointers = append(pointers, pointer)
		}
	}
	return pointers
}

// HasIndirect returns true if the inode's indirect pointer is set.
func (inode Inode) HasIndirect(sb *Superblock) bool {
	return !sb.IsUnset(inode.Indirect)
}

// Stat returns the metadata of the inode in the form the front end uses.
func (inode Inode) Stat() wcsufs.FileStat {
	return wcsufs.FileStat{
		InodeNumber:     inode.Number,
		Type:            inode.Type,
		Size:            inode.FileSize,
		Nlinks:          inode.Links,
		Mode:            inode.AccessMode,
		AllocatedBlocks: inode.AllocatedBlocks,
	}
}

////////////////////////////////////////////////////////////////////////////////

// InodeTable reads and writes inode records in place through the block cache.
type InodeTable struct {
	cache      *blockcache.BlockCache
	superblock *Superblock
}

func NewInodeTable(cache *blockcache.BlockCache, sb *Superblock) InodeTable {
	return InodeTable{cache: cache, superblock: sb}
}

func (table InodeTable) checkInumber(inumber int) error {
	if inumber < 0 || inumber >= int(table.superblock.NumInodes) {
		return wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"inode number %d not in range [0, %d)",
				inumber,
				table.superblock.NumInodes,
			),
		)
	}
	return nil
}

// ReadInode loads a single inode from the image.
func (table InodeTable) ReadInode(inumber int) (Inode, error) {
	err := table.checkInumber(inumber)
	if err != nil {
		return Inode{}, err
	}

	address, offset := table.superblock.InodeLocation(inumber)
	block, err := table.cache.Read(address)
	if err != nil {
		return Inode{}, err
	}
	return DecodeInode(inumber, block[offset:offset+InodeSize])
}

// ReadAll loads the entire inode table, one block at a time.
func (table InodeTable) ReadAll() ([]Inode, error) {
	inodes := make([]Inode, 0, table.superblock.NumInodes)

	for i := 0; i < table.superblock.InodeBlockCount(); i++ {
		address := c.BlockAddress(int(table.superblock.FirstInodeBlock) + i)
		block, err := table.cache.Read(address)
		if err != nil {
			return nil, err
		}

		for offset := 0; offset < c.BlockSize; offset += InodeSize {
			inode, err := DecodeInode(len(inodes), block[offset:offset+InodeSize])
			if err != nil {
				return nil, err
			}
			inodes = append(inodes, inode)
		}
	}
	return inodes, nil
}

// WriteInode stores `inode` at the slot given by its number.
func (table InodeTable) WriteInode(inode Inode) error {
	err := table.checkInumber(inode.Number)
	if err != nil {
		return err
	}

	address, offset := table.superblock.InodeLocation(inode.Number)
	block, err := table.cache.Read(address)
	if err != nil {
		return err
	}
	copy(block[offset:offset+InodeSize], inode.Encode())
	return table.cache.Write(address, block)
}
