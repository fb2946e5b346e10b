package wcsu

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
)

// MaxNameLength is the longest name a directory entry may hold, in bytes, not
// counting the terminating null.
const MaxNameLength = 255

// direntHeaderSize covers the inode number, record length, and name length.
const direntHeaderSize = 8

// DirectoryEntry is one live entry of a directory block.
type DirectoryEntry struct {
	InodeNumber int
	Name        string
}

// RecordLength gives the number of bytes an entry named `name` takes up on
// disk: the header plus the name and its terminating null, padded to a multiple
// of four.
func RecordLength(name string) int {
	return direntHeaderSize + c.RoundUp(len(name)+1, 4)
}

// RecordLength is the on-disk size of the entry.
func (entry DirectoryEntry) RecordLength() int {
	return RecordLength(entry.Name)
}

// ValidateName checks that `name` can be stored in a directory entry created by
// a user. "." and ".." are reserved.
func ValidateName(name string) error {
	if name == "" {
		return wcsufs.ErrInvalidArgument.WithMessage("file name can't be empty")
	}
	if name == "." || name == ".." {
		return wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q is reserved", name))
	}
	if strings.ContainsAny(name, "/\x00") {
		return wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("file name %q can't contain a slash or null byte", name))
	}
	if len(name) > MaxNameLength {
		return wcsufs.ErrNameTooLong.WithMessage(
			fmt.Sprintf("%d bytes, at most %d allowed", len(name), MaxNameLength))
	}
	return nil
}

// DirectoryBlock is a data block holding a packed list of directory entries.
// Entries are kept in insertion order. Removed entries aren't tombstoned; the
// remaining ones are packed together the next time the block is encoded.
type DirectoryBlock struct {
	entries        []DirectoryEntry
	allocatedBytes int
}

// NewDirectoryBlock creates a block with no entries.
func NewDirectoryBlock() *DirectoryBlock {
	return &DirectoryBlock{}
}

// DecodeDirectoryBlock parses the entries of a directory block.
//
// Entries with a negative inode number are skipped. A record length of 0 marks
// the end of the list. Live entries whose lengths don't fit in the block fail
// with [wcsufs.ErrFileSystemCorrupted].
func DecodeDirectoryBlock(data []byte) (*DirectoryBlock, error) {
	block := NewDirectoryBlock()
	corrupted := func(offset int, format string, args ...any) error {
		return wcsufs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("directory entry at offset %d: ", offset) + fmt.Sprintf(format, args...))
	}

	offset := 0
	for offset+6 <= len(data) {
		inumber := int32(binary.BigEndian.Uint32(data[offset:]))
		recordLength := int(int16(binary.BigEndian.Uint16(data[offset+4:])))

		if inumber < 0 {
			// Deleted entry. The record length counts from the end of the inode
			// number and record length fields.
			if recordLength < 0 {
				return nil, corrupted(offset, "negative record length %d", recordLength)
			}
			offset += 6 + recordLength
			continue
		}
		if recordLength == 0 {
			break
		}

		if recordLength < direntHeaderSize || offset+recordLength > len(data) {
			return nil, corrupted(
				offset, "record length %d runs past the end of the block", recordLength)
		}

		nameLength := int(int16(binary.BigEndian.Uint16(data[offset+6:])))
		if nameLength < 1 || direntHeaderSize+nameLength > recordLength {
			return nil, corrupted(
				offset, "name length %d doesn't fit in record of %d bytes", nameLength, recordLength)
		}

		// The last byte of the name is always treated as the terminator, whatever
		// is actually stored there.
		rawName := data[offset+direntHeaderSize : offset+direntHeaderSize+nameLength-1]
		name, _, _ := strings.Cut(string(rawName), "\x00")

		entry := DirectoryEntry{InodeNumber: int(inumber), Name: name}
		block.entries = append(block.entries, entry)
		block.allocatedBytes += entry.RecordLength()
		offset += recordLength
	}

	if block.allocatedBytes > len(data) {
		return nil, wcsufs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"directory entries need %d bytes, more than a block",
				block.allocatedBytes,
			),
		)
	}
	return block, nil
}

// Encode writes the entries back to back into a full block, recomputing each
// record length. The rest of the block is zeroed.
func (block *DirectoryBlock) Encode() []byte {
	output := make([]byte, c.BlockSize)
	offset := 0

	for _, entry := range block.entries {
		recordLength := entry.RecordLength()
		binary.BigEndian.PutUint32(output[offset:], uint32(int32(entry.InodeNumber)))
		binary.BigEndian.PutUint16(output[offset+4:], uint16(recordLength))
		binary.BigEndian.PutUint16(output[offset+6:], uint16(len(entry.Name)+1))
		copy(output[offset+direntHeaderSize:], entry.Name)
		offset += recordLength
	}
	return output
}

// Entries returns a copy of the block's entries in order.
func (block *DirectoryBlock) Entries() []DirectoryEntry {
	entries := make([]DirectoryEntry, len(block.entries))
	copy(entries, block.entries)
	return entries
}

// Len returns the number of entries in the block.
func (block *DirectoryBlock) Len() int {
	return len(block.entries)
}

// AllocatedBytes is the sum of the record lengths of every entry.
func (block *DirectoryBlock) AllocatedBytes() int {
	return block.allocatedBytes
}

// Lookup finds the entry with the given name.
func (block *DirectoryBlock) Lookup(name string) (DirectoryEntry, bool) {
	for _, entry := range block.entries {
		if entry.Name == name {
			return entry, true
		}
	}
	return DirectoryEntry{}, false
}

// CanFit returns true if an entry named `name` can be added without the
// entries reaching the size of the block.
func (block *DirectoryBlock) CanFit(name string) bool {
	return block.allocatedBytes+RecordLength(name) < c.BlockSize
}

// CreateEntry appends an entry. It fails with [wcsufs.ErrExists] if the name is
// already in the block, and with [wcsufs.ErrDirectoryBlockFull] if there isn't
// room for it. Neither failure modifies the block.
func (block *DirectoryBlock) CreateEntry(inumber int, name string) error {
	if _, exists := block.Lookup(name); exists {
		return wcsufs.ErrExists.WithMessage(
			fmt.Sprintf("the name %q is already in use", name))
	}
	if !block.CanFit(name) {
		return wcsufs.ErrDirectoryBlockFull
	}

	entry := DirectoryEntry{InodeNumber: inumber, Name: name}
	block.entries = append(block.entries, entry)
	block.allocatedBytes += entry.RecordLength()
	return nil
}

// RemoveEntry deletes the entry with the given name. It fails with
// [wcsufs.ErrDirectoryEmpty] if the block holds one entry or none, whatever the
// name, and with [wcsufs.ErrNotFound] if no entry has that name.
func (block *DirectoryBlock) RemoveEntry(name string) error {
	if len(block.entries) <= 1 {
		return wcsufs.ErrDirectoryEmpty.WithMessage(
			fmt.Sprintf("can't remove %q", name))
	}

	for i, entry := range block.entries {
		if entry.Name == name {
			block.allocatedBytes -= entry.RecordLength()
			block.entries = append(block.entries[:i], block.entries[i+1:]...)
			return nil
		}
	}
	return wcsufs.ErrNotFound.WithMessage(
		fmt.Sprintf("could not find an entry for %q", name))
}
