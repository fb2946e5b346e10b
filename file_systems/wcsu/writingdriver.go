package wcsu

import (
	"fmt"
	"io"
	"strings"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
)

// pendingBlock is a block waiting to be written to the image.
type pendingBlock struct {
	address c.BlockAddress
	data    []byte
}

// directorySlot says where a new entry will go in a parent directory.
type directorySlot struct {
	address c.BlockAddress
	block   *DirectoryBlock
	// newSlot is the direct pointer slot a new block will be attached to, or -1
	// if the entry fits into an existing block.
	newSlot int
}

// findDirectorySlot finds a block of `dir` with room for an entry named `name`.
// Blocks referenced by direct pointers are tried in slot order; if none of them
// has room, a new block is planned for the first unset direct pointer. Blocks
// reached through the indirect pointer are never written to. Nothing is
// allocated here.
func (v *Volume) findDirectorySlot(dir *Inode, name string) (directorySlot, error) {
	blocks, err := v.directoryBlocks(dir.Number)
	if err != nil {
		return directorySlot{}, err
	}

	for _, dirBlock := range blocks {
		if dirBlock.slot < 0 {
			continue
		}
		if dirBlock.block.CanFit(name) {
			return directorySlot{address: dirBlock.address, block: dirBlock.block, newSlot: -1}, nil
		}
	}

	for slot, pointer := range dir.Direct {
		if v.superblock.IsUnset(pointer) {
			return directorySlot{block: NewDirectoryBlock(), newSlot: slot}, nil
		}
	}
	return directorySlot{}, wcsufs.ErrDirectoryFull.WithMessage(
		fmt.Sprintf("directory inode %d", dir.Number))
}

// createNode adds an inode of the given type to directory `parentDir` under
// `name`, stores `content` in freshly allocated data blocks, and returns the
// new inode's number.
//
// Every check is done before anything is allocated, so a failure here leaves
// the bitmaps and inodes untouched. Once allocation starts, the write-back order
// is: inode bitmap, data bitmap, directory block, parent inode (if it changed),
// new inode, content blocks, indirect block.
func (v *Volume) createNode(
	parentDir int,
	name string,
	nodeType wcsufs.InodeType,
	content []byte,
) (int, error) {
	parent, err := v.inode(parentDir)
	if err != nil {
		return -1, err
	}
	if !parent.IsDir() {
		return -1, wcsufs.ErrNotADirectory.WithMessage(
			fmt.Sprintf("inode %d is a %s", parentDir, parent.Type))
	}

	err = ValidateName(name)
	if err != nil {
		return -1, err
	}

	_, exists, err := v.lookup(parent, name)
	if err != nil {
		return -1, err
	}
	if exists {
		return -1, wcsufs.ErrExists.WithMessage(
			fmt.Sprintf("the name %q is already in use", name))
	}

	numContentBlocks := int(c.NumBlocksForSize(int64(len(content))))
	if numContentBlocks > MaxBlocksPerFile {
		return -1, wcsufs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf(
				"%d bytes needs %d blocks, at most %d allowed",
				len(content),
				numContentBlocks,
				MaxBlocksPerFile,
			),
		)
	}

	slot, err := v.findDirectorySlot(parent, name)
	if err != nil {
		return -1, err
	}

	blocksNeeded := numContentBlocks
	if numContentBlocks > NumDirectPointers {
		blocksNeeded++
	}
	if slot.newSlot >= 0 {
		blocksNeeded++
	}

	if v.inodeMap.CountFree() < 1 {
		return -1, wcsufs.ErrOutOfInodes
	}
	if v.dataBlockMap.CountFree() < blocksNeeded {
		return -1, wcsufs.ErrOutOfDataBlocks.WithMessage(
			fmt.Sprintf(
				"need %d blocks, %d available",
				blocksNeeded,
				v.dataBlockMap.CountFree(),
			),
		)
	}

	// All checks passed; start allocating.
	inumber, err := v.inodeMap.Allocate()
	if err != nil {
		return -1, err
	}
	v.logger.Printf("allocated inode %d for %q in directory %d", inumber, name, parentDir)

	updatedParent := *parent
	parentChanged := false
	if slot.newSlot >= 0 {
		slot.address, err = v.allocateDataBlock()
		if err != nil {
			return -1, err
		}
		updatedParent.Direct[slot.newSlot] = slot.address
		updatedParent.AllocatedBlocks++
		updatedParent.FileSize += c.BlockSize
		parentChanged = true
	}

	err = slot.block.CreateEntry(inumber, name)
	if err != nil {
		return -1, err
	}

	newInode := Inode{
		Number:          inumber,
		FileSize:        int64(len(content)),
		Links:           1,
		Type:            nodeType,
		AccessMode:      wcsufs.AccessAll,
		AllocatedBlocks: numContentBlocks,
	}

	var contentBlocks []pendingBlock
	var indirect *IndirectBlock
	for i := 0; i < numContentBlocks; i++ {
		address, err := v.allocateDataBlock()
		if err != nil {
			return -1, err
		}

		end := (i + 1) * c.BlockSize
		if end > len(content) {
			end = len(content)
		}
		contentBlocks = append(
			contentBlocks, pendingBlock{address: address, data: content[i*c.BlockSize : end]})

		if newInode.AddDirectPointer(address, &v.superblock) >= 0 {
			continue
		}

		// The direct pointers are used up, so the rest of the blocks go in the
		// indirect block.
		if indirect == nil {
			newInode.Indirect, err = v.allocateDataBlock()
			if err != nil {
				return -1, err
			}
			indirect = NewIndirectBlock(c.BlockAddress(v.superblock.FirstDataBlock))
		}
		err = indirect.AddPointer(address)
		if err != nil {
			return -1, err
		}
	}

	// Write everything back.
	err = v.writeBitmaps()
	if err != nil {
		return -1, err
	}

	err = v.cache.Write(slot.address, slot.block.Encode())
	if err != nil {
		return -1, err
	}

	if parentChanged {
		err = v.writeInode(updatedParent)
		if err != nil {
			return -1, err
		}
	}

	err = v.writeInode(newInode)
	if err != nil {
		return -1, err
	}

	for _, block := range contentBlocks {
		err = v.cache.Write(block.address, block.data)
		if err != nil {
			return -1, err
		}
	}

	if indirect != nil {
		err = v.cache.Write(newInode.Indirect, indirect.Encode())
		if err != nil {
			return -1, err
		}
	}
	return inumber, nil
}

// CreateFile creates a regular file named `name` in directory `parentDir`
// holding `data`, and returns its inode number.
func (v *Volume) CreateFile(parentDir int, name string, data []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return -1, err
	}
	return v.createNode(parentDir, name, wcsufs.TypeFile, data)
}

// CreateDirectory creates an empty directory named `name` in directory
// `parentDir` and returns its inode number. Its single block holds "." and
// "..".
func (v *Volume) CreateDirectory(parentDir int, name string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return -1, err
	}
	return v.createDirectory(parentDir, name)
}

func (v *Volume) createDirectory(parentDir int, name string) (int, error) {
	// createNode allocates the lowest free inode, so we know in advance what
	// "." has to point to.
	inumber, err := v.inodeMap.FirstUnallocated()
	if err != nil {
		return -1, err
	}

	block := NewDirectoryBlock()
	block.CreateEntry(inumber, ".")
	block.CreateEntry(parentDir, "..")

	return v.createNode(parentDir, name, wcsufs.TypeDirectory, block.Encode())
}

// MkdirAll creates the directory at `path` along with any missing parents, and
// returns the inode number of the last one. Relative paths start at the
// current directory. Existing directories along the way are left alone.
func (v *Volume) MkdirAll(path string) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return -1, err
	}

	current := v.cwd
	if len(path) > 0 && path[0] == '/' {
		current = RootInode
		path = path[1:]
	}

	for _, component := range splitComponents(path) {
		if component == "" {
			continue
		}

		next, found, err := v.lookup(&v.inodes[current], component)
		if err != nil {
			return -1, err
		}
		if found {
			if !next.IsDir() {
				return -1, wcsufs.ErrNotADirectory.WithMessage(
					fmt.Sprintf("%q is a %s", component, next.Type))
			}
			current = next.Number
			continue
		}

		current, err = v.createDirectory(current, component)
		if err != nil {
			return -1, err
		}
	}
	return current, nil
}

// ImportFile creates a file at `path` holding everything read from `input`.
// Relative paths start at the current directory.
func (v *Volume) ImportFile(path string, input io.Reader) (int, error) {
	// Read one byte past the largest possible file so we can tell if the input
	// is too big without reading all of it.
	limit := int64(MaxBlocksPerFile)*c.BlockSize + 1
	data, err := io.ReadAll(io.LimitReader(input, limit))
	if err != nil {
		return -1, wcsufs.ErrIOFailed.Wrap(err)
	}
	if int64(len(data)) >= limit {
		return -1, wcsufs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("files can be at most %d bytes", limit-1))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	err = v.checkMounted()
	if err != nil {
		return -1, err
	}

	parentPath, name := splitParent(path)
	parentDir, err := v.resolve(parentPath, v.cwd)
	if err != nil {
		return -1, err
	}
	return v.createNode(parentDir, name, wcsufs.TypeFile, data)
}

////////////////////////////////////////////////////////////////////////////////

// Remove deletes the file or directory at `path`. Relative paths start at the
// current directory.
//
// Removing a file deletes its directory entry and decrements its link count;
// the inode and its blocks are freed once the count reaches zero. A directory
// must be empty unless `recursive` is true, in which case everything in it is
// removed first.
func (v *Volume) Remove(path string, recursive bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return err
	}

	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" && path != "" {
		return wcsufs.ErrNotPermitted.WithMessage("can't remove the root directory")
	}

	parentPath, name := splitParent(trimmed)
	if name == "" || name == "." || name == ".." {
		return wcsufs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("can't remove %q", path))
	}

	target, err := v.resolve(trimmed, v.cwd)
	if err != nil {
		return err
	}
	if target == RootInode {
		return wcsufs.ErrNotPermitted.WithMessage("can't remove the root directory")
	}

	parentDir, err := v.resolve(parentPath, v.cwd)
	if err != nil {
		return err
	}

	targetInode := v.inodes[target]
	if !targetInode.IsDir() {
		err = v.unlink(parentDir, name)
		if err != nil {
			return err
		}
		return v.releaseLink(target)
	}

	busy, err := v.isAncestorOfCwd(target)
	if err != nil {
		return err
	}
	if busy {
		return wcsufs.ErrBusy.WithMessage(
			fmt.Sprintf("%q is the current directory or one of its parents", path))
	}

	empty, err := v.isEmpty(target)
	if err != nil {
		return err
	}
	if !empty {
		if !recursive {
			return wcsufs.ErrDirectoryNotEmpty.WithMessage(path)
		}
		err = v.removeChildren(target)
		if err != nil {
			return err
		}
	}

	err = v.unlink(parentDir, name)
	if err != nil {
		return err
	}
	return v.freeInode(target)
}

// isAncestorOfCwd returns true if `dirInode` is the current directory or any
// directory above it.
func (v *Volume) isAncestorOfCwd(dirInode int) (bool, error) {
	visited := map[int]bool{}
	for current := v.cwd; current >= 0; {
		if current == dirInode {
			return true, nil
		}
		if current == RootInode || visited[current] {
			return false, nil
		}
		visited[current] = true

		parent, err := v.parentOf(current)
		if err != nil {
			return false, err
		}
		current = parent
	}
	return false, nil
}

// removeChildren removes everything in a directory except "." and "..",
// descending into subdirectories.
func (v *Volume) removeChildren(dirInode int) error {
	entries, err := v.enumerate(dirInode)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}

		child, err := v.inode(entry.InodeNumber)
		if err != nil {
			return wcsufs.ErrFileSystemCorrupted.Wrap(err)
		}

		if child.IsDir() {
			err = v.removeChildren(child.Number)
			if err != nil {
				return err
			}
			err = v.unlink(dirInode, entry.Name)
			if err != nil {
				return err
			}
			err = v.freeInode(child.Number)
		} else {
			err = v.unlink(dirInode, entry.Name)
			if err != nil {
				return err
			}
			err = v.releaseLink(child.Number)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// unlink deletes the entry `name` from a directory and writes the block back.
// If the entry is the only one in a block other than the directory's first,
// the block is detached from the directory and freed instead.
func (v *Volume) unlink(dirInode int, name string) error {
	blocks, err := v.directoryBlocks(dirInode)
	if err != nil {
		return err
	}

	for i, dirBlock := range blocks {
		if _, found := dirBlock.block.Lookup(name); !found {
			continue
		}

		if dirBlock.block.Len() == 1 && i > 0 && dirBlock.slot >= 0 {
			return v.detachDirectoryBlock(dirInode, dirBlock)
		}

		err = dirBlock.block.RemoveEntry(name)
		if err != nil {
			return err
		}
		v.logger.Printf("removed %q from directory %d", name, dirInode)
		return v.cache.Write(dirBlock.address, dirBlock.block.Encode())
	}

	return wcsufs.ErrNotFound.WithMessage(
		fmt.Sprintf("could not find link %q in directory %d", name, dirInode))
}

// detachDirectoryBlock clears the direct pointer to an emptied directory block
// and frees the block.
func (v *Volume) detachDirectoryBlock(dirInode int, dirBlock directoryBlock) error {
	dir := v.inodes[dirInode]
	dir.Direct[dirBlock.slot] = 0
	dir.AllocatedBlocks--
	dir.FileSize -= c.BlockSize

	err := v.freeDataBlock(dirBlock.address)
	if err != nil {
		return err
	}
	err = v.writeBitmaps()
	if err != nil {
		return err
	}
	return v.writeInode(dir)
}

// releaseLink decrements the link count of a file, freeing it when no links
// remain.
func (v *Volume) releaseLink(inumber int) error {
	inode := v.inodes[inumber]
	inode.Links--
	if inode.Links <= 0 {
		return v.freeInode(inumber)
	}
	return v.writeInode(inode)
}

// freeInode releases an inode and every data block it owns. Freed blocks are
// zeroed, the inode slot is overwritten with a blank record, and then both
// bitmaps are written.
func (v *Volume) freeInode(inumber int) error {
	inode := v.inodes[inumber]
	addresses, err := v.inodeBlocks(&inode)
	if err != nil {
		return err
	}

	for _, address := range addresses {
		err = v.freeDataBlock(address)
		if err != nil {
			return err
		}
	}

	err = v.inodeMap.Free(inumber)
	if err != nil {
		return err
	}
	v.logger.Printf("freed inode %d and %d data blocks", inumber, len(addresses))

	err = v.writeInode(NewBlankInode(inumber))
	if err != nil {
		return err
	}
	return v.writeBitmaps()
}
