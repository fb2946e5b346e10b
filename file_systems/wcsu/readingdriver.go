package wcsu

import (
	"fmt"
	"io"

	"github.com/dargueta/wcsufs"
	c "github.com/dargueta/wcsufs/file_systems/common"
)

// Enumerate lists the live entries of a directory, "." and ".." included. The
// blocks referenced by the direct pointers are read first, in slot order, then
// the blocks referenced by the indirect block.
func (v *Volume) Enumerate(dirInode int) ([]wcsufs.FileDescriptor, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return nil, err
	}

	entries, err := v.enumerate(dirInode)
	if err != nil {
		return nil, err
	}

	descriptors := make([]wcsufs.FileDescriptor, len(entries))
	for i, entry := range entries {
		descriptors[i] = wcsufs.FileDescriptor{Name: entry.Name, InodeNumber: entry.InodeNumber}
	}
	return descriptors, nil
}

// directoryBlock pairs a decoded directory block with where it lives.
type directoryBlock struct {
	address c.BlockAddress
	// slot is the index of the direct pointer referencing the block, or -1 if
	// it's referenced by the indirect block.
	slot  int
	block *DirectoryBlock
}

// directoryBlocks decodes every block of a directory, in enumeration order.
func (v *Volume) directoryBlocks(dirInode int) ([]directoryBlock, error) {
	dir, err := v.inode(dirInode)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, wcsufs.ErrNotADirectory.WithMessage(
			fmt.Sprintf("inode %d is a %s", dirInode, dir.Type))
	}

	var blocks []directoryBlock
	decode := func(address c.BlockAddress, slot int) error {
		data, err := v.readDataBlock(dirInode, address)
		if err != nil {
			return err
		}
		block, err := DecodeDirectoryBlock(data)
		if err != nil {
			return err
		}
		blocks = append(blocks, directoryBlock{address: address, slot: slot, block: block})
		return nil
	}

	for slot, address := range dir.Direct {
		if v.superblock.IsUnset(address) {
			continue
		}
		err = decode(address, slot)
		if err != nil {
			return nil, err
		}
	}

	indirect, err := v.readIndirectBlock(dir)
	if err != nil {
		return nil, err
	}
	if indirect != nil {
		for _, address := range indirect.Pointers() {
			err = decode(address, -1)
			if err != nil {
				return nil, err
			}
		}
	}
	return blocks, nil
}

func (v *Volume) enumerate(dirInode int) ([]DirectoryEntry, error) {
	blocks, err := v.directoryBlocks(dirInode)
	if err != nil {
		return nil, err
	}

	var entries []DirectoryEntry
	for _, dirBlock := range blocks {
		entries = append(entries, dirBlock.block.Entries()...)
	}
	return entries, nil
}

// isEmpty returns true if a directory holds nothing but "." and "..".
func (v *Volume) isEmpty(dirInode int) (bool, error) {
	entries, err := v.enumerate(dirInode)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Name != "." && entry.Name != ".." {
			return false, nil
		}
	}
	return true, nil
}

// ReadFile returns the contents of a file. At most `maxBytes` bytes are
// returned; a negative value reads the whole file.
func (v *Volume) ReadFile(fileInode int, maxBytes int) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return nil, err
	}
	return v.readFile(fileInode, maxBytes)
}

func (v *Volume) readFile(fileInode int, maxBytes int) ([]byte, error) {
	inode, err := v.inode(fileInode)
	if err != nil {
		return nil, err
	}

	switch inode.Type {
	case wcsufs.TypeDirectory:
		return nil, wcsufs.ErrIsADirectory.WithMessage(
			fmt.Sprintf("inode %d", fileInode))
	case wcsufs.TypeUnused:
		return nil, wcsufs.ErrNotFound.WithMessage(
			fmt.Sprintf("inode %d isn't in use", fileInode))
	}

	remaining := inode.FileSize
	if maxBytes >= 0 && int64(maxBytes) < remaining {
		remaining = int64(maxBytes)
	}
	output := make([]byte, 0, remaining)

	appendBlock := func(address c.BlockAddress) error {
		data, err := v.readDataBlock(fileInode, address)
		if err != nil {
			return err
		}
		if remaining < int64(len(data)) {
			data = data[:remaining]
		}
		output = append(output, data...)
		remaining -= int64(len(data))
		return nil
	}

	for _, address := range inode.DirectPointers(&v.superblock) {
		if remaining <= 0 {
			return output, nil
		}
		err = appendBlock(address)
		if err != nil {
			return nil, err
		}
	}
	if remaining <= 0 {
		return output, nil
	}

	// The direct blocks didn't cover the whole file, so the rest must be in
	// blocks referenced by the indirect block.
	indirect, err := v.readIndirectBlock(inode)
	if err != nil {
		return nil, err
	}
	if indirect == nil {
		return nil, wcsufs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"inode %d is missing its indirect block: %d bytes unaccounted for",
				fileInode,
				remaining,
			),
		)
	}

	for _, address := range indirect.Pointers() {
		if remaining <= 0 {
			break
		}
		err = appendBlock(address)
		if err != nil {
			return nil, err
		}
	}
	if remaining > 0 {
		return nil, wcsufs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"inode %d ran out of blocks with %d bytes unaccounted for",
				fileInode,
				remaining,
			),
		)
	}
	return output, nil
}

// ExportFile writes the contents of the file at `path` to `output` and returns
// the number of bytes written. Relative paths start at the current directory.
func (v *Volume) ExportFile(path string, output io.Writer) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return 0, err
	}

	inumber, err := v.resolve(path, v.cwd)
	if err != nil {
		return 0, err
	}

	data, err := v.readFile(inumber, -1)
	if err != nil {
		return 0, err
	}

	written, err := output.Write(data)
	if err != nil {
		return int64(written), wcsufs.ErrIOFailed.Wrap(err)
	}
	return int64(written), nil
}

// Stat returns the metadata of an inode in use.
func (v *Volume) Stat(inumber int) (wcsufs.FileStat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return wcsufs.FileStat{}, err
	}

	inode, err := v.inode(inumber)
	if err != nil {
		return wcsufs.FileStat{}, err
	}
	if !v.inodeMap.IsAllocated(inumber) {
		return wcsufs.FileStat{}, wcsufs.ErrNotFound.WithMessage(
			fmt.Sprintf("inode %d isn't in use", inumber))
	}
	return inode.Stat(), nil
}

// FSStat summarizes the size and free space of the volume.
func (v *Volume) FSStat() wcsufs.FSStat {
	v.mu.Lock()
	defer v.mu.Unlock()

	return wcsufs.FSStat{
		BlockSize:     c.BlockSize,
		TotalBlocks:   int(v.superblock.TotalBlocks),
		DataBlocks:    int(v.superblock.NumDataBlocks),
		BlocksFree:    v.dataBlockMap.CountFree(),
		Files:         v.inodeMap.CountAllocated(),
		FilesFree:     v.inodeMap.CountFree(),
		MaxNameLength: MaxNameLength,
	}
}

// CurrentDirectory returns the inode number of the current directory.
func (v *Volume) CurrentDirectory() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cwd
}

// ChangeDirectory makes `path` the current directory. It fails with
// [wcsufs.ErrNotADirectory] if the path refers to something else, in which case
// the current directory stays as it was.
func (v *Volume) ChangeDirectory(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return err
	}

	inumber, err := v.resolve(path, v.cwd)
	if err != nil {
		return err
	}
	if !v.inodes[inumber].IsDir() {
		return wcsufs.ErrNotADirectory.WithMessage(path)
	}
	v.cwd = inumber
	return nil
}

// CurrentPath returns the absolute path of the current directory.
func (v *Volume) CurrentPath() (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return "", err
	}
	return v.pathOf(v.cwd)
}

// parentOf returns the inode number the ".." entry of a directory refers to,
// or -1 if it has none.
func (v *Volume) parentOf(dirInode int) (int, error) {
	entries, err := v.enumerate(dirInode)
	if err != nil {
		return -1, err
	}
	for _, entry := range entries {
		if entry.Name == ".." {
			return entry.InodeNumber, nil
		}
	}
	return -1, nil
}

// pathOf builds the absolute path of a directory by following ".." entries up
// to the root and looking up each child's name in its parent.
func (v *Volume) pathOf(dirInode int) (string, error) {
	path := ""
	visited := map[int]bool{}
	current := dirInode

	for current != RootInode {
		if visited[current] {
			return "", wcsufs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("directory %d is its own ancestor", current))
		}
		visited[current] = true

		parent, err := v.parentOf(current)
		if err != nil {
			return "", err
		}
		if parent < 0 {
			break
		}

		parentEntries, err := v.enumerate(parent)
		if err != nil {
			return "", err
		}

		name := ""
		for _, entry := range parentEntries {
			if entry.InodeNumber == current && entry.Name != "." && entry.Name != ".." {
				name = entry.Name
				break
			}
		}
		if name == "" {
			return "", wcsufs.ErrFileSystemCorrupted.WithMessage(
				fmt.Sprintf("directory %d has no entry in its parent %d", current, parent))
		}

		path = "/" + name + path
		current = parent
	}

	if path == "" {
		return "/", nil
	}
	return path, nil
}
