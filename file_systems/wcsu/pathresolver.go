package wcsu

import (
	"fmt"
	"strings"

	"github.com/dargueta/wcsufs"
)

// splitComponents breaks a relative path into its components. Trailing empty
// components are dropped; empty components elsewhere are kept and never match
// an entry.
func splitComponents(path string) []string {
	components := strings.Split(path, "/")
	for len(components) > 0 && components[len(components)-1] == "" {
		components = components[:len(components)-1]
	}
	return components
}

// splitParent separates a path into the path of its parent directory and the
// final component. A path without a slash is relative to the current
// directory.
func splitParent(path string) (string, string) {
	lastSlash := strings.LastIndexByte(path, '/')
	if lastSlash < 0 {
		return ".", path
	}
	if lastSlash == 0 {
		return "/", path[1:]
	}
	return path[:lastSlash], path[lastSlash+1:]
}

// Resolve returns the inode number `path` refers to. Relative paths are
// resolved starting at inode `start`.
//
//   - An empty path resolves to `start`.
//   - "/" resolves to the root directory, and a leading slash makes the path
//     absolute.
//   - If `start` isn't a directory, it's returned unchanged.
//
// A missing component fails with [wcsufs.ErrNotFound]; a component that is
// reached through something other than a directory fails with
// [wcsufs.ErrNotADirectory].
func (v *Volume) Resolve(path string, start int) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	err := v.checkMounted()
	if err != nil {
		return -1, err
	}
	return v.resolve(path, start)
}

func (v *Volume) resolve(path string, start int) (int, error) {
	startInode, err := v.inode(start)
	if err != nil {
		return -1, err
	}

	if path == "" {
		return start, nil
	}
	if path == "/" {
		return RootInode, nil
	}
	if strings.HasPrefix(path, "/") {
		startInode = &v.inodes[RootInode]
		path = path[1:]
	}
	if !startInode.IsDir() {
		return startInode.Number, nil
	}

	current := startInode
	for i, component := range splitComponents(path) {
		if !current.IsDir() {
			return -1, wcsufs.ErrNotADirectory.WithMessage(
				strings.Join(splitComponents(path)[:i], "/"))
		}

		next, found, err := v.lookup(current, component)
		if err != nil {
			return -1, err
		}
		if !found {
			return -1, wcsufs.ErrNotFound.WithMessage(fmt.Sprintf("could not find %s", path))
		}
		current = next
	}
	return current.Number, nil
}

// lookup finds the entry named `name` in a directory and returns the inode it
// refers to.
func (v *Volume) lookup(dir *Inode, name string) (*Inode, bool, error) {
	entries, err := v.enumerate(dir.Number)
	if err != nil {
		return nil, false, err
	}

	for _, entry := range entries {
		if entry.Name != name {
			continue
		}
		inode, err := v.inode(entry.InodeNumber)
		if err != nil {
			return nil, false, wcsufs.ErrFileSystemCorrupted.Wrap(err)
		}
		return inode, true, nil
	}
	return nil, false, nil
}
