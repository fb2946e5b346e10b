package wcsufs

import (
	"io"
)

// InodeType is the kind of object an inode describes. The numeric values are
// the ones stored on disk.
type InodeType int8

const (
	TypeDirectory InodeType = 1
	TypeFile      InodeType = 2
	TypeSymLink   InodeType = 3
	TypeUnused    InodeType = 4
)

// LookUpInodeType converts the on-disk type byte. Anything unrecognized is
// treated as an unused slot.
func LookUpInodeType(raw int8) InodeType {
	switch InodeType(raw) {
	case TypeDirectory, TypeFile, TypeSymLink, TypeUnused:
		return InodeType(raw)
	}
	return TypeUnused
}

func (t InodeType) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeFile:
		return "file"
	case TypeSymLink:
		return "symlink"
	}
	return "unused"
}

// TypeChar is the one-character code used in long directory listings.
func (t InodeType) TypeChar() byte {
	switch t {
	case TypeDirectory:
		return 'd'
	case TypeSymLink:
		return 'l'
	}
	return '-'
}

// FileDescriptor is a (name, inode number) pair produced while enumerating a
// directory. It's never persisted.
type FileDescriptor struct {
	Name        string
	InodeNumber int
}

// FileStat is the metadata of a single inode.
type FileStat struct {
	InodeNumber     int
	Type            InodeType
	Size            int64
	Nlinks          int
	Mode            AccessMode
	AllocatedBlocks int
}

// IsDir returns true if the inode is a directory.
func (s FileStat) IsDir() bool {
	return s.Type == TypeDirectory
}

// IsFile returns true if the inode is an ordinary file.
func (s FileStat) IsFile() bool {
	return s.Type == TypeFile
}

// FSStat summarizes the size and free space of a mounted image.
type FSStat struct {
	BlockSize     int
	TotalBlocks   int
	DataBlocks    int
	BlocksFree    int
	Files         int
	FilesFree     int
	MaxNameLength int
}

// ReadingDriver is the interface for drivers supporting read operations.
type ReadingDriver interface {
	// Resolve returns the inode number `path` refers to. Relative paths start
	// from `start`.
	Resolve(path string, start int) (int, error)
	// Enumerate lists the live entries of a directory, "." and ".." included.
	Enumerate(dirInode int) ([]FileDescriptor, error)
	// ReadFile returns up to `maxBytes` bytes of a file's contents. A negative
	// `maxBytes` reads the whole file.
	ReadFile(fileInode int, maxBytes int) ([]byte, error)
	ExportFile(path string, output io.Writer) (int64, error)
	Stat(inode int) (FileStat, error)
	FSStat() FSStat
	CurrentDirectory() int
	CurrentPath() (string, error)
	ChangeDirectory(path string) error
}

// WritingDriver is the interface for drivers supporting write operations.
type WritingDriver interface {
	CreateFile(parentDir int, name string, data []byte) (int, error)
	CreateDirectory(parentDir int, name string) (int, error)
	MkdirAll(path string) (int, error)
	ImportFile(path string, input io.Reader) (int, error)
	Remove(path string, recursive bool) error
}

// Driver is the interface for drivers implementing all driver capabilities.
// It's the only thing the command front end talks to.
type Driver interface {
	ReadingDriver
	WritingDriver

	// Unmount releases every materialized block. The driver must not be used
	// after this function is called.
	Unmount() error
}
