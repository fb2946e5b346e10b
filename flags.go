package wcsufs

// AccessMode is the raw access-flag bitmask stored in an inode. The file system
// records it but doesn't enforce it.
type AccessMode uint8

const (
	AccessExecute AccessMode = 1 << iota // 001
	AccessWrite   AccessMode = 1 << iota // 010
	AccessRead    AccessMode = 1 << iota // 100
)

// AccessAll is the mode given to everything the file system creates.
const AccessAll = AccessRead | AccessWrite | AccessExecute

// CanRead returns true if the read flag is set.
func (m AccessMode) CanRead() bool {
	return m&AccessRead != 0
}

// CanWrite returns true if the write flag is set.
func (m AccessMode) CanWrite() bool {
	return m&AccessWrite != 0
}

// CanExecute returns true if the execute flag is set.
func (m AccessMode) CanExecute() bool {
	return m&AccessExecute != 0
}

// String renders the mode the way `ls -l` does, e.g. "rw-".
func (m AccessMode) String() string {
	out := []byte("---")
	if m.CanRead() {
		out[0] = 'r'
	}
	if m.CanWrite() {
		out[1] = 'w'
	}
	if m.CanExecute() {
		out[2] = 'x'
	}
	return string(out)
}
