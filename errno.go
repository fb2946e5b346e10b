// This is a compatibility shim for POSIX-defined errno codes across platforms.
// The syscall package doesn't define all the values we need on all systems,
// particularly things like EUCLEAN.

package wcsufs

import (
	"fmt"
)

type Errno int

const (
	EOK Errno = iota
	EPERM
	ENOENT
	EIO
	EBADF
	EACCES
	EBUSY
	EEXIST
	ENOTDIR
	EISDIR
	EINVAL
	EFBIG
	ENOSPC
	EROFS
	EMLINK
	ENAMETOOLONG
	ENOSYS
	ENOTEMPTY
	ENODATA
	ENOTSUP
	EALREADY
	EUCLEAN
	EMEDIUMTYPE
)

// errorMessagesByCode is a literal so that it is ready before any package-level
// sentinel error calls StrError.
var errorMessagesByCode = map[Errno]string{
	EOK:          "Success",
	EPERM:        "Operation not permitted",
	ENOENT:       "No such file or directory",
	EIO:          "Input/output error",
	EBADF:        "Bad file descriptor",
	EACCES:       "Permission denied",
	EBUSY:        "Device or resource busy",
	EEXIST:       "File exists",
	ENOTDIR:      "Not a directory",
	EISDIR:       "Is a directory",
	EINVAL:       "Invalid argument",
	EFBIG:        "File too large",
	ENOSPC:       "No space left on device",
	EROFS:        "Read-only file system",
	EMLINK:       "Too many links",
	ENAMETOOLONG: "File name too long",
	ENOSYS:       "Function not implemented",
	ENOTEMPTY:    "Directory not empty",
	ENODATA:      "No data available",
	ENOTSUP:      "Operation not supported",
	EALREADY:     "Operation already in progress",
	EUCLEAN:      "Structure needs cleaning",
	EMEDIUMTYPE:  "Wrong medium type",
}

// StrError returns the standard message for an errno code.
func StrError(code Errno) string {
	message, ok := errorMessagesByCode[code]
	if ok {
		return message
	}
	return fmt.Sprintf("error %d not recognized.", int(code))
}
