package wcsufs

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// DriverError is a wrapper around system errno codes, with a customizable error
// message.
type DriverError interface {
	error
	Errno() Errno
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
	Unwrap() error
}

type driverError struct {
	errno         Errno
	message       string
	originalError error
}

// New creates a new [DriverError] with a default message derived from the
// system's error code.
func New(errnoCode Errno) DriverError {
	return driverError{
		errno:   errnoCode,
		message: StrError(errnoCode),
	}
}

// NewWithMessage creates a new DriverError from a system error code with a
// custom message. The result has no parent, so it is a distinct sentinel from
// the one [New] would create for the same code.
func NewWithMessage(errnoCode Errno, message string) DriverError {
	return driverError{
		errno:   errnoCode,
		message: fmt.Sprintf("%s: %s", StrError(errnoCode), message),
	}
}

var ErrAlreadyInProgress = New(EALREADY)
var ErrBusy = New(EBUSY)
var ErrDirectoryNotEmpty = New(ENOTEMPTY)
var ErrExists = New(EEXIST)
var ErrFileSystemCorrupted = New(EUCLEAN)
var ErrFileTooLarge = New(EFBIG)
var ErrInvalidArgument = New(EINVAL)
var ErrInvalidFileSystem = New(EMEDIUMTYPE)
var ErrIOFailed = New(EIO)
var ErrIsADirectory = New(EISDIR)
var ErrNameTooLong = New(ENAMETOOLONG)
var ErrNoSpaceOnDevice = New(ENOSPC)
var ErrNotADirectory = New(ENOTDIR)
var ErrNotFound = New(ENOENT)
var ErrNotImplemented = New(ENOSYS)
var ErrNotPermitted = New(EPERM)
var ErrNotSupported = New(ENOTSUP)
var ErrReadOnlyFileSystem = New(EROFS)

// ErrOutOfInodes and ErrOutOfDataBlocks refine [ErrNoSpaceOnDevice] so callers
// can tell which bitmap ran dry.
var ErrOutOfInodes = ErrNoSpaceOnDevice.WithMessage("out of inodes")
var ErrOutOfDataBlocks = ErrNoSpaceOnDevice.WithMessage("out of data blocks")

// ErrDirectoryFull means every direct pointer of a directory already refers to
// a full directory block.
var ErrDirectoryFull = ErrNoSpaceOnDevice.WithMessage("directory has no room for more entries")

// ErrDirectoryBlockFull is returned when a single directory block can't hold a
// new entry. It isn't fatal; callers move on to the next block.
var ErrDirectoryBlockFull = NewWithMessage(ENOSPC, "directory block is full")

// ErrIndirectBlockFull is returned when an indirect block already holds as many
// addresses as fit in one block.
var ErrIndirectBlockFull = ErrFileTooLarge.WithMessage("indirect block is full")

// ErrDirectoryEmpty is returned when removing an entry from a directory block
// that holds one entry or none.
var ErrDirectoryEmpty = NewWithMessage(ENODATA, "directory is empty")

// ErrNotMounted is returned by every operation on a volume that has been
// unmounted.
var ErrNotMounted = NewWithMessage(EBADF, "volume is not mounted")

// Error implements the `error` object interface. When called, it returns a string
// describing the error.
func (e driverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return StrError(e.errno)
}

func (e driverError) Errno() Errno {
	return e.errno
}

func (e driverError) WithMessage(message string) DriverError {
	return driverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), message),
		originalError: e,
	}
}

func (e driverError) Wrap(err error) DriverError {
	return driverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: multierror.Append(e, err),
	}
}

func (e driverError) Unwrap() error {
	return e.originalError
}

// CastToDriverError converts `err` into a DriverError. DriverErrors are returned
// as-is, nil stays nil, and anything else is wrapped in [ErrIOFailed].
func CastToDriverError(err error) DriverError {
	if err == nil {
		return nil
	}

	var driverErr DriverError
	if errors.As(err, &driverErr) {
		return driverErr
	}
	return ErrIOFailed.Wrap(err)
}

////////////////////////////////////////////////////////////////////////////////

// Category is the broad class an error falls into. The shell uses it to decide
// how to phrase a failure; nothing depends on it for control flow.
type Category int

const (
	CategoryNone Category = iota
	CategoryStructuralIntegrity
	CategoryResourceExhaustion
	CategoryNameConflict
	CategoryNotFound
	CategoryTypeMismatch
	CategoryStateViolation
	CategoryIOFailure
	CategoryInvalidArgument
	CategoryUnknown
)

var categoryNames = map[Category]string{
	CategoryNone:                "none",
	CategoryStructuralIntegrity: "structural integrity",
	CategoryResourceExhaustion:  "resource exhaustion",
	CategoryNameConflict:        "name conflict",
	CategoryNotFound:            "not found",
	CategoryTypeMismatch:        "type mismatch",
	CategoryStateViolation:      "state violation",
	CategoryIOFailure:           "I/O failure",
	CategoryInvalidArgument:     "invalid argument",
	CategoryUnknown:             "unknown",
}

func (c Category) String() string {
	name, ok := categoryNames[c]
	if ok {
		return name
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// CategoryOf classifies an error. Errors that aren't DriverErrors are
// CategoryUnknown.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryNone
	}

	// ErrDirectoryEmpty and ErrDirectoryBlockFull have errno codes that would
	// otherwise put them in the wrong bucket.
	if errors.Is(err, ErrDirectoryEmpty) {
		return CategoryStateViolation
	}
	if errors.Is(err, ErrDirectoryBlockFull) {
		return CategoryResourceExhaustion
	}

	var driverErr DriverError
	if !errors.As(err, &driverErr) {
		return CategoryUnknown
	}

	switch driverErr.Errno() {
	case EUCLEAN, EMEDIUMTYPE:
		return CategoryStructuralIntegrity
	case ENOSPC, EFBIG:
		return CategoryResourceExhaustion
	case EEXIST:
		return CategoryNameConflict
	case ENOENT:
		return CategoryNotFound
	case ENOTDIR, EISDIR:
		return CategoryTypeMismatch
	case ENOTEMPTY, ENODATA, EBUSY, EBADF, EALREADY:
		return CategoryStateViolation
	case EIO:
		return CategoryIOFailure
	case EINVAL, ENAMETOOLONG:
		return CategoryInvalidArgument
	}
	return CategoryUnknown
}
