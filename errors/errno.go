// This is a compatibility shim for POSIX-errno-flavored sentinel errors,
// trimmed to the fatal conditions the block I/O layer and walkers raise.
// Non-fatal anomalies (hard/soft warnings) are never represented as `error`
// values at all -- see accounting.Warnings.

package errors

import (
	"fmt"
)

type DiskoError string

const ErrBadMagic = DiskoError("Bad or unrecognized structure magic")
const ErrBusy = DiskoError("Device or resource busy")
const ErrCrossDeviceLink = DiskoError("Capture target is the same device as the source")
const ErrFileSystemCorrupted = DiskoError("Structure needs cleaning")
const ErrInvalidArgument = DiskoError("Invalid argument")
const ErrIOFailed = DiskoError("Input/output error")
const ErrNoSpaceOnDevice = DiskoError("No space left on device")
const ErrNotFound = DiskoError("No such sector, cluster, or path")
const ErrNotImplemented = DiskoError("Function not implemented")
const ErrNotPermitted = DiskoError("Operation not permitted")
const ErrNotSupported = DiskoError("Operation not supported")
const ErrPermissionDenied = DiskoError("Permission denied")
const ErrReadOnlyFileSystem = DiskoError("Read-only file system")
const ErrResultOutOfRange = DiskoError("Numerical result out of range")
const ErrSectorNotPresent = DiskoError("Sector not present in snapshot")
const ErrUnexpectedEOF = DiskoError("Unexpected end of file or stream")

func (e DiskoError) Error() string {
	return string(e)
}

func (e DiskoError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       message,
		originalError: e,
	}
}

func (e DiskoError) WrapError(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s %s", e.Error(), err.Error()),
		originalError: err,
	}
}
