package pinoq

import "errors"

// Error kinds returned by the engine. Operation handlers hand these to the
// bridge unchanged; only the bridge translates them to errnos.
var (
	ErrNotFound      = errors.New("no such file or directory")
	ErrExists        = errors.New("entry already exists")
	ErrNotEmpty      = errors.New("directory not empty")
	ErrNotDir        = errors.New("not a directory")
	ErrIsDir         = errors.New("is a directory")
	ErrNoSpace       = errors.New("no space left on volume")
	ErrFileTooLarge  = errors.New("file exceeds pointer capacity")
	ErrCorruptVolume = errors.New("invalid or corrupt volume")
	ErrIO            = errors.New("i/o error")
	ErrInvalidArg    = errors.New("invalid argument")
	ErrReadOnly      = errors.New("read-only volume")

	// ErrInternalFault marks a programming-contract violation (double
	// free, use of a freed inode). It indicates an engine bug, not a
	// filesystem-state condition, and is kept distinct from the
	// user-facing kinds above.
	ErrInternalFault = errors.New("internal fault")
)
