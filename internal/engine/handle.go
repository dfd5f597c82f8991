package engine

import (
	"context"
	"errors"
)

// Exit is the process-level result of one engine invocation.
type Exit struct {
	// Code is the engine's exit status. Zero means success.
	Code int

	// Diagnostics holds whatever the engine printed to stderr.
	Diagnostics string
}

// Success reports whether the invocation exited zero.
func (e Exit) Success() bool {
	return e.Code == 0
}

// Handle is an instantiated conversion engine.
//
// Paths are slash-separated and relative to the engine's private root.
// Filesystem methods behave like plain file operations: MakeScope fails with
// fs.ErrExist when the directory exists, ReadFile fails with fs.ErrNotExist
// when the file is missing. Idempotency is layered on top by the staging
// package.
type Handle interface {
	// Invoke runs the engine with argv and waits for it to exit.
	// A non-nil error means the engine could not run at all; a non-zero exit
	// is reported through Exit.Code.
	Invoke(ctx context.Context, argv []string) (Exit, error)

	// MakeScope creates a directory.
	MakeScope(path string) error

	// WriteFile replaces the contents of path.
	WriteFile(path string, data []byte) error

	// ReadFile returns the contents of path.
	ReadFile(path string) ([]byte, error)

	// RemoveFile deletes path.
	RemoveFile(path string) error

	// Close releases the engine and discards its filesystem.
	Close() error
}

// Factory instantiates a Handle. It corresponds to locating and loading the
// engine payload; it may be slow and may fail.
type Factory func(ctx context.Context) (Handle, error)

// ErrPathOutsideRoot is returned when a path would escape the engine root.
var ErrPathOutsideRoot = errors.New("path escapes engine root")
