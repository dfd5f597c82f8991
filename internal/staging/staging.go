// Package staging manages the ephemeral files used to pass artifacts to and
// from the conversion engine.
//
// The engine only accepts and produces named byte streams, so every
// conversion writes its input into a slot, lets the engine run, and reads the
// engine's output slot back. An Area enforces the protocol around that:
//
//   - EnsureScope must precede every write (it is idempotent)
//   - one Invocation is open per Area at a time
//   - an Invocation can only read slots it wrote itself or declared with
//     Expect, so bytes left behind by an earlier conversion are never observed
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sync"
)

// FS is the filesystem surface of an engine handle.
// engine.Handle satisfies it.
type FS interface {
	MakeScope(path string) error
	WriteFile(path string, data []byte) error
	ReadFile(path string) ([]byte, error)
	RemoveFile(path string) error
}

// Area is the staging filesystem of one engine handle.
//
// Thread-safety: all methods are safe for concurrent use; the protocol
// itself allows only one open Invocation.
type Area struct {
	fs FS

	mu     sync.Mutex
	scopes map[string]bool
	active *Invocation
}

// New creates an Area over fsys.
func New(fsys FS) *Area {
	return &Area{
		fs:     fsys,
		scopes: make(map[string]bool),
	}
}

// EnsureScope creates the named scope if it does not exist yet.
// Creating an existing scope is not an error.
func (a *Area) EnsureScope(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.scopes[name] {
		return nil
	}
	if err := a.fs.MakeScope(name); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("ensure scope %q: %w", name, err)
	}
	a.scopes[name] = true
	return nil
}

// Begin opens an invocation in scope, identified by id.
//
// Fails with CodeConcurrentInvocation while another invocation is open, and
// with CodeScopeMissing if EnsureScope has not created scope.
func (a *Area) Begin(scope, id string) (*Invocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active != nil {
		return nil, &ProtocolError{
			Code:         CodeConcurrentInvocation,
			Path:         scope,
			InvocationID: id,
			Message:      fmt.Sprintf("invocation %s still open", a.active.id),
		}
	}
	if !a.scopes[scope] {
		return nil, &ProtocolError{
			Code:         CodeScopeMissing,
			Path:         scope,
			InvocationID: id,
			Message:      "scope not created",
		}
	}

	inv := &Invocation{
		area:  a,
		id:    id,
		scope: scope,
		slots: make(map[string]slotState),
	}
	a.active = inv
	return inv, nil
}

// Busy reports whether an invocation is open.
func (a *Area) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active != nil
}

func (a *Area) release(inv *Invocation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == inv {
		a.active = nil
	}
}

type slotState int

const (
	slotWritten slotState = iota + 1
	slotExpected
)

// Invocation is one conversion's view of the staging area.
// It is not safe for concurrent use.
type Invocation struct {
	area   *Area
	id     string
	scope  string
	slots  map[string]slotState
	closed bool
}

// ID returns the invocation identifier.
func (inv *Invocation) ID() string {
	return inv.id
}

// Path returns the engine-visible path of a slot.
func (inv *Invocation) Path(name string) string {
	return path.Join(inv.scope, name)
}

// Write stores data in the named slot, replacing any earlier content.
func (inv *Invocation) Write(name string, data []byte) error {
	if err := inv.check(name); err != nil {
		return err
	}
	if err := inv.area.fs.WriteFile(inv.Path(name), data); err != nil {
		return fmt.Errorf("stage %s: %w", inv.Path(name), err)
	}
	inv.slots[name] = slotWritten
	return nil
}

// Expect declares name as an engine output slot and removes whatever an
// earlier invocation left there. Call it before invoking the engine.
func (inv *Invocation) Expect(name string) error {
	if err := inv.check(name); err != nil {
		return err
	}
	if err := inv.area.fs.RemoveFile(inv.Path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear %s: %w", inv.Path(name), err)
	}
	inv.slots[name] = slotExpected
	return nil
}

// Read returns the contents of a slot this invocation wrote or expected.
//
// Fails with CodeNotFound if the slot was neither written nor expected, or if
// the engine did not produce an expected slot.
func (inv *Invocation) Read(name string) ([]byte, error) {
	if err := inv.check(name); err != nil {
		return nil, err
	}
	if _, ok := inv.slots[name]; !ok {
		return nil, &ProtocolError{
			Code:         CodeNotFound,
			Path:         inv.Path(name),
			InvocationID: inv.id,
			Message:      "read before write",
		}
	}

	data, err := inv.area.fs.ReadFile(inv.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &ProtocolError{
			Code:         CodeNotFound,
			Path:         inv.Path(name),
			InvocationID: inv.id,
			Message:      "engine produced no output",
			Err:          err,
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", inv.Path(name), err)
	}
	return data, nil
}

// Close releases the area for the next invocation. Slots are left in place;
// the next invocation's Write and Expect calls replace them.
func (inv *Invocation) Close() {
	if inv.closed {
		return
	}
	inv.closed = true
	inv.area.release(inv)
}

func (inv *Invocation) check(name string) error {
	if inv.closed {
		return &ProtocolError{
			Code:         CodeClosed,
			Path:         inv.Path(name),
			InvocationID: inv.id,
			Message:      "invocation already closed",
		}
	}
	return validName(name)
}

// validName accepts a single path element.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || path.Base(name) != name {
		return &ProtocolError{Code: CodeInvalidName, Path: name, Message: "slot and scope names must be a single path element"}
	}
	return nil
}
