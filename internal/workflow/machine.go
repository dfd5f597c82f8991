// Package workflow holds the session state of the round-trip editing
// workflow: no document, an editable structural text, or a text together
// with the PDF regenerated from it.
//
// The Machine is the single owner of that state. Conversions run outside its
// lock, so snapshots stay readable while the engine works; results are only
// committed if the text they were computed from is still current.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/pdfjson/internal/ir"
)

// State names the workflow phase.
type State string

const (
	Empty       State = "empty"
	Structural  State = "structural"
	Regenerated State = "regenerated"
)

var (
	// ErrNoDocument is returned by Edit and Regenerate before any document
	// has been loaded.
	ErrNoDocument = errors.New("no document loaded")

	// ErrStaleResult is returned when the state moved on while a conversion
	// was in flight: Regenerate after the text changed, Load after a later
	// Load committed. The result is discarded.
	ErrStaleResult = errors.New("structural text changed during regeneration")
)

// Converter performs the two conversions. *gateway.Gateway implements it.
type Converter interface {
	ToStructural(ctx context.Context, doc ir.Binary) ir.Outcome[ir.Structural]
	ToBinary(ctx context.Context, text ir.Structural) ir.Outcome[ir.Binary]
}

// Snapshot is an immutable copy of the workflow state.
type Snapshot struct {
	State State

	// Text is the current structural text. Empty in the Empty state.
	Text ir.Structural

	// Binary is the regenerated PDF. Only set in the Regenerated state.
	Binary ir.Binary

	// Revision increases every time Text changes.
	Revision uint64

	// SourceDigest is the digest of the text Binary was generated from.
	SourceDigest string
}

// HasDocument reports whether a document is loaded.
func (s Snapshot) HasDocument() bool {
	return s.State != Empty
}

// Machine is the workflow state machine.
//
// Thread-safety: safe for concurrent use.
type Machine struct {
	conv   Converter
	logger *slog.Logger

	mu     sync.Mutex
	snap   Snapshot
	loads  uint64 // Load calls issued
	loaded uint64 // ticket of the Load that produced the current document
	nextID int
	subs   map[int]chan Snapshot
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// New creates a Machine in the Empty state.
func New(conv Converter, opts ...Option) *Machine {
	m := &Machine{
		conv:   conv,
		logger: slog.Default(),
		snap:   Snapshot{State: Empty},
		subs:   make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load converts doc to structural text and makes it the current document,
// replacing whatever was loaded before. On failure the state is unchanged.
//
// Concurrent loads take effect in the order they were called: a load that
// finishes after a later one has committed returns ErrStaleResult.
func (m *Machine) Load(ctx context.Context, doc ir.Binary) error {
	m.mu.Lock()
	m.loads++
	ticket := m.loads
	m.mu.Unlock()

	out := m.conv.ToStructural(ctx, doc)
	text, ok := out.Value()
	if !ok {
		m.logger.Warn("load failed", "error", out.Err())
		return out.Err()
	}

	m.mu.Lock()
	if m.loaded > ticket {
		m.mu.Unlock()
		m.logger.Info("loaded document discarded: a later load replaced it", "load", ticket)
		return ErrStaleResult
	}
	m.loaded = ticket
	m.snap.State = Structural
	m.snap.Text = text
	m.snap.Binary = ir.Binary{}
	m.snap.SourceDigest = ""
	m.snap.Revision++
	m.notifyLocked()
	m.mu.Unlock()

	m.logger.Info("document loaded", "bytes", doc.Len())
	return nil
}

// Edit replaces the structural text. Any regenerated PDF is dropped, unless
// text is identical to the current text, in which case nothing changes.
func (m *Machine) Edit(text ir.Structural) error {
	m.mu.Lock()
	if m.snap.State == Empty {
		m.mu.Unlock()
		return ErrNoDocument
	}
	if m.snap.Text == text {
		m.mu.Unlock()
		return nil
	}
	m.snap.State = Structural
	m.snap.Text = text
	m.snap.Binary = ir.Binary{}
	m.snap.SourceDigest = ""
	m.snap.Revision++
	m.notifyLocked()
	m.mu.Unlock()
	return nil
}

// Regenerate builds a PDF from the current text.
//
// The result is committed only if the text is unchanged when the conversion
// finishes; otherwise ErrStaleResult is returned and the state is untouched.
func (m *Machine) Regenerate(ctx context.Context) error {
	m.mu.Lock()
	if m.snap.State == Empty {
		m.mu.Unlock()
		return ErrNoDocument
	}
	text, rev := m.snap.Text, m.snap.Revision
	m.mu.Unlock()

	out := m.conv.ToBinary(ctx, text)
	bin, ok := out.Value()
	if !ok {
		m.logger.Warn("regenerate failed", "error", out.Err())
		return out.Err()
	}

	m.mu.Lock()
	if m.snap.Revision != rev {
		m.mu.Unlock()
		m.logger.Info("regenerated PDF discarded: text changed", "revision", rev)
		return ErrStaleResult
	}
	m.snap.State = Regenerated
	m.snap.Binary = bin
	m.snap.SourceDigest = ir.DigestStructural(text)
	m.notifyLocked()
	m.mu.Unlock()

	m.logger.Info("PDF regenerated", "bytes", bin.Len())
	return nil
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Subscribe returns a channel that receives the latest snapshot after every
// change, and a function that cancels the subscription.
//
// The channel holds one pending snapshot; a slow reader skips intermediate
// states and sees the newest one.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			close(ch)
			m.mu.Unlock()
		})
	}
}

// notifyLocked publishes the current snapshot. Caller holds m.mu, so
// subscribers observe changes in commit order.
func (m *Machine) notifyLocked() {
	snap := m.snap
	for _, ch := range m.subs {
		// Replace any snapshot the reader has not taken yet.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
