// Package gateway converts between PDF bytes and structural JSON text by
// driving the conversion engine through its staging area.
//
// Both operations follow one protocol:
//
//  1. Acquire the engine handle (lazily instantiated once per session)
//  2. Ensure the staging scope exists
//  3. Write the input slot
//  4. Invoke the engine with a fixed argv and capture the exit status
//  5. Non-zero status becomes a CONVERSION_FAILURE outcome
//  6. Read the output slot and return it
//
// Staging paths are fixed, so only one conversion may run at a time. The
// gateway queues later requests in arrival order (or rejects them with
// WithRejectWhenBusy). Every failure is returned as an ir.Outcome; nothing
// panics or escapes as an untyped error.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/pdfjson/internal/engine"
	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/staging"
)

// Staging layout shared with the engine.
const (
	Scope             = "working"
	SlotBinaryIn      = "input.pdf"
	SlotStructuralOut = "output.json"
	SlotStructuralIn  = "input.json"
	SlotBinaryOut     = "output.pdf"
)

// ExportArgs returns the engine argv that writes the structural text of the
// PDF at in to out. The flags disable object streams and stream compression
// and normalize content streams, so the text is diffable and editable.
func ExportArgs(in, out string) []string {
	return []string{
		"--json-output",
		"--object-streams=disable",
		"--compress-streams=n",
		"--normalize-content=y",
		in,
		out,
	}
}

// ImportArgs returns the engine argv that builds a PDF at out from the
// structural text at in.
func ImportArgs(in, out string) []string {
	return []string{"--json-input", in, out}
}

// EngineSource provides the session's engine handle. *engine.Loader
// implements it.
type EngineSource interface {
	Acquire(ctx context.Context) (engine.Handle, error)
}

// Recorder receives one record per conversion attempt.
// *store.Store implements it.
type Recorder interface {
	RecordConversion(ctx context.Context, rec ir.ConversionRecord) error
}

// Gateway runs conversions against a single engine and staging scope.
//
// Thread-safety: safe for concurrent use. Conversions are serialized.
type Gateway struct {
	source     EngineSource
	ids        engine.IDGenerator
	clock      *engine.Clock
	logger     *slog.Logger
	recorder   Recorder
	timeout    time.Duration
	rejectBusy bool
	turn       turnstile

	mu         sync.Mutex
	area       *staging.Area
	areaHandle engine.Handle
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithIDGenerator sets the invocation ID generator. Default: UUIDv7.
func WithIDGenerator(ids engine.IDGenerator) Option {
	return func(g *Gateway) {
		g.ids = ids
	}
}

// WithClock sets the logical clock used to sequence journal records.
func WithClock(clock *engine.Clock) Option {
	return func(g *Gateway) {
		g.clock = clock
	}
}

// WithRecorder journals every conversion attempt to r.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) {
		g.recorder = r
	}
}

// WithTimeout bounds each conversion, queue wait included.
// Zero means no gateway-imposed limit.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithRejectWhenBusy makes a request that arrives while another conversion
// is in flight fail immediately with KindBusy instead of queueing.
func WithRejectWhenBusy() Option {
	return func(g *Gateway) {
		g.rejectBusy = true
	}
}

// New creates a Gateway over source.
func New(source EngineSource, opts ...Option) *Gateway {
	g := &Gateway{
		source: source,
		ids:    engine.UUIDv7Generator{},
		clock:  engine.NewClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ToStructural converts a PDF into its structural JSON text.
func (g *Gateway) ToStructural(ctx context.Context, doc ir.Binary) ir.Outcome[ir.Structural] {
	var text ir.Structural
	_, f := g.convert(ctx, conversion{
		direction: ir.ToStructural,
		input:     doc.Bytes(),
		inSlot:    SlotBinaryIn,
		outSlot:   SlotStructuralOut,
		argv:      ExportArgs,
		accept: func(out []byte) (err error) {
			text, err = ir.DecodeStructural(out)
			return err
		},
	})
	if f != nil {
		return ir.Fail[ir.Structural](f)
	}
	return ir.Succeed(text)
}

// ToBinary converts structural JSON text into a PDF.
func (g *Gateway) ToBinary(ctx context.Context, text ir.Structural) ir.Outcome[ir.Binary] {
	out, f := g.convert(ctx, conversion{
		direction: ir.ToBinary,
		input:     text.Bytes(),
		inSlot:    SlotStructuralIn,
		outSlot:   SlotBinaryOut,
		argv:      ImportArgs,
	})
	if f != nil {
		return ir.Fail[ir.Binary](f)
	}
	return ir.Succeed(ir.NewBinary(out))
}

// Busy reports whether a conversion is in flight.
func (g *Gateway) Busy() bool {
	return g.turn.inFlight()
}

// Queued returns the number of conversions waiting behind the in-flight one.
func (g *Gateway) Queued() int {
	return g.turn.queued()
}

type conversion struct {
	direction ir.Direction
	input     []byte
	inSlot    string
	outSlot   string
	argv      func(in, out string) []string

	// accept, when set, vets the engine's output before the conversion is
	// recorded as a success.
	accept func(out []byte) error
}

func (g *Gateway) convert(ctx context.Context, c conversion) ([]byte, *ir.Failure) {
	id := g.ids.Generate()
	log := g.logger.With("invocation", id, "direction", string(c.direction))

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.rejectBusy {
		if !g.turn.tryAcquire() {
			log.Info("conversion rejected: another conversion is in flight")
			return nil, &ir.Failure{Kind: ir.KindBusy, Message: "another conversion is in flight"}
		}
	} else if err := g.turn.acquire(ctx); err != nil {
		log.Info("conversion abandoned while queued", "error", err)
		return nil, canceled(err)
	}
	defer g.turn.release()

	log.Debug("conversion started", "bytes", len(c.input))
	out, f := g.run(ctx, id, c, log)
	if f == nil && c.accept != nil {
		if err := c.accept(out); err != nil {
			log.Error("engine output rejected", "error", err)
			out, f = nil, &ir.Failure{Kind: ir.KindConversion, Message: "engine output is not text", Err: err}
		}
	}

	rec := ir.ConversionRecord{
		ID:          id,
		Seq:         g.clock.Next(),
		Direction:   c.direction,
		Outcome:     ir.OutcomeOK,
		InputDigest: digest(c.direction, c.input, true),
		InputBytes:  len(c.input),
	}
	if f != nil {
		rec.Outcome = string(f.Kind)
		rec.ExitCode = f.ExitCode
		rec.Diagnostics = f.Diagnostics
	} else {
		rec.OutputDigest = digest(c.direction, out, false)
		rec.OutputBytes = len(out)
		log.Info("conversion succeeded", "bytes", len(out))
	}
	g.record(ctx, rec, log)

	return out, f
}

func (g *Gateway) run(ctx context.Context, id string, c conversion, log *slog.Logger) ([]byte, *ir.Failure) {
	h, err := g.source.Acquire(ctx)
	if err != nil {
		var f *ir.Failure
		if errors.As(err, &f) {
			return nil, f
		}
		if ctx.Err() != nil {
			return nil, canceled(err)
		}
		return nil, &ir.Failure{Kind: ir.KindEngineUnavailable, Message: "engine failed to initialize", Err: err}
	}

	area := g.areaFor(h)
	if err := area.EnsureScope(Scope); err != nil {
		return nil, g.violation(log, "staging scope unavailable", err)
	}

	inv, err := area.Begin(Scope, id)
	if err != nil {
		return nil, g.violation(log, "staging area in use", err)
	}
	defer inv.Close()

	if err := inv.Write(c.inSlot, c.input); err != nil {
		return nil, g.violation(log, "stage input", err)
	}
	if err := inv.Expect(c.outSlot); err != nil {
		return nil, g.violation(log, "prepare output slot", err)
	}

	exit, err := h.Invoke(ctx, c.argv(inv.Path(c.inSlot), inv.Path(c.outSlot)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, canceled(err)
		}
		log.Error("engine could not run", "error", err)
		return nil, &ir.Failure{Kind: ir.KindConversion, ExitCode: -1, Message: "engine could not run", Err: err}
	}
	if !exit.Success() {
		log.Warn("engine exited non-zero", "exit_code", exit.Code, "diagnostics", exit.Diagnostics)
		return nil, ir.NewConversionFailure(exit.Code, exit.Diagnostics)
	}

	out, err := inv.Read(c.outSlot)
	if err != nil {
		return nil, g.violation(log, "read output", err)
	}
	return out, nil
}

// areaFor returns the staging area bound to h, creating it on first use.
func (g *Gateway) areaFor(h engine.Handle) *staging.Area {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.area == nil || g.areaHandle != h {
		g.area = staging.New(h)
		g.areaHandle = h
	}
	return g.area
}

func (g *Gateway) violation(log *slog.Logger, msg string, err error) *ir.Failure {
	log.Error("staging protocol violation", "step", msg, "error", err)
	return &ir.Failure{Kind: ir.KindStagingViolation, Message: msg, Err: err}
}

func (g *Gateway) record(ctx context.Context, rec ir.ConversionRecord, log *slog.Logger) {
	if g.recorder == nil {
		return
	}
	// The journal write must happen even when the conversion was canceled.
	if err := g.recorder.RecordConversion(context.WithoutCancel(ctx), rec); err != nil {
		log.Error("journal write failed", "error", err)
	}
}

func canceled(err error) *ir.Failure {
	return &ir.Failure{Kind: ir.KindCanceled, Message: "conversion canceled", Err: err}
}

// digest hashes data as the artifact type it is on the given side of a
// conversion.
func digest(d ir.Direction, data []byte, input bool) string {
	binarySide := (d == ir.ToStructural) == input
	if binarySide {
		return ir.DigestBinary(ir.NewBinary(data))
	}
	return ir.DigestStructural(ir.Structural(data))
}

// String describes the gateway state for logs.
func (g *Gateway) String() string {
	return fmt.Sprintf("gateway(busy=%t, queued=%d)", g.Busy(), g.Queued())
}
