package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/roach88/pdfjson/internal/config"
	"github.com/roach88/pdfjson/internal/engine"
	"github.com/roach88/pdfjson/internal/gateway"
	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/store"
	"github.com/roach88/pdfjson/internal/workflow"
)

// versioned is implemented by engine handles that know their version.
type versioned interface {
	Version() string
}

// session wires one engine, gateway and journal for a command's lifetime.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	loader  *engine.Loader
	journal *store.Store
	gateway *gateway.Gateway
	clock   *engine.Clock
	first   int64
	id      string
}

// openSession builds the conversion stack from the loaded config. The engine
// is not instantiated until the first conversion.
//
// The session's clock continues from the journal's last sequence number, so
// records in a file-backed journal stay in issue order across runs.
func (o *RootOptions) openSession(ctx context.Context) (*session, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := o.Config()
	if err != nil {
		return nil, err
	}
	logger := o.Logger()

	factory := o.Factory
	if factory == nil {
		factory = engine.NewQPDF(engine.QPDFOptions{Binary: cfg.QPDF, Logger: logger})
	}

	journal, err := store.Open(cfg.Journal)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	last, err := journal.LastSeq(ctx)
	if err != nil {
		journal.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	s := &session{
		cfg:     cfg,
		logger:  logger,
		loader:  engine.NewLoader(factory, engine.WithLoaderLogger(logger)),
		journal: journal,
		clock:   engine.NewClockAt(last),
		first:   last,
		id:      engine.UUIDv7Generator{}.Generate(),
	}

	opts := []gateway.Option{
		gateway.WithLogger(logger),
		gateway.WithRecorder(&sessionRecorder{s: s}),
		gateway.WithClock(s.clock),
		gateway.WithTimeout(cfg.Timeout),
	}
	if cfg.RejectWhenBusy {
		opts = append(opts, gateway.WithRejectWhenBusy())
	}
	s.gateway = gateway.New(s.loader, opts...)
	return s, nil
}

// machine returns a workflow over the session's gateway.
func (s *session) machine() *workflow.Machine {
	return workflow.New(s.gateway, workflow.WithLogger(s.logger))
}

// Close releases the engine and the journal.
func (s *session) Close() error {
	s.logger.Debug("session closed", "session", s.id, "conversions", s.clock.Current()-s.first)
	return errors.Join(s.loader.Close(), s.journal.Close())
}

// sessionRecorder starts the journal session on the first conversion, once
// the engine version is known.
type sessionRecorder struct {
	s *session

	mu      sync.Mutex
	started *store.Session
}

func (r *sessionRecorder) RecordConversion(ctx context.Context, rec ir.ConversionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started == nil {
		sess, err := r.s.journal.BeginSession(ctx, r.s.id, r.s.engineVersion(ctx))
		if err != nil {
			return err
		}
		r.started = sess
	}
	return r.started.RecordConversion(ctx, rec)
}

func (s *session) engineVersion(ctx context.Context) string {
	if !s.loader.Loaded() {
		return "unavailable"
	}
	h, err := s.loader.Acquire(ctx)
	if err != nil {
		return "unavailable"
	}
	if v, ok := h.(versioned); ok {
		return v.Version()
	}
	return "unknown"
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
