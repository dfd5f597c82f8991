// Package watch provides a file-backed editing surface: the structural text
// of a document is written to a file, and every save of that file is applied
// as an edit and regenerated into a PDF on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/workflow"
)

// Machine is the workflow surface the watcher drives.
type Machine interface {
	Load(ctx context.Context, doc ir.Binary) error
	Edit(text ir.Structural) error
	Regenerate(ctx context.Context) error
	Snapshot() workflow.Snapshot
}

// Result reports one regeneration triggered by a save.
type Result struct {
	Revision uint64
	Output   string // path written; empty on failure
	Err      error
}

// Options configures a Watcher.
type Options struct {
	// TextPath receives the structural text and is watched for saves.
	TextPath string

	// OutputPath receives every successfully regenerated PDF.
	OutputPath string

	// Debounce is the quiet period after the last change event before the
	// file is read. Editors often save in several writes.
	Debounce time.Duration

	Logger *slog.Logger

	// OnReady is called once the text file is written and watched.
	OnReady func()

	// OnResult is called after each regeneration attempt.
	OnResult func(Result)
}

// Watcher runs the file-backed editing loop.
type Watcher struct {
	machine Machine
	opts    Options
	logger  *slog.Logger
}

// New creates a Watcher.
func New(m Machine, opts Options) (*Watcher, error) {
	if opts.TextPath == "" || opts.OutputPath == "" {
		return nil, errors.New("watch: text and output paths are required")
	}
	if filepath.Clean(opts.TextPath) == filepath.Clean(opts.OutputPath) {
		return nil, errors.New("watch: text and output paths must differ")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{machine: m, opts: opts, logger: logger}, nil
}

// Run loads doc, writes its structural text to TextPath, and regenerates
// OutputPath on every save until ctx is canceled.
//
// A failed load is returned. Failed regenerations are reported through
// OnResult and logged; the loop keeps running so the user can fix the text.
func (w *Watcher) Run(ctx context.Context, doc ir.Binary) error {
	if err := w.machine.Load(ctx, doc); err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if err := writeAtomic(w.opts.TextPath, w.machine.Snapshot().Text.Bytes()); err != nil {
		return fmt.Errorf("write structural text: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	// Watch the directory rather than the file so atomic saves (temp file
	// plus rename) are seen.
	dir := filepath.Dir(w.opts.TextPath)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %q: %w", dir, err)
	}

	w.logger.Info("watching structural text", "path", w.opts.TextPath, "output", w.opts.OutputPath)
	if w.opts.OnReady != nil {
		w.opts.OnReady()
	}

	trigger := make(chan struct{}, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.events(gctx, fw, trigger) })
	g.Go(func() error { return w.regenerate(gctx, trigger) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// events debounces change events on the text file into triggers.
func (w *Watcher) events(ctx context.Context, fw *fsnotify.Watcher, trigger chan<- struct{}) error {
	name := filepath.Base(w.opts.TextPath)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-timer.C:
			select {
			case trigger <- struct{}{}:
			default: // a regeneration is already pending
			}
		}
	}
}

// regenerate applies the saved text and rebuilds the PDF, one trigger at a
// time.
func (w *Watcher) regenerate(ctx context.Context, trigger <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-trigger:
		}

		data, err := os.ReadFile(w.opts.TextPath)
		if errors.Is(err, os.ErrNotExist) {
			// Mid-rename; the Create event will trigger again.
			continue
		}
		if err != nil {
			w.report(Result{Err: fmt.Errorf("read structural text: %w", err)})
			continue
		}
		text, err := ir.DecodeStructural(data)
		if err != nil {
			w.report(Result{Err: err})
			continue
		}

		before := w.machine.Snapshot()
		if before.State == workflow.Regenerated && before.Text == text {
			// Saved without changes since the last successful regeneration.
			continue
		}
		if err := w.machine.Edit(text); err != nil {
			w.report(Result{Err: err})
			continue
		}

		err = w.machine.Regenerate(ctx)
		snap := w.machine.Snapshot()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.report(Result{Revision: snap.Revision, Err: err})
			continue
		}
		if err := writeAtomic(w.opts.OutputPath, snap.Binary.Bytes()); err != nil {
			w.report(Result{Revision: snap.Revision, Err: fmt.Errorf("write PDF: %w", err)})
			continue
		}
		w.report(Result{Revision: snap.Revision, Output: w.opts.OutputPath})
	}
}

func (w *Watcher) report(r Result) {
	if r.Err != nil {
		var f *ir.Failure
		if errors.As(r.Err, &f) && f.Diagnostics != "" {
			w.logger.Warn("regeneration failed", "revision", r.Revision, "error", r.Err, "diagnostics", f.Diagnostics)
		} else {
			w.logger.Warn("regeneration failed", "revision", r.Revision, "error", r.Err)
		}
	} else {
		w.logger.Info("PDF written", "revision", r.Revision, "path", r.Output)
	}
	if w.opts.OnResult != nil {
		w.opts.OnResult(r)
	}
}

// writeAtomic replaces path with data via a temp file in the same directory.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
