package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultQPDFBinary is the executable name looked up on $PATH when no path is
// configured.
const DefaultQPDFBinary = "qpdf"

// QPDFOptions configures the qpdf exec engine.
type QPDFOptions struct {
	// Binary is the qpdf executable, either a path or a name resolved
	// through $PATH. Empty means DefaultQPDFBinary.
	Binary string

	// TempDir is the parent of the engine's private root.
	// Empty means os.TempDir().
	TempDir string

	// Logger receives invocation logs. Nil means slog.Default().
	Logger *slog.Logger
}

// NewQPDF returns a Factory that runs the qpdf executable.
//
// Instantiation locates the executable, confirms it runs by asking for its
// version, and creates a private temporary root that backs the handle's
// filesystem. Any of those failing makes the engine unavailable.
func NewQPDF(opts QPDFOptions) Factory {
	return func(ctx context.Context) (Handle, error) {
		logger := opts.Logger
		if logger == nil {
			logger = slog.Default()
		}

		name := opts.Binary
		if name == "" {
			name = DefaultQPDFBinary
		}
		path, err := exec.LookPath(name)
		if err != nil {
			return nil, fmt.Errorf("locate qpdf: %w", err)
		}

		version, err := probeVersion(ctx, path)
		if err != nil {
			return nil, err
		}

		root, err := os.MkdirTemp(opts.TempDir, "pdfjson-engine-*")
		if err != nil {
			return nil, fmt.Errorf("create engine root: %w", err)
		}

		logger.Debug("qpdf located", "path", path, "version", version, "root", root)
		return &qpdfHandle{
			binary:  path,
			version: version,
			root:    root,
			logger:  logger,
		}, nil
	}
}

// probeVersion runs `qpdf --version` and returns its first output line.
func probeVersion(ctx context.Context, path string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "--version")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("probe qpdf: %w: %s", err, msg)
		}
		return "", fmt.Errorf("probe qpdf: %w", err)
	}

	line, _, _ := strings.Cut(strings.TrimSpace(stdout.String()), "\n")
	return line, nil
}

// qpdfHandle runs qpdf as a child process with its working directory set to
// a private root, so root-relative paths in argv and in the filesystem
// methods address the same files.
type qpdfHandle struct {
	binary  string
	version string
	root    string
	logger  *slog.Logger
}

// Version returns the probed qpdf version line.
func (h *qpdfHandle) Version() string {
	return h.version
}

func (h *qpdfHandle) Invoke(ctx context.Context, argv []string) (Exit, error) {
	cmd := exec.CommandContext(ctx, h.binary, argv...)
	cmd.Dir = h.root

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	h.logger.Debug("invoking qpdf", "argv", argv)

	err := cmd.Run()
	exit := Exit{Diagnostics: strings.TrimSpace(stderr.String())}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Exit{}, fmt.Errorf("run qpdf: %w", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Exit{}, fmt.Errorf("run qpdf: %w", ctxErr)
		}
		exit.Code = exitErr.ExitCode()
	}

	h.logger.Debug("qpdf exited", "exit_code", exit.Code, "stdout_bytes", stdout.Len())
	return exit, nil
}

func (h *qpdfHandle) MakeScope(path string) error {
	p, err := h.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Mkdir(p, 0o700); err != nil {
		return fmt.Errorf("make scope %q: %w", path, err)
	}
	return nil
}

func (h *qpdfHandle) WriteFile(path string, data []byte) error {
	p, err := h.resolve(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}

func (h *qpdfHandle) ReadFile(path string) ([]byte, error) {
	p, err := h.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return data, nil
}

func (h *qpdfHandle) RemoveFile(path string) error {
	p, err := h.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return fmt.Errorf("remove %q: %w", path, err)
	}
	return nil
}

func (h *qpdfHandle) Close() error {
	if err := os.RemoveAll(h.root); err != nil {
		return fmt.Errorf("remove engine root: %w", err)
	}
	return nil
}

// resolve maps a root-relative slash path to a host path inside the root.
func (h *qpdfHandle) resolve(path string) (string, error) {
	native := filepath.FromSlash(path)
	if !filepath.IsLocal(native) {
		return "", fmt.Errorf("%q: %w", path, ErrPathOutsideRoot)
	}
	return filepath.Join(h.root, native), nil
}
