package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/mcptools"
	"github.com/roach88/pdfjson/internal/present"
	"github.com/roach88/pdfjson/internal/watch"
	"github.com/roach88/pdfjson/internal/workflow"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string

	// Ready receives the bound address once the server listens (for testing).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the editing workflow over HTTP",
		Long: `Serve the editing workflow over HTTP until interrupted.

Routes:
  GET  /api/state        current state
  POST /api/document     upload a PDF (replaces the current one)
  GET  /api/structural   structural text
  PUT  /api/structural   replace the structural text
  POST /api/regenerate   regenerate the PDF
  GET  /api/preview      regenerated PDF
  GET  /api/events       state changes (server-sent events)

Examples:
  pdfjson serve
  pdfjson serve --addr 127.0.0.1:9000`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	sess, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	addr := opts.Addr
	if addr == "" {
		addr = sess.cfg.Addr
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	m := sess.machine()
	server := present.NewServer(m, sess.logger)
	ready := make(chan string, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, addr, ready)
	})
	g.Go(func() error {
		select {
		case bound := <-ready:
			fmt.Fprintf(cmd.OutOrStdout(), "Serving on http://%s\n", bound)
			fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
			if opts.Ready != nil {
				opts.Ready <- bound
			}
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		logTransitions(gctx, m, sess)
		return nil
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "server error", err)
	}
	sess.logger.Info("server stopped")
	return nil
}

// logTransitions logs every state change until ctx ends.
func logTransitions(ctx context.Context, m *workflow.Machine, sess *session) {
	updates, cancel := m.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			sess.logger.Debug("workflow state", "state", snap.State, "revision", snap.Revision)
		}
	}
}

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	TextPath   string
	OutputPath string
	Debounce   time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <in.pdf>",
		Short: "Edit a PDF's structural JSON in your own editor",
		Long: `Write a PDF's structural JSON to --json and regenerate --out every
time the file is saved. Failed regenerations are reported and the previous
PDF is left in place.

Example:
  pdfjson watch doc.pdf --json doc.json --out doc.out.pdf`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TextPath, "json", "", "structural JSON file to edit (required)")
	cmd.Flags().StringVar(&opts.OutputPath, "out", "", "regenerated PDF (required)")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 0, "quiet period after a save (default from config)")
	_ = cmd.MarkFlagRequired("json")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func runWatch(opts *WatchOptions, in string, cmd *cobra.Command) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}

	sess, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	debounce := opts.Debounce
	if debounce == 0 {
		debounce = sess.cfg.Debounce
	}

	out := opts.formatter(cmd)
	w, err := watch.New(sess.machine(), watch.Options{
		TextPath:   opts.TextPath,
		OutputPath: opts.OutputPath,
		Debounce:   debounce,
		Logger:     sess.logger,
		OnReady: func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Edit %s; %s is regenerated on save. Press Ctrl-C to stop.\n",
				opts.TextPath, opts.OutputPath)
		},
		OnResult: func(r watch.Result) {
			if r.Err != nil {
				_ = out.Error(ErrorCode(r.Err), r.Err.Error(), nil)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ regenerated %s (revision %d)\n", r.Output, r.Revision)
		},
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid watch options", err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	if err := w.Run(ctx, ir.NewBinary(data)); err != nil {
		return conversionError("watch failed", err)
	}
	return nil
}

// NewMCPCommand creates the mcp command.
func NewMCPCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the editing workflow as MCP tools on stdio",
		Long: `Serve the editing workflow to an MCP client over stdin/stdout.

Tools: load_document, get_structural, edit_structural, regenerate.
Logs go to stderr so they never mix with the protocol stream.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if err := mcptools.RunStdio(ctx, mcptools.NewService(sess.machine())); err != nil && ctx.Err() == nil {
				return WrapExitError(ExitCommandError, "mcp server error", err)
			}
			return nil
		},
	}
	return cmd
}

// ErrorCode names err for CLI output: the failure kind when there is one.
func ErrorCode(err error) string {
	var f *ir.Failure
	if errors.As(err, &f) {
		return string(f.Kind)
	}
	return "E_FAILED"
}
