package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tailscale/hujson"

	"github.com/roach88/pdfjson/internal/ir"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// ConversionResult is the payload reported after export or import.
type ConversionResult struct {
	Input  string `json:"input"`
	Output string `json:"output"`
	Bytes  int    `json:"bytes"`
	Digest string `json:"digest"`
}

func (r ConversionResult) String() string {
	return fmt.Sprintf("✓ %s -> %s (%d bytes)", r.Input, r.Output, r.Bytes)
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <in.pdf>",
		Short: "Convert a PDF to qpdf JSON",
		Long: `Convert a PDF to qpdf's structural JSON.

The JSON is written to --output, or to stdout when no output is given.

Exit codes:
  0 - Converted
  1 - The engine rejected the document
  2 - Command error (missing file, engine unavailable, etc.)

Examples:
  pdfjson export doc.pdf > doc.json
  pdfjson export doc.pdf -o doc.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default: stdout)")

	return cmd
}

func runExport(opts *ExportOptions, in string, cmd *cobra.Command) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}

	sess, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	out := opts.formatter(cmd)
	result := sess.gateway.ToStructural(cmd.Context(), ir.NewBinary(data))
	text, ok := result.Value()
	if !ok {
		return out.Failure("export failed", result.Err())
	}

	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(text.Bytes())
		return err
	}
	if err := os.WriteFile(opts.Output, text.Bytes(), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return out.Success(ConversionResult{
		Input:  in,
		Output: opts.Output,
		Bytes:  len(text),
		Digest: ir.DigestStructural(text),
	})
}

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Output  string
	Lenient bool
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <in.json>",
		Short: "Regenerate a PDF from qpdf JSON",
		Long: `Regenerate a PDF from qpdf's structural JSON.

With --lenient, comments and trailing commas are stripped before the text
reaches the engine. The text is otherwise passed through unchanged; the
engine is the only validator.

Examples:
  pdfjson import doc.json -o doc.pdf
  pdfjson import edited.jsonc -o doc.pdf --lenient`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output PDF (required)")
	cmd.Flags().BoolVar(&opts.Lenient, "lenient", false, "accept JSON with comments and trailing commas")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runImport(opts *ImportOptions, in string, cmd *cobra.Command) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}

	if opts.Lenient {
		data, err = hujson.Standardize(data)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to standardize lenient JSON", err)
		}
	}
	text, err := ir.DecodeStructural(data)
	if err != nil {
		return WrapExitError(ExitCommandError, "input is not text", err)
	}

	sess, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	out := opts.formatter(cmd)
	result := sess.gateway.ToBinary(cmd.Context(), text)
	pdf, ok := result.Value()
	if !ok {
		return out.Failure("import failed", result.Err())
	}

	if err := os.WriteFile(opts.Output, pdf.Bytes(), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}
	return out.Success(ConversionResult{
		Input:  in,
		Output: opts.Output,
		Bytes:  pdf.Len(),
		Digest: ir.DigestBinary(pdf),
	})
}

// RoundtripResult reports whether export(import(export(doc))) equals
// export(doc).
type RoundtripResult struct {
	Input           string `json:"input"`
	FixedPoint      bool   `json:"fixed_point"`
	StructuralBytes int    `json:"structural_bytes"`
	PDFBytes        int    `json:"pdf_bytes"`
	FirstDigest     string `json:"first_digest"`
	SecondDigest    string `json:"second_digest"`
}

func (r RoundtripResult) String() string {
	if r.FixedPoint {
		return fmt.Sprintf("✓ %s: structural text is stable across a round trip", r.Input)
	}
	return fmt.Sprintf("✗ %s: structural text changed across a round trip (%s -> %s)",
		r.Input, r.FirstDigest, r.SecondDigest)
}

// NewRoundtripCommand creates the roundtrip command.
func NewRoundtripCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roundtrip <in.pdf>",
		Short: "Check that a PDF survives export, import and export",
		Long: `Export a PDF, regenerate it from the exported text, export it again,
and compare the two texts.

Exit codes:
  0 - The text reached a fixed point
  1 - A conversion failed or the text changed
  2 - Command error`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoundtrip(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runRoundtrip(opts *RootOptions, in string, cmd *cobra.Command) error {
	data, err := os.ReadFile(in)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read input", err)
	}

	sess, err := opts.openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	ctx := cmd.Context()
	out := opts.formatter(cmd)

	export := sess.gateway.ToStructural(ctx, ir.NewBinary(data))
	first, ok := export.Value()
	if !ok {
		return out.Failure("first export failed", export.Err())
	}
	out.VerboseLog("exported %d bytes", len(first))

	regen := sess.gateway.ToBinary(ctx, first)
	pdf, ok := regen.Value()
	if !ok {
		return out.Failure("import failed", regen.Err())
	}
	out.VerboseLog("regenerated %d bytes", pdf.Len())

	again := sess.gateway.ToStructural(ctx, pdf)
	second, ok := again.Value()
	if !ok {
		return out.Failure("second export failed", again.Err())
	}

	result := RoundtripResult{
		Input:           in,
		FixedPoint:      first == second,
		StructuralBytes: len(first),
		PDFBytes:        pdf.Len(),
		FirstDigest:     ir.DigestStructural(first),
		SecondDigest:    ir.DigestStructural(second),
	}
	if err := out.Success(result); err != nil {
		return err
	}
	if !result.FixedPoint {
		return NewExitError(ExitFailure, "structural text is not a fixed point")
	}
	return nil
}
