package mcptools

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/workflow"
)

// Machine is the workflow surface the tools drive.
type Machine interface {
	Load(ctx context.Context, doc ir.Binary) error
	Edit(text ir.Structural) error
	Regenerate(ctx context.Context) error
	Snapshot() workflow.Snapshot
}

// Service holds the workflow the tool handlers operate on.
type Service struct {
	machine Machine
}

// NewService creates a Service over m.
func NewService(m Machine) *Service {
	return &Service{machine: m}
}

// LoadDocumentInput is the input of load_document.
type LoadDocumentInput struct {
	Path string `json:"path" jsonschema:"path of the PDF file to load"`
}

// EditStructuralInput is the input of edit_structural.
type EditStructuralInput struct {
	Text string `json:"text" jsonschema:"the complete new structural JSON text"`
}

// RegenerateInput is the input of regenerate.
type RegenerateInput struct {
	OutputPath string `json:"outputPath,omitempty" jsonschema:"where to write the regenerated PDF (optional)"`
}

// GetStructuralInput is the input of get_structural.
type GetStructuralInput struct{}

// StateOutput summarizes the workflow state after a tool call.
type StateOutput struct {
	State        string `json:"state"`
	Revision     uint64 `json:"revision"`
	TextBytes    int    `json:"textBytes"`
	PDFBytes     int    `json:"pdfBytes"`
	SourceDigest string `json:"sourceDigest,omitempty"`
	OutputPath   string `json:"outputPath,omitempty"`
}

// StructuralOutput is the output of get_structural.
type StructuralOutput struct {
	Text     string `json:"text"`
	Revision uint64 `json:"revision"`
}

// LoadDocument reads a PDF from disk and loads it.
func (s *Service) LoadDocument(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input LoadDocumentInput,
) (*mcp.CallToolResult, StateOutput, error) {
	if input.Path == "" {
		return nil, StateOutput{}, fmt.Errorf("path is required")
	}
	data, err := os.ReadFile(input.Path)
	if err != nil {
		return nil, StateOutput{}, fmt.Errorf("cannot read path: %w", err)
	}
	if err := s.machine.Load(ctx, ir.NewBinary(data)); err != nil {
		return nil, StateOutput{}, describe(err)
	}
	return nil, stateOutput(s.machine.Snapshot()), nil
}

// GetStructural returns the current structural text.
func (s *Service) GetStructural(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ GetStructuralInput,
) (*mcp.CallToolResult, StructuralOutput, error) {
	snap := s.machine.Snapshot()
	if !snap.HasDocument() {
		return nil, StructuralOutput{}, workflow.ErrNoDocument
	}
	return nil, StructuralOutput{Text: snap.Text.String(), Revision: snap.Revision}, nil
}

// EditStructural replaces the structural text.
func (s *Service) EditStructural(
	_ context.Context,
	_ *mcp.CallToolRequest,
	input EditStructuralInput,
) (*mcp.CallToolResult, StateOutput, error) {
	if err := s.machine.Edit(ir.Structural(input.Text)); err != nil {
		return nil, StateOutput{}, err
	}
	return nil, stateOutput(s.machine.Snapshot()), nil
}

// Regenerate builds a PDF from the current text.
func (s *Service) Regenerate(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RegenerateInput,
) (*mcp.CallToolResult, StateOutput, error) {
	if err := s.machine.Regenerate(ctx); err != nil {
		return nil, StateOutput{}, describe(err)
	}

	snap := s.machine.Snapshot()
	out := stateOutput(snap)
	if input.OutputPath != "" {
		if err := os.WriteFile(input.OutputPath, snap.Binary.Bytes(), 0o644); err != nil {
			return nil, StateOutput{}, fmt.Errorf("write PDF: %w", err)
		}
		out.OutputPath = input.OutputPath
	}
	return nil, out, nil
}

func stateOutput(s workflow.Snapshot) StateOutput {
	return StateOutput{
		State:        string(s.State),
		Revision:     s.Revision,
		TextBytes:    len(s.Text),
		PDFBytes:     s.Binary.Len(),
		SourceDigest: s.SourceDigest,
	}
}

// describe appends engine diagnostics so the agent can fix its text.
func describe(err error) error {
	var f *ir.Failure
	if !errors.As(err, &f) || f.Diagnostics == "" {
		return err
	}
	return fmt.Errorf("%w\n%s", err, f.Diagnostics)
}
