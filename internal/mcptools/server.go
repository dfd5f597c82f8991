// Package mcptools exposes the editing workflow as MCP tools, so an agent can
// load a PDF, read and edit its structural text, and regenerate it.
package mcptools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/roach88/pdfjson/internal/ir"
)

// NewServer creates an MCP server with the four workflow tools registered.
func NewServer(svc *Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "pdfjson",
		Version: ir.Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "load_document",
		Description: "Load a PDF file and convert it to qpdf structural JSON. Replaces any document already loaded.",
	}, svc.LoadDocument)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_structural",
		Description: "Return the current structural JSON text of the loaded document.",
	}, svc.GetStructural)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "edit_structural",
		Description: "Replace the structural JSON text. Any previously regenerated PDF is discarded unless the text is unchanged.",
	}, svc.EditStructural)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "regenerate",
		Description: "Build a PDF from the current structural JSON text, optionally writing it to outputPath. Malformed text fails with the engine's diagnostics.",
	}, svc.Regenerate)

	return server
}

// RunStdio serves the tools over stdin/stdout until ctx is canceled or the
// client disconnects.
func RunStdio(ctx context.Context, svc *Service) error {
	return NewServer(svc).Run(ctx, &mcp.StdioTransport{})
}
