// Package present renders workflow state for the user: a structural-text
// editor, a PDF preview, and an HTTP surface serving both.
package present

import (
	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/workflow"
)

// EditorLanguage is the syntax the editor highlights.
const EditorLanguage = "json"

// Editor is the editing surface.
type Editor struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Visible  bool   `json:"visible"`
}

// Preview is the preview surface.
type Preview struct {
	Data     ir.Binary `json:"-"`
	MIMEType string    `json:"mime_type"`
	Visible  bool      `json:"visible"`
}

// EditorView shows the structural text whenever a document is loaded.
func EditorView(s workflow.Snapshot) Editor {
	if !s.HasDocument() {
		return Editor{Language: EditorLanguage}
	}
	return Editor{
		Text:     s.Text.String(),
		Language: EditorLanguage,
		Visible:  true,
	}
}

// PreviewView shows the PDF only once it has been regenerated from the
// current text.
func PreviewView(s workflow.Snapshot) Preview {
	if s.State != workflow.Regenerated {
		return Preview{MIMEType: ir.PDFMIMEType}
	}
	return Preview{
		Data:     s.Binary,
		MIMEType: ir.PDFMIMEType,
		Visible:  true,
	}
}
