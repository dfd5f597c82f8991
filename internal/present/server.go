package present

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/workflow"
)

// MaxUploadBytes bounds request bodies for documents and structural text.
const MaxUploadBytes = 64 << 20

// Machine is the workflow surface the server drives. *workflow.Machine
// implements it.
type Machine interface {
	Load(ctx context.Context, doc ir.Binary) error
	Edit(text ir.Structural) error
	Regenerate(ctx context.Context) error
	Snapshot() workflow.Snapshot
	Subscribe() (<-chan workflow.Snapshot, func())
}

// Server exposes the editor and preview surfaces over HTTP.
type Server struct {
	machine Machine
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer creates a Server over m. A nil logger means slog.Default().
func NewServer(m Machine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{machine: m, logger: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /api/state", s.handleState)
	s.mux.HandleFunc("POST /api/document", s.handleLoad)
	s.mux.HandleFunc("GET /api/structural", s.handleGetStructural)
	s.mux.HandleFunc("PUT /api/structural", s.handleEdit)
	s.mux.HandleFunc("POST /api/regenerate", s.handleRegenerate)
	s.mux.HandleFunc("GET /api/preview", s.handlePreview)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully. If ready is non-nil it receives the bound address once the
// listener is open.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("serving", "addr", ln.Addr().String())
	if ready != nil {
		ready <- ln.Addr().String()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// StateView is the JSON summary of a snapshot.
type StateView struct {
	State        workflow.State `json:"state"`
	Revision     uint64         `json:"revision"`
	TextBytes    int            `json:"text_bytes"`
	BinaryBytes  int            `json:"binary_bytes"`
	SourceDigest string         `json:"source_digest,omitempty"`
	Editor       Editor         `json:"editor"`
	Preview      Preview        `json:"preview"`
}

// NewStateView summarizes s. The editor text is omitted; it is served by
// GET /api/structural.
func NewStateView(s workflow.Snapshot) StateView {
	editor := EditorView(s)
	editor.Text = ""
	return StateView{
		State:        s.State,
		Revision:     s.Revision,
		TextBytes:    len(s.Text),
		BinaryBytes:  s.Binary.Len(),
		SourceDigest: s.SourceDigest,
		Editor:       editor,
		Preview:      PreviewView(s),
	}
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error       string `json:"error"`
	Kind        string `json:"kind,omitempty"`
	ExitCode    int    `json:"exit_code,omitempty"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// StatusFor maps a workflow error to an HTTP status.
func StatusFor(err error) int {
	var f *ir.Failure
	switch {
	case errors.As(err, &f):
		switch f.Kind {
		case ir.KindConversion:
			return http.StatusUnprocessableEntity
		case ir.KindEngineUnavailable:
			return http.StatusServiceUnavailable
		case ir.KindBusy:
			return http.StatusConflict
		case ir.KindCanceled:
			return http.StatusRequestTimeout
		default:
			return http.StatusInternalServerError
		}
	case errors.Is(err, workflow.ErrNoDocument), errors.Is(err, workflow.ErrStaleResult):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, NewStateView(s.machine.Snapshot()))
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := s.machine.Load(r.Context(), ir.NewBinary(data)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(s.machine.Snapshot()))
}

func (s *Server) handleGetStructural(w http.ResponseWriter, r *http.Request) {
	editor := EditorView(s.machine.Snapshot())
	if !editor.Visible {
		s.writeError(w, workflow.ErrNoDocument)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, editor.Text)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	text, err := ir.DecodeStructural(data)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: err.Error()})
		return
	}
	if err := s.machine.Edit(text); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(s.machine.Snapshot()))
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.Regenerate(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewStateView(s.machine.Snapshot()))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	preview := PreviewView(s.machine.Snapshot())
	if !preview.Visible {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: "no regenerated PDF for the current text"})
		return
	}
	w.Header().Set("Content-Type", preview.MIMEType)
	w.Header().Set("Content-Disposition", `inline; filename="output.pdf"`)
	_, _ = w.Write(preview.Data.Bytes())
}

// handleEvents streams a StateView on every workflow change as
// Server-Sent Events, starting with the current state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ch, cancel := s.machine.Subscribe()
	defer cancel()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)

	send := func(snap workflow.Snapshot) error {
		data, err := json.Marshal(NewStateView(snap))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if err := send(s.machine.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := send(snap); err != nil {
				s.logger.Debug("event stream closed", "error", err)
				return
			}
		}
	}
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorBody{Error: err.Error()})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, ErrorBody{Error: fmt.Sprintf("read body: %v", err)})
		return nil, false
	}
	return data, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := ErrorBody{Error: err.Error()}
	var f *ir.Failure
	if errors.As(err, &f) {
		body.Kind = string(f.Kind)
		body.ExitCode = f.ExitCode
		body.Diagnostics = f.Diagnostics
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	} else {
		s.logger.Debug("request rejected", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
