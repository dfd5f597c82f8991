// Package testutil provides deterministic stand-ins for tests: an in-memory
// qpdf engine and predictable ID generators.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/roach88/pdfjson/internal/engine"
	"github.com/roach88/pdfjson/internal/ir"
)

// FakePDFHeader starts every document the fake engine reads or writes.
const FakePDFHeader = "%FAKEPDF-1.0\n"

// Exit codes mirroring qpdf's conventions.
const (
	ExitOK     = 0
	ExitErrors = 2
)

var (
	exportFlags = []string{"--json-output", "--object-streams=disable", "--compress-streams=n", "--normalize-content=y"}
	importFlags = []string{"--json-input"}
)

// FakeQPDF is an in-memory engine.Handle that understands a toy document
// format: FakePDFHeader followed by the compact JSON of an object table.
//
// Export (--json-output ...) renders that table as indented qpdf-style JSON
// with sorted keys; import (--json-input) parses it back. Because both
// directions are deterministic, export(import(export(doc))) equals
// export(doc), the fixed point the real engine provides.
//
// Safe for concurrent use; Invoke tracks how many calls overlap so tests can
// assert serialization.
type FakeQPDF struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]bool
	calls   [][]string
	closed  bool
	forced  *engine.Exit
	noOut   bool
	garble  []byte
	onStart func(argv []string)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

// NewFakeQPDF creates an empty fake engine.
func NewFakeQPDF() *FakeQPDF {
	return &FakeQPDF{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

// Factory returns an engine.Factory that always yields f.
func (f *FakeQPDF) Factory() engine.Factory {
	return func(context.Context) (engine.Handle, error) {
		return f, nil
	}
}

// FailingFactory returns an engine.Factory that always fails with err.
func FailingFactory(err error) engine.Factory {
	return func(context.Context) (engine.Handle, error) {
		return nil, err
	}
}

// ForceExit makes every later Invoke exit with code and diagnostics without
// producing output. A zero code clears the override.
func (f *FakeQPDF) ForceExit(code int, diagnostics string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code == 0 {
		f.forced = nil
		return
	}
	f.forced = &engine.Exit{Code: code, Diagnostics: diagnostics}
}

// SkipOutput makes later successful invocations exit zero without writing
// their output file, simulating an engine that breaks its contract.
func (f *FakeQPDF) SkipOutput(skip bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noOut = skip
}

// GarbleOutput makes later successful invocations write data instead of
// their real output. Nil restores normal output.
func (f *FakeQPDF) GarbleOutput(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.garble = data
}

// OnInvoke registers a hook run at the start of every Invoke, outside the
// fake's lock. Tests use it to hold an invocation in flight.
func (f *FakeQPDF) OnInvoke(hook func(argv []string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onStart = hook
}

// Calls returns the argv of every invocation so far.
func (f *FakeQPDF) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = slices.Clone(c)
	}
	return out
}

// MaxConcurrent returns the largest number of overlapping Invoke calls seen.
func (f *FakeQPDF) MaxConcurrent() int {
	return int(f.maxInFlight.Load())
}

// Closed reports whether Close has been called.
func (f *FakeQPDF) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeVersion is what the fake engine reports as its version.
const FakeVersion = "fake-qpdf 0.0"

// Version reports FakeVersion.
func (f *FakeQPDF) Version() string {
	return FakeVersion
}

// Invoke implements engine.Handle.
func (f *FakeQPDF) Invoke(ctx context.Context, argv []string) (engine.Exit, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.maxInFlight.Load()
		if n <= peak || f.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, slices.Clone(argv))
	hook := f.onStart
	f.mu.Unlock()

	if hook != nil {
		hook(argv)
	}
	if err := ctx.Err(); err != nil {
		return engine.Exit{}, fmt.Errorf("run fake qpdf: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return engine.Exit{}, fmt.Errorf("run fake qpdf: engine closed")
	}
	if f.forced != nil {
		return *f.forced, nil
	}

	switch {
	case len(argv) == len(exportFlags)+2 && slices.Equal(argv[:len(exportFlags)], exportFlags):
		return f.export(argv[len(exportFlags)], argv[len(exportFlags)+1]), nil
	case len(argv) == len(importFlags)+2 && slices.Equal(argv[:len(importFlags)], importFlags):
		return f.importJSON(argv[1], argv[2]), nil
	default:
		return fail("unrecognized arguments: %s", strings.Join(argv, " ")), nil
	}
}

func (f *FakeQPDF) export(in, out string) engine.Exit {
	data, ok := f.files[path.Clean(in)]
	if !ok {
		return fail("%s: No such file or directory", in)
	}
	doc, err := parseFakePDF(data)
	if err != nil {
		return fail("%s: %v", in, err)
	}
	text, err := renderJSON(doc)
	if err != nil {
		return fail("%s: %v", in, err)
	}
	return f.emit(out, text)
}

func (f *FakeQPDF) importJSON(in, out string) engine.Exit {
	data, ok := f.files[path.Clean(in)]
	if !ok {
		return fail("%s: No such file or directory", in)
	}
	doc, err := parseJSON(data)
	if err != nil {
		return fail("%s: %v", in, err)
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fail("%s: %v", in, err)
	}
	return f.emit(out, append([]byte(FakePDFHeader), body...))
}

// emit writes an output file. Caller holds f.mu.
func (f *FakeQPDF) emit(out string, data []byte) engine.Exit {
	if f.noOut {
		return engine.Exit{Code: ExitOK}
	}
	p := path.Clean(out)
	if !f.dirs[path.Dir(p)] && path.Dir(p) != "." {
		return fail("%s: No such file or directory", out)
	}
	if f.garble != nil {
		data = f.garble
	}
	f.files[p] = data
	return engine.Exit{Code: ExitOK}
}

func fail(format string, args ...any) engine.Exit {
	return engine.Exit{Code: ExitErrors, Diagnostics: "qpdf: " + fmt.Sprintf(format, args...)}
}

// MakeScope implements engine.Handle.
func (f *FakeQPDF) MakeScope(p string) error {
	p, err := local(p)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirs[p] {
		return &fs.PathError{Op: "mkdir", Path: p, Err: fs.ErrExist}
	}
	f.dirs[p] = true
	return nil
}

// WriteFile implements engine.Handle.
func (f *FakeQPDF) WriteFile(p string, data []byte) error {
	p, err := local(p)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if dir := path.Dir(p); dir != "." && !f.dirs[dir] {
		return &fs.PathError{Op: "write", Path: p, Err: fs.ErrNotExist}
	}
	f.files[p] = bytes.Clone(data)
	return nil
}

// ReadFile implements engine.Handle.
func (f *FakeQPDF) ReadFile(p string) ([]byte, error) {
	p, err := local(p)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	return bytes.Clone(data), nil
}

// RemoveFile implements engine.Handle.
func (f *FakeQPDF) RemoveFile(p string) error {
	p, err := local(p)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[p]; !ok {
		return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrNotExist}
	}
	delete(f.files, p)
	return nil
}

// Close implements engine.Handle.
func (f *FakeQPDF) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.files = make(map[string][]byte)
	f.dirs = make(map[string]bool)
	return nil
}

func local(p string) (string, error) {
	if !fs.ValidPath(p) || p == "." {
		return "", fmt.Errorf("%q: %w", p, engine.ErrPathOutsideRoot)
	}
	return p, nil
}

// fakeDocument is the toy object table shared by both directions.
type fakeDocument struct {
	Version string                    `json:"version"`
	Objects map[string]map[string]any `json:"objects"`
	Trailer map[string]any            `json:"trailer"`
}

func parseFakePDF(data []byte) (*fakeDocument, error) {
	body, ok := bytes.CutPrefix(data, []byte(FakePDFHeader))
	if !ok {
		return nil, fmt.Errorf("not a PDF file")
	}
	var doc fakeDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("damaged PDF: %w", err)
	}
	return &doc, nil
}

// renderJSON produces qpdf-style JSON: a header object followed by the
// object table, keyed "obj:N 0 R" with values under "value".
func renderJSON(doc *fakeDocument) ([]byte, error) {
	objects := make(map[string]any, len(doc.Objects)+1)
	for ref, obj := range doc.Objects {
		objects["obj:"+ref] = map[string]any{"value": obj}
	}
	objects["trailer"] = map[string]any{"value": doc.Trailer}

	out := map[string]any{
		"qpdf": []any{
			map[string]any{
				"jsonversion": 2,
				"pdfversion":  doc.Version,
				"maxobjectid": len(doc.Objects),
			},
			objects,
		},
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseJSON(data []byte) (*fakeDocument, error) {
	var top struct {
		QPDF []json.RawMessage `json:"qpdf"`
	}
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("JSON parse error: %w", err)
	}
	if len(top.QPDF) != 2 {
		return nil, fmt.Errorf("qpdf array must have exactly two elements")
	}

	var header struct {
		JSONVersion int    `json:"jsonversion"`
		PDFVersion  string `json:"pdfversion"`
	}
	if err := json.Unmarshal(top.QPDF[0], &header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}
	if header.JSONVersion != 2 {
		return nil, fmt.Errorf("unsupported jsonversion %d", header.JSONVersion)
	}

	var entries map[string]struct {
		Value map[string]any `json:"value"`
	}
	if err := json.Unmarshal(top.QPDF[1], &entries); err != nil {
		return nil, fmt.Errorf("invalid object table: %w", err)
	}

	doc := &fakeDocument{
		Version: header.PDFVersion,
		Objects: make(map[string]map[string]any, len(entries)),
	}
	for key, entry := range entries {
		if key == "trailer" {
			doc.Trailer = entry.Value
			continue
		}
		ref, ok := strings.CutPrefix(key, "obj:")
		if !ok {
			return nil, fmt.Errorf("unexpected key %q", key)
		}
		doc.Objects[ref] = entry.Value
	}
	if doc.Trailer == nil {
		return nil, fmt.Errorf("missing trailer")
	}
	return doc, nil
}

// BlankPage returns a one-page blank document in the fake format.
func BlankPage() ir.Binary {
	doc := fakeDocument{
		Version: "1.7",
		Objects: map[string]map[string]any{
			"1 0 R": {"/Type": "/Catalog", "/Pages": "2 0 R"},
			"2 0 R": {"/Type": "/Pages", "/Count": 1, "/Kids": []any{"3 0 R"}},
			"3 0 R": {"/Type": "/Page", "/Parent": "2 0 R", "/MediaBox": []any{0, 0, 612, 792}, "/Rotate": 0},
		},
		Trailer: map[string]any{"/Root": "1 0 R", "/Size": 4},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return ir.NewBinary(append([]byte(FakePDFHeader), body...))
}
