package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pdfjson/internal/engine"
	"github.com/roach88/pdfjson/internal/ir"
)

// minimalPDF builds a one-page PDF with a correct xref table so that qpdf
// reads it without warnings.
func minimalPDF() []byte {
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func newQPDFGateway(t *testing.T) *Gateway {
	t.Helper()
	if _, err := exec.LookPath(engine.DefaultQPDFBinary); err != nil {
		t.Skip("qpdf not on $PATH")
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	loader := engine.NewLoader(engine.NewQPDF(engine.QPDFOptions{
		TempDir: t.TempDir(),
		Logger:  quiet,
	}), engine.WithLoaderLogger(quiet))
	t.Cleanup(func() { _ = loader.Close() })
	return New(loader, WithLogger(quiet))
}

func TestQPDF_RoundTrip(t *testing.T) {
	gw := newQPDFGateway(t)
	ctx := context.Background()

	text, ok := gw.ToStructural(ctx, ir.NewBinary(minimalPDF())).Value()
	require.True(t, ok)
	assert.Contains(t, text.String(), `"jsonversion": 2`)
	assert.Contains(t, text.String(), "/MediaBox")

	pdf, ok := gw.ToBinary(ctx, text).Value()
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(pdf.Bytes(), []byte("%PDF-")))

	again := gw.ToStructural(ctx, pdf)
	require.True(t, again.OK(), "regenerated PDF must export again")
}

func TestQPDF_MalformedText(t *testing.T) {
	gw := newQPDFGateway(t)

	out := gw.ToBinary(context.Background(), ir.Structural("{ not json"))
	require.False(t, out.OK())
	f := out.Failure()
	assert.Equal(t, ir.KindConversion, f.Kind)
	assert.NotZero(t, f.ExitCode)
	assert.NotEmpty(t, f.Diagnostics)
}
