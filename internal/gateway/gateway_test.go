package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pdfjson/internal/engine"
	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/testutil"
)

type memRecorder struct {
	mu      sync.Mutex
	records []ir.ConversionRecord
	err     error
}

func (r *memRecorder) RecordConversion(_ context.Context, rec ir.ConversionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return r.err
}

func (r *memRecorder) all() []ir.ConversionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ir.ConversionRecord(nil), r.records...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateway(t *testing.T, opts ...Option) (*Gateway, *testutil.FakeQPDF) {
	t.Helper()
	fake := testutil.NewFakeQPDF()
	loader := engine.NewLoader(fake.Factory(), engine.WithLoaderLogger(quietLogger()))
	t.Cleanup(func() { _ = loader.Close() })

	base := []Option{
		WithLogger(quietLogger()),
		WithIDGenerator(testutil.NewSequentialIDGenerator("inv")),
	}
	return New(loader, append(base, opts...)...), fake
}

func exportText(t *testing.T, g *Gateway, doc ir.Binary) ir.Structural {
	t.Helper()
	return mustValue(t, g.ToStructural(context.Background(), doc))
}

func mustValue[T any](t *testing.T, o ir.Outcome[T]) T {
	t.Helper()
	v, ok := o.Value()
	require.True(t, ok, "conversion failed: %v", o.Err())
	return v
}

func TestArgv_Exact(t *testing.T) {
	assert.Equal(t, []string{
		"--json-output",
		"--object-streams=disable",
		"--compress-streams=n",
		"--normalize-content=y",
		"working/input.pdf",
		"working/output.json",
	}, ExportArgs("working/input.pdf", "working/output.json"))

	assert.Equal(t, []string{"--json-input", "working/input.json", "working/output.pdf"},
		ImportArgs("working/input.json", "working/output.pdf"))
}

func TestToStructural_UsesFixedSlots(t *testing.T) {
	g, fake := newGateway(t)

	text := exportText(t, g, testutil.BlankPage())
	assert.Contains(t, text.String(), `"/Count": 1`)

	calls := fake.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ExportArgs("working/input.pdf", "working/output.json"), calls[0])
}

func TestToBinary_UsesFixedSlots(t *testing.T) {
	g, fake := newGateway(t)
	text := exportText(t, g, testutil.BlankPage())

	bin := mustValue(t, g.ToBinary(context.Background(), text))
	assert.True(t, strings.HasPrefix(string(bin.Bytes()), testutil.FakePDFHeader))

	calls := fake.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, ImportArgs("working/input.json", "working/output.pdf"), calls[1])
}

func TestRoundTrip_FixedPoint(t *testing.T) {
	g, _ := newGateway(t)

	first := exportText(t, g, testutil.BlankPage())
	bin := mustValue(t, g.ToBinary(context.Background(), first))
	second := exportText(t, g, bin)

	assert.Equal(t, first, second, "export(import(export(doc))) must equal export(doc)")
}

func TestRoundTrip_EditIsReflected(t *testing.T) {
	g, _ := newGateway(t)

	text := exportText(t, g, testutil.BlankPage())
	edited := ir.Structural(strings.Replace(text.String(), `"/Rotate": 0`, `"/Rotate": 90`, 1))
	require.NotEqual(t, text, edited)

	bin := mustValue(t, g.ToBinary(context.Background(), edited))
	again := exportText(t, g, bin)
	assert.Contains(t, again.String(), `"/Rotate": 90`)
}

func TestToBinary_MalformedText(t *testing.T) {
	g, _ := newGateway(t)

	out := g.ToBinary(context.Background(), ir.Structural(`{"qpdf": [`))
	require.False(t, out.OK())

	f := out.Failure()
	assert.Equal(t, ir.KindConversion, f.Kind)
	assert.Equal(t, testutil.ExitErrors, f.ExitCode)
	assert.Contains(t, f.Diagnostics, "qpdf:")
}

func TestToStructural_NotAPDF(t *testing.T) {
	g, _ := newGateway(t)

	out := g.ToStructural(context.Background(), ir.NewBinary([]byte("hello")))
	require.False(t, out.OK())
	assert.Equal(t, ir.KindConversion, out.Failure().Kind)
	assert.NotZero(t, out.Failure().ExitCode)
}

func TestFailure_DoesNotLeakPreviousOutput(t *testing.T) {
	g, fake := newGateway(t)
	exportText(t, g, testutil.BlankPage())

	// The engine now exits zero without writing; the previous output.json
	// must not be returned as this conversion's result.
	fake.SkipOutput(true)
	out := g.ToStructural(context.Background(), testutil.BlankPage())
	require.False(t, out.OK())
	assert.Equal(t, ir.KindStagingViolation, out.Failure().Kind)
}

func TestEngineUnavailable(t *testing.T) {
	cause := errors.New("qpdf not installed")
	loader := engine.NewLoader(testutil.FailingFactory(cause), engine.WithLoaderLogger(quietLogger()))
	g := New(loader, WithLogger(quietLogger()))

	out := g.ToStructural(context.Background(), testutil.BlankPage())
	require.False(t, out.OK())
	assert.Equal(t, ir.KindEngineUnavailable, out.Failure().Kind)
	assert.ErrorIs(t, out.Err(), cause)

	// Memoized: the second attempt fails the same way.
	again := g.ToBinary(context.Background(), ir.Structural("{}"))
	assert.True(t, ir.IsKind(again.Err(), ir.KindEngineUnavailable))
}

func TestEngineSource_PlainError(t *testing.T) {
	src := sourceFunc(func(context.Context) (engine.Handle, error) {
		return nil, errors.New("boom")
	})
	g := New(src, WithLogger(quietLogger()))

	out := g.ToStructural(context.Background(), testutil.BlankPage())
	assert.True(t, ir.IsKind(out.Err(), ir.KindEngineUnavailable))
}

type sourceFunc func(context.Context) (engine.Handle, error)

func (f sourceFunc) Acquire(ctx context.Context) (engine.Handle, error) { return f(ctx) }

func TestConversions_AreSerialized(t *testing.T) {
	g, fake := newGateway(t)
	doc := testutil.BlankPage()

	fake.OnInvoke(func([]string) { time.Sleep(5 * time.Millisecond) })

	var wg sync.WaitGroup
	results := make([]ir.Outcome[ir.Structural], 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.ToStructural(context.Background(), doc)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.True(t, r.OK(), "conversion %d failed: %v", i, r.Err())
	}
	assert.Equal(t, 1, fake.MaxConcurrent(), "engine invocations must never overlap")
	assert.Len(t, fake.Calls(), 8)
}

// holdEngine blocks the first invocation until release is closed and reports
// when it has started.
func holdEngine(fake *testutil.FakeQPDF) (started <-chan struct{}, release chan struct{}) {
	s := make(chan struct{})
	r := make(chan struct{})
	var once sync.Once
	fake.OnInvoke(func([]string) {
		first := false
		once.Do(func() { first = true })
		if first {
			close(s)
			<-r
		}
	})
	return s, r
}

func TestRejectWhenBusy(t *testing.T) {
	g, fake := newGateway(t, WithRejectWhenBusy())
	started, release := holdEngine(fake)

	done := make(chan ir.Outcome[ir.Structural], 1)
	go func() { done <- g.ToStructural(context.Background(), testutil.BlankPage()) }()
	<-started
	assert.True(t, g.Busy())

	busy := g.ToBinary(context.Background(), ir.Structural("{}"))
	require.False(t, busy.OK())
	assert.Equal(t, ir.KindBusy, busy.Failure().Kind)

	close(release)
	first := <-done
	assert.True(t, first.OK(), "in-flight conversion must be unaffected: %v", first.Err())
	assert.False(t, g.Busy())
}

func TestCanceledWhileQueued(t *testing.T) {
	g, fake := newGateway(t)
	started, release := holdEngine(fake)

	done := make(chan ir.Outcome[ir.Structural], 1)
	go func() { done <- g.ToStructural(context.Background(), testutil.BlankPage()) }()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	queued := make(chan ir.Outcome[ir.Binary], 1)
	go func() { queued <- g.ToBinary(ctx, ir.Structural("{}")) }()
	require.Eventually(t, func() bool { return g.Queued() == 1 }, time.Second, time.Millisecond)

	cancel()
	out := <-queued
	require.False(t, out.OK())
	assert.Equal(t, ir.KindCanceled, out.Failure().Kind)
	assert.Equal(t, 0, g.Queued())

	close(release)
	assert.True(t, (<-done).OK())
	assert.Len(t, fake.Calls(), 1, "a canceled request must never reach the engine")
}

func TestTimeout(t *testing.T) {
	g, fake := newGateway(t, WithTimeout(20*time.Millisecond))
	fake.OnInvoke(func([]string) { time.Sleep(60 * time.Millisecond) })

	out := g.ToStructural(context.Background(), testutil.BlankPage())
	require.False(t, out.OK())
	assert.Equal(t, ir.KindCanceled, out.Failure().Kind)
	assert.False(t, g.Busy())
}

func TestRecorder_JournalsEveryAttempt(t *testing.T) {
	rec := &memRecorder{}
	g, fake := newGateway(t, WithRecorder(rec), WithClock(engine.NewClock()))

	text := exportText(t, g, testutil.BlankPage())
	fake.ForceExit(testutil.ExitErrors, "qpdf: broken")
	g.ToBinary(context.Background(), text)

	got := rec.all()
	require.Len(t, got, 2)

	assert.Equal(t, "inv-0001", got[0].ID)
	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, ir.ToStructural, got[0].Direction)
	assert.Equal(t, ir.OutcomeOK, got[0].Outcome)
	assert.Equal(t, ir.DigestBinary(testutil.BlankPage()), got[0].InputDigest)
	assert.Equal(t, ir.DigestStructural(text), got[0].OutputDigest)
	assert.Equal(t, len(text), got[0].OutputBytes)

	assert.Equal(t, "inv-0002", got[1].ID)
	assert.Equal(t, int64(2), got[1].Seq)
	assert.Equal(t, ir.ToBinary, got[1].Direction)
	assert.Equal(t, string(ir.KindConversion), got[1].Outcome)
	assert.Equal(t, testutil.ExitErrors, got[1].ExitCode)
	assert.Equal(t, "qpdf: broken", got[1].Diagnostics)
	assert.Equal(t, ir.DigestStructural(text), got[1].InputDigest)
	assert.Empty(t, got[1].OutputDigest)
}

func TestToStructural_InvalidOutputIsRecordedAsFailure(t *testing.T) {
	rec := &memRecorder{}
	g, fake := newGateway(t, WithRecorder(rec))
	fake.GarbleOutput([]byte{'{', 0xFF, '}'})

	out := g.ToStructural(context.Background(), testutil.BlankPage())
	require.False(t, out.OK())
	assert.Equal(t, ir.KindConversion, out.Failure().Kind)
	assert.ErrorIs(t, out.Err(), ir.ErrInvalidText)

	got := rec.all()
	require.Len(t, got, 1)
	assert.Equal(t, string(ir.KindConversion), got[0].Outcome, "journal must agree with the returned outcome")
	assert.Empty(t, got[0].OutputDigest)
	assert.Zero(t, got[0].OutputBytes)
}

func TestRecorder_ErrorDoesNotFailConversion(t *testing.T) {
	rec := &memRecorder{err: errors.New("disk full")}
	g, _ := newGateway(t, WithRecorder(rec))

	out := g.ToStructural(context.Background(), testutil.BlankPage())
	assert.True(t, out.OK())
	assert.Len(t, rec.all(), 1)
}

func TestToStructural_Golden(t *testing.T) {
	g, _ := newGateway(t)
	text := exportText(t, g, testutil.BlankPage())

	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	gold.Assert(t, "blank_page_export", text.Bytes())
}
