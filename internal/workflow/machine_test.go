package workflow

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pdfjson/internal/engine"
	"github.com/roach88/pdfjson/internal/gateway"
	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newMachine wires a Machine to a gateway over the fake engine.
func newMachine(t *testing.T) (*Machine, *testutil.FakeQPDF) {
	t.Helper()
	fake := testutil.NewFakeQPDF()
	loader := engine.NewLoader(fake.Factory(), engine.WithLoaderLogger(quietLogger()))
	t.Cleanup(func() { _ = loader.Close() })
	gw := gateway.New(loader,
		gateway.WithLogger(quietLogger()),
		gateway.WithIDGenerator(testutil.NewSequentialIDGenerator("inv")),
	)
	return New(gw, WithLogger(quietLogger())), fake
}

// stubConverter returns canned outcomes and can block ToBinary.
type stubConverter struct {
	text    ir.Structural
	bin     ir.Binary
	fail    *ir.Failure
	onBuild func()
}

func (s *stubConverter) ToStructural(context.Context, ir.Binary) ir.Outcome[ir.Structural] {
	if s.fail != nil {
		return ir.Fail[ir.Structural](s.fail)
	}
	return ir.Succeed(s.text)
}

func (s *stubConverter) ToBinary(context.Context, ir.Structural) ir.Outcome[ir.Binary] {
	if s.onBuild != nil {
		s.onBuild()
	}
	if s.fail != nil {
		return ir.Fail[ir.Binary](s.fail)
	}
	return ir.Succeed(s.bin)
}

func TestMachine_StartsEmpty(t *testing.T) {
	m := New(&stubConverter{}, WithLogger(quietLogger()))

	s := m.Snapshot()
	assert.Equal(t, Empty, s.State)
	assert.False(t, s.HasDocument())
	assert.True(t, s.Text.IsEmpty())
	assert.True(t, s.Binary.IsEmpty())
}

func TestMachine_EditAndRegenerateRequireDocument(t *testing.T) {
	m := New(&stubConverter{}, WithLogger(quietLogger()))

	assert.ErrorIs(t, m.Edit("{}"), ErrNoDocument)
	assert.ErrorIs(t, m.Regenerate(context.Background()), ErrNoDocument)
	assert.Equal(t, Empty, m.Snapshot().State)
}

func TestMachine_LoadEditRegenerate(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, testutil.BlankPage()))
	s := m.Snapshot()
	assert.Equal(t, Structural, s.State)
	assert.Contains(t, s.Text.String(), `"/Rotate": 0`)
	assert.True(t, s.Binary.IsEmpty())

	require.NoError(t, m.Regenerate(ctx))
	s = m.Snapshot()
	assert.Equal(t, Regenerated, s.State)
	assert.False(t, s.Binary.IsEmpty())
	assert.Equal(t, ir.DigestStructural(s.Text), s.SourceDigest)
}

func TestMachine_RotateScenario(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, testutil.BlankPage()))
	text := m.Snapshot().Text
	require.NoError(t, m.Edit(ir.Structural(strings.Replace(text.String(), `"/Rotate": 0`, `"/Rotate": 90`, 1))))
	require.NoError(t, m.Regenerate(ctx))

	// Re-export the regenerated PDF: the rotation survived the round trip.
	rotated := m.Snapshot().Binary
	require.NoError(t, m.Load(ctx, rotated))
	assert.Contains(t, m.Snapshot().Text.String(), `"/Rotate": 90`)
}

func TestMachine_MalformedTextScenario(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, testutil.BlankPage()))
	require.NoError(t, m.Regenerate(ctx))
	good := m.Snapshot()

	broken := ir.Structural(`{"qpdf": [ {`)
	require.NoError(t, m.Edit(broken))
	err := m.Regenerate(ctx)
	require.Error(t, err)
	assert.True(t, ir.IsKind(err, ir.KindConversion))

	s := m.Snapshot()
	assert.Equal(t, Structural, s.State, "failed regeneration must not enter Regenerated")
	assert.Equal(t, broken, s.Text, "the user's text is kept for correction")
	assert.True(t, s.Binary.IsEmpty(), "the binary of the previous text is not shown for the edited text")
	assert.Greater(t, s.Revision, good.Revision)
}

func TestMachine_IdenticalEditIsNoop(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, testutil.BlankPage()))
	require.NoError(t, m.Regenerate(ctx))
	before := m.Snapshot()

	require.NoError(t, m.Edit(before.Text))
	assert.Equal(t, before, m.Snapshot())
}

func TestMachine_EditDropsBinary(t *testing.T) {
	m := New(&stubConverter{text: "a", bin: ir.NewBinary([]byte("pdf"))}, WithLogger(quietLogger()))
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, ir.NewBinary([]byte("x"))))
	require.NoError(t, m.Regenerate(ctx))
	require.Equal(t, Regenerated, m.Snapshot().State)

	require.NoError(t, m.Edit("b"))
	s := m.Snapshot()
	assert.Equal(t, Structural, s.State)
	assert.Equal(t, ir.Structural("b"), s.Text)
	assert.True(t, s.Binary.IsEmpty())
	assert.Empty(t, s.SourceDigest)
}

func TestMachine_LoadReplacesDocument(t *testing.T) {
	conv := &stubConverter{text: "first", bin: ir.NewBinary([]byte("pdf"))}
	m := New(conv, WithLogger(quietLogger()))
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, ir.NewBinary([]byte("1"))))
	require.NoError(t, m.Regenerate(ctx))

	conv.text = "second"
	require.NoError(t, m.Load(ctx, ir.NewBinary([]byte("2"))))
	s := m.Snapshot()
	assert.Equal(t, Structural, s.State)
	assert.Equal(t, ir.Structural("second"), s.Text)
	assert.True(t, s.Binary.IsEmpty())
}

func TestMachine_FailureLeavesStateUnchanged(t *testing.T) {
	conv := &stubConverter{text: "doc", bin: ir.NewBinary([]byte("pdf"))}
	m := New(conv, WithLogger(quietLogger()))
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, ir.NewBinary([]byte("1"))))
	require.NoError(t, m.Regenerate(ctx))
	before := m.Snapshot()

	kinds := []ir.FailureKind{
		ir.KindEngineUnavailable,
		ir.KindConversion,
		ir.KindStagingViolation,
		ir.KindBusy,
		ir.KindCanceled,
	}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			conv.fail = &ir.Failure{Kind: kind, Message: "injected"}
			defer func() { conv.fail = nil }()

			err := m.Load(ctx, ir.NewBinary([]byte("2")))
			assert.True(t, ir.IsKind(err, kind))
			assert.Equal(t, before, m.Snapshot())

			err = m.Regenerate(ctx)
			assert.True(t, ir.IsKind(err, kind))
			assert.Equal(t, before, m.Snapshot())
		})
	}
}

func TestMachine_StaleRegenerationIsDiscarded(t *testing.T) {
	conv := &stubConverter{text: "v1", bin: ir.NewBinary([]byte("pdf-of-v1"))}
	m := New(conv, WithLogger(quietLogger()))
	ctx := context.Background()
	require.NoError(t, m.Load(ctx, ir.NewBinary([]byte("1"))))

	// The user edits while the conversion of v1 is in flight.
	conv.onBuild = func() { require.NoError(t, m.Edit("v2")) }

	err := m.Regenerate(ctx)
	assert.ErrorIs(t, err, ErrStaleResult)

	s := m.Snapshot()
	assert.Equal(t, Structural, s.State)
	assert.Equal(t, ir.Structural("v2"), s.Text)
	assert.True(t, s.Binary.IsEmpty(), "a PDF built from v1 must never be shown for v2")
}

// gatedConverter derives text from the document bytes and holds the load of
// one chosen document until released.
type gatedConverter struct {
	hold    string
	entered chan struct{}
	release chan struct{}
}

func (g *gatedConverter) ToStructural(_ context.Context, doc ir.Binary) ir.Outcome[ir.Structural] {
	if string(doc.Bytes()) == g.hold {
		close(g.entered)
		<-g.release
	}
	return ir.Succeed(ir.Structural("text-of-" + string(doc.Bytes())))
}

func (g *gatedConverter) ToBinary(context.Context, ir.Structural) ir.Outcome[ir.Binary] {
	return ir.Succeed(ir.NewBinary([]byte("pdf")))
}

func TestMachine_ConcurrentLoadsCommitInCallOrder(t *testing.T) {
	conv := &gatedConverter{hold: "old", entered: make(chan struct{}), release: make(chan struct{})}
	m := New(conv, WithLogger(quietLogger()))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- m.Load(ctx, ir.NewBinary([]byte("old"))) }()
	<-conv.entered

	require.NoError(t, m.Load(ctx, ir.NewBinary([]byte("new"))))
	close(conv.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStaleResult)
	case <-time.After(time.Second):
		t.Fatal("earlier load did not return")
	}

	s := m.Snapshot()
	assert.Equal(t, ir.Structural("text-of-new"), s.Text, "the later load must win")
	assert.Equal(t, uint64(1), s.Revision)
}

func TestMachine_Subscribe(t *testing.T) {
	conv := &stubConverter{text: "doc", bin: ir.NewBinary([]byte("pdf"))}
	m := New(conv, WithLogger(quietLogger()))
	ch, cancel := m.Subscribe()
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, ir.NewBinary([]byte("1"))))
	select {
	case s := <-ch:
		assert.Equal(t, Structural, s.State)
	case <-time.After(time.Second):
		t.Fatal("no notification after Load")
	}

	// Two changes without reading: only the latest is delivered.
	require.NoError(t, m.Edit("edited"))
	require.NoError(t, m.Regenerate(ctx))
	s := <-ch
	assert.Equal(t, Regenerated, s.State)
	assert.Equal(t, ir.Structural("edited"), s.Text)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Changes after cancel do not panic.
	require.NoError(t, m.Edit("again"))
}

// model mirrors the machine's state transitions for the randomized check.
type model struct {
	state State
	text  ir.Structural
}

func TestMachine_StateSafety(t *testing.T) {
	m, _ := newMachine(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(1, 2))

	texts := func(base ir.Structural) []ir.Structural {
		return []ir.Structural{
			base,
			ir.Structural(strings.Replace(base.String(), `"/Rotate": 0`, `"/Rotate": 180`, 1)),
			ir.Structural(`{"qpdf": [`),
		}
	}

	var want model
	want.state = Empty
	for step := 0; step < 200; step++ {
		switch rng.IntN(3) {
		case 0:
			require.NoError(t, m.Load(ctx, testutil.BlankPage()))
			want = model{state: Structural, text: m.Snapshot().Text}
		case 1:
			if want.state == Empty {
				assert.ErrorIs(t, m.Edit("{}"), ErrNoDocument)
				continue
			}
			choices := texts(m.Snapshot().Text)
			next := choices[rng.IntN(len(choices))]
			require.NoError(t, m.Edit(next))
			if next != want.text {
				want = model{state: Structural, text: next}
			}
		case 2:
			err := m.Regenerate(ctx)
			switch {
			case want.state == Empty:
				assert.ErrorIs(t, err, ErrNoDocument)
			case err == nil:
				want.state = Regenerated
			default:
				var f *ir.Failure
				require.True(t, errors.As(err, &f), "unexpected error %v", err)
			}
		}

		s := m.Snapshot()
		require.Equal(t, want.state, s.State, "step %d", step)
		require.Equal(t, want.text, s.Text, "step %d", step)
		if s.State == Regenerated {
			require.False(t, s.Binary.IsEmpty())
			require.Equal(t, ir.DigestStructural(s.Text), s.SourceDigest,
				"step %d: binary must come from the current text", step)
		} else {
			require.True(t, s.Binary.IsEmpty(), "step %d", step)
		}
	}
}
