package runner_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sarchlab/cachescope/analysis"
	"github.com/sarchlab/cachescope/hierarchy"
	"github.com/sarchlab/cachescope/profiles"
	"github.com/sarchlab/cachescope/runner"
	"github.com/sarchlab/cachescope/trace"
)

func newSystem(t *testing.T) *hierarchy.System {
	t.Helper()
	p, err := profiles.Lookup("educational")
	require.NoError(t, err)
	sys, err := hierarchy.MakeBuilder().WithProfile(p).WithNumCores(2).Build()
	require.NoError(t, err)
	return sys
}

func textSource(t *testing.T, text string, opts ...trace.DecoderOption) trace.Source {
	t.Helper()
	src, err := trace.NewSource(strings.NewReader(text), trace.FormatText, opts...)
	require.NoError(t, err)
	return src
}

func buildRunner(t *testing.T, sys *hierarchy.System, src trace.Source) *runner.Runner {
	t.Helper()
	r, err := runner.MakeBuilder().WithSystem(sys).WithSource(src).Build()
	require.NoError(t, err)
	return r
}

func TestRunProducesReport(t *testing.T) {
	sys := newSystem(t)
	src := textSource(t, strings.TrimSpace(`
# warm one line, then hit it
L 0x1000 4 main.c:10 T1
L 0x1000 4 main.c:10 T1
S 0x1000 4 main.c:11 T1
`))

	rep, err := buildRunner(t, sys, src).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "educational", rep.Config)
	assert.Equal(t, uint64(3), rep.Events)
	assert.Equal(t, uint64(1), rep.L1D.Misses)
	assert.Equal(t, uint64(2), rep.L1D.Hits)
	require.Len(t, rep.HotLines, 2)
}

func TestRunMatchesDirectApply(t *testing.T) {
	var text strings.Builder
	for i := 0; i < 500; i++ {
		fmt.Fprintf(&text, "L 0x%x 4 a.c:%d T%d\n", 0x10000+i*4, 1+i%3, 1+i%2)
	}

	direct := newSystem(t)
	src := textSource(t, text.String())
	for {
		ev, err := src.Next()
		if err != nil {
			break
		}
		direct.Apply(ev)
	}

	piped := newSystem(t)
	rep, err := buildRunner(t, piped, textSource(t, text.String())).
		Run(context.Background())
	require.NoError(t, err)

	want := direct.Stats()
	assert.Equal(t, want.L1D.Hits, rep.L1D.Hits, "pipeline preserves event order")
	assert.Equal(t, want.L1D.Misses, rep.L1D.Misses)
	assert.Equal(t, want.L2.Misses, rep.L2.Misses)
}

func TestRunEmptyInputFails(t *testing.T) {
	sys := newSystem(t)

	_, err := buildRunner(t, sys, textSource(t, "")).Run(context.Background())
	assert.ErrorIs(t, err, runner.ErrEmptyTrace)
}

func TestRunAllSkippedInputFails(t *testing.T) {
	sys := newSystem(t)

	_, err := buildRunner(t, sys, textSource(t, "garbage\nmore garbage\n")).
		Run(context.Background())
	assert.ErrorIs(t, err, runner.ErrEmptyTrace)
}

func TestRunEventCapCompletesNormally(t *testing.T) {
	var text strings.Builder
	for i := 0; i < 100; i++ {
		fmt.Fprintf(&text, "L 0x%x 4\n", 0x1000+i*64)
	}

	sys := newSystem(t)
	src := textSource(t, text.String(), trace.WithMaxEvents(10))

	rep, err := buildRunner(t, sys, src).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(10), rep.Events)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var text strings.Builder
	for i := 0; i < 100000; i++ {
		fmt.Fprintf(&text, "L 0x%x 4\n", 0x1000+i*64)
	}

	sys := newSystem(t)
	r, err := runner.MakeBuilder().
		WithSystem(sys).
		WithSource(textSource(t, text.String())).
		WithChannelDepth(1).
		Build()
	require.NoError(t, err)

	_, err = r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunWithStreamer(t *testing.T) {
	var buf bytes.Buffer
	var text strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&text, "L 0x%x 4 b.c:1\n", 0x1000+i*64)
	}

	sys := newSystem(t)
	r, err := runner.MakeBuilder().
		WithSystem(sys).
		WithSource(textSource(t, text.String())).
		WithStreamer(analysis.NewStreamer(&buf, 10)).
		Build()
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)

	var types []string
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var frame struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &frame))
		types = append(types, frame.Type)
	}

	require.NotEmpty(t, types)
	assert.Equal(t, "start", types[0])
	assert.Equal(t, "complete", types[len(types)-1])
	assert.Contains(t, types, "progress")
}

func TestBuilderValidation(t *testing.T) {
	sys := newSystem(t)

	_, err := runner.MakeBuilder().WithSource(textSource(t, "L 0x0 4\n")).Build()
	assert.Error(t, err, "system is required")

	_, err = runner.MakeBuilder().WithSystem(sys).Build()
	assert.Error(t, err, "source is required")

	_, err = runner.MakeBuilder().
		WithSystem(sys).
		WithSource(textSource(t, "L 0x0 4\n")).
		WithChannelDepth(0).
		Build()
	assert.Error(t, err, "channel depth must be positive")
}
