// Package runner drives a full run: decoding a trace, applying its events to
// a cache hierarchy in order, and assembling the final report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/cachescope/analysis"
	"github.com/sarchlab/cachescope/hierarchy"
	"github.com/sarchlab/cachescope/recording"
	"github.com/sarchlab/cachescope/trace"
)

// ErrEmptyTrace reports input that yielded no events, either because the
// stream was empty or because nothing in it decoded.
var ErrEmptyTrace = errors.New("runner: trace contains no events")

const (
	defaultChannelDepth  = 1024
	defaultSnapshotEvery = 10000
)

// Runner owns one decode-simulate-report pipeline. The decoder runs on its
// own goroutine feeding a bounded channel; a single consumer applies events
// in decode order, so results are deterministic for a given trace.
type Runner struct {
	sys      *hierarchy.System
	src      trace.Source
	streamer *analysis.Streamer
	recorder *recording.Recorder

	depth         int
	snapshotEvery uint64
}

// Builder builds a Runner.
type Builder struct {
	sys      *hierarchy.System
	src      trace.Source
	streamer *analysis.Streamer
	recorder *recording.Recorder

	depth         int
	snapshotEvery uint64
}

// MakeBuilder creates a builder with default pipeline sizing.
func MakeBuilder() Builder {
	return Builder{
		depth:         defaultChannelDepth,
		snapshotEvery: defaultSnapshotEvery,
	}
}

// WithSystem sets the hierarchy the events run against.
func (b Builder) WithSystem(sys *hierarchy.System) Builder {
	b.sys = sys
	return b
}

// WithSource sets the event source.
func (b Builder) WithSource(src trace.Source) Builder {
	b.src = src
	return b
}

// WithStreamer enables streaming frame output.
func (b Builder) WithStreamer(s *analysis.Streamer) Builder {
	b.streamer = s
	return b
}

// WithRecorder enables SQLite run recording.
func (b Builder) WithRecorder(r *recording.Recorder) Builder {
	b.recorder = r
	return b
}

// WithChannelDepth sets the decode channel's bound.
func (b Builder) WithChannelDepth(n int) Builder {
	b.depth = n
	return b
}

// WithSnapshotEvery sets how often the recorder takes a progress snapshot.
func (b Builder) WithSnapshotEvery(n uint64) Builder {
	b.snapshotEvery = n
	return b
}

// Build validates the configuration and returns the runner.
func (b Builder) Build() (*Runner, error) {
	if b.sys == nil {
		return nil, fmt.Errorf("runner: no system configured")
	}
	if b.src == nil {
		return nil, fmt.Errorf("runner: no trace source configured")
	}
	if b.depth < 1 {
		return nil, fmt.Errorf("runner: channel depth must be positive, got %d", b.depth)
	}
	if b.snapshotEvery == 0 {
		b.snapshotEvery = defaultSnapshotEvery
	}

	return &Runner{
		sys:           b.sys,
		src:           b.src,
		streamer:      b.streamer,
		recorder:      b.recorder,
		depth:         b.depth,
		snapshotEvery: b.snapshotEvery,
	}, nil
}

// Run consumes the whole trace and returns the final report. The end of the
// stream, the event cap, and a truncated tail all complete the run normally;
// an input with no decodable events is an error.
func (r *Runner) Run(ctx context.Context) (analysis.Report, error) {
	events := make(chan trace.Event, r.depth)
	decodeErr := make(chan error, 1)

	go r.decode(ctx, events, decodeErr)

	agg := analysis.NewAggregator()

	if r.streamer != nil {
		if err := r.streamer.Start(r.sys.Profile().Name, r.sys.NumCores()); err != nil {
			return analysis.Report{}, err
		}
	}

	for ev := range events {
		outcomes := r.sys.Apply(ev)
		agg.Record(ev, outcomes)

		if r.streamer != nil {
			if err := r.streamer.Observe(ev, outcomes, r.sys, agg); err != nil {
				return analysis.Report{}, err
			}
		}
		if r.recorder != nil && agg.Events()%r.snapshotEvery == 0 {
			r.recorder.Progress(agg.Events(), r.sys.Stats())
		}
	}

	if err := <-decodeErr; err != nil {
		return analysis.Report{}, err
	}

	if agg.Events() == 0 {
		return analysis.Report{}, ErrEmptyTrace
	}

	stats := r.src.Stats()
	report := analysis.BuildReport(r.sys, agg, stats, stats.Truncated)

	if r.streamer != nil {
		if err := r.streamer.Complete(report); err != nil {
			return analysis.Report{}, err
		}
	}
	if r.recorder != nil {
		r.recorder.Progress(agg.Events(), r.sys.Stats())
		r.recorder.Final(r.sys.Stats(), r.sys.Timing(), r.sys.FalseSharingReports())
		r.recorder.Flush()
	}

	return report, nil
}

// decode feeds events into the pipeline. It closes the channel when the
// source ends, recording how the stream finished: nil for EOF, the cap, or a
// cancelled context already folded into the consumer's view, and the raw
// error for anything unreadable.
func (r *Runner) decode(ctx context.Context, events chan<- trace.Event, done chan<- error) {
	defer close(events)

	for {
		ev, err := r.src.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, trace.ErrLimit) {
				done <- nil
			} else {
				done <- fmt.Errorf("runner: reading trace: %w", err)
			}
			return
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			done <- ctx.Err()
			return
		}
	}
}
