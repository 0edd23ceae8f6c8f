package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sarchlab/cachescope/analysis"
	"github.com/sarchlab/cachescope/hierarchy"
	"github.com/sarchlab/cachescope/prefetch"
	"github.com/sarchlab/cachescope/profiles"
	"github.com/sarchlab/cachescope/recording"
	"github.com/sarchlab/cachescope/runner"
	"github.com/sarchlab/cachescope/tlb"
	"github.com/sarchlab/cachescope/trace"
)

var (
	flagConfig         string
	flagCores          int
	flagPrefetch       string
	flagPrefetchDegree int
	flagFast           bool

	flagFormat     string
	flagSampleRate uint32
	flagMaxEvents  uint64
	flagFileTable  string

	flagStream         bool
	flagStreamInterval uint64
	flagOutput         string

	flagRecord     bool
	flagRecordFile string

	flagL1Size   int
	flagL1Assoc  int
	flagLineSize int
	flagL2Size   int
	flagL2Assoc  int
	flagL3Size   int
	flagL3Assoc  int

	flagTLBEntries int
	flagTLBAssoc   int
)

func init() {
	f := rootCmd.Flags()

	f.StringVar(&flagConfig, "config", "intel",
		"hardware configuration; a preset name, or \"custom\" with the size flags")
	f.IntVar(&flagCores, "cores", 1, "number of simulated cores")
	f.StringVar(&flagPrefetch, "prefetch", "",
		"override the preset's prefetch policy "+
			"(none, next_line, stream, stride, adaptive, hardware)")
	f.IntVar(&flagPrefetchDegree, "prefetch-degree", 0,
		"override the preset's prefetch degree")
	f.BoolVar(&flagFast, "fast", false,
		"skip 3C miss classification for speed")

	f.StringVar(&flagFormat, "format", "auto", "trace format (auto, binary, text)")
	f.Uint32Var(&flagSampleRate, "sample-rate", 0,
		"keep only every Nth event")
	f.Uint64Var(&flagMaxEvents, "max-events", 0,
		"stop after this many events (0 = unlimited)")
	f.StringVar(&flagFileTable, "file-table", "",
		"file holding the interned source-file names, one per line "+
			"(binary traces only)")

	f.BoolVar(&flagStream, "stream", false,
		"emit newline-delimited progress frames instead of a single report")
	f.Uint64Var(&flagStreamInterval, "stream-interval", 10000,
		"events between progress frames")
	f.StringVar(&flagOutput, "output", "",
		"write the report to this file instead of stdout")

	f.BoolVar(&flagRecord, "record", false,
		"record frames and final statistics into a SQLite database")
	f.StringVar(&flagRecordFile, "record-file", "",
		"database path for --record (default: a unique name)")

	f.IntVar(&flagL1Size, "l1-size", 32*1024, "custom config: L1 size in bytes")
	f.IntVar(&flagL1Assoc, "l1-assoc", 8, "custom config: L1 associativity")
	f.IntVar(&flagLineSize, "line-size", 64, "custom config: cache line size in bytes")
	f.IntVar(&flagL2Size, "l2-size", 1024*1024, "custom config: L2 size in bytes")
	f.IntVar(&flagL2Assoc, "l2-assoc", 16, "custom config: L2 associativity")
	f.IntVar(&flagL3Size, "l3-size", 32*1024*1024,
		"custom config: L3 size in bytes (0 = no L3)")
	f.IntVar(&flagL3Assoc, "l3-assoc", 16, "custom config: L3 associativity")

	f.IntVar(&flagTLBEntries, "tlb-entries", 64, "TLB entry count")
	f.IntVar(&flagTLBAssoc, "tlb-assoc", 4, "TLB associativity")
}

func runSimulation(cmd *cobra.Command, args []string) error {
	sys, err := buildSystem()
	if err != nil {
		return err
	}

	in, err := openInput(args)
	if err != nil {
		return err
	}
	defer in.Close()

	opts, err := decoderOptions()
	if err != nil {
		return err
	}

	src, err := trace.NewSource(in, trace.Format(flagFormat), opts...)
	if err != nil {
		return err
	}

	out, err := openOutput()
	if err != nil {
		return err
	}
	defer out.Close()

	rb := runner.MakeBuilder().WithSystem(sys).WithSource(src)

	if flagStream {
		rb = rb.WithStreamer(analysis.NewStreamer(out, flagStreamInterval))
	}

	var rec *recording.Recorder
	if flagRecord {
		rec, err = recording.NewRecorder(flagRecordFile)
		if err != nil {
			return err
		}
		defer rec.Close()
		rb = rb.WithRecorder(rec)
	}

	r, err := rb.Build()
	if err != nil {
		return err
	}

	report, err := r.Run(cmd.Context())
	if err != nil {
		return err
	}

	if !flagStream {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	return nil
}

func buildSystem() (*hierarchy.System, error) {
	profile, err := resolveProfile()
	if err != nil {
		return nil, err
	}

	b := hierarchy.MakeBuilder().
		WithProfile(profile).
		WithNumCores(flagCores).
		WithFastMode(flagFast).
		WithTLBConfig(tlb.Config{
			Entries:  flagTLBEntries,
			Assoc:    flagTLBAssoc,
			PageSize: 4096,
		})

	if flagPrefetch != "" {
		policy, err := prefetch.ParsePolicy(flagPrefetch)
		if err != nil {
			return nil, err
		}
		b = b.WithPrefetchPolicy(policy)
	}
	if flagPrefetchDegree > 0 {
		b = b.WithPrefetchDegree(flagPrefetchDegree)
	}

	return b.Build()
}

func resolveProfile() (profiles.Profile, error) {
	if flagConfig == "custom" {
		return profiles.Custom(
			flagL1Size, flagL1Assoc, flagLineSize,
			flagL2Size, flagL2Assoc,
			flagL3Size, flagL3Assoc)
	}

	return profiles.Lookup(flagConfig)
}

func decoderOptions() ([]trace.DecoderOption, error) {
	var opts []trace.DecoderOption

	if flagSampleRate > 1 {
		opts = append(opts, trace.WithSampleRate(flagSampleRate))
	}
	if flagMaxEvents > 0 {
		opts = append(opts, trace.WithMaxEvents(flagMaxEvents))
	}
	if flagFileTable != "" {
		files, err := readFileTable(flagFileTable)
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithFileTable(files))
	}

	return opts, nil
}

func readFileTable(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file table: %w", err)
	}

	var files []string
	for _, line := range strings.Split(string(raw), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}

	return files, nil
}

func openInput(args []string) (io.ReadCloser, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.NopCloser(os.Stdin), nil
	}

	f, err := os.Open(args[0])
	if err != nil {
		return nil, fmt.Errorf("opening trace: %w", err)
	}

	return f, nil
}

func openOutput() (io.WriteCloser, error) {
	if flagOutput == "" {
		return nopWriteCloser{os.Stdout}, nil
	}

	f, err := os.Create(flagOutput)
	if err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}

	return f, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
