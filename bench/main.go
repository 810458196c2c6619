// Command bench times the worker pool on a single node across a
// ladder of thread counts and renders the scaling as a text bar chart.
package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"shadowcrack/internal/pool"
	"shadowcrack/internal/verifier"
)

type run struct {
	threads    int
	tried      int64
	durationMs int64
}

func (r run) perSecond() float64 {
	if r.durationMs == 0 {
		return 0
	}
	return float64(r.tried) / (float64(r.durationMs) / 1000)
}

func main() {
	var (
		storedHash string
		count      int64
		every      int64
		maxThreads int
	)
	flag.StringVar(&storedHash, "hash", "", "stored hash to verify against (default: a generated bcrypt hash)")
	flag.Int64Var(&count, "count", 2000, "indices per timed run")
	flag.Int64Var(&every, "checkpoint-every", 100, "checkpoint period")
	flag.IntVar(&maxThreads, "max-threads", runtime.NumCPU(), "top of the thread ladder")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.WarnLevel).
		With().Timestamp().Str("component", "bench").Logger()

	if storedHash == "" {
		// A miss-only bcrypt hash keeps every run over the full count.
		hashed, err := bcrypt.GenerateFromPassword([]byte("not-in-space\x00"), bcrypt.MinCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		storedHash = string(hashed)
	}

	v, err := verifier.New(storedHash)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if maxThreads < 1 {
		maxThreads = 1
	}
	var ladder []int
	for t := 1; t < maxThreads; t *= 2 {
		ladder = append(ladder, t)
	}
	ladder = append(ladder, maxThreads)

	var runs []run
	for _, threads := range ladder {
		r, err := timeRun(v, threads, count, every, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		runs = append(runs, r)
	}

	render(os.Stdout, runs)
}

func timeRun(v verifier.Verifier, threads int, count, every int64, log zerolog.Logger) (run, error) {
	p, err := pool.New(threads, log)
	if err != nil {
		return run{}, err
	}
	defer p.Close()

	bar := progressbar.NewOptions64(count,
		progressbar.OptionSetDescription(fmt.Sprintf("%2d threads", threads)),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
	res, err := p.RunSlice(v, 0, count, every, pool.Callbacks{
		OnCheckpoint: func(tried int64, _ []int64) { _ = bar.Set64(tried) },
	})
	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return run{}, err
	}
	return run{threads: threads, tried: res.Tried, durationMs: res.DurationMs}, nil
}

func render(w *os.File, runs []run) {
	var best float64
	for _, r := range runs {
		if r.perSecond() > best {
			best = r.perSecond()
		}
	}

	fmt.Fprintln(w, "threads  hashes/s  scaling")
	for _, r := range runs {
		width := 0
		if best > 0 {
			width = int(r.perSecond() / best * 40)
		}
		fmt.Fprintf(w, "%7d  %8.0f  %s\n", r.threads, r.perSecond(), strings.Repeat("█", width))
	}
}
