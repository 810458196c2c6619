// Package pool runs one slice of the candidate space at a time across
// a persistent set of OS-locked worker threads. Progress is committed
// in index order: a checkpoint at N means the first N indices of the
// slice have all been verified, regardless of the order workers
// finished them.
package pool

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"shadowcrack/internal/candidate"
)

// Verifier checks one candidate string against the job's stored hash.
type Verifier interface {
	Verify(candidate string) (bool, error)
}

// Callbacks observe one job. OnCheckpoint calls are serialized and
// strictly increasing in tried; IsStopRequested is polled by every
// worker on every iteration.
type Callbacks struct {
	OnWorkerStart   func(slot, tid int)
	OnCheckpoint    func(tried int64, perWorker []int64)
	IsStopRequested func() bool
}

// SliceResult summarizes one finished slice.
type SliceResult struct {
	Found      bool
	Password   string
	Tried      int64
	DurationMs int64
}

// MaxCount bounds the per-index done bitmap.
const MaxCount = math.MaxInt32

var (
	ErrClosed = errors.New("pool: closed")
	ErrBusy   = errors.New("pool: a slice is already running")
)

// Pool owns exactly `threads` workers for its lifetime. Workers park
// between jobs and wake when a new job version is published.
type Pool struct {
	threads int
	log     zerolog.Logger

	mu      sync.Mutex
	wake    *sync.Cond
	version uint64
	cur     *job
	closed  bool
}

type job struct {
	verifier Verifier
	start    int64
	count    int64
	every    int64

	nextRel    atomic.Int64
	doneMap    []atomic.Uint32
	totalTried atomic.Int64
	perWorker  []atomic.Int64
	stopFlag   atomic.Uint32
	password   atomic.Pointer[string]
	fatal      atomic.Pointer[error]

	progressMu     sync.Mutex
	donePrefix     int64
	lastCheckpoint int64

	cb    Callbacks
	latch sync.WaitGroup
}

// New starts the worker threads. They live until Close.
func New(threads int, log zerolog.Logger) (*Pool, error) {
	if threads < 1 {
		return nil, fmt.Errorf("pool: thread count %d, want >= 1", threads)
	}
	if err := candidate.Validate(candidate.Alphabet); err != nil {
		return nil, err
	}
	p := &Pool{
		threads: threads,
		log:     log.With().Str("component", "pool").Logger(),
	}
	p.wake = sync.NewCond(&p.mu)
	for slot := 0; slot < threads; slot++ {
		go p.workerLoop(slot)
	}
	return p, nil
}

// Threads reports the fixed pool size.
func (p *Pool) Threads() int {
	return p.threads
}

// RunSlice publishes one job and blocks until every worker has
// signaled completion for it. Exactly one job runs at a time.
func (p *Pool) RunSlice(v Verifier, start, count int64, checkpointEvery int64, cb Callbacks) (SliceResult, error) {
	if v == nil {
		return SliceResult{}, errors.New("pool: nil verifier")
	}
	if start < 0 {
		return SliceResult{}, fmt.Errorf("pool: negative start index %d", start)
	}
	if count < 1 || count > MaxCount {
		return SliceResult{}, fmt.Errorf("pool: count %d outside [1, %d]", count, int64(MaxCount))
	}
	if checkpointEvery < 1 {
		return SliceResult{}, fmt.Errorf("pool: checkpoint period %d, want >= 1", checkpointEvery)
	}
	if start > math.MaxInt64-count {
		return SliceResult{}, candidate.ErrIndexOverflow
	}
	if _, err := candidate.FromIndex(start+count-1, candidate.Alphabet); err != nil {
		return SliceResult{}, fmt.Errorf("pool: slice end not representable: %w", err)
	}

	j := &job{
		verifier:  v,
		start:     start,
		count:     count,
		every:     checkpointEvery,
		doneMap:   make([]atomic.Uint32, count),
		perWorker: make([]atomic.Int64, p.threads),
		cb:        cb,
	}
	j.latch.Add(p.threads)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return SliceResult{}, ErrClosed
	}
	if p.cur != nil {
		p.mu.Unlock()
		return SliceResult{}, ErrBusy
	}
	p.cur = j
	p.version++
	p.wake.Broadcast()
	p.mu.Unlock()

	started := time.Now()
	j.latch.Wait()
	elapsed := time.Since(started)

	p.mu.Lock()
	p.cur = nil
	p.mu.Unlock()

	if errp := j.fatal.Load(); errp != nil {
		return SliceResult{}, *errp
	}

	res := SliceResult{
		Tried:      j.totalTried.Load(),
		DurationMs: elapsed.Milliseconds(),
	}
	if res.DurationMs < 1 {
		res.DurationMs = 1
	}
	if pw := j.password.Load(); pw != nil {
		res.Found = true
		res.Password = *pw
	}
	return res, nil
}

// StopActive sets the running job's stop flag, if any. Workers finish
// their in-flight verify and exit.
func (p *Pool) StopActive() {
	p.mu.Lock()
	j := p.cur
	p.mu.Unlock()
	if j != nil {
		j.stopFlag.Store(1)
	}
}

// Close wakes and retires all workers. A running slice still drains.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.wake.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) workerLoop(slot int) {
	runtime.LockOSThread()

	var lastVersion uint64
	for {
		p.mu.Lock()
		for !p.closed && (p.cur == nil || p.version == lastVersion) {
			p.wake.Wait()
		}
		if p.cur == nil || p.version == lastVersion {
			p.mu.Unlock()
			return
		}
		j := p.cur
		lastVersion = p.version
		p.mu.Unlock()

		p.runJob(j, slot)
	}
}

// runJob is one worker's share of one job. The latch is signaled
// exactly once on exit, panics included.
func (p *Pool) runJob(j *job, slot int) {
	defer j.latch.Done()
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("slot", slot).Interface("panic", r).Msg("worker panicked; abandoning job share")
		}
	}()

	if j.cb.OnWorkerStart != nil {
		j.cb.OnWorkerStart(slot, gettid())
	}

	for {
		if j.stopFlag.Load() == 1 {
			return
		}
		if j.cb.IsStopRequested != nil && j.cb.IsStopRequested() {
			return
		}
		rel := j.nextRel.Add(1) - 1
		if rel >= j.count {
			j.stopFlag.Store(1)
			return
		}
		if p.tryIndex(j, slot, rel) {
			return
		}
	}
}

// tryIndex verifies one relative index and commits its progress. It
// returns true when this worker should stop (match found or fatal
// verifier failure).
func (p *Pool) tryIndex(j *job, slot int, rel int64) bool {
	idx := j.start + rel
	cand, err := candidate.FromIndex(idx, candidate.Alphabet)

	var ok bool
	if err == nil {
		ok, err = j.verifier.Verify(cand)
	}
	if err != nil {
		if isFatal(err) {
			e := err
			j.fatal.CompareAndSwap(nil, &e)
			j.stopFlag.Store(1)
			return true
		}
		// The index counts as tried-not-matched so the done prefix
		// keeps advancing.
		p.log.Warn().Int64("index", idx).Err(err).Msg("verify failed")
		ok = false
	}

	j.perWorker[slot].Add(1)
	j.totalTried.Add(1)
	j.doneMap[rel].Store(1)
	j.updateProgress()

	if ok {
		pw := cand
		j.password.CompareAndSwap(nil, &pw)
		j.stopFlag.Store(1)
		return true
	}
	return false
}

// updateProgress advances the contiguous done prefix and emits every
// checkpoint milestone crossed since the last one, under one mutex so
// the sequence is strictly increasing in both value and wall-clock
// order.
func (j *job) updateProgress() {
	j.progressMu.Lock()
	defer j.progressMu.Unlock()

	for j.donePrefix < j.count && j.doneMap[j.donePrefix].Load() == 1 {
		j.donePrefix++
	}

	next := j.lastCheckpoint - j.lastCheckpoint%j.every + j.every
	for m := next; m <= j.donePrefix; m += j.every {
		j.emitCheckpoint(m)
	}
	if j.donePrefix == j.count && j.lastCheckpoint != j.count {
		j.emitCheckpoint(j.count)
	}
}

func (j *job) emitCheckpoint(tried int64) {
	if j.cb.OnCheckpoint != nil {
		snap := make([]int64, len(j.perWorker))
		for i := range j.perWorker {
			snap[i] = j.perWorker[i].Load()
		}
		j.cb.OnCheckpoint(tried, snap)
	}
	j.lastCheckpoint = tried
}

// isFatal matches errors that doom the whole slice rather than one
// candidate.
func isFatal(err error) bool {
	var f interface{ Fatal() bool }
	return errors.As(err, &f) && f.Fatal()
}
