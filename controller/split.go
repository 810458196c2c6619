package main

import "sync"

// splitter hands out contiguous chunks of the index space. Chunks that
// died with their session can be requeued so exhaustion still means
// "every index verified".
type splitter struct {
	mu      sync.Mutex
	next    int64
	total   int64
	chunk   int64
	requeue [][2]int64
}

func newSplitter(total, chunk int64) *splitter {
	return &splitter{total: total, chunk: chunk}
}

// Next returns the next unassigned range, preferring requeued chunks.
func (s *splitter) Next() (start, count int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.requeue); n > 0 {
		r := s.requeue[n-1]
		s.requeue = s.requeue[:n-1]
		return r[0], r[1], true
	}
	if s.next >= s.total {
		return 0, 0, false
	}
	start = s.next
	count = s.chunk
	if start+count > s.total {
		count = s.total - start
	}
	s.next += count
	return start, count, true
}

// Requeue returns a failed chunk to the pool.
func (s *splitter) Requeue(start, count int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeue = append(s.requeue, [2]int64{start, count})
}

// Chunks reports how many assignments the space splits into.
func (s *splitter) Chunks() int64 {
	n := s.total / s.chunk
	if s.total%s.chunk != 0 {
		n++
	}
	return n
}
