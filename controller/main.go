// Command controller coordinates a cracking campaign: it reads one
// hash from a shadow-style file, accepts worker registrations, splits
// the candidate space into assignments, and stops the fleet on the
// first match.
package main

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"

	"shadowcrack/internal/candidate"
	"shadowcrack/internal/messages"
	"shadowcrack/internal/shadow"
)

type outcome struct {
	found    bool
	password string
}

type campaign struct {
	cfg        config
	log        zerolog.Logger
	storedHash string
	split      *splitter
	bar        *progressbar.ProgressBar

	mu        sync.Mutex
	sessions  map[*session]struct{}
	completed int64
	result    outcome
	done      chan struct{}
	doneOnce  sync.Once
}

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		usage(err)
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if cfg.verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Str("component", "controller").Logger()

	if err := candidate.Validate(candidate.Alphabet); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	storedHash, err := shadow.LookupHash(cfg.shadowPath, cfg.username)
	if err != nil {
		usage(err)
		os.Exit(1)
	}
	if !shadow.Crackable(storedHash) {
		usage(fmt.Errorf("user %q has no crackable hash", cfg.username))
		os.Exit(1)
	}
	alg, err := shadow.DetectAlg(storedHash)
	if err != nil {
		usage(err)
		os.Exit(1)
	}

	total, err := candidate.SpaceSize(cfg.maxLen, candidate.Alphabet)
	if err != nil {
		usage(err)
		os.Exit(1)
	}
	log.Info().Str("user", cfg.username).Str("alg", alg).
		Int("maxLen", cfg.maxLen).Int64("space", total).Msg("campaign configured")

	c := &campaign{
		cfg:        cfg,
		log:        log,
		storedHash: storedHash,
		split:      newSplitter(total, cfg.chunk),
		bar: progressbar.NewOptions64(total,
			progressbar.OptionSetDescription("cracking"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(250*time.Millisecond),
		),
		sessions: map[*session]struct{}{},
		done:     make(chan struct{}),
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.port))
	if err != nil {
		usage(fmt.Errorf("listen failed: %w", err))
		os.Exit(1)
	}
	defer ln.Close()
	log.Info().Int("port", cfg.port).Msg("listening for registrations")

	go c.acceptLoop(ln)

	started := time.Now()
	<-c.done
	_ = c.bar.Finish()
	elapsed := time.Since(started)

	c.mu.Lock()
	res := c.result
	c.mu.Unlock()

	fmt.Println("----- FINAL RESULT -----")
	if res.found {
		fmt.Printf("status: FOUND\npassword: %s\n", res.password)
	} else {
		fmt.Println("status: NOT_FOUND")
	}
	fmt.Printf("elapsed: %s\n", elapsed.Round(time.Millisecond))
}

func (c *campaign) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go c.handleRegistration(conn)
	}
}

func (c *campaign) addSession(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[s] = struct{}{}
}

func (c *campaign) removeSession(s *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s)
}

func (c *campaign) progress(delta int64) {
	if delta > 0 {
		_ = c.bar.Add64(delta)
	}
}

// completeChunk records one fully-verified assignment; when every
// chunk has reported, the space is exhausted.
func (c *campaign) completeChunk() {
	c.mu.Lock()
	c.completed++
	exhausted := c.completed == c.split.Chunks()
	c.mu.Unlock()

	if exhausted {
		c.broadcastStop("search space exhausted")
		c.doneOnce.Do(func() { close(c.done) })
	}
}

// finish records the first match and stops the fleet. First writer
// wins; later results are ignored.
func (c *campaign) finish(password string) {
	c.mu.Lock()
	if !c.result.found {
		c.result = outcome{found: true, password: password}
	}
	c.mu.Unlock()

	c.broadcastStop("password found")
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *campaign) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *campaign) broadcastStop(reason string) {
	c.mu.Lock()
	peers := make([]*session, 0, len(c.sessions))
	for s := range c.sessions {
		peers = append(peers, s)
	}
	c.mu.Unlock()

	stop := &messages.Stop{Reason: reason}
	for _, s := range peers {
		if err := s.send(messages.KindStop, stop); err != nil {
			c.log.Debug().Err(err).Str("nodeId", s.nodeID).Msg("stop broadcast failed")
		}
	}
}

func usage(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	fmt.Fprintln(os.Stderr, "usage: controller -f <shadow file> -u <username> -p <port> [--max-len N] [--chunk N] [--checkpoint-every N] [-v]")
}
