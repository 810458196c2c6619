// Command worker is the cracking node. It registers with the
// coordinator, accepts the reverse-connect callback, and executes
// ASSIGN_WORK slices on a persistent thread pool until the peer closes
// or broadcasts STOP.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"shadowcrack/internal/candidate"
	"shadowcrack/internal/cryptbind"
	"shadowcrack/internal/pool"
)

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
		With().Timestamp().Str("component", "worker").Logger()

	if err := candidate.Validate(candidate.Alphabet); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	p, err := pool.New(cfg.threads, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	node := newNode(cfg, p, log)
	code := node.Run()

	p.Close()
	cryptbind.Close()
	os.Exit(code)
}

func usage(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	fmt.Fprintln(os.Stderr, "usage: worker <server_host> <server_port> [threads] [-v|--verbose]")
}
