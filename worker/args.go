package main

import (
	"fmt"
	"runtime"
	"strconv"
)

type config struct {
	serverHost string
	serverPort int
	threads    int
	verbose    bool
}

// parseArgs handles the positional form
// `<server_host> <server_port> [threads]` with -v/--verbose anywhere.
func parseArgs(args []string) (config, error) {
	cfg := config{threads: runtime.NumCPU()}

	var positional []string
	for _, a := range args {
		switch a {
		case "-v", "--verbose":
			cfg.verbose = true
		default:
			positional = append(positional, a)
		}
	}

	if len(positional) < 2 || len(positional) > 3 {
		return config{}, fmt.Errorf("expected <server_host> <server_port> [threads]")
	}

	cfg.serverHost = positional[0]
	if cfg.serverHost == "" {
		return config{}, fmt.Errorf("empty server host")
	}

	port, err := strconv.Atoi(positional[1])
	if err != nil || port < 1 || port > 65535 {
		return config{}, fmt.Errorf("invalid server port %q", positional[1])
	}
	cfg.serverPort = port

	if len(positional) == 3 {
		threads, err := strconv.Atoi(positional[2])
		if err != nil || threads < 1 {
			return config{}, fmt.Errorf("invalid thread count %q", positional[2])
		}
		cfg.threads = threads
	}
	return cfg, nil
}
