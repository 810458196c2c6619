package main

import (
	"fmt"

	flag "github.com/spf13/pflag"
)

type config struct {
	shadowPath      string
	username        string
	port            int
	maxLen          int
	chunk           int64
	checkpointEvery int32
	verbose         bool
}

func parseArgs(args []string) (config, error) {
	fs := flag.NewFlagSet("controller", flag.ContinueOnError)

	cfg := config{}
	fs.StringVarP(&cfg.shadowPath, "shadow-file", "f", "", "path to shadow file")
	fs.StringVarP(&cfg.username, "user", "u", "", "username to crack")
	fs.IntVarP(&cfg.port, "port", "p", 0, "registration listen port")
	fs.IntVar(&cfg.maxLen, "max-len", 4, "maximum candidate length")
	fs.Int64Var(&cfg.chunk, "chunk", 500_000, "indices per assignment")
	fs.Int32Var(&cfg.checkpointEvery, "checkpoint-every", 10_000, "checkpoint period in tried indices")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "debug logging")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if cfg.shadowPath == "" || cfg.username == "" {
		return config{}, fmt.Errorf("missing required argument")
	}
	if cfg.port < 1 || cfg.port > 65535 {
		return config{}, fmt.Errorf("invalid port %d", cfg.port)
	}
	if cfg.maxLen < 1 {
		return config{}, fmt.Errorf("invalid max length %d", cfg.maxLen)
	}
	if cfg.chunk < 1 {
		return config{}, fmt.Errorf("invalid chunk size %d", cfg.chunk)
	}
	if cfg.checkpointEvery < 1 {
		return config{}, fmt.Errorf("invalid checkpoint period %d", cfg.checkpointEvery)
	}
	return cfg, nil
}
