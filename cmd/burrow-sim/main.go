// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command burrow-sim drives a burrowd instance with synthetic traffic. It
// replays YAML scenarios or generates a mixed workload against the ingest
// API, and can watch the live event stream to verify what the detector saw.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	target := flag.String("target", "http://127.0.0.1:8664", "burrowd base URL")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "replay":
		if len(args) < 2 {
			log.Fatal("usage: burrow-sim replay <scenario.yaml>")
		}
		scenario, err := LoadScenario(args[1])
		if err != nil {
			log.Fatalf("failed to load scenario: %v", err)
		}
		if err := Replay(ctx, newSimClient(*target), scenario); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
	case "generate":
		count := 200
		if len(args) > 1 {
			if _, err := fmt.Sscanf(args[1], "%d", &count); err != nil {
				log.Fatalf("invalid count: %s", args[1])
			}
		}
		if err := Generate(ctx, newSimClient(*target), count); err != nil {
			log.Fatalf("generate failed: %v", err)
		}
	case "watch":
		if err := Watch(ctx, *target); err != nil {
			log.Fatalf("watch failed: %v", err)
		}
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: burrow-sim [-target URL] <command>

commands:
  replay <scenario.yaml>   replay a YAML traffic scenario
  generate [count]         generate a mixed synthetic workload
  watch                    tail the live event stream`)
}
