// Package main starts the trainer session server and handles termination.
//
// The process owns authoritative session state: it drives each exercise's
// phase machine, adapts difficulty and streams snapshot deltas to clients.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	trainercmd "github.com/louisbranch/mindtrain/internal/cmd/trainer"
)

func main() {
	cfg, err := trainercmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[TRAINER] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := trainercmd.Run(ctx, cfg, os.Stderr); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
