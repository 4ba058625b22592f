// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sessionsync-replay inspects a recorded session journal. By default
// it lists every captured frame; with --reconstruct it feeds the
// inbound frames through a fresh synchronizer and prints the
// resulting buffer content and terminal output, which is the state a
// peer would have converged to.
//
//	sessionsync-replay session.journal
//	sessionsync-replay --reconstruct session.journal
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/sessionsync/journal"
	"github.com/bureau-foundation/sessionsync/session"
	"github.com/bureau-foundation/sessionsync/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sessionsync-replay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var reconstruct bool

	flagSet := pflag.NewFlagSet("sessionsync-replay", pflag.ContinueOnError)
	flagSet.BoolVar(&reconstruct, "reconstruct", false, "apply inbound frames to a fresh replica and print its state")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: sessionsync-replay [--reconstruct] <journal>")
	}

	recorder, err := journal.Open(flagSet.Arg(0), journal.Options{})
	if err != nil {
		return err
	}
	defer recorder.Close()

	if reconstruct {
		return reconstructSession(recorder)
	}
	return listEntries(recorder)
}

func listEntries(recorder *journal.Recorder) error {
	return recorder.Replay(func(entry journal.Entry) error {
		message, err := wire.Decode(entry.Frame)
		if err != nil {
			fmt.Printf("%6d  %s  %-8s  %4d bytes  (malformed: %v)\n",
				entry.Sequence, entry.RecordedAt.Format(time.RFC3339), entry.Direction, len(entry.Frame), err)
			return nil
		}
		fmt.Printf("%6d  %s  %-8s  %-7s  %4d bytes\n",
			entry.Sequence, entry.RecordedAt.Format(time.RFC3339), entry.Direction, message.Type, len(message.Payload))
		return nil
	})
}

func reconstructSession(recorder *journal.Recorder) error {
	replica := session.New(session.Config{Site: "replay"})
	err := recorder.Replay(func(entry journal.Entry) error {
		replica.OnRemoteUpdate(entry.Frame, 0)
		return nil
	})
	if err != nil {
		return err
	}

	stats := replica.Stats()
	fmt.Printf("frames dropped: %d\n", stats.DroppedFrames)
	fmt.Printf("buffer content:\n%s\n", replica.Content())
	if output := replica.History(0); len(output) > 0 {
		fmt.Printf("terminal output:\n%s\n", output)
	}
	return nil
}
