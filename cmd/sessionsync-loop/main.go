// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sessionsync-loop runs two synchronizers against each other inside
// one process, connected by in-memory paths, and attaches the local
// terminal to one of them. Everything typed is applied optimistically
// on the near replica, shipped to the far replica, echoed back as
// output, and confirmed with delivery acknowledgments: a complete
// round trip of the protocol with no network involved.
//
// Useful for demos and for eyeballing the stats surface:
//
//	sessionsync-loop
//	sessionsync-loop --config sessionsync.yaml
//	echo "hello" | sessionsync-loop
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/sessionsync/congestion"
	"github.com/bureau-foundation/sessionsync/journal"
	"github.com/bureau-foundation/sessionsync/lib/config"
	"github.com/bureau-foundation/sessionsync/reliability"
	"github.com/bureau-foundation/sessionsync/session"
	"github.com/bureau-foundation/sessionsync/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sessionsync-loop: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var showStats bool

	flagSet := pflag.NewFlagSet("sessionsync-loop", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to sessionsync.yaml (default: SESSIONSYNC_CONFIG)")
	flagSet.BoolVar(&showStats, "stats", true, "print session stats on exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else if os.Getenv("SESSIONSYNC_CONFIG") != "" {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	targetLatency, err := cfg.TargetLatency()
	if err != nil {
		return err
	}
	congestionConfig := congestion.Config{
		Terminal:      cfg.Congestion.Terminal,
		MinWindow:     cfg.Congestion.MinWindowBytes,
		InitialWindow: cfg.Congestion.InitialWindowBytes,
		MaxWindow:     cfg.Congestion.MaxWindowBytes,
	}
	reliabilityConfig := reliability.Config{
		Fanout:        cfg.Reliability.Fanout,
		MaxRetries:    cfg.Reliability.MaxRetries,
		TargetLatency: targetLatency,
	}

	// Two memory pairs give the critical fanout two independent
	// routes between the replicas.
	nearPrimary, farPrimary := transport.Pair()
	nearBackup, farBackup := transport.Pair()

	near := session.New(session.Config{
		Site:            cfg.Site,
		Congestion:      congestionConfig,
		Reliability:     reliabilityConfig,
		HistoryCapacity: cfg.History.CapacityBytes,
		Paths:           []reliability.Path{nearPrimary, nearBackup},
		Logger:          logger,
	})
	far := session.New(session.Config{
		Congestion:      congestionConfig,
		Reliability:     reliabilityConfig,
		HistoryCapacity: cfg.History.CapacityBytes,
		Paths:           []reliability.Path{farPrimary, farBackup},
		Logger:          logger,
	})

	// Critical frames arrive through the memory paths.
	const loopRTT = time.Millisecond
	farPrimary.OnReceive(func(frame []byte) { far.OnRemoteUpdate(frame, loopRTT) })
	farBackup.OnReceive(func(frame []byte) { far.OnRemoteUpdate(frame, loopRTT) })
	nearPrimary.OnReceive(func(frame []byte) { near.OnRemoteUpdate(frame, loopRTT) })
	nearBackup.OnReceive(func(frame []byte) { near.OnRemoteUpdate(frame, loopRTT) })

	// Normal frames relay directly; the far replica echoes applied
	// updates back as terminal output.
	near.AddObserver(&relayObserver{deliver: func(frame []byte) { far.OnRemoteUpdate(frame, loopRTT) }})
	far.AddObserver(&relayObserver{deliver: func(frame []byte) { near.OnRemoteUpdate(frame, loopRTT) }})
	far.AddObserver(&echoObserver{session: far})
	near.AddObserver(&printObserver{out: os.Stdout})

	if cfg.Journal.Path != "" {
		recorder, err := journal.Open(cfg.Journal.Path, journal.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer recorder.Close()
		near.AddObserver(recorder.Observer())
	}

	if err := feedInput(near); err != nil {
		return err
	}

	if showStats {
		printStats(os.Stderr, "near", near.Stats())
		printStats(os.Stderr, "far", far.Stats())
	}
	return nil
}

// feedInput reads the local terminal (raw mode when stdin is a TTY)
// and applies each chunk as session input at the end of the buffer.
// Ctrl-D ends the session.
func feedInput(near *session.Synchronizer) error {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		previous, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, previous)

		if width, height, err := term.GetSize(fd); err == nil {
			near.SendResize(uint16(height), uint16(width))
		}
	}

	buffer := make([]byte, 1024)
	for {
		n, err := os.Stdin.Read(buffer)
		if n > 0 {
			chunk := string(buffer[:n])
			if chunk == "\x04" { // Ctrl-D
				near.SendExit(0)
				return nil
			}
			near.AppendInput(chunk)
		}
		if err != nil {
			if err == io.EOF {
				near.SendExit(0)
				return nil
			}
			return fmt.Errorf("read stdin: %w", err)
		}
	}
}

// relayObserver forwards normal-path frames to the other replica.
type relayObserver struct {
	session.BaseObserver
	deliver func(frame []byte)
}

func (r *relayObserver) OnSend(frame []byte) { r.deliver(frame) }

// echoObserver turns applied updates on the far replica into terminal
// output, closing the loop.
type echoObserver struct {
	session.BaseObserver
	session *session.Synchronizer
}

func (e *echoObserver) OnUpdate(update session.Update) {
	if update.Operation.Text != "" {
		e.session.ProcessOutput([]byte(update.Operation.Text))
	}
}

// printObserver writes near-side output events to the terminal.
type printObserver struct {
	session.BaseObserver
	out io.Writer
}

func (p *printObserver) OnOutput(output session.Output) {
	if output.Remote {
		p.out.Write(output.Data)
	}
}

func printStats(w io.Writer, name string, stats session.Stats) {
	fmt.Fprintf(w, "%s: site=%s revision=%d pending=%d outbox=%d dropped=%d window=%d phase=%v sent=%d acked=%d reliability=%.2f\n",
		name, stats.Site, stats.Revision, stats.PendingOperations, stats.OutboxDepth,
		stats.DroppedFrames, stats.Window, stats.Phase,
		stats.Delivery.Sent, stats.Delivery.Acked, stats.Delivery.Reliability)
}
