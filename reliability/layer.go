// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reliability

import (
	"sync"
	"time"

	"github.com/bureau-foundation/sessionsync/lib/clock"
)

// Priority classifies a packet. Only critical packets enter the
// redundant-path machinery; normal traffic flows through the
// congestion-paced path and never reaches this layer.
type Priority uint8

const (
	Normal Priority = iota
	Critical
)

// Path is one redundant delivery route. Implementations live in the
// transport package; Send hands off a complete wire frame and must not
// retain the slice.
type Path interface {
	Send(payload []byte) error
}

// Config tunes a Layer. The zero value gets defaults from
// withDefaults.
type Config struct {
	// Fanout is the number of redundant copies sent per transmission.
	// Default 3. With fewer paths than fanout, copies cycle over the
	// available paths.
	Fanout int

	// MaxRetries is the retransmission budget per packet. Default 5.
	MaxRetries int

	// TargetLatency seeds the retransmission schedule: checks fire
	// after 2× the target. Acknowledged latencies continuously update
	// it. Default 50ms.
	TargetLatency time.Duration

	// LatencyWindow bounds the rolling latency sample count.
	// Default 100.
	LatencyWindow int
}

func (c Config) withDefaults() Config {
	if c.Fanout <= 0 {
		c.Fanout = 3
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.TargetLatency <= 0 {
		c.TargetLatency = 50 * time.Millisecond
	}
	if c.LatencyWindow <= 0 {
		c.LatencyWindow = 100
	}
	return c
}

// Stats is a point-in-time snapshot of delivery quality.
type Stats struct {
	Sent      uint64
	Acked     uint64
	Abandoned uint64

	// Reliability is acked/sent. Zero when nothing has been sent yet:
	// the ratio is measured, never assumed.
	Reliability float64

	// MeanLatency is the mean over the rolling acknowledgment window.
	MeanLatency time.Duration

	// Pending is the number of packets awaiting acknowledgment.
	Pending int
}

// packet is an entry in the unacknowledged table.
type packet struct {
	sequence    uint64
	payload     []byte
	sentAt      time.Time
	priority    Priority
	retransmits int
	pathsUsed   map[uint8]struct{}
	timer       *clock.Timer
}

// Layer tracks critical packets across redundant paths. Safe for
// concurrent use: the retransmission timer callback takes the same
// lock as the send and acknowledge entry points.
type Layer struct {
	mu     sync.Mutex
	clock  clock.Clock
	config Config
	paths  []Path

	nextSequence  uint64
	unacked       map[uint64]*packet
	latencies     []time.Duration
	targetLatency time.Duration

	sent      uint64
	acked     uint64
	abandoned uint64
}

// NewLayer creates a reliability layer sending over the given paths.
func NewLayer(config Config, paths []Path, clk clock.Clock) *Layer {
	config = config.withDefaults()
	return &Layer{
		clock:         clk,
		config:        config,
		paths:         paths,
		unacked:       make(map[uint64]*packet),
		targetLatency: config.TargetLatency,
	}
}

// Reserve assigns the next packet sequence number. The caller embeds
// it in the payload before SendCritical so the receiver can
// acknowledge it.
func (l *Layer) Reserve() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextSequence++
	return l.nextSequence
}

// SendCritical transmits the payload on all redundant paths, records
// it as unacknowledged, and schedules the first retransmission check
// at 2× the current target latency.
func (l *Layer) SendCritical(sequence uint64, payload []byte) {
	l.mu.Lock()
	p := &packet{
		sequence:  sequence,
		payload:   payload,
		sentAt:    l.clock.Now(),
		priority:  Critical,
		pathsUsed: make(map[uint8]struct{}),
	}
	l.unacked[sequence] = p
	l.sent++
	checkAfter := 2 * l.targetLatency
	l.mu.Unlock()

	l.transmit(p)

	timer := l.clock.AfterFunc(checkAfter, func() { l.checkRetransmit(sequence) })
	l.mu.Lock()
	// The packet may have been acknowledged between transmit and
	// timer registration; stop the timer rather than let it fire on a
	// missing entry (firing would be harmless, stopping is tidier).
	if _, stillPending := l.unacked[sequence]; stillPending {
		p.timer = timer
		timer = nil
	}
	l.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// Ack removes a packet from the unacknowledged table and records its
// observed latency. Returns false for unknown or duplicate sequences.
func (l *Layer) Ack(sequence uint64) (time.Duration, bool) {
	l.mu.Lock()
	p, ok := l.unacked[sequence]
	if !ok {
		l.mu.Unlock()
		return 0, false
	}
	delete(l.unacked, sequence)
	l.acked++

	latency := l.clock.Now().Sub(p.sentAt)
	l.latencies = append(l.latencies, latency)
	if len(l.latencies) > l.config.LatencyWindow {
		l.latencies = l.latencies[len(l.latencies)-l.config.LatencyWindow:]
	}
	if mean := meanDuration(l.latencies); mean > 0 {
		l.targetLatency = mean
	}
	timer := p.timer
	l.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	return latency, true
}

// checkRetransmit fires on the retransmission schedule. A packet
// still unacknowledged within its retry budget is resent on all paths
// and rescheduled; past the budget it is abandoned silently.
func (l *Layer) checkRetransmit(sequence uint64) {
	l.mu.Lock()
	p, ok := l.unacked[sequence]
	if !ok {
		l.mu.Unlock()
		return
	}
	if p.retransmits >= l.config.MaxRetries {
		delete(l.unacked, sequence)
		l.abandoned++
		l.mu.Unlock()
		return
	}
	p.retransmits++
	checkAfter := 2 * l.targetLatency
	l.mu.Unlock()

	l.transmit(p)

	timer := l.clock.AfterFunc(checkAfter, func() { l.checkRetransmit(sequence) })
	l.mu.Lock()
	if _, stillPending := l.unacked[sequence]; stillPending {
		p.timer = timer
		timer = nil
	}
	l.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// transmit sends one copy per fanout slot, cycling over the available
// paths. Send errors are deliberately ignored: a failed path is
// indistinguishable from loss, and the retransmission schedule covers
// both.
func (l *Layer) transmit(p *packet) {
	if len(l.paths) == 0 {
		return
	}
	for i := 0; i < l.config.Fanout; i++ {
		pathIndex := uint8(i % len(l.paths))
		_ = l.paths[pathIndex].Send(p.payload)
		l.mu.Lock()
		p.pathsUsed[pathIndex] = struct{}{}
		l.mu.Unlock()
	}
}

// Stats returns a snapshot of delivery quality, recomputed on demand.
func (l *Layer) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := Stats{
		Sent:        l.sent,
		Acked:       l.acked,
		Abandoned:   l.abandoned,
		MeanLatency: meanDuration(l.latencies),
		Pending:     len(l.unacked),
	}
	if l.sent > 0 {
		stats.Reliability = float64(l.acked) / float64(l.sent)
	}
	return stats
}

// TargetLatency returns the current retransmission target.
func (l *Layer) TargetLatency() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.targetLatency
}

func meanDuration(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, sample := range samples {
		total += sample
	}
	return total / time.Duration(len(samples))
}
