// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reliability

import (
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/sessionsync/lib/clock"
)

// recordPath counts frames handed to it.
type recordPath struct {
	mu     sync.Mutex
	frames [][]byte
}

func (p *recordPath) Send(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, payload)
	return nil
}

func (p *recordPath) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

func newTestLayer(t *testing.T, config Config, pathCount int) (*Layer, []*recordPath, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	records := make([]*recordPath, pathCount)
	paths := make([]Path, pathCount)
	for i := range records {
		records[i] = &recordPath{}
		paths[i] = records[i]
	}
	return NewLayer(config, paths, fake), records, fake
}

func TestSendCriticalFansOutToAllPaths(t *testing.T) {
	t.Parallel()
	layer, records, _ := newTestLayer(t, Config{}, 3)

	layer.SendCritical(layer.Reserve(), []byte("critical"))
	for i, record := range records {
		if record.count() != 1 {
			t.Errorf("path %d: got %d copies, want 1", i, record.count())
		}
	}
	if layer.Stats().Pending != 1 {
		t.Errorf("pending: got %d, want 1", layer.Stats().Pending)
	}
}

func TestFanoutCyclesOverFewerPaths(t *testing.T) {
	t.Parallel()
	layer, records, _ := newTestLayer(t, Config{Fanout: 3}, 1)

	layer.SendCritical(layer.Reserve(), []byte("x"))
	if records[0].count() != 3 {
		t.Errorf("single path: got %d copies, want 3", records[0].count())
	}
}

// TestRetransmissionSchedule is the full budget scenario: a packet
// receiving no acknowledgment is resent on all paths once per check
// interval, up to 5 times, then abandoned. The reliability ratio then
// reflects 0 delivered out of 1 sent.
func TestRetransmissionSchedule(t *testing.T) {
	t.Parallel()
	layer, records, fake := newTestLayer(t, Config{}, 3)

	layer.SendCritical(layer.Reserve(), []byte("lost"))

	// Default target latency 50ms: checks fire every 100ms.
	for check := 1; check <= 5; check++ {
		fake.Advance(100 * time.Millisecond)
		for i, record := range records {
			if record.count() != 1+check {
				t.Fatalf("after check %d, path %d: got %d copies, want %d",
					check, i, record.count(), 1+check)
			}
		}
	}

	// The sixth check exhausts the budget: no resend, packet dropped.
	fake.Advance(100 * time.Millisecond)
	for i, record := range records {
		if record.count() != 6 {
			t.Errorf("after abandonment, path %d: got %d copies, want 6", i, record.count())
		}
	}

	stats := layer.Stats()
	if stats.Sent != 1 || stats.Acked != 0 {
		t.Errorf("stats: sent %d acked %d, want 1/0", stats.Sent, stats.Acked)
	}
	if stats.Reliability != 0 {
		t.Errorf("reliability: got %v, want 0", stats.Reliability)
	}
	if stats.Abandoned != 1 {
		t.Errorf("abandoned: got %d, want 1", stats.Abandoned)
	}
	if stats.Pending != 0 {
		t.Errorf("pending: got %d, want 0", stats.Pending)
	}
	if fake.PendingCount() != 0 {
		t.Errorf("timers still pending after abandonment: %d", fake.PendingCount())
	}
}

func TestAckStopsRetransmission(t *testing.T) {
	t.Parallel()
	layer, records, fake := newTestLayer(t, Config{}, 3)

	sequence := layer.Reserve()
	layer.SendCritical(sequence, []byte("delivered"))

	fake.Advance(40 * time.Millisecond)
	latency, ok := layer.Ack(sequence)
	if !ok {
		t.Fatal("Ack returned false for pending packet")
	}
	if latency != 40*time.Millisecond {
		t.Errorf("latency: got %v, want 40ms", latency)
	}

	// No retransmissions after acknowledgment, however long we wait.
	fake.Advance(time.Second)
	for i, record := range records {
		if record.count() != 1 {
			t.Errorf("path %d resent after ack: %d copies", i, record.count())
		}
	}

	stats := layer.Stats()
	if stats.Reliability != 1 {
		t.Errorf("reliability: got %v, want 1", stats.Reliability)
	}
	if stats.MeanLatency != 40*time.Millisecond {
		t.Errorf("mean latency: got %v, want 40ms", stats.MeanLatency)
	}
}

func TestAckUpdatesTargetLatency(t *testing.T) {
	t.Parallel()
	layer, _, fake := newTestLayer(t, Config{}, 1)

	first := layer.Reserve()
	layer.SendCritical(first, []byte("a"))
	fake.Advance(40 * time.Millisecond)
	layer.Ack(first)

	second := layer.Reserve()
	layer.SendCritical(second, []byte("b"))
	fake.Advance(60 * time.Millisecond)
	layer.Ack(second)

	if got := layer.TargetLatency(); got != 50*time.Millisecond {
		t.Errorf("target latency: got %v, want mean 50ms", got)
	}
}

func TestAckUnknownSequence(t *testing.T) {
	t.Parallel()
	layer, _, _ := newTestLayer(t, Config{}, 1)

	if _, ok := layer.Ack(99); ok {
		t.Error("Ack of unknown sequence returned true")
	}

	sequence := layer.Reserve()
	layer.SendCritical(sequence, []byte("x"))
	if _, ok := layer.Ack(sequence); !ok {
		t.Fatal("first Ack failed")
	}
	if _, ok := layer.Ack(sequence); ok {
		t.Error("duplicate Ack returned true")
	}
}

func TestReserveMonotonic(t *testing.T) {
	t.Parallel()
	layer, _, _ := newTestLayer(t, Config{}, 1)

	if a, b := layer.Reserve(), layer.Reserve(); b != a+1 {
		t.Errorf("sequences not monotonic: %d then %d", a, b)
	}
}

func TestReliabilityRatioMixed(t *testing.T) {
	t.Parallel()
	layer, _, fake := newTestLayer(t, Config{}, 1)

	delivered := layer.Reserve()
	layer.SendCritical(delivered, []byte("ok"))
	layer.Ack(delivered)

	lost := layer.Reserve()
	layer.SendCritical(lost, []byte("gone"))
	// Run the lost packet through its whole budget.
	for i := 0; i < 10; i++ {
		fake.Advance(2 * layer.TargetLatency())
	}

	stats := layer.Stats()
	if stats.Sent != 2 || stats.Acked != 1 {
		t.Fatalf("stats: sent %d acked %d, want 2/1", stats.Sent, stats.Acked)
	}
	if stats.Reliability != 0.5 {
		t.Errorf("reliability: got %v, want 0.5", stats.Reliability)
	}
}

func TestReliabilityNotAssumedWithoutTraffic(t *testing.T) {
	t.Parallel()
	layer, _, _ := newTestLayer(t, Config{}, 1)

	if got := layer.Stats().Reliability; got != 0 {
		t.Errorf("reliability with no packets: got %v, want 0 (measured, not assumed)", got)
	}
}

func TestLatencyWindowBounded(t *testing.T) {
	t.Parallel()
	layer, _, fake := newTestLayer(t, Config{LatencyWindow: 3}, 1)

	// One slow early sample, then three fast ones: the slow sample
	// ages out of the mean.
	latencies := []time.Duration{400, 20, 20, 20}
	for _, latency := range latencies {
		sequence := layer.Reserve()
		layer.SendCritical(sequence, []byte("s"))
		fake.Advance(latency * time.Millisecond)
		if _, ok := layer.Ack(sequence); !ok {
			t.Fatal("Ack failed")
		}
	}

	if got := layer.Stats().MeanLatency; got != 20*time.Millisecond {
		t.Errorf("mean latency: got %v, want 20ms over bounded window", got)
	}
}
