// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/sessionsync/congestion"
	"github.com/bureau-foundation/sessionsync/lib/clock"
	"github.com/bureau-foundation/sessionsync/reliability"
	"github.com/bureau-foundation/sessionsync/wire"
)

// captureObserver records every event it sees.
type captureObserver struct {
	BaseObserver
	mu           sync.Mutex
	sent         [][]byte
	predictions  []Prediction
	outputs      []Output
	updates      []Update
	deliveries   []Delivery
	controls     []Control
	controlTypes []wire.MessageType
}

func (c *captureObserver) OnSend(frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, frame)
}

func (c *captureObserver) OnPredict(prediction Prediction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.predictions = append(c.predictions, prediction)
}

func (c *captureObserver) OnOutput(output Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs = append(c.outputs, output)
}

func (c *captureObserver) OnUpdate(update Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, update)
}

func (c *captureObserver) OnDelivered(delivery Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, delivery)
}

func (c *captureObserver) OnControl(messageType wire.MessageType, control Control) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.controlTypes = append(c.controlTypes, messageType)
	c.controls = append(c.controls, control)
}

// takeSent drains the captured outbound frames.
func (c *captureObserver) takeSent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	frames := c.sent
	c.sent = nil
	return frames
}

// recordPath counts critical transmissions.
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

func (p *recordPath) take() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := p.frames
	p.frames = nil
	return frames
}

type peer struct {
	sync    *Synchronizer
	capture *captureObserver
	path    *recordPath
}

func newPeer(t *testing.T, site string, clk clock.Clock) *peer {
	t.Helper()
	p := &peer{capture: &captureObserver{}, path: &recordPath{}}
	p.sync = New(Config{
		Site:  site,
		Clock: clk,
		Paths: []reliability.Path{p.path},
	})
	p.sync.AddObserver(p.capture)
	return p
}

// pump delivers every frame captured on from (normal and critical) to
// the destination synchronizer and returns how many were delivered.
func pump(from, to *peer, rtt time.Duration) int {
	frames := append(from.capture.takeSent(), from.path.take()...)
	for _, frame := range frames {
		to.sync.OnRemoteUpdate(frame, rtt)
	}
	return len(frames)
}

// settle pumps both directions until no traffic remains.
func settle(a, b *peer, rtt time.Duration) {
	for {
		moved := pump(a, b, rtt)
		moved += pump(b, a, rtt)
		if moved == 0 {
			return
		}
	}
}

func TestInputReplicatesToPeer(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	a.sync.SendInput(0, "hello")
	settle(a, b, 10*time.Millisecond)

	if got := b.sync.Content(); got != "hello" {
		t.Errorf("peer content: got %q, want %q", got, "hello")
	}
	if got := a.sync.Content(); got != "hello" {
		t.Errorf("local content: got %q, want %q", got, "hello")
	}
	if a.sync.Stats().PendingOperations != 0 {
		t.Errorf("pending after ack: got %d, want 0", a.sync.Stats().PendingOperations)
	}
}

func TestBidirectionalConvergence(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	a.sync.SendInput(0, "abc")
	settle(a, b, time.Millisecond)
	b.sync.SendInput(3, "def")
	settle(a, b, time.Millisecond)

	if a.sync.Content() != b.sync.Content() {
		t.Fatalf("diverged: %q vs %q", a.sync.Content(), b.sync.Content())
	}
	if got := a.sync.Content(); got != "abcdef" {
		t.Errorf("content: got %q, want %q", got, "abcdef")
	}
}

func TestDeleteReplicates(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	a.sync.SendInput(0, "hello")
	settle(a, b, time.Millisecond)
	b.sync.SendDelete(0, 2)
	settle(a, b, time.Millisecond)

	if got := a.sync.Content(); got != "llo" {
		t.Errorf("content after remote delete: got %q, want %q", got, "llo")
	}
	if a.sync.Content() != b.sync.Content() {
		t.Errorf("diverged: %q vs %q", a.sync.Content(), b.sync.Content())
	}
}

func TestPredictionFiresImmediately(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)

	a.sync.SendInput(0, "x")

	if len(a.capture.predictions) != 1 {
		t.Fatalf("predictions: got %d, want 1", len(a.capture.predictions))
	}
	prediction := a.capture.predictions[0]
	if prediction.Text != "x" || prediction.Position != 0 {
		t.Errorf("prediction: got %+v", prediction)
	}
	// Applied locally before any peer confirms.
	if got := a.sync.Content(); got != "x" {
		t.Errorf("optimistic content: got %q, want %q", got, "x")
	}
}

func TestCriticalInputUsesRedundantPaths(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	a.sync.SendInput(0, "\x03") // interrupt

	if got := len(a.capture.takeSent()); got != 0 {
		t.Fatalf("critical input on normal path: %d frames", got)
	}
	frames := a.path.take()
	if len(frames) != 3 {
		t.Fatalf("critical copies: got %d, want fanout 3", len(frames))
	}

	fake.Advance(20 * time.Millisecond)
	b.sync.OnRemoteUpdate(frames[0], time.Millisecond)
	settle(a, b, time.Millisecond)

	if len(a.capture.deliveries) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(a.capture.deliveries))
	}
	if got := a.capture.deliveries[0].Latency; got != 20*time.Millisecond {
		t.Errorf("delivery latency: got %v, want 20ms", got)
	}
	if got := b.sync.Content(); got != "\x03" {
		t.Errorf("peer content: got %q, want interrupt byte", got)
	}
}

func TestDuplicateCriticalDeliveryIsIdempotent(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	a.sync.SendInput(0, "\n")
	frames := a.path.take()
	if len(frames) != 3 {
		t.Fatalf("critical copies: got %d, want 3", len(frames))
	}

	// All three redundant copies arrive.
	for _, frame := range frames {
		b.sync.OnRemoteUpdate(frame, time.Millisecond)
	}
	settle(a, b, time.Millisecond)

	if got := b.sync.Content(); got != "\n" {
		t.Errorf("content after triple delivery: got %q, want one newline", got)
	}
}

func TestOutputFlowsToPeerAndHistory(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	a.sync.ProcessOutput([]byte("$ ls\n"))
	settle(a, b, time.Millisecond)

	if len(a.capture.outputs) != 1 {
		t.Fatalf("local outputs: got %d, want 1", len(a.capture.outputs))
	}
	if len(b.capture.outputs) != 1 {
		t.Fatalf("peer outputs: got %d, want 1", len(b.capture.outputs))
	}
	if !b.capture.outputs[0].Remote {
		t.Error("peer output not marked remote")
	}
	if got := string(b.sync.History(0)); got != "$ ls\n" {
		t.Errorf("peer history: got %q, want %q", got, "$ ls\n")
	}
}

func TestResizePassesThroughWithAck(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	a.sync.SendResize(24, 80)
	settle(a, b, time.Millisecond)

	if len(b.capture.controls) == 0 {
		t.Fatal("no control event on peer")
	}
	control := b.capture.controls[0]
	if b.capture.controlTypes[0] != wire.TypeResize {
		t.Errorf("control type: got %v, want resize", b.capture.controlTypes[0])
	}
	if control.Rows != 24 || control.Cols != 80 {
		t.Errorf("dimensions: got %dx%d, want 24x80", control.Rows, control.Cols)
	}
	if len(a.capture.deliveries) != 1 {
		t.Errorf("resize not acknowledged: %d deliveries", len(a.capture.deliveries))
	}
	// Control frames never touch the replicated buffer.
	if a.sync.Content() != "" || b.sync.Content() != "" {
		t.Error("control frame altered buffer content")
	}
	// Both replicas recorded the control frame, so delta sync has
	// nothing left to transfer.
	rootB, nodesB := b.sync.Snapshot()
	if rest := a.sync.Sync(rootB, nodesB); len(rest) != 0 {
		t.Errorf("delta sync re-sends delivered control: %d frames", len(rest))
	}
}

func TestMalformedFramesDroppedSilently(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)

	a.sync.OnRemoteUpdate([]byte{1, 2, 3}, 0)
	a.sync.OnRemoteUpdate(wire.Encode(wire.Message{Type: 9, Payload: []byte("?")}), 0)
	a.sync.OnRemoteUpdate(wire.Encode(wire.Message{Type: wire.TypeInput, Payload: []byte("not cbor")}), 0)

	if got := a.sync.Stats().DroppedFrames; got != 3 {
		t.Errorf("dropped frames: got %d, want 3", got)
	}
	if got := a.sync.Content(); got != "" {
		t.Errorf("content after garbage: got %q, want empty", got)
	}
}

func TestOutboxHoldsWhenWindowFull(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := &peer{capture: &captureObserver{}, path: &recordPath{}}
	a.sync = New(Config{
		Site:       "site-a",
		Clock:      fake,
		Paths:      []reliability.Path{a.path},
		Congestion: congestion.Config{InitialWindow: 1},
	})
	a.sync.AddObserver(a.capture)
	b := newPeer(t, "site-b", fake)

	// The first frame fits the 1-byte window; the second is held.
	a.sync.SendInput(0, "a")
	a.sync.SendInput(1, "b")

	first := a.capture.takeSent()
	if len(first) != 1 {
		t.Fatalf("frames sent with tiny window: got %d, want 1", len(first))
	}
	if got := a.sync.Stats().OutboxDepth; got != 1 {
		t.Fatalf("outbox depth: got %d, want 1", got)
	}

	// Local state already reflects both edits.
	if got := a.sync.Content(); got != "ab" {
		t.Errorf("optimistic content: got %q, want %q", got, "ab")
	}

	// The peer's acknowledgment of the first frame credits the window
	// with that frame's size and the outbox drains.
	for _, frame := range first {
		b.sync.OnRemoteUpdate(frame, time.Millisecond)
	}
	pump(b, a, time.Millisecond)
	if got := a.sync.Stats().OutboxDepth; got != 0 {
		t.Errorf("outbox after ack reopened window: got %d, want 0", got)
	}

	settle(a, b, time.Millisecond)
	if a.sync.Content() != b.sync.Content() {
		t.Errorf("diverged after outbox drain: %q vs %q", a.sync.Content(), b.sync.Content())
	}
	if got := a.sync.Stats().InFlight; got != 0 {
		t.Errorf("in-flight after full acknowledgment: got %d, want 0", got)
	}
}

func TestSustainedTrafficDoesNotWedgeWindow(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	// A long editing session with every frame and acknowledgment
	// delivered. In-flight accounting must reconcile send for send or
	// the window eventually jams shut and edits pile up unsent.
	for i := 0; i < 200; i++ {
		a.sync.SendInput(i, "x")
		settle(a, b, time.Millisecond)
	}

	stats := a.sync.Stats()
	if stats.OutboxDepth != 0 {
		t.Errorf("outbox depth after lossless session: got %d, want 0", stats.OutboxDepth)
	}
	if stats.PendingOperations != 0 {
		t.Errorf("pending operations: got %d, want 0", stats.PendingOperations)
	}
	if stats.InFlight != 0 {
		t.Errorf("in-flight after all acks: got %d, want 0", stats.InFlight)
	}
	if got := b.sync.Content(); len(got) != 200 {
		t.Errorf("peer content length: got %d, want 200", len(got))
	}
}

func TestUnackedOutputChargeExpires(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)

	// Stream a large output burst toward a viewer that never responds.
	// Output frames are never acknowledged, so only charge expiry can
	// reopen the window.
	chunk := bytes.Repeat([]byte("x"), 1024)
	for i := 0; i < 100; i++ {
		a.sync.ProcessOutput(chunk)
	}
	if got := a.sync.Stats().OutboxDepth; got == 0 {
		t.Fatal("burst never filled the window; nothing held")
	}

	for i := 0; i < 10; i++ {
		fake.Advance(time.Second)
	}

	stats := a.sync.Stats()
	if stats.OutboxDepth != 0 {
		t.Errorf("outbox after charge expiry: got %d, want 0", stats.OutboxDepth)
	}
	if stats.InFlight != 0 {
		t.Errorf("in-flight after charge expiry: got %d, want 0", stats.InFlight)
	}
	if got := len(a.capture.takeSent()); got != 100 {
		t.Errorf("frames emitted: got %d, want 100", got)
	}
}

func TestSyncTransfersMissingFrames(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	// Build state on a without any live connection to b.
	a.sync.SendInput(0, "one")
	a.sync.SendInput(3, "two")
	a.sync.ProcessOutput([]byte("output\n"))
	a.capture.takeSent()

	remoteRoot, remoteNodes := b.sync.Snapshot()
	missing := a.sync.Sync(remoteRoot, remoteNodes)
	if len(missing) != 3 {
		t.Fatalf("missing frames: got %d, want 3", len(missing))
	}
	for _, frame := range missing {
		b.sync.OnRemoteUpdate(frame, time.Millisecond)
	}

	if got := b.sync.Content(); got != "onetwo" {
		t.Errorf("content after delta sync: got %q, want %q", got, "onetwo")
	}
	if got := string(b.sync.History(0)); got != "output\n" {
		t.Errorf("history after delta sync: got %q, want %q", got, "output\n")
	}

	// A second round finds nothing: the trees now agree.
	remoteRoot, remoteNodes = b.sync.Snapshot()
	if rest := a.sync.Sync(remoteRoot, remoteNodes); len(rest) != 0 {
		t.Errorf("second sync round: got %d frames, want 0", len(rest))
	}
}

func TestSyncEqualReplicasIsNoOp(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	remoteRoot, remoteNodes := b.sync.Snapshot()
	if missing := a.sync.Sync(remoteRoot, remoteNodes); missing != nil {
		t.Errorf("sync between empty replicas: got %d frames, want nil", len(missing))
	}
}

func TestEqualContentAgreesAcrossClocks(t *testing.T) {
	t.Parallel()
	early := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	late := clock.Fake(time.Date(2026, 6, 15, 12, 30, 0, 0, time.UTC))
	a := newPeer(t, "site-a", early)
	b := newPeer(t, "site-b", late)

	// Identical output recorded at wildly different wall-clock times
	// must still hash to the same tree: leaf identity covers content,
	// not the local clock.
	a.sync.ProcessOutput([]byte("$ make test\n"))
	b.sync.ProcessOutput([]byte("$ make test\n"))

	rootA, _ := a.sync.Snapshot()
	rootB, nodesB := b.sync.Snapshot()
	if rootA != rootB {
		t.Fatalf("equal output, different roots: %s vs %s", rootA, rootB)
	}
	if missing := a.sync.Sync(rootB, nodesB); missing != nil {
		t.Errorf("delta sync between equal replicas: got %d frames, want none", len(missing))
	}
}

func TestAppendInputLandsAfterRemoteContent(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	a.sync.SendInput(0, "ab")
	settle(a, b, time.Millisecond)

	// b never tracked a cursor; the append resolves its own position
	// against the merged buffer.
	b.sync.AppendInput("c")
	settle(a, b, time.Millisecond)

	if got := a.sync.Content(); got != "abc" {
		t.Errorf("content after append: got %q, want %q", got, "abc")
	}
	if a.sync.Content() != b.sync.Content() {
		t.Errorf("diverged: %q vs %q", a.sync.Content(), b.sync.Content())
	}
}

func TestGeneratedSiteIDsAreUnique(t *testing.T) {
	t.Parallel()
	a := New(Config{})
	b := New(Config{})
	if a.Site() == "" {
		t.Fatal("empty generated site ID")
	}
	if a.Site() == b.Site() {
		t.Errorf("two synchronizers share site ID %q", a.Site())
	}
}

func TestUpdateEventCarriesTransformedOperation(t *testing.T) {
	t.Parallel()
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	a := newPeer(t, "site-a", fake)
	b := newPeer(t, "site-b", fake)

	a.sync.SendInput(0, "abc")
	settle(a, b, time.Millisecond)
	b.capture.updates = nil

	a.sync.SendInput(3, "d")
	settle(a, b, time.Millisecond)

	if len(b.capture.updates) != 1 {
		t.Fatalf("updates: got %d, want 1", len(b.capture.updates))
	}
	update := b.capture.updates[0]
	if update.Operation.Text != "d" || update.Operation.Position != 3 {
		t.Errorf("update operation: got %+v", update.Operation)
	}
	if update.Content != "abcd" {
		t.Errorf("update content: got %q, want %q", update.Content, "abcd")
	}
}
