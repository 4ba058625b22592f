// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"bytes"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/sessionsync/congestion"
	"github.com/bureau-foundation/sessionsync/crdt"
	"github.com/bureau-foundation/sessionsync/deltasync"
	"github.com/bureau-foundation/sessionsync/history"
	"github.com/bureau-foundation/sessionsync/lib/clock"
	"github.com/bureau-foundation/sessionsync/lib/codec"
	"github.com/bureau-foundation/sessionsync/ot"
	"github.com/bureau-foundation/sessionsync/reliability"
	"github.com/bureau-foundation/sessionsync/wire"
)

// Config assembles a Synchronizer. The zero value is usable: a random
// site ID, default congestion and reliability tuning, the real clock,
// no redundant paths (critical sends then degrade to the normal path
// machinery with nowhere to fan out, which is still correct).
type Config struct {
	// Site is this replica's identifier. Empty means mint one from
	// SiteIDs.
	Site string

	// SiteIDs mints the site identifier when Site is empty. Nil means
	// DefaultSiteIDSource.
	SiteIDs SiteIDSource

	Congestion  congestion.Config
	Reliability reliability.Config

	// Paths are the redundant routes for critical packets.
	Paths []reliability.Path

	// HistoryCapacity bounds retained output bytes. Zero means
	// history.DefaultCapacity.
	HistoryCapacity int

	// Clock drives timestamps and retransmission timers. Nil means
	// the real clock.
	Clock clock.Clock

	// Logger receives connection-lifecycle and drop diagnostics. Nil
	// means slog.Default. The hot path never logs.
	Logger *slog.Logger
}

// Stats is a point-in-time snapshot of session health. Degradation
// shows up here rather than as handler errors.
type Stats struct {
	Site     string
	Revision uint64

	// PendingOperations counts optimistic local edits awaiting
	// acknowledgment.
	PendingOperations int

	// OutboxDepth counts frames held back by the congestion window.
	OutboxDepth int

	// DroppedFrames counts malformed inbound frames discarded.
	DroppedFrames uint64

	// OrphanedElements counts merged elements parked for a missing
	// insert-after reference.
	OrphanedElements int

	Window    int
	InFlight  int
	Bandwidth float64
	Phase     congestion.Phase

	Delivery reliability.Stats
}

// Synchronizer keeps one replica of a terminal session consistent
// with its peers. All state lives behind a single mutex; handlers may
// be called from any goroutine. Observer callbacks run after the lock
// is released, on the handler's goroutine.
type Synchronizer struct {
	mu         sync.Mutex
	clk        clock.Clock
	log        *slog.Logger
	site       string
	buffer     *crdt.Buffer
	pending    *ot.PendingQueue
	controller *congestion.Controller
	layer      *reliability.Layer
	history    *history.Buffer

	// leaves is the content stream in arrival order, one frame
	// identity (type byte, reserved byte, payload) per entry, hashed
	// for delta synchronization. The header timestamp is excluded so
	// replicas that saw the same content agree on tree roots.
	leaves [][]byte

	// tracked maps an outbound sequence to its congestion charge. An
	// acknowledgment credits the controller with the recorded size; a
	// send that will never be acknowledged is released by its expiry
	// timer instead, so the in-flight estimate always reconciles.
	tracked map[uint64]trackedSend

	revision  uint64
	outbox    []outboxEntry
	dropped   uint64
	observers []Observer
}

// trackedSend is one outstanding congestion charge.
type trackedSend struct {
	size  int
	timer *clock.Timer
}

// outboxEntry is a frame held back by the congestion window.
type outboxEntry struct {
	sequence uint64
	frame    []byte
}

// chargeExpiryDefault bounds how long an unacknowledged send stays
// charged against the window before any round trip has been measured.
const chargeExpiryDefault = time.Second

// New creates a synchronizer from the config.
func New(config Config) *Synchronizer {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	site := config.Site
	if site == "" {
		source := config.SiteIDs
		if source == nil {
			source = DefaultSiteIDSource()
		}
		site = source.NewSiteID()
	}
	return &Synchronizer{
		clk:        clk,
		log:        config.Logger,
		site:       site,
		buffer:     crdt.NewBuffer(site),
		pending:    &ot.PendingQueue{},
		controller: congestion.NewController(config.Congestion, clk),
		layer:      reliability.NewLayer(config.Reliability, config.Paths, clk),
		history:    history.New(config.HistoryCapacity),
		tracked:    make(map[uint64]trackedSend),
	}
}

func (s *Synchronizer) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return slog.Default()
}

// Site returns this replica's site identifier.
func (s *Synchronizer) Site() string { return s.site }

// AddObserver registers an observer for session events.
func (s *Synchronizer) AddObserver(observer Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, observer)
}

// Content returns the buffer's visible text.
func (s *Synchronizer) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.Content()
}

// Revision returns the current buffer revision.
func (s *Synchronizer) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// History returns output appended since the given offset, for
// reconnection gap-fill.
func (s *Synchronizer) History(since uint64) []byte {
	return s.history.Since(since)
}

// Stats snapshots session health.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Site:              s.site,
		Revision:          s.revision,
		PendingOperations: s.pending.Len(),
		OutboxDepth:       len(s.outbox),
		DroppedFrames:     s.dropped,
		OrphanedElements:  s.buffer.OrphanCount(),
		Window:            s.controller.Window(),
		InFlight:          s.controller.InFlight(),
		Bandwidth:         s.controller.Bandwidth(),
		Phase:             s.controller.Phase(),
		Delivery:          s.layer.Stats(),
	}
}

// SendInput applies text at the given visible position optimistically
// and ships it to peers. position is an index into the current
// visible content, counted in characters; it must reflect any remote
// updates already applied. Input containing control bytes is
// critical: it goes out on every redundant path with retransmission
// tracking. Everything else respects the congestion window and waits
// in the outbox when the window is full.
func (s *Synchronizer) SendInput(position int, text string) {
	s.sendInput(position, text, false)
}

// AppendInput applies text at the end of the visible buffer. The
// position is resolved under the session lock, so it composes safely
// with concurrent remote merges; callers never track the cursor.
func (s *Synchronizer) AppendInput(text string) {
	s.sendInput(0, text, true)
}

func (s *Synchronizer) sendInput(position int, text string, atEnd bool) {
	if text == "" {
		return
	}
	s.mu.Lock()
	now := s.clk.Now()
	if atEnd {
		position = s.buffer.Len()
	}
	elements := s.buffer.InsertText(position, text)
	operation := ot.Operation{
		Kind:         ot.Insert,
		Position:     position,
		Text:         text,
		Origin:       s.site,
		IssuedAt:     uint64(now.UnixMilli()),
		BaseRevision: s.revision,
	}
	s.revision++
	sequence := s.layer.Reserve()
	s.pending.Push(sequence, operation)

	frame := s.encodeOperation(sequence, operation, elements, now)
	if frame == nil {
		s.mu.Unlock()
		return
	}
	s.leaves = append(s.leaves, wire.Identity(frame))

	critical := isCritical(text)
	var sendNow bool
	switch {
	case critical:
		s.chargeLocked(sequence, frame)
	case s.controller.CanSend():
		s.chargeLocked(sequence, frame)
		sendNow = true
	default:
		s.outbox = append(s.outbox, outboxEntry{sequence: sequence, frame: frame})
	}
	prediction := Prediction{Text: text, Position: position, IssuedAt: now}
	observers := s.observerSnapshot()
	s.mu.Unlock()

	for _, observer := range observers {
		observer.OnPredict(prediction)
	}
	if critical {
		s.layer.SendCritical(sequence, frame)
		return
	}
	if sendNow {
		for _, observer := range observers {
			observer.OnSend(frame)
		}
	}
}

// SendDelete tombstones count characters at the given visible
// position and ships the deletion to peers on the normal path.
func (s *Synchronizer) SendDelete(position, count int) {
	if count <= 0 {
		return
	}
	s.mu.Lock()
	now := s.clk.Now()
	elements := s.buffer.DeleteRange(position, count)
	if len(elements) == 0 {
		s.mu.Unlock()
		return
	}
	operation := ot.Operation{
		Kind:         ot.Delete,
		Position:     position,
		Count:        len(elements),
		Origin:       s.site,
		IssuedAt:     uint64(now.UnixMilli()),
		BaseRevision: s.revision,
	}
	s.revision++
	sequence := s.layer.Reserve()
	s.pending.Push(sequence, operation)

	frame := s.encodeOperation(sequence, operation, elements, now)
	if frame == nil {
		s.mu.Unlock()
		return
	}
	s.leaves = append(s.leaves, wire.Identity(frame))

	var sendNow bool
	if s.controller.CanSend() {
		s.chargeLocked(sequence, frame)
		sendNow = true
	} else {
		s.outbox = append(s.outbox, outboxEntry{sequence: sequence, frame: frame})
	}
	observers := s.observerSnapshot()
	s.mu.Unlock()

	if sendNow {
		for _, observer := range observers {
			observer.OnSend(frame)
		}
	}
}

// ProcessOutput records terminal output produced by the local session:
// into history for gap-fill, into the leaf stream for delta sync, and
// out to peers as an output frame.
func (s *Synchronizer) ProcessOutput(data []byte) {
	if len(data) == 0 {
		return
	}
	s.mu.Lock()
	now := s.clk.Now()
	s.history.Append(data)
	offset := s.history.Offset()

	frame := wire.Encode(wire.Message{
		Timestamp: uint64(now.UnixMilli()),
		Type:      wire.TypeOutput,
		Payload:   data,
	})
	s.leaves = append(s.leaves, wire.Identity(frame))

	// Output frames carry no sequence on the wire and are never
	// acknowledged; the reserved sequence only keys the congestion
	// charge so its expiry can find it.
	sequence := s.layer.Reserve()
	var sendNow bool
	if s.controller.CanSend() {
		s.chargeLocked(sequence, frame)
		sendNow = true
	} else {
		s.outbox = append(s.outbox, outboxEntry{sequence: sequence, frame: frame})
	}
	output := Output{Data: frame[wire.HeaderLength:], Offset: offset}
	observers := s.observerSnapshot()
	s.mu.Unlock()

	for _, observer := range observers {
		observer.OnOutput(output)
	}
	if sendNow {
		for _, observer := range observers {
			observer.OnSend(frame)
		}
	}
}

// SendResize ships a terminal dimension change. Resizes are critical:
// a lost resize leaves the remote terminal rendering at the wrong
// size indefinitely.
func (s *Synchronizer) SendResize(rows, cols uint16) {
	s.sendControl(wire.TypeResize, Control{Rows: rows, Cols: cols})
}

// SendSignal ships a signal number (SIGINT and friends) to the peer.
func (s *Synchronizer) SendSignal(signal int32) {
	s.sendControl(wire.TypeSignal, Control{Signal: signal})
}

// SendExit ships the session's exit status.
func (s *Synchronizer) SendExit(status int32) {
	s.sendControl(wire.TypeExit, Control{Status: status})
}

func (s *Synchronizer) sendControl(messageType wire.MessageType, control Control) {
	s.mu.Lock()
	now := s.clk.Now()
	sequence := s.layer.Reserve()
	control.Sequence = sequence
	payload, err := codec.Marshal(control)
	if err != nil {
		s.mu.Unlock()
		s.logger().Error("encode control frame", "type", messageType, "error", err)
		return
	}
	frame := wire.Encode(wire.Message{
		Timestamp: uint64(now.UnixMilli()),
		Type:      messageType,
		Payload:   payload,
	})
	s.leaves = append(s.leaves, wire.Identity(frame))
	s.chargeLocked(sequence, frame)
	s.mu.Unlock()

	s.layer.SendCritical(sequence, frame)
}

// OnRemoteUpdate ingests one frame from a peer. Malformed frames are
// dropped silently (counted in Stats). rtt is the transport's current
// round-trip estimate, zero when unknown; it seeds the congestion
// sample when an acknowledgment carries no better measurement.
func (s *Synchronizer) OnRemoteUpdate(frame []byte, rtt time.Duration) {
	message, err := wire.Decode(frame)
	if err != nil {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.logger().Debug("dropped malformed frame", "error", err)
		return
	}

	s.mu.Lock()
	now := s.clk.Now()

	var fire []func(Observer)
	switch message.Type {
	case wire.TypeInput:
		fire = s.handleInputLocked(message, frame, rtt, now)
	case wire.TypeOutput:
		data := bytes.Clone(message.Payload)
		s.history.Append(data)
		s.leaves = append(s.leaves, bytes.Clone(wire.Identity(frame)))
		output := Output{Data: data, Offset: s.history.Offset(), Remote: true}
		fire = append(fire, func(o Observer) { o.OnOutput(output) })
	case wire.TypeResize, wire.TypeSignal, wire.TypeExit:
		fire = s.handleControlLocked(message, frame, now)
	default:
		s.dropped++
	}

	// An acknowledgment may have credited the congestion window; the
	// outbox may fit now.
	released := s.drainOutboxLocked()
	observers := s.observerSnapshot()
	s.mu.Unlock()

	for _, event := range fire {
		for _, observer := range observers {
			event(observer)
		}
	}
	for _, held := range released {
		for _, observer := range observers {
			observer.OnSend(held)
		}
	}
}

// handleInputLocked processes an operation or acknowledgment
// envelope. Caller holds the lock.
func (s *Synchronizer) handleInputLocked(message wire.Message, frame []byte, rtt time.Duration, now time.Time) []func(Observer) {
	var env envelope
	if err := codec.Unmarshal(message.Payload, &env); err != nil {
		s.dropped++
		return nil
	}

	switch env.Kind {
	case kindOperation:
		if env.Op == nil {
			s.dropped++
			return nil
		}
		// Rewrite the remote operation against unacknowledged local
		// edits, then merge the identity-stable elements. The CRDT
		// merge is what converges the buffer; the transformed
		// operation reports where the edit landed locally.
		transformed := s.pending.TransformRemote(*env.Op)
		for _, element := range env.Elements {
			s.buffer.Merge(element)
		}
		s.revision++
		s.leaves = append(s.leaves, bytes.Clone(wire.Identity(frame)))

		update := Update{
			Operation: transformed,
			Content:   s.buffer.Content(),
			Revision:  s.revision,
		}
		events := []func(Observer){func(o Observer) { o.OnUpdate(update) }}
		// Pure acknowledgments are never charged to the window.
		if ack := s.encodeAck(env.Sequence, now); ack != nil {
			events = append(events, func(o Observer) { o.OnSend(ack) })
		}
		return events

	case kindAck:
		latency, acked := s.layer.Ack(env.Sequence)
		confirmed := s.pending.Acknowledge(env.Sequence)
		if send, ok := s.tracked[env.Sequence]; ok {
			// Credit the window with the size of the frame this
			// acknowledges, which is also the delivery sample. The
			// measured critical latency beats the transport estimate.
			delete(s.tracked, env.Sequence)
			if send.timer != nil {
				send.timer.Stop()
			}
			sample := rtt
			if acked && latency > 0 {
				sample = latency
			}
			s.controller.OnAck(send.size, sample)
		}
		if !acked && !confirmed {
			// Redundant-path duplicate; the first copy already fired.
			return nil
		}
		delivery := Delivery{Sequence: env.Sequence, Latency: latency}
		return []func(Observer){func(o Observer) { o.OnDelivered(delivery) }}

	default:
		s.dropped++
		return nil
	}
}

// handleControlLocked processes resize, signal, and exit frames.
// Caller holds the lock.
func (s *Synchronizer) handleControlLocked(message wire.Message, frame []byte, now time.Time) []func(Observer) {
	var control Control
	if err := codec.Unmarshal(message.Payload, &control); err != nil {
		s.dropped++
		return nil
	}
	// Record the frame in the leaf stream so delta sync sees both
	// replicas holding it and never re-delivers the control.
	s.leaves = append(s.leaves, bytes.Clone(wire.Identity(frame)))
	messageType := message.Type
	events := []func(Observer){func(o Observer) { o.OnControl(messageType, control) }}
	if ack := s.encodeAck(control.Sequence, now); ack != nil {
		events = append(events, func(o Observer) { o.OnSend(ack) })
	}
	return events
}

// Sync computes the frames a peer is missing given its tree root and
// node table, ready to deliver through OnRemoteUpdate on the far
// side. Equal roots return nil without walking.
func (s *Synchronizer) Sync(remoteRoot deltasync.Hash, remoteNodes map[deltasync.Hash]deltasync.Node) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clk.Now()
	var frames [][]byte
	for _, leaf := range deltasync.Build(s.leaves).MissingLeaves(remoteRoot, remoteNodes) {
		if frame := wire.FromIdentity(leaf, uint64(now.UnixMilli())); frame != nil {
			frames = append(frames, frame)
		}
	}
	return frames
}

// Snapshot returns this replica's current tree root and node table
// for a peer to diff against.
func (s *Synchronizer) Snapshot() (deltasync.Hash, map[deltasync.Hash]deltasync.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tree := deltasync.Build(s.leaves)
	return tree.Root(), tree.Nodes()
}

func (s *Synchronizer) encodeOperation(sequence uint64, operation ot.Operation, elements []crdt.Element, now time.Time) []byte {
	payload, err := codec.Marshal(envelope{
		Kind:     kindOperation,
		Sequence: sequence,
		Op:       &operation,
		Elements: elements,
		Revision: s.revision,
	})
	if err != nil {
		s.logger().Error("encode operation envelope", "error", err)
		return nil
	}
	return wire.Encode(wire.Message{
		Timestamp: uint64(now.UnixMilli()),
		Type:      wire.TypeInput,
		Payload:   payload,
	})
}

func (s *Synchronizer) encodeAck(sequence uint64, now time.Time) []byte {
	payload, err := codec.Marshal(envelope{Kind: kindAck, Sequence: sequence})
	if err != nil {
		s.logger().Error("encode ack envelope", "error", err)
		return nil
	}
	return wire.Encode(wire.Message{
		Timestamp: uint64(now.UnixMilli()),
		Type:      wire.TypeInput,
		Payload:   payload,
	})
}

// chargeLocked records an outbound frame against the congestion
// window and arms an expiry that releases the charge if no
// acknowledgment ever arrives, so silent peers cannot wedge the
// window shut. Caller holds the lock.
func (s *Synchronizer) chargeLocked(sequence uint64, frame []byte) {
	size := len(frame)
	s.controller.OnSent(size)
	expiry := chargeExpiryDefault
	if rtt := s.controller.MinRTT(); rtt > 0 {
		expiry = 4 * rtt
	}
	timer := s.clk.AfterFunc(expiry, func() { s.expireCharge(sequence) })
	s.tracked[sequence] = trackedSend{size: size, timer: timer}
}

// expireCharge releases an in-flight charge whose acknowledgment
// never arrived and lets held frames use the freed window.
func (s *Synchronizer) expireCharge(sequence uint64) {
	s.mu.Lock()
	send, ok := s.tracked[sequence]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.tracked, sequence)
	s.controller.Release(send.size)
	released := s.drainOutboxLocked()
	observers := s.observerSnapshot()
	s.mu.Unlock()

	for _, frame := range released {
		for _, observer := range observers {
			observer.OnSend(frame)
		}
	}
}

// drainOutboxLocked releases held frames while the window has room.
// Caller holds the lock; returned frames are emitted after release.
func (s *Synchronizer) drainOutboxLocked() [][]byte {
	var released [][]byte
	for len(s.outbox) > 0 && s.controller.CanSend() {
		entry := s.outbox[0]
		s.outbox = s.outbox[1:]
		s.chargeLocked(entry.sequence, entry.frame)
		released = append(released, entry.frame)
	}
	return released
}

func (s *Synchronizer) observerSnapshot() []Observer {
	out := make([]Observer, len(s.observers))
	copy(out, s.observers)
	return out
}

// isCritical reports whether input carries control bytes: anything
// below 0x20 (escape, interrupt, line terminators) or DEL.
func isCritical(text string) bool {
	for i := 0; i < len(text); i++ {
		if text[i] < 0x20 || text[i] == 0x7f {
			return true
		}
	}
	return false
}
