// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package journal persists session wire frames for later replay. The
// protocol core deliberately owns no durability; a Recorder is an
// optional collaborator that the embedding process wires to both
// traffic directions. Frames go into a single-file bbolt database,
// zstd-compressed, keyed by a monotonic big-endian sequence so a
// cursor walk replays them in capture order.
package journal

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	bolt "go.etcd.io/bbolt"

	"github.com/bureau-foundation/sessionsync/lib/clock"
	"github.com/bureau-foundation/sessionsync/lib/codec"
	"github.com/bureau-foundation/sessionsync/session"
)

var framesBucket = []byte("frames")

// Direction distinguishes captured traffic.
type Direction uint8

const (
	Outbound Direction = 0
	Inbound  Direction = 1
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Entry is one replayed frame.
type Entry struct {
	Sequence   uint64
	Direction  Direction
	RecordedAt time.Time
	Frame      []byte
}

// entryBody is the compressed CBOR value stored per key.
type entryBody struct {
	Direction  Direction `cbor:"dir"`
	RecordedAt uint64    `cbor:"at"` // milliseconds since the Unix epoch
	Frame      []byte    `cbor:"frame"`
}

// Options tunes a Recorder. The zero value is usable.
type Options struct {
	// Clock stamps entries. Nil means the real clock.
	Clock clock.Clock

	// Logger receives open/close diagnostics. Nil means slog.Default.
	Logger *slog.Logger
}

// Recorder appends frames to a journal file. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	db      *bolt.DB
	clk     clock.Clock
	log     *slog.Logger
	next    uint64
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open creates or appends to the journal at path.
func Open(path string, options Options) (*Recorder, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}

	var next uint64
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(framesBucket)
		if err != nil {
			return err
		}
		if key, _ := bucket.Cursor().Last(); key != nil {
			next = binary.BigEndian.Uint64(key) + 1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize journal %s: %w", path, err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}

	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Recorder{
		db:      db,
		clk:     clk,
		log:     options.Logger,
		next:    next,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

func (r *Recorder) logger() *slog.Logger {
	if r.log != nil {
		return r.log
	}
	return slog.Default()
}

// Record appends one frame.
func (r *Recorder) Record(direction Direction, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	body, err := codec.Marshal(entryBody{
		Direction:  direction,
		RecordedAt: uint64(r.clk.Now().UnixMilli()),
		Frame:      frame,
	})
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	compressed := r.encoder.EncodeAll(body, nil)

	var key [8]byte
	binary.BigEndian.PutUint64(key[:], r.next)
	err = r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(framesBucket).Put(key[:], compressed)
	})
	if err != nil {
		return fmt.Errorf("write journal entry %d: %w", r.next, err)
	}
	r.next++
	return nil
}

// Replay walks every entry in capture order. The callback's entry and
// frame are only valid during the call; retain copies if needed.
// Returning an error from the callback stops the walk.
func (r *Recorder) Replay(visit func(Entry) error) error {
	return r.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(framesBucket).Cursor()
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			body, err := r.decoder.DecodeAll(value, nil)
			if err != nil {
				return fmt.Errorf("decompress entry %d: %w", binary.BigEndian.Uint64(key), err)
			}
			var stored entryBody
			if err := codec.Unmarshal(body, &stored); err != nil {
				return fmt.Errorf("decode entry %d: %w", binary.BigEndian.Uint64(key), err)
			}
			entry := Entry{
				Sequence:   binary.BigEndian.Uint64(key),
				Direction:  stored.Direction,
				RecordedAt: time.UnixMilli(int64(stored.RecordedAt)),
				Frame:      stored.Frame,
			}
			if err := visit(entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() (int, error) {
	var count int
	err := r.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(framesBucket).Stats().KeyN
		return nil
	})
	return count, err
}

// Close flushes and closes the journal.
func (r *Recorder) Close() error {
	r.encoder.Close()
	r.decoder.Close()
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

// Observer returns a session observer that records every outbound
// frame. Inbound frames do not surface as session events; the caller
// records them at the transport boundary with Record(Inbound, frame).
func (r *Recorder) Observer() session.Observer {
	return &recordingObserver{recorder: r}
}

type recordingObserver struct {
	session.BaseObserver
	recorder *Recorder
}

func (o *recordingObserver) OnSend(frame []byte) {
	if err := o.recorder.Record(Outbound, frame); err != nil {
		o.recorder.logger().Warn("journal write failed", "error", err)
	}
}
