// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderLength is the fixed size of the frame header: 4 bytes total
// length, 8 bytes timestamp, 1 type byte, 1 reserved byte.
const HeaderLength = 14

// maxFrameLength bounds the total length a decoder or stream reader
// will accept. 16 MB is far beyond any terminal payload; the bound
// exists so a corrupt length field cannot trigger a huge allocation.
const maxFrameLength = 16 * 1024 * 1024

// MessageType identifies the payload carried by a frame.
type MessageType byte

// Message type values. The byte values are wire contract; do not
// renumber.
const (
	TypeInput  MessageType = 0
	TypeOutput MessageType = 1
	TypeResize MessageType = 2
	TypeSignal MessageType = 3
	TypeExit   MessageType = 4
)

// Known reports whether the type is one the protocol understands.
// Unknown types still decode; callers decide whether to skip them.
func (t MessageType) Known() bool { return t <= TypeExit }

func (t MessageType) String() string {
	switch t {
	case TypeInput:
		return "input"
	case TypeOutput:
		return "output"
	case TypeResize:
		return "resize"
	case TypeSignal:
		return "signal"
	case TypeExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Message is a decoded frame. Payload is a view into the buffer the
// message was decoded from; callers that retain it past the buffer's
// lifetime must copy it.
type Message struct {
	Timestamp uint64 // milliseconds since the Unix epoch
	Type      MessageType
	Payload   []byte
}

// Decoding errors. The synchronizer treats all of them as a silently
// dropped frame; they exist so transports can log what they dropped.
var (
	ErrShortFrame     = errors.New("wire: frame shorter than header")
	ErrLengthMismatch = errors.New("wire: header length inconsistent with buffer")
	ErrFrameTooLarge  = errors.New("wire: frame exceeds maximum length")
)

// Encode serializes a message into a single freshly allocated frame.
// The header is written in place ahead of the payload; the payload is
// copied exactly once.
func Encode(m Message) []byte {
	frame := make([]byte, HeaderLength+len(m.Payload))
	putHeader(frame, m)
	copy(frame[HeaderLength:], m.Payload)
	return frame
}

// Append serializes a message onto dst and returns the extended slice.
// Used by EncodeBatch to build multi-message frames in one backing
// buffer.
func Append(dst []byte, m Message) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, HeaderLength)...)
	putHeader(dst[start:], m)
	return append(dst, m.Payload...)
}

func putHeader(header []byte, m Message) {
	binary.LittleEndian.PutUint32(header[0:4], uint32(HeaderLength+len(m.Payload)))
	binary.LittleEndian.PutUint64(header[4:12], m.Timestamp)
	header[12] = byte(m.Type)
	header[13] = 0
}

// Identity returns the portion of an encoded frame that identifies
// its content: the type byte, reserved byte, and payload. Two frames
// carrying the same message differ only in the header's timestamp and
// length fields and therefore share an identity. The result aliases
// frame.
func Identity(frame []byte) []byte {
	if len(frame) < HeaderLength {
		return frame
	}
	return frame[12:]
}

// FromIdentity rebuilds a complete frame around a content identity
// with the given timestamp. Returns nil for an identity too short to
// carry a type byte.
func FromIdentity(identity []byte, timestamp uint64) []byte {
	if len(identity) < 2 {
		return nil
	}
	return Encode(Message{
		Timestamp: timestamp,
		Type:      MessageType(identity[0]),
		Payload:   identity[2:],
	})
}

// Decode parses a single frame. The frame must contain exactly one
// message: a total length that disagrees with len(frame) is malformed.
// The returned payload aliases frame.
func Decode(frame []byte) (Message, error) {
	message, rest, err := decodeNext(frame)
	if err != nil {
		return Message{}, err
	}
	if len(rest) != 0 {
		return Message{}, fmt.Errorf("%w: %d trailing bytes", ErrLengthMismatch, len(rest))
	}
	return message, nil
}

// decodeNext parses one message from the front of buffer and returns
// the remaining bytes.
func decodeNext(buffer []byte) (Message, []byte, error) {
	if len(buffer) < HeaderLength {
		return Message{}, nil, ErrShortFrame
	}
	total := binary.LittleEndian.Uint32(buffer[0:4])
	if total < HeaderLength {
		return Message{}, nil, ErrLengthMismatch
	}
	if total > maxFrameLength {
		return Message{}, nil, ErrFrameTooLarge
	}
	if int(total) > len(buffer) {
		return Message{}, nil, ErrLengthMismatch
	}
	message := Message{
		Timestamp: binary.LittleEndian.Uint64(buffer[4:12]),
		Type:      MessageType(buffer[12]),
		Payload:   buffer[HeaderLength:total],
	}
	return message, buffer[total:], nil
}

// EncodeBatch serializes messages as a uint32 count followed by the
// concatenated single-message frames, all in one backing buffer.
func EncodeBatch(messages []Message) []byte {
	size := 4
	for _, m := range messages {
		size += HeaderLength + len(m.Payload)
	}
	frame := make([]byte, 4, size)
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(messages)))
	for _, m := range messages {
		frame = Append(frame, m)
	}
	return frame
}

// DecodeBatch parses a batch frame. Each returned payload aliases the
// input buffer.
func DecodeBatch(buffer []byte) ([]Message, error) {
	if len(buffer) < 4 {
		return nil, ErrShortFrame
	}
	count := binary.LittleEndian.Uint32(buffer[0:4])
	rest := buffer[4:]

	messages := make([]Message, 0, count)
	for i := uint32(0); i < count; i++ {
		message, remaining, err := decodeNext(rest)
		if err != nil {
			return nil, fmt.Errorf("batch message %d: %w", i, err)
		}
		messages = append(messages, message)
		rest = remaining
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after batch", ErrLengthMismatch, len(rest))
	}
	return messages, nil
}

// ReadFrame reads one complete frame from a byte stream. Transports
// use this to re-frame messages off stream-oriented connections; the
// header's length field is the only framing needed.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lengthField [4]byte
	if _, err := io.ReadFull(r, lengthField[:]); err != nil {
		return nil, err
	}
	total := binary.LittleEndian.Uint32(lengthField[:])
	if total < HeaderLength {
		return nil, ErrLengthMismatch
	}
	if total > maxFrameLength {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, total)
	copy(frame[0:4], lengthField[:])
	if _, err := io.ReadFull(r, frame[4:]); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return frame, nil
}
