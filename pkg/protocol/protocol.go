// Package protocol defines the real-time channel framing.
//
// Every message is a 4-byte big-endian length followed by a JSON-encoded
// pb.ControlMessage.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	pb "github.com/Devign20164/ForgePh/pkg/protocol/pb"
)

const (
	// MaxControlMessage is the maximum control message size (64KB).
	MaxControlMessage = 65536

	headerSize = 4
)

// EncodeFrame serializes msg into a complete length-prefixed frame. The
// result can be written to any number of connections.
func EncodeFrame(msg *pb.ControlMessage) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > MaxControlMessage {
		return nil, fmt.Errorf("protocol: message too large: %d bytes", len(data))
	}

	frame := make([]byte, headerSize+len(data))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(data))) //nolint:gosec // length already bounds-checked above
	copy(frame[headerSize:], data)
	return frame, nil
}

// WriteControlMessage writes a length-prefixed JSON control message to a writer.
// Format: [4-byte big-endian length][JSON payload]
func WriteControlMessage(w io.Writer, msg *pb.ControlMessage) error {
	frame, err := EncodeFrame(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// ReadControlMessage reads a length-prefixed JSON control message from a reader.
func ReadControlMessage(r io.Reader) (*pb.ControlMessage, error) {
	// Read length prefix
	lenBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxControlMessage {
		return nil, fmt.Errorf("protocol: message too large: %d bytes", length)
	}

	// Read payload
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}

	msg := &pb.ControlMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal: %w", err)
	}
	return msg, nil
}
