package transfer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// ChunkSize is the number of plaintext bytes carried per chunk. The final
// chunk of a file may be shorter.
const ChunkSize = 16 * 1024

// Frame discriminants. Every data-channel message starts with one of these.
const (
	frameControl        byte = 0 // UTF-8 JSON control envelope
	frameLegacyChunk    byte = 1 // cleartext chunk: 8-byte BE index + payload
	frameEncryptedChunk byte = 2 // 8-byte BE index + 12-byte nonce + ciphertext with tag
)

// minEncryptedFrame is the smallest valid encrypted-chunk frame:
// marker(1) + index(8) + nonce(12) + tag(16).
const minEncryptedFrame = 1 + 8 + NonceSize + TagSize

// ControlType identifies a control message.
type ControlType string

const (
	ControlFileInfo          ControlType = "file_info"
	ControlEncryptedFileInfo ControlType = "encrypted_file_info"
	ControlReady             ControlType = "ready"
	ControlChunk             ControlType = "chunk"
	ControlAck               ControlType = "ack"
	ControlDone              ControlType = "done"
	ControlError             ControlType = "error"
)

// FileInfo is the transfer metadata announced by the sender. It travels
// inside an encrypted_file_info control message; the cleartext file_info
// form is parsed only so a downgrade can be detected and refused.
type FileInfo struct {
	Filename    string `json:"filename"`
	Size        uint64 `json:"size"`
	ChunkSize   uint32 `json:"chunk_size"`
	TotalChunks uint64 `json:"total_chunks"`
}

// TotalChunks returns ceil(size/ChunkSize).
func TotalChunks(size uint64) uint64 {
	return (size + ChunkSize - 1) / ChunkSize
}

// Control is the JSON control envelope. Only the fields relevant to Type
// are populated.
type Control struct {
	Type ControlType `json:"type"`

	// file_info
	Filename    string `json:"filename,omitempty"`
	Size        uint64 `json:"size,omitempty"`
	ChunkSize   uint32 `json:"chunk_size,omitempty"`
	TotalChunks uint64 `json:"total_chunks,omitempty"`

	// encrypted_file_info
	Nonce      []byte `json:"nonce,omitempty"`
	Ciphertext []byte `json:"ciphertext,omitempty"`

	// chunk / ack
	Index uint64 `json:"index"`

	// error
	Message string `json:"message,omitempty"`
}

// LegacyChunk is a cleartext chunk frame. The sender never emits these;
// parse support exists so a peer speaking the old protocol is recognized
// rather than treated as garbage.
type LegacyChunk struct {
	Index uint64
	Data  []byte
}

// Frame is one parsed data-channel message. Exactly one field is non-nil.
type Frame struct {
	Control   *Control
	Legacy    *LegacyChunk
	Encrypted *EncryptedChunk
}

// EncodeControl serializes a control message into a frame.
func EncodeControl(c Control) []byte {
	body, err := json.Marshal(c)
	if err != nil {
		// Control contains only marshalable field types.
		panic(fmt.Sprintf("transfer: marshal control: %v", err))
	}
	buf := make([]byte, 1+len(body))
	buf[0] = frameControl
	copy(buf[1:], body)
	return buf
}

// EncodeLegacyChunk serializes a cleartext chunk frame.
func EncodeLegacyChunk(c LegacyChunk) []byte {
	buf := make([]byte, 1+8+len(c.Data))
	buf[0] = frameLegacyChunk
	binary.BigEndian.PutUint64(buf[1:9], c.Index)
	copy(buf[9:], c.Data)
	return buf
}

// EncodeEncryptedChunk serializes an encrypted chunk frame.
func EncodeEncryptedChunk(c EncryptedChunk) []byte {
	buf := make([]byte, 1+8+NonceSize+len(c.Ciphertext))
	buf[0] = frameEncryptedChunk
	binary.BigEndian.PutUint64(buf[1:9], c.Index)
	copy(buf[9:9+NonceSize], c.Nonce[:])
	copy(buf[9+NonceSize:], c.Ciphertext)
	return buf
}

// ParseFrame decodes one data-channel message. The returned frame owns its
// payload; the input buffer may be reused by the caller.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("empty frame")
	}

	switch data[0] {
	case frameControl:
		var c Control
		if err := json.Unmarshal(data[1:], &c); err != nil {
			return Frame{}, fmt.Errorf("malformed control frame: %w", err)
		}
		if c.Type == "" {
			return Frame{}, fmt.Errorf("control frame missing type")
		}
		return Frame{Control: &c}, nil

	case frameLegacyChunk:
		if len(data) < 9 {
			return Frame{}, fmt.Errorf("legacy chunk frame too short: %d bytes", len(data))
		}
		payload := make([]byte, len(data)-9)
		copy(payload, data[9:])
		return Frame{Legacy: &LegacyChunk{
			Index: binary.BigEndian.Uint64(data[1:9]),
			Data:  payload,
		}}, nil

	case frameEncryptedChunk:
		if len(data) < minEncryptedFrame {
			return Frame{}, fmt.Errorf("encrypted chunk frame too short: %d bytes (need at least %d)",
				len(data), minEncryptedFrame)
		}
		ec := EncryptedChunk{Index: binary.BigEndian.Uint64(data[1:9])}
		copy(ec.Nonce[:], data[9:9+NonceSize])
		ec.Ciphertext = make([]byte, len(data)-9-NonceSize)
		copy(ec.Ciphertext, data[9+NonceSize:])
		return Frame{Encrypted: &ec}, nil

	default:
		return Frame{}, fmt.Errorf("unknown frame discriminant: %d", data[0])
	}
}
