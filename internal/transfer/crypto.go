package transfer

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD parameters. ChaCha20-Poly1305 with a 256-bit key; the 16-byte
// authentication tag is appended to each ciphertext.
const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
	TagSize   = chacha20poly1305.Overhead
	SaltSize  = 4
)

// Key is the per-transfer symmetric secret. It is generated once by the
// sender and conveyed to the receiver out-of-band, never over signaling or
// the data channel.
type Key [KeySize]byte

// Salt randomizes the nonce space of a single transfer.
type Salt [SaltSize]byte

// EncryptedChunk carries one sealed file chunk.
type EncryptedChunk struct {
	Index      uint64
	Nonce      [NonceSize]byte
	Ciphertext []byte // includes the auth tag
}

// GenerateKey returns a fresh random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, fmt.Errorf("generate key: %w", err)
	}
	return k, nil
}

// GenerateSalt returns a fresh random per-transfer salt.
func GenerateSalt() (Salt, error) {
	var s Salt
	if _, err := rand.Read(s[:]); err != nil {
		return Salt{}, fmt.Errorf("generate salt: %w", err)
	}
	return s, nil
}

// ChunkNonce builds the nonce for a chunk: 8-byte big-endian index
// followed by the 4-byte salt. Nonces are unique as long as the salt is
// unique per transfer and indices never repeat.
func ChunkNonce(index uint64, salt Salt) [NonceSize]byte {
	var nonce [NonceSize]byte
	binary.BigEndian.PutUint64(nonce[:8], index)
	copy(nonce[8:], salt[:])
	return nonce
}

// EncryptChunk seals one chunk under its index-derived nonce.
func EncryptChunk(key Key, index uint64, salt Salt, plaintext []byte) (EncryptedChunk, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return EncryptedChunk{}, fmt.Errorf("create cipher: %w", err)
	}
	nonce := ChunkNonce(index, salt)
	return EncryptedChunk{
		Index:      index,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce[:], plaintext, nil),
	}, nil
}

// DecryptChunk opens a sealed chunk. A tag mismatch is a hard failure;
// there is no partial acceptance.
func DecryptChunk(key Key, chunk EncryptedChunk) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, chunk.Nonce[:], chunk.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("chunk %d authentication failed: %w", chunk.Index, err)
	}
	return plaintext, nil
}

// EncryptMetadata seals the transfer metadata under its own random nonce.
// Chunk nonces start with a counter, a random nonce cannot collide with
// them in any realistic transfer.
func EncryptMetadata(key Key, info FileInfo) (Control, error) {
	body, err := json.Marshal(info)
	if err != nil {
		return Control{}, fmt.Errorf("marshal metadata: %w", err)
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return Control{}, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Control{}, fmt.Errorf("generate metadata nonce: %w", err)
	}
	return Control{
		Type:       ControlEncryptedFileInfo,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, body, nil),
	}, nil
}

// DecryptMetadata opens a sealed metadata envelope.
func DecryptMetadata(key Key, nonce, ciphertext []byte) (FileInfo, error) {
	if len(nonce) != NonceSize {
		return FileInfo{}, fmt.Errorf("invalid metadata nonce length: %d", len(nonce))
	}
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return FileInfo{}, fmt.Errorf("create cipher: %w", err)
	}
	body, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return FileInfo{}, fmt.Errorf("metadata authentication failed: %w", err)
	}
	var info FileInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return FileInfo{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return info, nil
}

// KeyToBase64 encodes a key for display to the operator.
func KeyToBase64(key Key) string {
	return base64.StdEncoding.EncodeToString(key[:])
}

// KeyFromBase64 decodes an operator-supplied key. Surrounding whitespace
// is tolerated since the key is usually pasted.
func KeyFromBase64(encoded string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Key{}, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(raw) != KeySize {
		return Key{}, fmt.Errorf("invalid key length: expected %d bytes, got %d", KeySize, len(raw))
	}
	var k Key
	copy(k[:], raw)
	return k, nil
}
