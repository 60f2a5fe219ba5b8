package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/wolfeidau/togglemark/backend"
)

const (
	// CompressionThreshold is the minimum body size before zstd is applied.
	CompressionThreshold = 2048

	// MaxDecodedSize caps the decompressed body of a single record.
	MaxDecodedSize = 16 * 1024 * 1024
)

var (
	// ErrCorrupt is returned when a persisted record cannot be decoded.
	ErrCorrupt = errors.New("corrupt state record")

	// ErrRecordTooLarge is returned when a decoded body exceeds MaxDecodedSize.
	ErrRecordTooLarge = errors.New("state record exceeds maximum size")
)

// Codec turns values into framed records and back. It is safe for concurrent use.
type Codec struct {
	mu      sync.RWMutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec with a reusable zstd encoder and decoder.
func NewCodec() (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec}, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}

// Encode marshals v as JSON and frames it under key.
func (c *Codec) Encode(key string, v any, entries int, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", key, err)
	}

	header := &backend.RecordHeader{
		Key:       key,
		Encoding:  backend.EncodingIdentity,
		Entries:   entries,
		RawLength: int64(len(raw)),
		WrittenAt: now.UTC(),
	}

	body := raw
	if len(raw) >= CompressionThreshold {
		c.mu.RLock()
		enc := c.encoder
		c.mu.RUnlock()
		if enc != nil {
			if compressed := enc.EncodeAll(raw, nil); len(compressed) < len(raw) {
				body = compressed
				header.Encoding = backend.EncodingZstd
			}
		}
	}

	var buf bytes.Buffer
	if err := backend.WriteFramed(&buf, header, bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("framing %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// Decode parses a framed record into v and returns its header.
func (c *Codec) Decode(data []byte, v any) (*backend.RecordHeader, error) {
	header, body, err := backend.ReadFramed(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	payload, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %w", ErrCorrupt, err)
	}

	switch header.Encoding {
	case backend.EncodingIdentity, "":
	case backend.EncodingZstd:
		if header.RawLength > MaxDecodedSize {
			return nil, ErrRecordTooLarge
		}
		c.mu.RLock()
		dec := c.decoder
		c.mu.RUnlock()
		if dec == nil {
			return nil, errors.New("decoder not initialized")
		}
		payload, err = dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompressing: %w", ErrCorrupt, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", ErrCorrupt, header.Encoding)
	}

	if int64(len(payload)) != header.RawLength {
		return nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorrupt, len(payload), header.RawLength)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return header, nil
}
