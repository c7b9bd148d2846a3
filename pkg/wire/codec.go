package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Binary message layout:
//
//	byte 0: protocol version (high nibble) | header size in 4-byte units (low nibble)
//	byte 1: message type (high nibble) | flags (low nibble)
//	byte 2: serialization (high nibble) | compression (low nibble)
//	byte 3: reserved
//	uint32: frame count (big endian)
//	per frame: uint32 length (big endian) + raw bytes
//
// When the compression nibble is gzipCompression the frame section (count
// and frames) is gzip-compressed as a whole.
const (
	protocolVersion = 0x1
	headerUnits     = 0x1

	msgTypeEnvelope = 0x1

	flagMultipart = 0x1

	jsonSerialization = 0x1

	noCompression   = 0x0
	gzipCompression = 0x1
)

// gzipThreshold is the minimum total frame size before the codec compresses
// the frame section.
const gzipThreshold = 1024

var (
	// ErrShortMessage reports a message too small to carry the fixed header.
	ErrShortMessage = errors.New("wire: message too short")

	// ErrBadMessage reports a structurally invalid message.
	ErrBadMessage = errors.New("wire: malformed message")
)

// Codec encodes and decodes envelopes to the binary transport format.
// The zero value is ready to use.
type Codec struct {
	// DisableCompression turns off gzip regardless of message size.
	DisableCompression bool
}

// Encode serializes the envelope into a single binary message.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	header, err := env.finalizeHeader()
	if err != nil {
		return nil, err
	}

	var section bytes.Buffer
	frameCount := 1 + len(env.Frames)
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], uint32(frameCount))
	section.Write(cnt[:])
	writeFrame(&section, header)
	for _, f := range env.Frames {
		writeFrame(&section, f)
	}

	compression := byte(noCompression)
	body := section.Bytes()
	if !c.DisableCompression && section.Len() >= gzipThreshold {
		compressed, err := gzipCompress(body)
		if err != nil {
			return nil, fmt.Errorf("wire: compress: %w", err)
		}
		if len(compressed) < len(body) {
			body = compressed
			compression = gzipCompression
		}
	}

	flags := byte(0)
	if len(env.Frames) > 0 {
		flags |= flagMultipart
	}

	out := make([]byte, 0, 4+len(body))
	out = append(out,
		protocolVersion<<4|headerUnits,
		msgTypeEnvelope<<4|flags,
		jsonSerialization<<4|compression,
		0x00,
	)
	return append(out, body...), nil
}

// Decode parses a binary message produced by Encode.
func (c *Codec) Decode(data []byte) (*Envelope, error) {
	if len(data) < 4 {
		return nil, ErrShortMessage
	}
	version := data[0] >> 4
	if version != protocolVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadMessage, version)
	}
	headerSize := int(data[0]&0x0f) * 4
	if headerSize < 4 || len(data) < headerSize {
		return nil, fmt.Errorf("%w: bad header size", ErrBadMessage)
	}
	msgType := data[1] >> 4
	if msgType != msgTypeEnvelope {
		return nil, fmt.Errorf("%w: unknown message type %d", ErrBadMessage, msgType)
	}
	compression := data[2] & 0x0f

	body := data[headerSize:]
	if compression == gzipCompression {
		var err error
		body, err = gzipDecompress(body)
		if err != nil {
			return nil, fmt.Errorf("wire: decompress: %w", err)
		}
	}

	if len(body) < 4 {
		return nil, fmt.Errorf("%w: missing frame count", ErrBadMessage)
	}
	frameCount := int(binary.BigEndian.Uint32(body))
	if frameCount < 1 {
		return nil, fmt.Errorf("%w: empty frame list", ErrBadMessage)
	}
	body = body[4:]

	frames := make([][]byte, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		if len(body) < 4 {
			return nil, fmt.Errorf("%w: truncated frame %d", ErrBadMessage, i)
		}
		n := int(binary.BigEndian.Uint32(body))
		body = body[4:]
		if len(body) < n {
			return nil, fmt.Errorf("%w: frame %d length %d exceeds message", ErrBadMessage, i, n)
		}
		frames = append(frames, body[:n:n])
		body = body[n:]
	}

	env := &Envelope{Frames: frames[1:]}
	if err := env.parseHeader(frames[0]); err != nil {
		return nil, err
	}
	return env, nil
}

func writeFrame(buf *bytes.Buffer, data []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	buf.Write(n[:])
	buf.Write(data)
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
