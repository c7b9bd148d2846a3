package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeVector serializes a float32 vector for a binary frame. Embedding
// and fingerprint frames use msgpack rather than JSON so a 192-dim vector
// stays compact and byte-exact across the wire.
func EncodeVector(v []float32) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode vector: %w", err)
	}
	return data, nil
}

// DecodeVector deserializes a float32 vector frame.
func DecodeVector(data []byte) ([]float32, error) {
	var v []float32
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("wire: decode vector: %w", err)
	}
	return v, nil
}
