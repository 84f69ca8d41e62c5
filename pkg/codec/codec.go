// ABOUTME: Value and key codecs for the on-disk mirror of the store
// ABOUTME: Filenames are hex-encoded keys, file bodies are encoded values

package codec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ValueCodec converts values to and from the byte sequence stored in a key's
// mirror file. Decode(Encode(v)) must equal v for every valid v.
type ValueCodec[V any] interface {
	Encode(v V) ([]byte, error)
	Decode(data []byte) (V, error)
}

// KeyCodec converts keys to and from filesystem-safe names. EncodeKey must be
// injective over the key space in use: two distinct keys mapping to the same
// filename would silently overwrite each other on disk.
type KeyCodec[K comparable] interface {
	EncodeKey(k K) string
	DecodeKey(name string) (K, error)
}

// DecodeError reports an input that could not be decoded. Decode failures
// during recovery are fatal: a corrupt entry must not be silently skipped.
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %q: %v", e.Input, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// HexKeys encodes string keys as lowercase hex filenames. Hex is injective
// and reversible over arbitrary strings, so no two keys can collide.
type HexKeys struct{}

func (HexKeys) EncodeKey(k string) string {
	return hex.EncodeToString([]byte(k))
}

func (HexKeys) DecodeKey(name string) (string, error) {
	b, err := hex.DecodeString(name)
	if err != nil {
		return "", &DecodeError{Input: name, Err: err}
	}
	return string(b), nil
}

// JSON is a ValueCodec marshaling values with encoding/json.
type JSON[V any] struct{}

func (JSON[V]) Encode(v V) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON[V]) Decode(data []byte) (V, error) {
	var v V
	if err := json.Unmarshal(data, &v); err != nil {
		return v, &DecodeError{Input: preview(data), Err: err}
	}
	return v, nil
}

// Raw is the identity ValueCodec for []byte values. Slices are copied so the
// store and the caller never alias each other's buffers.
type Raw struct{}

func (Raw) Encode(v []byte) ([]byte, error) {
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (Raw) Decode(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// preview trims raw bytes for inclusion in error messages.
func preview(data []byte) string {
	const limit = 64
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
