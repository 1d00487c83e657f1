package cache

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Codec turns a cached value into the bytes stored under the cache key and
// back. JSON is the default; Gob is denser for rich structs, and ByteCodec
// stores pre-serialized payloads (rendered reports, export blobs) untouched.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec stores values as JSON. Entries stay readable when inspecting
// the store by hand, which is why it is the default.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// GobCodec stores values in Go's gob encoding. Opaque in the store, but
// cheaper than JSON for struct-heavy values like hydrated product records.
type GobCodec struct{}

func (GobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(v)
	return buf.Bytes(), err
}

func (GobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// ByteCodec passes []byte values through without re-encoding. Values of any
// other type are rejected.
type ByteCodec struct{}

func (ByteCodec) Marshal(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("ByteCodec: cannot store %T, want []byte", v)
	}
	return b, nil
}

func (ByteCodec) Unmarshal(data []byte, v any) error {
	out, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("ByteCodec: cannot decode into %T, want *[]byte", v)
	}
	*out = data
	return nil
}
