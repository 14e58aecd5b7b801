package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrTypeMismatch is returned when a payload variant does not match the
// declared record type.
var ErrTypeMismatch = errors.New("payload does not match record type")

// Encode serializes p as JSON. An absent payload encodes as nil.
func Encode(p Payload) ([]byte, error) {
	if IsAbsent(p) {
		return nil, nil
	}
	return json.Marshal(p)
}

// Decode parses data as the payload variant for t. Empty input and JSON
// null decode to a nil payload.
func Decode(t Type, data []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var p Payload
	switch t {
	case TypePost:
		p = &Post{}
	case TypeMessage:
		p = &Message{}
	case TypeProfile:
		p = &Profile{}
	case TypeMedia:
		p = &Media{}
	default:
		return nil, fmt.Errorf("decode payload: unknown record type %q", t)
	}

	if err := json.Unmarshal(trimmed, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

// Check verifies that p is absent or of type t.
func Check(t Type, p Payload) error {
	if IsAbsent(p) {
		return nil
	}
	if p.RecordType() != t {
		return fmt.Errorf("%w: got %s, want %s", ErrTypeMismatch, p.RecordType(), t)
	}
	return nil
}

// Equal reports whether a and b encode to the same JSON.
func Equal(a, b Payload) bool {
	ea, errA := Encode(a)
	eb, errB := Encode(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
