// Package payload implements the Job Record (spec.md 4.2): the immutable
// wire envelope carrying queue name, class name, args, id and generation,
// plus the in-memory Job that wraps it during execution.
//
// Encode/Decode follow alya's jobs/types.go JSONstr idiom of a small
// validating wrapper type around encoding/json, generalized here to the
// fixed four-field envelope spec.md 6 defines.
package payload

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Payload is the wire representation of a queued job: a canonical
// JSON-shaped object with keys class, args, id, generation (spec.md 6).
type Payload struct {
	Class      string            `json:"class"`
	Args       []json.RawMessage `json:"args"`
	ID         string            `json:"id"`
	Generation int               `json:"generation"`
}

// Encode renders p to its canonical wire bytes. Field order is fixed by the
// struct tag order above so two equal payloads always encode identically --
// required for Destroy's match-by-encoded-string-equality semantics
// (spec.md 6).
func Encode(p Payload) ([]byte, error) {
	if p.Args == nil {
		p.Args = []json.RawMessage{}
	}
	return json.Marshal(p)
}

// Decode parses b into a Payload.
func Decode(b []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return Payload{}, fmt.Errorf("payload: decode: %w", err)
	}
	return p, nil
}

// newID returns a 128-bit random value hex-encoded to 32 characters
// (spec.md 6: "id (hex string, 32 chars)"). crypto/rand is used directly
// rather than google/uuid's dashed String() form, since the wire format
// requires a bare hex token; see DESIGN.md.
func newID() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("payload: generate id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// EncodeArgs marshals a variadic argument list into the wire Args slice.
func EncodeArgs(args ...any) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("payload: encode arg: %w", err)
		}
		out = append(out, raw)
	}
	return out, nil
}
