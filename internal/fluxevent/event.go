// Package fluxevent defines the event envelope Flux accepts from producers
// and the validation it enforces. The payload itself is opaque to this
// package; only entity_id/properties/__deleted__ shape sniffing lives here.
package fluxevent

import (
	"crypto/rand"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/fluxlabs/flux/infrastructure/errors"
)

var streamPattern = regexp.MustCompile(`^[a-z0-9]+(\.[a-z0-9]+)*$`)

// Event is the wire envelope every producer submits.
type Event struct {
	EventID   string          `json:"eventId"`
	Stream    string          `json:"stream"`
	Source    string          `json:"source"`
	Timestamp int64           `json:"timestamp"`
	Key       string          `json:"key,omitempty"`
	Schema    string          `json:"schema,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// ValidateAndPrepare checks envelope invariants and assigns a fresh
// time-ordered event id when the producer did not supply one. Existing ids
// are preserved verbatim (idempotency is the producer's choice).
func ValidateAndPrepare(evt *Event) *errors.ServiceError {
	if strings.TrimSpace(evt.Stream) == "" {
		return errors.Validation("stream is required")
	}
	if !streamPattern.MatchString(evt.Stream) {
		return errors.Validation("stream must match [a-z0-9]+(\\.[a-z0-9]+)*")
	}
	if strings.TrimSpace(evt.Source) == "" {
		return errors.Validation("source is required")
	}
	if evt.Timestamp <= 0 {
		return errors.Validation("timestamp must be a positive number of milliseconds since epoch")
	}
	if len(evt.Payload) == 0 || !isJSONObject(evt.Payload) {
		return errors.Validation("payload must be a JSON object")
	}
	if strings.TrimSpace(evt.EventID) == "" {
		evt.EventID = NewEventID()
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{") && json.Valid(raw)
}

// EntityID extracts payload.entity_id via gjson, without a full typed
// unmarshal. This runs on every history read and replayed event, so
// sniffing just the one field matters more here than on the ingestion path.
func (e *Event) EntityID() string {
	return gjson.GetBytes(e.Payload, "entity_id").String()
}

// IsTombstone reports whether the payload signals entity removal.
func (e *Event) IsTombstone() bool {
	return gjson.GetBytes(e.Payload, "__deleted__").Bool()
}

// Properties returns the payload's property map (empty for a tombstone).
func (e *Event) Properties() map[string]json.RawMessage {
	props := gjson.GetBytes(e.Payload, "properties")
	if !props.IsObject() {
		return nil
	}
	out := make(map[string]json.RawMessage, len(props.Map()))
	props.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = json.RawMessage(value.Raw)
		return true
	})
	return out
}

// crockford32 is the Crockford base-32 alphabet used by NewEventID, chosen
// for its sort-stability and lack of visually ambiguous characters.
const crockford32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// NewEventID generates a 128-bit, lexicographically time-sortable
// identifier: a 48-bit millisecond timestamp followed by 80 bits of random
// entropy, text-encoded in Crockford base32 (ULID-shaped). Sortable ids keep
// event history naturally ordered in the log and in any downstream index.
func NewEventID() string {
	var buf [16]byte
	ms := uint64(time.Now().UnixMilli())
	buf[0] = byte(ms >> 40)
	buf[1] = byte(ms >> 32)
	buf[2] = byte(ms >> 24)
	buf[3] = byte(ms >> 16)
	buf[4] = byte(ms >> 8)
	buf[5] = byte(ms)
	if _, err := rand.Read(buf[6:]); err != nil {
		// crypto/rand failing is practically unheard of; fall back to a
		// timestamp-derived filler rather than panicking mid-request.
		for i := 6; i < 16; i++ {
			buf[i] = byte(ms >> uint(i))
		}
	}
	return encodeCrockford(buf)
}

func encodeCrockford(data [16]byte) string {
	var out [26]byte
	out[0] = crockford32[(data[0]&224)>>5]
	out[1] = crockford32[data[0]&31]
	out[2] = crockford32[(data[1]&248)>>3]
	out[3] = crockford32[((data[1]&7)<<2)|((data[2]&192)>>6)]
	out[4] = crockford32[(data[2]&62)>>1]
	out[5] = crockford32[((data[2]&1)<<4)|((data[3]&240)>>4)]
	out[6] = crockford32[((data[3]&15)<<1)|((data[4]&128)>>7)]
	out[7] = crockford32[(data[4]&124)>>2]
	out[8] = crockford32[((data[4]&3)<<3)|((data[5]&224)>>5)]
	out[9] = crockford32[data[5]&31]
	for i, b := range encodeCrockford80(data[6:16]) {
		out[10+i] = b
	}
	return string(out[:])
}

func encodeCrockford80(data []byte) []byte {
	var out [16]byte
	var bitBuf uint64
	bits := 0
	idx := 0
	for _, b := range data {
		bitBuf = (bitBuf << 8) | uint64(b)
		bits += 8
		for bits >= 5 {
			bits -= 5
			out[idx] = crockford32[(bitBuf>>uint(bits))&31]
			idx++
		}
	}
	if bits > 0 {
		out[idx] = crockford32[(bitBuf<<uint(5-bits))&31]
		idx++
	}
	return out[:idx]
}
