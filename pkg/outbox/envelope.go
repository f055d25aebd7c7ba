package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is the envelope layout this build writes and the newest one it
// can read.
const SchemaVersion = 1

// Actor identifies who caused the event. Background jobs set only Role.
type Actor struct {
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Role      string `json:"role"`
}

// SystemActor marks events raised by workers rather than shoppers.
var SystemActor = &Actor{Role: "system"}

// Envelope is the JSON document stored in outbox_events.payload and published
// verbatim. EventID equals the outbox row id, so a message redelivered after a
// publish retry carries the same id and subscribers can de-duplicate on it.
type Envelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *Actor          `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses and checks a stored envelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch {
	case env.Version < 1 || env.Version > SchemaVersion:
		return Envelope{}, fmt.Errorf("unsupported envelope version %d", env.Version)
	case env.EventID == "":
		return Envelope{}, errors.New("envelope has no event id")
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Envelope{}, errors.New("envelope has no data")
	}
	return env, nil
}
