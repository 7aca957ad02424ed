package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ==============================
// Events
// ==============================

// Event is the input to the reducer.
// It can be a Tick, an IPC action, or an observation from the effects layer.
type Event interface {
	eventMarker()
}

// Tick is emitted by the daemon loop at a fixed cadence and carries the
// samples taken on that tick: volume first, then presence.
type Tick struct {
	Now      time.Time
	Presence PresenceSample
	Volume   VolumeSample
}

func (Tick) eventMarker() {}

// TimedEvent stamps a payload event with its arrival time.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// PlayerCommandFailed is emitted when executing a Command fails.
// The reducer records it; commands are never retried.
type PlayerCommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (PlayerCommandFailed) eventMarker() {}

// PlayerStatusObserved reports the Playback Controller readiness flag.
type PlayerStatusObserved struct {
	Ready   bool
	Backend string
	At      time.Time
}

func (PlayerStatusObserved) eventMarker() {}

// RequestStateSnapshot asks the daemon for a coherent copy of its state.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// IPC Actions
// ============================================================================

// CardPlace puts a card on the virtual reader.
type CardPlace struct {
	UID string `json:"uid"`
}

func (CardPlace) eventMarker() {}

// CardLift takes the card off the virtual reader.
type CardLift struct{}

func (CardLift) eventMarker() {}

// Ping is a no-op used by clients to check the daemon is alive.
type Ping struct{}

func (Ping) eventMarker() {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an event with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON event envelope into a concrete Event.
// Only IPC-facing events are accepted.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "card_place":
		var a CardPlace
		if len(env.Data) == 0 {
			return nil, fmt.Errorf("unmarshal CardPlace: missing data")
		}
		if err := json.Unmarshal(env.Data, &a); err != nil {
			return nil, fmt.Errorf("unmarshal CardPlace: %w", err)
		}
		if _, err := ParseTokenIdentity(a.UID); err != nil {
			return nil, fmt.Errorf("unmarshal CardPlace: %w", err)
		}
		return a, nil

	case "card_lift":
		return CardLift{}, nil

	case "ping":
		return Ping{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an Event into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	switch e := e.(type) {
	case CardPlace:
		env.Type = "card_place"
		data, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("marshal CardPlace: %w", err)
		}
		env.Data = data

	case CardLift:
		env.Type = "card_lift"

	case Ping:
		env.Type = "ping"

	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	return json.Marshal(env)
}
