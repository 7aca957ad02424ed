package main

import (
	"fmt"
)

// Router maps a card identity to the track it should loop.
// Implementations must be pure and return NoTrack for unknown cards.
type Router interface {
	TrackFor(id TokenIdentity) TrackSelector
}

// CardEntry is one row of the card table.
type CardEntry struct {
	UID   string        `yaml:"uid"`
	Track TrackSelector `yaml:"track"`
	Label string        `yaml:"label,omitempty"`
}

// CardTable is the static UID -> track lookup built from configuration.
type CardTable struct {
	tracks map[TokenIdentity]TrackSelector
	labels map[TokenIdentity]string
}

// NewCardTable validates entries and builds the lookup table.
// Duplicate UIDs and out-of-range tracks are rejected.
func NewCardTable(entries []CardEntry) (*CardTable, error) {
	t := &CardTable{
		tracks: make(map[TokenIdentity]TrackSelector, len(entries)),
		labels: make(map[TokenIdentity]string, len(entries)),
	}
	for i, e := range entries {
		id, err := ParseTokenIdentity(e.UID)
		if err != nil {
			return nil, fmt.Errorf("cards[%d]: %w", i, err)
		}
		if !e.Track.Valid() {
			return nil, fmt.Errorf("cards[%d] (%s): track %d out of range 1..%d", i, id, e.Track, MaxTrack)
		}
		if _, dup := t.tracks[id]; dup {
			return nil, fmt.Errorf("cards[%d]: duplicate uid %s", i, id)
		}
		t.tracks[id] = e.Track
		if e.Label != "" {
			t.labels[id] = e.Label
		}
	}
	return t, nil
}

// TrackFor implements Router. A nil table maps nothing.
func (t *CardTable) TrackFor(id TokenIdentity) TrackSelector {
	if t == nil {
		return NoTrack
	}
	return t.tracks[id]
}

// Label returns the configured label for id, or "".
func (t *CardTable) Label(id TokenIdentity) string {
	if t == nil {
		return ""
	}
	return t.labels[id]
}

// Len returns the number of mapped cards.
func (t *CardTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.tracks)
}
