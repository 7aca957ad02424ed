package main

import "time"

// DaemonState is the top-level, daemon-owned state container.
//
// It is only touched by the daemon goroutine (single owner). Other
// goroutines get copies through StateSnapshot.
type DaemonState struct {
	// Presence is the reconciler state (active card, playing bit, misses).
	Presence ReconcilerState

	// Volume is the last volume applied to the player.
	Volume VolumeState

	// Session describes the current card insertion, if any.
	Session SessionState

	// Player caches what we know about the Playback Controller.
	Player PlayerState

	// Ticks counts reduced Tick events.
	Ticks uint64
}

// NewDaemonState returns the start-of-process state: no card, not playing,
// no misses, volume unset.
func NewDaemonState() *DaemonState {
	return &DaemonState{
		Volume: NewVolumeState(),
	}
}

// SessionState identifies one insertion of one card.
type SessionState struct {
	ID    string
	Track TrackSelector
	Label string
	Since time.Time
}

// PlayerState is the daemon's cached view of the Playback Controller.
type PlayerState struct {
	Backend string
	Ready   bool
	Known   bool

	LastError   string
	LastErrorAt time.Time
	Failures    uint64
}

// StateSnapshot is a copy of DaemonState safe to hand to other goroutines.
type StateSnapshot struct {
	ActiveUID string        `json:"active_uid"`
	Label     string        `json:"label,omitempty"`
	Track     TrackSelector `json:"track"`
	Playing   bool          `json:"playing"`
	MissCount int           `json:"miss_count"`
	SessionID string        `json:"session_id,omitempty"`
	Since     time.Time     `json:"since,omitzero"`

	Volume      int  `json:"volume"`
	VolumeKnown bool `json:"volume_known"`

	PlayerBackend   string `json:"player_backend"`
	PlayerReady     bool   `json:"player_ready"`
	PlayerLastError string `json:"player_last_error,omitempty"`
	PlayerFailures  uint64 `json:"player_failures"`

	Ticks uint64 `json:"ticks"`
}

// Snapshot copies the state.
func (s *DaemonState) Snapshot() StateSnapshot {
	snap := StateSnapshot{
		ActiveUID:       string(s.Presence.ActiveIdentity),
		Playing:         s.Presence.IsPlaying,
		MissCount:       s.Presence.MissCount,
		PlayerBackend:   s.Player.Backend,
		PlayerReady:     s.Player.Ready,
		PlayerLastError: s.Player.LastError,
		PlayerFailures:  s.Player.Failures,
		Ticks:           s.Ticks,
	}
	if s.Presence.ActiveIdentity != NoToken {
		snap.Label = s.Session.Label
		snap.Track = s.Session.Track
		snap.SessionID = s.Session.ID
		snap.Since = s.Session.Since
	}
	if s.Volume.LastApplied != volumeUnset {
		snap.Volume = s.Volume.LastApplied
		snap.VolumeKnown = true
	}
	return snap
}
