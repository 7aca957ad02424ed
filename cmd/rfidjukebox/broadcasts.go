package main

import "time"

// StateBroadcast is an externally visible state change emitted by the reducer.
// The daemon forwards broadcasts to the websocket hub and the MQTT publisher.
type StateBroadcast interface {
	broadcastMarker()
}

// BroadcastCardInserted is emitted when a new card is recognized.
type BroadcastCardInserted struct {
	UID       string
	Label     string
	Track     TrackSelector
	SessionID string
	At        time.Time
}

func (BroadcastCardInserted) broadcastMarker() {}

// BroadcastCardRemoved is emitted once the removal debounce has elapsed.
type BroadcastCardRemoved struct {
	UID       string
	SessionID string
	At        time.Time
}

func (BroadcastCardRemoved) broadcastMarker() {}

// BroadcastPlaybackChanged is emitted when the playing bit or track changes.
type BroadcastPlaybackChanged struct {
	Playing bool
	Track   TrackSelector
	At      time.Time
}

func (BroadcastPlaybackChanged) broadcastMarker() {}

// BroadcastVolumeChanged is emitted when a new volume is applied.
type BroadcastVolumeChanged struct {
	Volume int
	At     time.Time
}

func (BroadcastVolumeChanged) broadcastMarker() {}

// BroadcastPlayerStatus is emitted when player readiness changes.
type BroadcastPlayerStatus struct {
	Backend string
	Ready   bool
	At      time.Time
}

func (BroadcastPlayerStatus) broadcastMarker() {}

// broadcastType returns the wire name shared by websocket and MQTT.
func broadcastType(b StateBroadcast) string {
	switch b.(type) {
	case BroadcastCardInserted:
		return "card_inserted"
	case BroadcastCardRemoved:
		return "card_removed"
	case BroadcastPlaybackChanged:
		return "playback_changed"
	case BroadcastVolumeChanged:
		return "volume_changed"
	case BroadcastPlayerStatus:
		return "player_status"
	default:
		return ""
	}
}
