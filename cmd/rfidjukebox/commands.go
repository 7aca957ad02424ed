package main

import "fmt"

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop.
// In this codebase, those are primarily Playback Controller calls.
type Command interface {
	commandMarker()
	String() string
}

// CmdPlayLooped selects a track and loops it until superseded.
type CmdPlayLooped struct {
	Track TrackSelector
}

func (CmdPlayLooped) commandMarker() {}
func (c CmdPlayLooped) String() string {
	return fmt.Sprintf("CmdPlayLooped(track=%d)", c.Track)
}

// CmdPause suspends playback. The reducer only emits it while playing.
type CmdPause struct{}

func (CmdPause) commandMarker() {}
func (CmdPause) String() string { return "CmdPause()" }

// CmdSetVolume applies a clamped volume value.
type CmdSetVolume struct {
	Volume int
}

func (CmdSetVolume) commandMarker() {}
func (c CmdSetVolume) String() string {
	return fmt.Sprintf("CmdSetVolume(volume=%d)", c.Volume)
}

// CmdPublishStateSnapshot delivers a snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Snapshot StateSnapshot
	Reply    chan<- StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }

// isPlaybackCommand reports whether c talks to the Playback Controller
// about what is playing (volume excluded).
func isPlaybackCommand(c Command) bool {
	switch c.(type) {
	case CmdPlayLooped, CmdPause:
		return true
	default:
		return false
	}
}
