package main

import "time"

// This file implements the reducer-style architecture building blocks:
//
//   - Events: inputs to the reducer (ticks carrying samples, observations, command failures)
//   - Commands: side effects requested by the reducer (Playback Controller calls)
//   - Broadcasts: state changes published to websocket/MQTT clients
//   - Reduce(): computes next state + commands + broadcasts, without performing I/O
//
// The daemon loop is responsible for sampling peripherals into Tick events,
// executing Commands and feeding observations back as Events.

// ReduceConfig is the static configuration the reducer needs.
type ReduceConfig struct {
	Reconciler ReconcilerConfig
	Volume     VolumeMapping
	Router     Router

	// NewSessionID returns an identifier for a new card insertion.
	// If nil, sessions are left unnamed.
	NewSessionID func() string
}

// labeler is implemented by routers that carry human-readable card names.
type labeler interface {
	Label(id TokenIdentity) string
}

// ReduceResult is the output of Reduce(): next state plus a set of Commands to execute.
type ReduceResult struct {
	State      *DaemonState
	Commands   []Command
	Broadcasts []StateBroadcast
}

// Reduce is the pure reducer:
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Must not mutate anything outside the returned state
func Reduce(s *DaemonState, e Event, cfg ReduceConfig) ReduceResult {
	if s == nil {
		s = NewDaemonState()
	}

	var (
		cmds []Command
		bcs  []StateBroadcast
	)

	switch ev := e.(type) {
	case Tick:
		s.Ticks++

		// Volume first, as sampled.
		nextVol, volCmds := ApplyVolume(s.Volume, ev.Volume, cfg.Volume)
		s.Volume = nextVol
		if len(volCmds) > 0 {
			cmds = append(cmds, volCmds...)
			bcs = append(bcs, BroadcastVolumeChanged{Volume: nextVol.LastApplied, At: ev.Now})
		}

		next, tr, playCmds := Reconcile(s.Presence, ev.Presence, cfg.Router, cfg.Reconciler)
		s.Presence = next
		cmds = append(cmds, playCmds...)
		bcs = append(bcs, s.applyTransition(tr, ev.Now, cfg)...)

	case TimedEvent:
		inner := ev.Event
		if t, ok := inner.(Tick); ok && t.Now.IsZero() {
			t.Now = ev.At
			inner = t
		}
		return Reduce(s, inner, cfg)

	case RequestStateSnapshot:
		cmds = append(cmds, CmdPublishStateSnapshot{
			Snapshot: s.Snapshot(),
			Reply:    ev.Reply,
		})

	case PlayerStatusObserved:
		changed := !s.Player.Known || s.Player.Ready != ev.Ready || s.Player.Backend != ev.Backend
		s.Player.Known = true
		s.Player.Ready = ev.Ready
		s.Player.Backend = ev.Backend
		if changed {
			bcs = append(bcs, BroadcastPlayerStatus{Backend: ev.Backend, Ready: ev.Ready, At: ev.At})
		}

	case PlayerCommandFailed:
		// Keep presence state as-is: the reconciler owns the playing bit and
		// never retries. Record for the status endpoint.
		s.Player.Failures++
		if ev.Err != nil {
			s.Player.LastError = ev.Err.Error()
		}
		s.Player.LastErrorAt = ev.At

	default:
		// CardPlace/CardLift/Ping are routed by the daemon, not reduced.
	}

	return ReduceResult{
		State:      s,
		Commands:   cmds,
		Broadcasts: bcs,
	}
}

// applyTransition updates session bookkeeping and derives broadcasts.
func (s *DaemonState) applyTransition(tr Transition, now time.Time, cfg ReduceConfig) []StateBroadcast {
	var bcs []StateBroadcast

	switch tr.Outcome {
	case OutcomeInserted:
		sess := SessionState{
			Track: tr.Track,
			Since: now,
		}
		if cfg.NewSessionID != nil {
			sess.ID = cfg.NewSessionID()
		}
		if l, ok := cfg.Router.(labeler); ok {
			sess.Label = l.Label(tr.Identity)
		}
		s.Session = sess

		bcs = append(bcs, BroadcastCardInserted{
			UID:       string(tr.Identity),
			Label:     sess.Label,
			Track:     tr.Track,
			SessionID: sess.ID,
			At:        now,
		})
		if s.Presence.IsPlaying || tr.WasPlaying {
			var track TrackSelector
			if s.Presence.IsPlaying {
				track = tr.Track
			}
			bcs = append(bcs, BroadcastPlaybackChanged{Playing: s.Presence.IsPlaying, Track: track, At: now})
		}

	case OutcomeRemoved:
		bcs = append(bcs, BroadcastCardRemoved{
			UID:       string(tr.Identity),
			SessionID: s.Session.ID,
			At:        now,
		})
		if tr.WasPlaying {
			bcs = append(bcs, BroadcastPlaybackChanged{Playing: false, At: now})
		}
		s.Session = SessionState{}
	}

	return bcs
}
