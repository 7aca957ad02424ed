package main

// ============================================================================
// Presence Reconciler
// ============================================================================
//
// Turns one raw presence sample per tick into one of four outcomes and the
// Playback Controller calls that go with it:
//
//   - present, same identity      -> Same      (no call)
//   - present, different identity -> Inserted  (PlayLooped, or gated Pause if unmapped)
//   - absent, fewer than R misses -> NoChange  (debounce window)
//   - absent, R-th miss           -> Removed   (gated Pause)
//
// Pause is only emitted while IsPlaying is true: the DFPlayer pause command is
// a toggle, so a pause sent while paused resumes playback.
//
// The reconciler counts samples, not wall-clock time. Tick period only paces
// the loop.
// ============================================================================

// Outcome is the per-tick classification produced by Reconcile.
type Outcome int

const (
	OutcomeNoChange Outcome = iota
	OutcomeInserted
	OutcomeSame
	OutcomeRemoved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoChange:
		return "no_change"
	case OutcomeInserted:
		return "inserted"
	case OutcomeSame:
		return "same"
	case OutcomeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// ReconcilerState is the presence-tracking state. It is owned by the daemon
// goroutine and only changed through Reconcile.
//
// Invariants:
//   - IsPlaying implies ActiveIdentity != NoToken
//   - MissCount > 0 implies ActiveIdentity != NoToken
type ReconcilerState struct {
	ActiveIdentity TokenIdentity
	IsPlaying      bool
	MissCount      int
}

// ReconcilerConfig holds the debounce threshold.
type ReconcilerConfig struct {
	// RemovalThreshold is the number of consecutive absent samples required
	// before a card counts as removed. Values below 1 are treated as 1.
	RemovalThreshold int
}

func (c ReconcilerConfig) threshold() int {
	if c.RemovalThreshold < 1 {
		return 1
	}
	return c.RemovalThreshold
}

// Transition describes what happened on one tick.
type Transition struct {
	Outcome Outcome

	// Identity is the card involved: the new card for Inserted/Same, the
	// departed card for Removed.
	Identity TokenIdentity

	// Track is the selector looked up on insertion (NoTrack if unmapped).
	Track TrackSelector

	// Previous is the identity that was active before this tick.
	Previous TokenIdentity

	// WasPlaying is IsPlaying before this tick.
	WasPlaying bool
}

// Reconcile applies one presence sample. It performs no I/O and returns the
// next state, the transition, and at most one playback command.
func Reconcile(s ReconcilerState, sample PresenceSample, router Router, cfg ReconcilerConfig) (ReconcilerState, Transition, []Command) {
	tr := Transition{
		Outcome:    OutcomeNoChange,
		Previous:   s.ActiveIdentity,
		WasPlaying: s.IsPlaying,
	}

	if sample.Present && sample.Identity != NoToken {
		s.MissCount = 0

		if sample.Identity == s.ActiveIdentity {
			tr.Outcome = OutcomeSame
			tr.Identity = sample.Identity
			return s, tr, nil
		}

		// New card, or a swap with no absence reported in between.
		s.ActiveIdentity = sample.Identity
		tr.Outcome = OutcomeInserted
		tr.Identity = sample.Identity

		var track TrackSelector
		if router != nil {
			track = router.TrackFor(sample.Identity)
		}
		tr.Track = track

		if !track.Valid() {
			var cmds []Command
			if s.IsPlaying {
				cmds = []Command{CmdPause{}}
			}
			s.IsPlaying = false
			return s, tr, cmds
		}

		s.IsPlaying = true
		return s, tr, []Command{CmdPlayLooped{Track: track}}
	}

	// Absent.
	if s.ActiveIdentity == NoToken {
		return s, tr, nil
	}

	s.MissCount++
	if s.MissCount < cfg.threshold() {
		return s, tr, nil
	}

	var cmds []Command
	if s.IsPlaying {
		cmds = []Command{CmdPause{}}
	}
	tr.Outcome = OutcomeRemoved
	tr.Identity = s.ActiveIdentity

	s.IsPlaying = false
	s.ActiveIdentity = NoToken
	s.MissCount = 0
	return s, tr, cmds
}
