package main

import (
	"testing"
)

const (
	cardA TokenIdentity = "C1:98:CC:E4"
	cardB TokenIdentity = "91:A2:CC:E4"
	cardC TokenIdentity = "F1:94:CC:E4"
)

// newTestRouter maps cardA -> 6 and cardC -> 5. cardB is unmapped.
func newTestRouter(t *testing.T) *CardTable {
	t.Helper()
	table, err := NewCardTable([]CardEntry{
		{UID: string(cardA), Track: 6, Label: "Blue Train"},
		{UID: string(cardC), Track: 5},
	})
	if err != nil {
		t.Fatalf("NewCardTable: %v", err)
	}
	return table
}

// runSamples feeds samples through Reconcile and collects every command.
func runSamples(t *testing.T, s ReconcilerState, samples []PresenceSample, router Router, r int) (ReconcilerState, []Command) {
	t.Helper()
	var all []Command
	cfg := ReconcilerConfig{RemovalThreshold: r}
	for i, sample := range samples {
		var cmds []Command
		s, _, cmds = Reconcile(s, sample, router, cfg)
		if len(cmds) > 1 {
			t.Fatalf("tick %d: expected at most 1 command, got %d (%v)", i, len(cmds), cmds)
		}
		all = append(all, cmds...)
		checkReconcilerInvariants(t, i, s)
	}
	return s, all
}

func checkReconcilerInvariants(t *testing.T, tick int, s ReconcilerState) {
	t.Helper()
	if s.IsPlaying && s.ActiveIdentity == NoToken {
		t.Fatalf("tick %d: playing without an active card: %+v", tick, s)
	}
	if s.MissCount > 0 && s.ActiveIdentity == NoToken {
		t.Fatalf("tick %d: misses counted without an active card: %+v", tick, s)
	}
}

func absentN(n int) []PresenceSample {
	out := make([]PresenceSample, n)
	for i := range out {
		out[i] = Absent()
	}
	return out
}

func samples(parts ...[]PresenceSample) []PresenceSample {
	var out []PresenceSample
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func one(p PresenceSample) []PresenceSample { return []PresenceSample{p} }

func TestReconcile_ShortDropoutDoesNotPause(t *testing.T) {
	router := newTestRouter(t)

	seq := samples(
		one(Present(cardA)),
		one(Present(cardA)),
		absentN(4),
		one(Present(cardA)),
	)
	s, cmds := runSamples(t, ReconcilerState{}, seq, router, 5)

	if len(cmds) != 1 {
		t.Fatalf("expected exactly 1 command, got %d (%v)", len(cmds), cmds)
	}
	play, ok := cmds[0].(CmdPlayLooped)
	if !ok || play.Track != 6 {
		t.Fatalf("expected CmdPlayLooped(6), got %v", cmds[0])
	}
	if !s.IsPlaying || s.ActiveIdentity != cardA || s.MissCount != 0 {
		t.Fatalf("unexpected final state: %+v", s)
	}
}

func TestReconcile_RemovalPausesOnThresholdTick(t *testing.T) {
	router := newTestRouter(t)
	cfg := ReconcilerConfig{RemovalThreshold: 5}

	s, tr, cmds := Reconcile(ReconcilerState{}, Present(cardA), router, cfg)
	if tr.Outcome != OutcomeInserted || len(cmds) != 1 {
		t.Fatalf("expected insertion with one command, got %v %v", tr.Outcome, cmds)
	}

	for i := 1; i <= 5; i++ {
		s, tr, cmds = Reconcile(s, Absent(), router, cfg)
		if i < 5 {
			if len(cmds) != 0 {
				t.Fatalf("absent tick %d: expected no command, got %v", i, cmds)
			}
			if tr.Outcome != OutcomeNoChange {
				t.Fatalf("absent tick %d: expected no_change, got %v", i, tr.Outcome)
			}
			if s.MissCount != i {
				t.Fatalf("absent tick %d: expected miss count %d, got %d", i, i, s.MissCount)
			}
			continue
		}
		if tr.Outcome != OutcomeRemoved {
			t.Fatalf("absent tick 5: expected removed, got %v", tr.Outcome)
		}
		if tr.Identity != cardA {
			t.Fatalf("expected removed identity %s, got %s", cardA, tr.Identity)
		}
		if len(cmds) != 1 {
			t.Fatalf("absent tick 5: expected 1 command, got %v", cmds)
		}
		if _, ok := cmds[0].(CmdPause); !ok {
			t.Fatalf("expected CmdPause, got %v", cmds[0])
		}
	}

	if s != (ReconcilerState{}) {
		t.Fatalf("expected reset state after removal, got %+v", s)
	}

	// Further absence is idle.
	s, tr, cmds = Reconcile(s, Absent(), router, cfg)
	if tr.Outcome != OutcomeNoChange || len(cmds) != 0 || s.MissCount != 0 {
		t.Fatalf("expected idle absent tick, got %v %v %+v", tr.Outcome, cmds, s)
	}
}

func TestReconcile_SwapToUnmappedPausesWhenPlaying(t *testing.T) {
	router := newTestRouter(t)

	s, cmds := runSamples(t, ReconcilerState{}, samples(one(Present(cardA)), one(Present(cardB))), router, 5)

	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %v", cmds)
	}
	if play, ok := cmds[0].(CmdPlayLooped); !ok || play.Track != 6 {
		t.Fatalf("expected CmdPlayLooped(6) first, got %v", cmds[0])
	}
	if _, ok := cmds[1].(CmdPause); !ok {
		t.Fatalf("expected CmdPause second, got %v", cmds[1])
	}
	if s.ActiveIdentity != cardB || s.IsPlaying {
		t.Fatalf("expected cardB active and not playing, got %+v", s)
	}
}

func TestReconcile_UnmappedWhileSilentEmitsNothing(t *testing.T) {
	router := newTestRouter(t)

	s, tr, cmds := Reconcile(ReconcilerState{}, Present(cardB), router, ReconcilerConfig{RemovalThreshold: 5})
	if tr.Outcome != OutcomeInserted {
		t.Fatalf("expected inserted, got %v", tr.Outcome)
	}
	if tr.Track != NoTrack {
		t.Fatalf("expected NoTrack, got %d", tr.Track)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no command for unmapped card while silent, got %v", cmds)
	}
	if s.ActiveIdentity != cardB || s.IsPlaying {
		t.Fatalf("unexpected state %+v", s)
	}

	// Removing an unmapped card never pauses: nothing is playing.
	s, cmds = runSamples(t, s, absentN(5), router, 5)
	if len(cmds) != 0 {
		t.Fatalf("expected no pause on removing unmapped card, got %v", cmds)
	}
	if s.ActiveIdentity != NoToken {
		t.Fatalf("expected card cleared, got %+v", s)
	}
}

func TestReconcile_SameCardIsIdempotent(t *testing.T) {
	router := newTestRouter(t)

	seq := samples(one(Present(cardA)), one(Present(cardA)), one(Present(cardA)), one(Present(cardA)))
	_, cmds := runSamples(t, ReconcilerState{}, seq, router, 5)
	if len(cmds) != 1 {
		t.Fatalf("expected only the first tick to play, got %v", cmds)
	}
}

func TestReconcile_SwapBetweenMappedCardsPlaysWithoutPause(t *testing.T) {
	router := newTestRouter(t)

	s, cmds := runSamples(t, ReconcilerState{}, samples(one(Present(cardA)), one(Present(cardC))), router, 5)
	if len(cmds) != 2 {
		t.Fatalf("expected 2 commands, got %v", cmds)
	}
	for i, want := range []TrackSelector{6, 5} {
		play, ok := cmds[i].(CmdPlayLooped)
		if !ok || play.Track != want {
			t.Fatalf("command %d: expected CmdPlayLooped(%d), got %v", i, want, cmds[i])
		}
	}
	if s.ActiveIdentity != cardC || !s.IsPlaying {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestReconcile_SwapDuringDebounceWindow(t *testing.T) {
	router := newTestRouter(t)

	seq := samples(one(Present(cardA)), absentN(3), one(Present(cardC)))
	s, cmds := runSamples(t, ReconcilerState{}, seq, router, 5)
	if len(cmds) != 2 {
		t.Fatalf("expected play(6), play(5); got %v", cmds)
	}
	if s.MissCount != 0 || s.ActiveIdentity != cardC {
		t.Fatalf("unexpected state %+v", s)
	}
}

func TestReconcile_ReinsertionAfterRemovalPlaysAgain(t *testing.T) {
	router := newTestRouter(t)

	seq := samples(one(Present(cardA)), absentN(5), one(Present(cardA)))
	_, cmds := runSamples(t, ReconcilerState{}, seq, router, 5)
	if len(cmds) != 3 {
		t.Fatalf("expected play, pause, play; got %v", cmds)
	}
	if _, ok := cmds[1].(CmdPause); !ok {
		t.Fatalf("expected CmdPause in the middle, got %v", cmds[1])
	}
	if play, ok := cmds[2].(CmdPlayLooped); !ok || play.Track != 6 {
		t.Fatalf("expected CmdPlayLooped(6) on reinsertion, got %v", cmds[2])
	}
}

func TestReconcile_ThresholdOfOneRemovesImmediately(t *testing.T) {
	router := newTestRouter(t)

	for _, r := range []int{1, 0, -3} {
		_, cmds := runSamples(t, ReconcilerState{}, samples(one(Present(cardA)), absentN(1)), router, r)
		if len(cmds) != 2 {
			t.Fatalf("R=%d: expected play then pause, got %v", r, cmds)
		}
	}
}

func TestReconcile_NilRouterTreatsEveryCardAsUnmapped(t *testing.T) {
	s, tr, cmds := Reconcile(ReconcilerState{}, Present(cardA), nil, ReconcilerConfig{})
	if tr.Outcome != OutcomeInserted || len(cmds) != 0 || s.IsPlaying {
		t.Fatalf("unexpected result %v %v %+v", tr.Outcome, cmds, s)
	}
}

func TestReconcile_PresentWithEmptyIdentityCountsAsAbsent(t *testing.T) {
	router := newTestRouter(t)
	cfg := ReconcilerConfig{RemovalThreshold: 5}

	s, _, _ := Reconcile(ReconcilerState{}, Present(cardA), router, cfg)
	s, tr, cmds := Reconcile(s, PresenceSample{Present: true}, router, cfg)
	if tr.Outcome != OutcomeNoChange || len(cmds) != 0 || s.MissCount != 1 {
		t.Fatalf("expected a miss, got %v %v %+v", tr.Outcome, cmds, s)
	}
}
