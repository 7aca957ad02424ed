package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop - Reducer-driven "Daemon Brain"
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands + broadcasts.
//   - The daemon loop is the only place that samples peripherals and executes
//     side effects (Playback Controller calls).
//   - Command failures are turned into Events and fed back into the reducer.
//
// ============================================================================

// daemonDeps are the peripherals and sinks owned by the daemon loop.
type daemonDeps struct {
	Cards  CardSource
	Volume VolumeInput // optional
	Player Player

	// Broadcasts are fanned out to every sink without blocking.
	Sinks []chan<- StateBroadcast

	CommandTimeout time.Duration
}

// runDaemon is the main daemon loop that:
//   - Samples volume then presence on every tick and reduces one Tick
//   - Receives IPC events and snapshot requests between ticks
//   - Executes commands in order before handling the next event
//
// Shutdown semantics:
//   - Exits when ctx is canceled or the events channel is closed
//   - Pauses playback if it was playing, then closes peripherals
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	deps daemonDeps,
	state *DaemonState,
	cfg ReduceConfig,
	tickPeriod time.Duration,
	logger *slog.Logger,
) {
	if state == nil {
		state = NewDaemonState()
	}
	if tickPeriod <= 0 {
		tickPeriod = time.Duration(defaultTickMS) * time.Millisecond
	}

	d := &daemon{
		deps:   deps,
		state:  state,
		cfg:    cfg,
		logger: logger,
	}
	defer d.shutdown()

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	logger.Info("daemon running", "tick", tickPeriod, "removal_threshold", cfg.Reconciler.threshold())

	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			d.handleEvent(ctx, ev, time.Now())

		case now := <-ticker.C:
			d.tick(ctx, now)
		}
	}
}

type daemon struct {
	deps   daemonDeps
	state  *DaemonState
	cfg    ReduceConfig
	logger *slog.Logger

	// volumeFailing suppresses repeated read-error logs.
	volumeFailing bool
}

// tick samples the peripherals in order (volume, then presence) and reduces.
func (d *daemon) tick(ctx context.Context, now time.Time) {
	ev := Tick{
		Now:      now,
		Volume:   d.sampleVolume(),
		Presence: d.samplePresence(),
	}
	d.dispatch(ctx, ev)
}

func (d *daemon) sampleVolume() VolumeSample {
	if d.deps.Volume == nil {
		return VolumeSample{}
	}
	raw, err := d.deps.Volume.Read()
	if err != nil {
		if !d.volumeFailing {
			d.logger.Warn("volume read failed", "error", err)
			d.volumeFailing = true
		}
		return VolumeSample{}
	}
	if d.volumeFailing {
		d.logger.Info("volume read recovered")
		d.volumeFailing = false
	}
	return VolumeSample{Raw: raw, OK: true}
}

func (d *daemon) samplePresence() PresenceSample {
	if d.deps.Cards == nil {
		return Absent()
	}
	return d.deps.Cards.Poll()
}

// handleEvent routes IPC card actions to the reader and reduces the rest.
func (d *daemon) handleEvent(ctx context.Context, ev Event, at time.Time) {
	switch e := ev.(type) {
	case CardPlace:
		inj, ok := d.deps.Cards.(CardInjector)
		if !ok {
			d.logger.Warn("card_place ignored: reader does not accept injected cards")
			return
		}
		id, err := ParseTokenIdentity(e.UID)
		if err != nil {
			d.logger.Warn("card_place ignored", "uid", e.UID, "error", err)
			return
		}
		d.logger.Debug("virtual card placed", "uid", string(id))
		inj.Place(id)

	case CardLift:
		inj, ok := d.deps.Cards.(CardInjector)
		if !ok {
			d.logger.Warn("card_lift ignored: reader does not accept injected cards")
			return
		}
		d.logger.Debug("virtual card lifted")
		inj.Lift()

	case Ping:
		d.logger.Debug("ping")

	default:
		d.dispatch(ctx, TimedEvent{Event: ev, At: at})
	}
}

// dispatch reduces ev, executes the resulting commands in order, and reduces
// any observations they produce before returning.
func (d *daemon) dispatch(ctx context.Context, ev Event) {
	queue := []Event{ev}

	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		rr := Reduce(d.state, next, d.cfg)
		if rr.State != nil {
			d.state = rr.State
		}

		for _, b := range rr.Broadcasts {
			logBroadcast(d.logger, b)
			d.publish(b)
		}

		for _, cmd := range rr.Commands {
			runEffect(ctx, d.deps.Player, cmd, d.deps.CommandTimeout, d.logger, func(obs Event) {
				queue = append(queue, obs)
			})
		}
	}
}

func (d *daemon) publish(b StateBroadcast) {
	for _, sink := range d.deps.Sinks {
		select {
		case sink <- b:
		default:
			d.logger.Warn("broadcast sink full, dropping", "type", broadcastType(b))
		}
	}
}

// shutdown leaves the player silent and releases peripherals.
func (d *daemon) shutdown() {
	if d.state.Presence.IsPlaying && d.deps.Player != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		runEffect(ctx, d.deps.Player, CmdPause{}, d.deps.CommandTimeout, d.logger, nil)
		cancel()
		d.state.Presence.IsPlaying = false
	}

	if d.deps.Cards != nil {
		if err := d.deps.Cards.Close(); err != nil {
			d.logger.Warn("close card reader", "error", err)
		}
	}
	if d.deps.Volume != nil {
		if err := d.deps.Volume.Close(); err != nil {
			d.logger.Warn("close volume input", "error", err)
		}
	}
	if d.deps.Player != nil {
		if err := d.deps.Player.Close(); err != nil {
			d.logger.Warn("close player", "error", err)
		}
	}
	d.logger.Info("daemon stopped")
}

func logBroadcast(logger *slog.Logger, b StateBroadcast) {
	switch ev := b.(type) {
	case BroadcastCardInserted:
		logger.Info("card inserted", "uid", ev.UID, "label", ev.Label, "track", uint16(ev.Track), "session", ev.SessionID)
		if ev.Track == NoTrack {
			logger.Warn("card not in table", "uid", ev.UID)
		}
	case BroadcastCardRemoved:
		logger.Info("card removed", "uid", ev.UID, "session", ev.SessionID)
	case BroadcastPlaybackChanged:
		logger.Debug("playback changed", "playing", ev.Playing, "track", uint16(ev.Track))
	case BroadcastVolumeChanged:
		logger.Debug("volume changed", "volume", ev.Volume)
	case BroadcastPlayerStatus:
		logger.Info("player status", "backend", ev.Backend, "ready", ev.Ready)
	}
}
