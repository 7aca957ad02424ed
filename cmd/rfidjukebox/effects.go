package main

import (
	"context"
	"log/slog"
	"time"
)

// runEffect executes a single reducer-emitted Command against the Playback
// Controller and reports failures via onEvent.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly; it only emits Events to be reduced by the daemon loop.
// - Failures are reported, never retried. The reconciler's view of "playing" stays as decided.
func runEffect(
	ctx context.Context,
	player Player,
	cmd Command,
	timeout time.Duration,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	now := time.Now()

	fail := func(err error, args ...any) {
		logger.Warn("player command failed", append([]any{"command", cmd.String(), "error", err}, args...)...)
		onEvent(PlayerCommandFailed{Command: cmd, Err: err, At: now})
	}

	if _, ok := cmd.(CmdPublishStateSnapshot); !ok && player == nil {
		fail(errNoPlayer{})
		return
	}

	if timeout <= 0 {
		timeout = time.Duration(defaultCommandTimeoutMS) * time.Millisecond
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch c := cmd.(type) {
	case CmdPlayLooped:
		logger.Info("play looped", "track", uint16(c.Track), "file", c.Track.FileName())
		if err := player.PlayLooped(cctx, c.Track); err != nil {
			fail(err, "track", uint16(c.Track))
		}

	case CmdPause:
		logger.Info("pause")
		if err := player.Pause(cctx); err != nil {
			fail(err)
		}

	case CmdSetVolume:
		logger.Debug("set volume", "volume", c.Volume)
		if err := player.SetVolume(cctx, c.Volume); err != nil {
			fail(err, "volume", c.Volume)
		}

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		// This keeps the reducer pure by moving the channel send into the effects layer.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the daemon loop.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
		onEvent(PlayerCommandFailed{
			Command: cmd,
			Err:     errUnknownCommand{cmd: cmd},
			At:      now,
		})
	}
}

// errNoPlayer indicates the daemon was asked to execute a command without a player.
type errNoPlayer struct{}

func (errNoPlayer) Error() string { return "no player" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
