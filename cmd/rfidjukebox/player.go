package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Player is the Playback Controller capability used by the effects layer.
//
// Operations are one-directional. Implementations make no promise about
// repeated calls (the DFPlayer pause is a toggle); callers own the
// "is playing" bit and suppress repeats themselves.
type Player interface {
	// Init brings the device up. A failed Init leaves Ready() false.
	Init(ctx context.Context) error

	// PlayLooped starts track and repeats it until superseded.
	// It must not require a prior Pause.
	PlayLooped(ctx context.Context, track TrackSelector) error

	// Pause suspends playback.
	Pause(ctx context.Context) error

	// SetVolume applies an already clamped volume value.
	SetVolume(ctx context.Context, volume int) error

	// Ready reports whether Init succeeded.
	Ready() bool

	Close() error
}

// ErrPlayerNotReady is returned by calls made on a device that never initialized.
var ErrPlayerNotReady = errors.New("player not ready")

// NewPlayer constructs the backend selected in cfg. maxVolume is the top of
// the volume domain produced by the volume input.
func NewPlayer(cfg PlayerConfig, maxVolume int, logger *slog.Logger) (Player, error) {
	switch cfg.Type {
	case PlayerTypeDFPlayer:
		return NewDFPlayer(cfg.Device, cfg.Baud, cfg.InitialVolume, logger), nil
	case PlayerTypeLocal:
		p := NewLocalPlayer(ExpandPath(cfg.MusicDir), cfg.SampleRate, logger)
		p.SetVolumeRange(maxVolume)
		return p, nil
	case PlayerTypeLog:
		return NewLogPlayer(logger), nil
	default:
		return nil, fmt.Errorf("unknown player type %q", cfg.Type)
	}
}

// ============================================================================
// logPlayer
// ============================================================================

// logPlayer only logs. Used on a bench without audio hardware.
type logPlayer struct {
	logger *slog.Logger
	ready  bool
}

// NewLogPlayer returns a Player that records calls in the log.
func NewLogPlayer(logger *slog.Logger) Player {
	return &logPlayer{logger: logger}
}

func (p *logPlayer) Init(context.Context) error {
	p.ready = true
	p.logger.Info("log player ready")
	return nil
}

func (p *logPlayer) PlayLooped(_ context.Context, track TrackSelector) error {
	p.logger.Info("player: play looped", "track", uint16(track), "file", track.FileName())
	return nil
}

func (p *logPlayer) Pause(context.Context) error {
	p.logger.Info("player: pause")
	return nil
}

func (p *logPlayer) SetVolume(_ context.Context, volume int) error {
	p.logger.Info("player: volume", "volume", volume)
	return nil
}

func (p *logPlayer) Ready() bool  { return p.ready }
func (p *logPlayer) Close() error { return nil }
