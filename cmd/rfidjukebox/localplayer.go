package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ebitengine/oto/v3"
	"github.com/hajimehoshi/go-mp3"
)

// LocalPlayer loops <dir>/NNNN.mp3 through the host sound card.
//
// Unlike the DFPlayer, Pause here is a real pause. The reducer still gates
// it; nothing relies on that difference.
type LocalPlayer struct {
	mu sync.Mutex

	dir        string
	sampleRate int
	maxVolume  int
	logger     *slog.Logger

	otoCtx *oto.Context
	player *oto.Player
	file   *os.File
	gain   float64
	ready  bool
}

// NewLocalPlayer returns an uninitialized local player. maxVolume is the top
// of the volume domain; SetVolume(maxVolume) is unity gain.
func NewLocalPlayer(dir string, sampleRate int, logger *slog.Logger) *LocalPlayer {
	return &LocalPlayer{
		dir:        dir,
		sampleRate: sampleRate,
		maxVolume:  defaultMaxVolume,
		logger:     logger,
		gain:       1.0,
	}
}

// SetVolumeRange sets the top of the volume domain used for gain mapping.
func (p *LocalPlayer) SetVolumeRange(maxVolume int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if maxVolume > 0 {
		p.maxVolume = maxVolume
	}
}

// Init opens the audio device. Only one oto context may exist per process.
func (p *LocalPlayer) Init(ctx context.Context) error {
	st, err := os.Stat(p.dir)
	if err != nil {
		return fmt.Errorf("local player: music dir: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("local player: %s is not a directory", p.dir)
	}

	op := &oto.NewContextOptions{
		SampleRate:   p.sampleRate,
		ChannelCount: 2, // go-mp3 always decodes to 16-bit stereo
		Format:       oto.FormatSignedInt16LE,
	}
	otoCtx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("local player: create oto context: %w", err)
	}

	select {
	case <-readyChan:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.Lock()
	p.otoCtx = otoCtx
	p.ready = true
	p.mu.Unlock()

	p.logger.Info("local player ready", "music_dir", p.dir, "sample_rate", p.sampleRate)
	return nil
}

// PlayLooped replaces whatever is playing with track, looping forever.
func (p *LocalPlayer) PlayLooped(_ context.Context, track TrackSelector) error {
	if !track.Valid() {
		return fmt.Errorf("local player: invalid track %d", track)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return ErrPlayerNotReady
	}

	path := filepath.Join(p.dir, track.FileName())
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("local player: %w", err)
	}

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("local player: decode %s: %w", path, err)
	}
	if dec.SampleRate() != p.sampleRate {
		p.logger.Warn("mp3 sample rate differs from output; pitch will be off",
			"file", path, "file_rate", dec.SampleRate(), "output_rate", p.sampleRate)
	}

	p.stopLocked()

	p.file = f
	p.player = p.otoCtx.NewPlayer(newLoopReader(dec))
	p.player.SetVolume(p.gain)
	p.player.Play()

	p.logger.Debug("local player looping", "file", path)
	return nil
}

// Pause pauses the current player, if any.
func (p *LocalPlayer) Pause(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return ErrPlayerNotReady
	}
	if p.player != nil {
		p.player.Pause()
	}
	return nil
}

// SetVolume maps volume in [0, maxVolume] onto player gain [0, 1].
func (p *LocalPlayer) SetVolume(_ context.Context, volume int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return ErrPlayerNotReady
	}
	p.gain = float64(clampInt(volume, 0, p.maxVolume)) / float64(p.maxVolume)
	if p.player != nil {
		p.player.SetVolume(p.gain)
	}
	return nil
}

func (p *LocalPlayer) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *LocalPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	if p.otoCtx != nil {
		if err := p.otoCtx.Suspend(); err != nil {
			p.logger.Warn("local player suspend failed", "error", err)
		}
	}
	p.ready = false
	return nil
}

func (p *LocalPlayer) stopLocked() {
	if p.player != nil {
		p.player.Pause()
		p.player.Close()
		p.player = nil
	}
	if p.file != nil {
		p.file.Close()
		p.file = nil
	}
}

// ============================================================================
// loopReader
// ============================================================================

// loopReader rewinds its source on EOF so a track repeats indefinitely.
type loopReader struct {
	src io.ReadSeeker
}

func newLoopReader(src io.ReadSeeker) *loopReader {
	return &loopReader{src: src}
}

func (l *loopReader) Read(p []byte) (int, error) {
	rewound := false
	for {
		n, err := l.src.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return 0, err
		}
		// An empty source would spin forever.
		if rewound {
			return 0, io.EOF
		}
		if _, err := l.src.Seek(0, io.SeekStart); err != nil {
			return 0, fmt.Errorf("rewind: %w", err)
		}
		rewound = true
	}
}
