package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// DFPlayer PRO (DF1201S) over UART
// ============================================================================
//
// The module speaks line-based AT commands at 115200 8N1 and answers "OK".
// Tracks live on its flash as /0001.mp3 .. /9999.mp3.
//
// AT+PLAY=PP toggles play/pause. There is no explicit pause, so Pause() is
// only safe when the caller knows something is playing.
// ============================================================================

const (
	dfplayerMaxVolume = 30

	dfplayerBootDelay    = 1000 * time.Millisecond
	dfplayerModeDelay    = 500 * time.Millisecond
	dfplayerCommandDelay = 50 * time.Millisecond
	dfplayerPlayDelay    = 100 * time.Millisecond
)

// DFPlayer drives a DFPlayer PRO through AT commands.
type DFPlayer struct {
	mu   sync.Mutex
	port io.ReadWriteCloser

	device        string
	baud          int
	initialVolume int
	logger        *slog.Logger
	ready         bool

	// open and sleep are replaced in tests.
	open  func() (io.ReadWriteCloser, error)
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDFPlayer returns an uninitialized DFPlayer bound to a serial device.
func NewDFPlayer(device string, baud int, initialVolume int, logger *slog.Logger) *DFPlayer {
	p := &DFPlayer{
		device:        device,
		baud:          baud,
		initialVolume: initialVolume,
		logger:        logger,
		sleep:         sleepCtx,
	}
	p.open = func() (io.ReadWriteCloser, error) {
		return openSerial(p.device, p.baud)
	}
	return p
}

// Init opens the UART, switches the module to music mode with single-track
// repeat, and sets the initial volume.
func (p *DFPlayer) Init(ctx context.Context) error {
	p.logger.Info("dfplayer initializing", "device", p.device, "baud", p.baud)

	port, err := p.open()
	if err != nil {
		return fmt.Errorf("dfplayer: %w", err)
	}

	p.mu.Lock()
	p.port = port
	p.mu.Unlock()

	go p.drainResponses(port)

	// Wait for the module to boot.
	if err := p.sleep(ctx, dfplayerBootDelay); err != nil {
		return err
	}

	if err := p.send(ctx, "AT+FUNCTION=MUSIC"); err != nil {
		return fmt.Errorf("dfplayer: music mode: %w", err)
	}
	if err := p.sleep(ctx, dfplayerModeDelay); err != nil {
		return err
	}
	if err := p.send(ctx, "AT+PLAYMODE=1"); err != nil {
		return fmt.Errorf("dfplayer: repeat mode: %w", err)
	}
	if err := p.send(ctx, volumeCommand(p.initialVolume)); err != nil {
		return fmt.Errorf("dfplayer: initial volume: %w", err)
	}

	p.mu.Lock()
	p.ready = true
	p.mu.Unlock()

	p.logger.Info("dfplayer ready", "initial_volume", p.initialVolume)
	return nil
}

// PlayLooped plays /NNNN.mp3 and re-asserts single-track repeat.
func (p *DFPlayer) PlayLooped(ctx context.Context, track TrackSelector) error {
	if !p.Ready() {
		return ErrPlayerNotReady
	}
	if !track.Valid() {
		return fmt.Errorf("dfplayer: invalid track %d", track)
	}

	if err := p.send(ctx, "AT+PLAYFILE=/"+track.FileName()); err != nil {
		return fmt.Errorf("dfplayer: play %s: %w", track.FileName(), err)
	}
	if err := p.sleep(ctx, dfplayerPlayDelay); err != nil {
		return err
	}
	if err := p.send(ctx, "AT+PLAYMODE=1"); err != nil {
		return fmt.Errorf("dfplayer: repeat mode: %w", err)
	}
	return nil
}

// Pause sends the play/pause toggle.
func (p *DFPlayer) Pause(ctx context.Context) error {
	if !p.Ready() {
		return ErrPlayerNotReady
	}
	if err := p.send(ctx, "AT+PLAY=PP"); err != nil {
		return fmt.Errorf("dfplayer: pause: %w", err)
	}
	return nil
}

// SetVolume sets the module volume, clamped to 0..30.
func (p *DFPlayer) SetVolume(ctx context.Context, volume int) error {
	if !p.Ready() {
		return ErrPlayerNotReady
	}
	if err := p.send(ctx, volumeCommand(volume)); err != nil {
		return fmt.Errorf("dfplayer: volume: %w", err)
	}
	return nil
}

func (p *DFPlayer) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *DFPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = false
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}

func volumeCommand(volume int) string {
	return fmt.Sprintf("AT+VOL=%d", clampInt(volume, 0, dfplayerMaxVolume))
}

// send writes one AT command terminated by CRLF, then waits for the module
// to process it.
func (p *DFPlayer) send(ctx context.Context, cmd string) error {
	p.mu.Lock()
	port := p.port
	if port == nil {
		p.mu.Unlock()
		return fmt.Errorf("port closed")
	}
	_, err := io.WriteString(port, cmd+"\r\n")
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.logger.Debug("dfplayer sent", "cmd", cmd)
	return p.sleep(ctx, dfplayerCommandDelay)
}

// drainResponses reads module replies so the UART buffer never fills.
// Replies are only logged.
func (p *DFPlayer) drainResponses(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		p.logger.Debug("dfplayer reply", "line", line)
	}
}

// sleepCtx waits for d or until ctx is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
