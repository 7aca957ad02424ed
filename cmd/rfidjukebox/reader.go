package main

import (
	"fmt"
	"log/slog"
	"time"
)

// CardSource is the Card Presence Source.
//
// Poll must not block, must be callable once per tick, and must keep
// reporting a card for as long as it stays on the reader (no halt needed
// to re-detect it). A failed read is reported as Absent.
type CardSource interface {
	Poll() PresenceSample
	Close() error
}

// CardInjector is implemented by sources that accept cards over IPC.
type CardInjector interface {
	Place(id TokenIdentity)
	Lift()
}

// NewCardSource creates a CardSource based on the provided configuration.
func NewCardSource(cfg ReaderConfig, logger *slog.Logger) (CardSource, error) {
	switch cfg.Type {
	case ReaderTypeSerial:
		s, err := OpenSerialCardSource(cfg.Device, cfg.Baud, time.Duration(cfg.StaleMS)*time.Millisecond, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ReaderTypeVirtual:
		return NewVirtualCardSource(cfg.MissEvery), nil
	default:
		return nil, fmt.Errorf("unknown reader type %q", cfg.Type)
	}
}
