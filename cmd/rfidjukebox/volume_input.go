package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// VolumeInput reads the volume potentiometer. Read returns the raw ADC
// value in [0, RawMax]; an error means "no sample this tick".
type VolumeInput interface {
	Read() (int, error)
	Close() error
}

// NewVolumeInput creates a VolumeInput based on the provided configuration.
func NewVolumeInput(cfg VolumeConfig) (VolumeInput, error) {
	switch cfg.Type {
	case VolumeTypeIIO:
		return NewIIOVolumeInput(cfg.Path), nil
	case VolumeTypeMCP3008:
		m, err := OpenMCP3008(cfg.Device, cfg.Channel, cfg.SPISpeedHz)
		if err != nil {
			return nil, err
		}
		return m, nil
	case VolumeTypeFixed:
		return FixedVolumeInput(cfg.Value), nil
	default:
		return nil, fmt.Errorf("unknown volume input type %q", cfg.Type)
	}
}

// IIOVolumeInput reads an IIO sysfs raw channel (in_voltageN_raw).
// The file is re-read every call; sysfs triggers a conversion on read.
type IIOVolumeInput struct {
	path string
}

func NewIIOVolumeInput(path string) *IIOVolumeInput {
	return &IIOVolumeInput{path: path}
}

func (v *IIOVolumeInput) Read() (int, error) {
	b, err := os.ReadFile(v.path)
	if err != nil {
		return 0, fmt.Errorf("iio read: %w", err)
	}
	raw, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("iio parse %q: %w", strings.TrimSpace(string(b)), err)
	}
	return raw, nil
}

func (v *IIOVolumeInput) Close() error { return nil }

// FixedVolumeInput always reports the same raw value.
type FixedVolumeInput int

func (v FixedVolumeInput) Read() (int, error) { return int(v), nil }
func (v FixedVolumeInput) Close() error       { return nil }
