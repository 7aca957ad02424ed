package main

// VolumeState remembers the last volume handed to the Playback Controller.
// LastApplied starts at volumeUnset so the first reading always applies.
type VolumeState struct {
	LastApplied int
}

const volumeUnset = -1

// NewVolumeState returns the initial state.
func NewVolumeState() VolumeState {
	return VolumeState{LastApplied: volumeUnset}
}

// VolumeMapping describes how a raw analog reading maps onto player volume.
type VolumeMapping struct {
	RawMax    int // full-scale raw reading (1023 for a 10-bit ADC)
	MinVolume int
	MaxVolume int
}

// Map converts a raw reading into the closed range [MinVolume, MaxVolume]
// using integer linear interpolation (same rounding as Arduino map()).
func (m VolumeMapping) Map(raw int) int {
	lo, hi := m.MinVolume, m.MaxVolume
	if lo > hi {
		lo, hi = hi, lo
	}
	if m.RawMax <= 0 {
		return lo
	}
	if raw < 0 {
		raw = 0
	}
	if raw > m.RawMax {
		raw = m.RawMax
	}
	v := raw*(hi-lo)/m.RawMax + lo
	return clampInt(v, lo, hi)
}

// VolumeSample is one analog reading; OK is false when the read failed.
type VolumeSample struct {
	Raw int
	OK  bool
}

// ApplyVolume maps a sample and reports the value only when it differs
// from the last applied one.
func ApplyVolume(s VolumeState, sample VolumeSample, m VolumeMapping) (VolumeState, []Command) {
	if !sample.OK {
		return s, nil
	}
	v := m.Map(sample.Raw)
	if v == s.LastApplied {
		return s, nil
	}
	s.LastApplied = v
	return s, []Command{CmdSetVolume{Volume: v}}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
