package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// TokenIdentity is a card UID in canonical form: uppercase hex bytes joined
// by colons, e.g. "C1:98:CC:E4". The empty string means "no card".
type TokenIdentity string

// NoToken is the reserved "no card" identity.
const NoToken TokenIdentity = ""

// maxUIDBytes is the longest UID an ISO 14443A card can report (triple size).
const maxUIDBytes = 10

// TrackSelector identifies a loopable asset in [1, 9999]. Zero means "no mapping".
type TrackSelector uint16

const (
	NoTrack  TrackSelector = 0
	MaxTrack TrackSelector = 9999
)

// Valid reports whether t names a playable asset.
func (t TrackSelector) Valid() bool {
	return t >= 1 && t <= MaxTrack
}

// FileName returns the asset name used on the player's storage ("0006.mp3").
func (t TrackSelector) FileName() string {
	return fmt.Sprintf("%04d.mp3", uint16(t))
}

var errEmptyUID = errors.New("empty uid")

// ParseTokenIdentity canonicalizes a UID given as colon, dash or space
// separated hex ("c1:98:cc:e4", "C1-98-CC-E4") or as a bare hex string
// ("C198CCE4").
func ParseTokenIdentity(s string) (TokenIdentity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoToken, errEmptyUID
	}

	compact := strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
	if len(compact)%2 != 0 {
		return NoToken, fmt.Errorf("uid %q: odd number of hex digits", s)
	}

	raw, err := hex.DecodeString(compact)
	if err != nil {
		return NoToken, fmt.Errorf("uid %q: %w", s, err)
	}
	if len(raw) > maxUIDBytes {
		return NoToken, fmt.Errorf("uid %q: %d bytes exceeds %d", s, len(raw), maxUIDBytes)
	}

	return IdentityFromBytes(raw), nil
}

// IdentityFromBytes formats raw UID bytes into canonical form.
func IdentityFromBytes(uid []byte) TokenIdentity {
	if len(uid) == 0 {
		return NoToken
	}
	var b strings.Builder
	b.Grow(len(uid)*3 - 1)
	for i, v := range uid {
		if i > 0 {
			b.WriteByte(':')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return TokenIdentity(b.String())
}

// PresenceSample is the result of one card poll. A failed or garbled read
// is indistinguishable from absence.
type PresenceSample struct {
	Present  bool
	Identity TokenIdentity
}

// Present returns a sample for a readable card.
func Present(id TokenIdentity) PresenceSample {
	if id == NoToken {
		return Absent()
	}
	return PresenceSample{Present: true, Identity: id}
}

// Absent returns a sample for "no card readable this tick".
func Absent() PresenceSample {
	return PresenceSample{}
}

func (p PresenceSample) String() string {
	if !p.Present {
		return "absent"
	}
	return "present(" + string(p.Identity) + ")"
}
