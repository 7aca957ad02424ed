package main

const version = "1.0.0"

// Presence reconciler defaults
const (
	defaultRemovalThreshold = 5   // consecutive absent samples before a card counts as removed
	defaultTickMS           = 100 // tick period (ms); pacing only
)

// Volume adapter defaults (10-bit ADC into the player's comfortable range)
const (
	defaultRawMax    = 1023
	defaultMinVolume = 1
	defaultMaxVolume = 25
)

// Peripheral defaults
const (
	defaultSerialBaud    = 115200
	defaultInitialVolume = 15
	defaultSampleRate    = 44100
	defaultStaleMS       = 300 // bridge report older than this reads as absent
	defaultSPISpeedHz    = 1_000_000

	defaultCommandTimeoutMS = 2000 // per player command
	defaultInitTimeoutMS    = 5000
)

// Service defaults
const (
	defaultIPCSocketPath = "/tmp/rfidjukebox.sock"
	defaultHTTPPort      = 3001
	defaultMDNSService   = "_rfidjukebox._tcp"
	defaultMQTTPrefix    = "rfidjukebox"
)
