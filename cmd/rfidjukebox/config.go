package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the rfidjukebox daemon.
//
// Keep defaults and validation centralized so the rest of the code can
// assume a well-formed config.
type Config struct {
	// Card reader (presence source)
	Reader ReaderConfig `yaml:"reader"`

	// Volume potentiometer input
	Volume VolumeConfig `yaml:"volume"`

	// Playback backend
	Player PlayerConfig `yaml:"player"`

	// Presence debounce and tick pacing
	Reconciler ReconcilerFileConfig `yaml:"reconciler"`

	// Card to track table
	Cards []CardEntry `yaml:"cards"`

	// IPC configuration (used by jukebox-ctl)
	IPC IPCConfig `yaml:"ipc"`

	// HTTP status and state websocket
	HTTP HTTPConfig `yaml:"http"`

	// Zeroconf advertisement of the HTTP server
	MDNS MDNSConfig `yaml:"mdns"`

	// Optional event publishing
	MQTT MQTTConfig `yaml:"mqtt"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// Reader types
const (
	ReaderTypeSerial  = "serial"
	ReaderTypeVirtual = "virtual"
)

type ReaderConfig struct {
	Type    string `yaml:"type"`
	Device  string `yaml:"device"`
	Baud    int    `yaml:"baud"`
	StaleMS int    `yaml:"stale_ms"`

	// Virtual reader only: report every Nth poll as a miss (0 = never).
	MissEvery int `yaml:"miss_every,omitempty"`
}

// Volume input types
const (
	VolumeTypeIIO     = "iio"
	VolumeTypeMCP3008 = "mcp3008"
	VolumeTypeFixed   = "fixed"
)

type VolumeConfig struct {
	Type string `yaml:"type"`

	// iio: sysfs raw file, e.g. /sys/bus/iio/devices/iio:device0/in_voltage0_raw
	Path string `yaml:"path,omitempty"`

	// mcp3008: spidev node and single-ended channel (0-7)
	Device     string `yaml:"device,omitempty"`
	Channel    int    `yaml:"channel,omitempty"`
	SPISpeedHz int    `yaml:"spi_speed_hz,omitempty"`

	// fixed: raw reading reported every tick
	Value int `yaml:"value,omitempty"`

	RawMax int `yaml:"raw_max"`
	Min    int `yaml:"min"`
	Max    int `yaml:"max"`
}

// Player types
const (
	PlayerTypeDFPlayer = "dfplayer"
	PlayerTypeLocal    = "local"
	PlayerTypeLog      = "log"
)

type PlayerConfig struct {
	Type string `yaml:"type"`

	// dfplayer
	Device        string `yaml:"device,omitempty"`
	Baud          int    `yaml:"baud,omitempty"`
	InitialVolume int    `yaml:"initial_volume"`

	// local
	MusicDir   string `yaml:"music_dir,omitempty"`
	SampleRate int    `yaml:"sample_rate,omitempty"`

	CommandTimeoutMS int `yaml:"command_timeout_ms"`
	InitTimeoutMS    int `yaml:"init_timeout_ms"`
}

type ReconcilerFileConfig struct {
	RemovalThreshold int `yaml:"removal_threshold"`
	TickMS           int `yaml:"tick_ms"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Port int `yaml:"port"` // 0 disables the HTTP server
}

type MDNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Service  string `yaml:"service"`
	Instance string `yaml:"instance,omitempty"` // defaults to the hostname
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://127.0.0.1:1883
	ClientID    string `yaml:"client_id,omitempty"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Reader: ReaderConfig{
			Type:    ReaderTypeSerial,
			Device:  "/dev/ttyUSB0",
			Baud:    defaultSerialBaud,
			StaleMS: defaultStaleMS,
		},
		Volume: VolumeConfig{
			Type:       VolumeTypeIIO,
			Path:       "/sys/bus/iio/devices/iio:device0/in_voltage0_raw",
			Device:     "/dev/spidev0.0",
			SPISpeedHz: defaultSPISpeedHz,
			RawMax:     defaultRawMax,
			Min:        defaultMinVolume,
			Max:        defaultMaxVolume,
		},
		Player: PlayerConfig{
			Type:             PlayerTypeDFPlayer,
			Device:           "/dev/ttyAMA0",
			Baud:             defaultSerialBaud,
			InitialVolume:    defaultInitialVolume,
			MusicDir:         "~/Music/jukebox",
			SampleRate:       defaultSampleRate,
			CommandTimeoutMS: defaultCommandTimeoutMS,
			InitTimeoutMS:    defaultInitTimeoutMS,
		},
		Reconciler: ReconcilerFileConfig{
			RemovalThreshold: defaultRemovalThreshold,
			TickMS:           defaultTickMS,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		HTTP: HTTPConfig{
			Port: defaultHTTPPort,
		},
		MDNS: MDNSConfig{
			Enabled: false,
			Service: defaultMDNSService,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "tcp://127.0.0.1:1883",
			TopicPrefix: defaultMQTTPrefix,
			QoS:         0,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return parseConfig(b)
}

func parseConfig(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		// An empty or comment-only file means "all defaults".
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides applies command-line overrides on top of a loaded config.
//
// Flags pass pointers; a nil pointer means "not set on the command line".
// main.go decides which flags exist.
type FlagOverrides struct {
	ReaderType   *string
	ReaderDevice *string

	VolumeType  *string
	VolumeFixed *int

	PlayerType     *string
	PlayerDevice   *string
	PlayerMusicDir *string

	RemovalThreshold *int
	TickMS           *int

	IPCSocketPath *string
	HTTPPort      *int

	MDNSEnabled *bool
	MQTTEnabled *bool
	MQTTBroker  *string

	LogLevel *string
}

// Apply merges the overrides into cfg. If an override pointer is nil, it is ignored.
// If the pointer is non-nil, the value is applied (even if it is a "zero value").
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.ReaderType != nil {
		cfg.Reader.Type = *o.ReaderType
	}
	if o.ReaderDevice != nil {
		cfg.Reader.Device = *o.ReaderDevice
	}

	if o.VolumeType != nil {
		cfg.Volume.Type = *o.VolumeType
	}
	if o.VolumeFixed != nil {
		cfg.Volume.Value = *o.VolumeFixed
	}

	if o.PlayerType != nil {
		cfg.Player.Type = *o.PlayerType
	}
	if o.PlayerDevice != nil {
		cfg.Player.Device = *o.PlayerDevice
	}
	if o.PlayerMusicDir != nil {
		cfg.Player.MusicDir = *o.PlayerMusicDir
	}

	if o.RemovalThreshold != nil {
		cfg.Reconciler.RemovalThreshold = *o.RemovalThreshold
	}
	if o.TickMS != nil {
		cfg.Reconciler.TickMS = *o.TickMS
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPPort != nil {
		cfg.HTTP.Port = *o.HTTPPort
	}

	if o.MDNSEnabled != nil {
		cfg.MDNS.Enabled = *o.MDNSEnabled
	}
	if o.MQTTEnabled != nil {
		cfg.MQTT.Enabled = *o.MQTTEnabled
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Reader
	switch c.Reader.Type {
	case ReaderTypeSerial:
		if c.Reader.Device == "" {
			return errors.New("reader.device must not be empty for a serial reader")
		}
		if !supportedBaud(c.Reader.Baud) {
			return fmt.Errorf("reader.baud %d is not a supported rate", c.Reader.Baud)
		}
		if c.Reader.StaleMS <= 0 {
			return errors.New("reader.stale_ms must be > 0")
		}
	case ReaderTypeVirtual:
		if c.Reader.MissEvery < 0 {
			return errors.New("reader.miss_every must be >= 0")
		}
		if c.Reader.MissEvery == 1 {
			return errors.New("reader.miss_every must not be 1 (every poll would miss)")
		}
	default:
		return fmt.Errorf("reader.type must be %q or %q", ReaderTypeSerial, ReaderTypeVirtual)
	}

	// Volume
	switch c.Volume.Type {
	case VolumeTypeIIO:
		if c.Volume.Path == "" {
			return errors.New("volume.path must not be empty for an iio input")
		}
	case VolumeTypeMCP3008:
		if c.Volume.Device == "" {
			return errors.New("volume.device must not be empty for an mcp3008 input")
		}
		if c.Volume.Channel < 0 || c.Volume.Channel > 7 {
			return errors.New("volume.channel must be between 0 and 7")
		}
		if c.Volume.SPISpeedHz <= 0 {
			return errors.New("volume.spi_speed_hz must be > 0")
		}
	case VolumeTypeFixed:
		if c.Volume.Value < 0 || c.Volume.Value > c.Volume.RawMax {
			return errors.New("volume.value must be between 0 and volume.raw_max")
		}
	default:
		return fmt.Errorf("volume.type must be %q, %q or %q", VolumeTypeIIO, VolumeTypeMCP3008, VolumeTypeFixed)
	}
	if c.Volume.RawMax <= 0 {
		return errors.New("volume.raw_max must be > 0")
	}
	if c.Volume.Min < 0 {
		return errors.New("volume.min must be >= 0")
	}
	if c.Volume.Min > c.Volume.Max {
		return errors.New("volume.min must be <= volume.max")
	}

	// Player
	switch c.Player.Type {
	case PlayerTypeDFPlayer:
		if c.Player.Device == "" {
			return errors.New("player.device must not be empty for a dfplayer")
		}
		if !supportedBaud(c.Player.Baud) {
			return fmt.Errorf("player.baud %d is not a supported rate", c.Player.Baud)
		}
		if c.Volume.Max > dfplayerMaxVolume {
			return fmt.Errorf("volume.max must be <= %d for a dfplayer", dfplayerMaxVolume)
		}
		if c.Player.InitialVolume < 0 || c.Player.InitialVolume > dfplayerMaxVolume {
			return fmt.Errorf("player.initial_volume must be between 0 and %d", dfplayerMaxVolume)
		}
	case PlayerTypeLocal:
		if c.Player.MusicDir == "" {
			return errors.New("player.music_dir must not be empty for a local player")
		}
		if c.Player.SampleRate <= 0 {
			return errors.New("player.sample_rate must be > 0")
		}
		if c.Volume.Max <= 0 {
			return errors.New("volume.max must be > 0 for a local player")
		}
	case PlayerTypeLog:
	default:
		return fmt.Errorf("player.type must be %q, %q or %q", PlayerTypeDFPlayer, PlayerTypeLocal, PlayerTypeLog)
	}
	if c.Player.CommandTimeoutMS <= 0 {
		return errors.New("player.command_timeout_ms must be > 0")
	}
	if c.Player.InitTimeoutMS <= 0 {
		return errors.New("player.init_timeout_ms must be > 0")
	}

	// Reconciler
	if c.Reconciler.RemovalThreshold < 1 {
		return errors.New("reconciler.removal_threshold must be >= 1")
	}
	if c.Reconciler.TickMS <= 0 || c.Reconciler.TickMS > 10000 {
		return errors.New("reconciler.tick_ms must be between 1 and 10000")
	}

	// Cards
	if _, err := NewCardTable(c.Cards); err != nil {
		return fmt.Errorf("cards: %w", err)
	}

	// IPC / HTTP
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("http.port must be between 0 and 65535")
	}

	// mDNS
	if c.MDNS.Enabled {
		if c.HTTP.Port == 0 {
			return errors.New("mdns.enabled requires http.port")
		}
		if c.MDNS.Service == "" {
			return errors.New("mdns.service must not be empty")
		}
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.enabled is true but mqtt.broker is empty")
		}
		if c.MQTT.TopicPrefix == "" {
			return errors.New("mqtt.topic_prefix must not be empty")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return errors.New("mqtt.qos must be 0, 1 or 2")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToReduceConfig builds the reducer's static configuration.
func (c *Config) ToReduceConfig(router Router, newSessionID func() string) ReduceConfig {
	return ReduceConfig{
		Reconciler:   ReconcilerConfig{RemovalThreshold: c.Reconciler.RemovalThreshold},
		Volume:       c.VolumeMapping(),
		Router:       router,
		NewSessionID: newSessionID,
	}
}

// VolumeMapping returns the raw-to-volume mapping.
func (c *Config) VolumeMapping() VolumeMapping {
	return VolumeMapping{
		RawMax:    c.Volume.RawMax,
		MinVolume: c.Volume.Min,
		MaxVolume: c.Volume.Max,
	}
}

// TickPeriod is the reconciler tick period.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.Reconciler.TickMS) * time.Millisecond
}

// CommandTimeout bounds a single player command.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.Player.CommandTimeoutMS) * time.Millisecond
}

// InitTimeout bounds player initialization.
func (c *Config) InitTimeout() time.Duration {
	return time.Duration(c.Player.InitTimeoutMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
