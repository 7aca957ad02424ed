package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"rfidjukebox/internal/discovery"
)

func printVersion() {
	fmt.Printf("rfidjukebox v%s\n", version)
	fmt.Println("RFID card jukebox daemon: place a card, hear its track")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  rfidjukebox [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Polls a card reader every tick, debounces card presence, and drives a")
	fmt.Println("  player: a new card starts its track looping, removing the card pauses.")
	fmt.Println("  A potentiometer sets the volume.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (flags override file values)")
	fmt.Println()
	fmt.Println("  -reader string")
	fmt.Println("        Card reader: serial|virtual (default \"serial\")")
	fmt.Println()
	fmt.Println("  -reader-device string")
	fmt.Println("        Reader bridge UART (default \"/dev/ttyUSB0\")")
	fmt.Println()
	fmt.Println("  -player string")
	fmt.Println("        Player backend: dfplayer|local|log (default \"dfplayer\")")
	fmt.Println()
	fmt.Println("  -player-device string")
	fmt.Println("        DFPlayer UART (default \"/dev/ttyAMA0\")")
	fmt.Println()
	fmt.Println("  -music-dir string")
	fmt.Println("        Directory with NNNN.mp3 files for the local player")
	fmt.Println()
	fmt.Println("  -volume string")
	fmt.Println("        Volume input: iio|mcp3008|fixed (default \"iio\")")
	fmt.Println()
	fmt.Println("  -volume-fixed int")
	fmt.Println("        Raw reading reported by the fixed volume input")
	fmt.Println()
	fmt.Println("  -removal-threshold int")
	fmt.Printf("        Consecutive misses before a card counts as removed (default %d)\n", defaultRemovalThreshold)
	fmt.Println()
	fmt.Println("  -tick-ms int")
	fmt.Printf("        Tick period in ms (default %d)\n", defaultTickMS)
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Printf("        HTTP status/websocket port, 0 disables (default %d)\n", defaultHTTPPort)
	fmt.Println()
	fmt.Println("  -mdns")
	fmt.Println("        Advertise the HTTP server over mDNS")
	fmt.Println()
	fmt.Println("  -mqtt")
	fmt.Println("        Publish state changes to MQTT")
	fmt.Println()
	fmt.Println("  -mqtt-broker string")
	fmt.Println("        MQTT broker URL (default \"tcp://127.0.0.1:1883\")")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Run with a config file")
	fmt.Println("  rfidjukebox -config /etc/rfidjukebox.yaml")
	fmt.Println()
	fmt.Println("  # Bench setup: virtual reader, log player, fixed volume")
	fmt.Println("  rfidjukebox -config config.example.yaml -reader virtual -player log -volume fixed -volume-fixed 512")
	fmt.Println("  jukebox-ctl place C1:98:CC:E4")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - The reader bridge prints one UID per line, or \"-\" when no card answers")
	fmt.Println("  - Tracks are NNNN.mp3 (0001.mp3 .. 9999.mp3)")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath       = flag.String("config", "", "Path to YAML config file")
		readerType       = flag.String("reader", ReaderTypeSerial, "Card reader: serial|virtual")
		readerDevice     = flag.String("reader-device", "/dev/ttyUSB0", "Reader bridge UART")
		playerType       = flag.String("player", PlayerTypeDFPlayer, "Player backend: dfplayer|local|log")
		playerDevice     = flag.String("player-device", "/dev/ttyAMA0", "DFPlayer UART")
		musicDir         = flag.String("music-dir", "", "Directory with NNNN.mp3 files for the local player")
		volumeType       = flag.String("volume", VolumeTypeIIO, "Volume input: iio|mcp3008|fixed")
		volumeFixed      = flag.Int("volume-fixed", 0, "Raw reading reported by the fixed volume input")
		removalThreshold = flag.Int("removal-threshold", defaultRemovalThreshold, "Consecutive misses before a card counts as removed")
		tickMS           = flag.Int("tick-ms", defaultTickMS, "Tick period in ms")
		ipcSocketPath    = flag.String("ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC")
		httpPort         = flag.Int("http-port", defaultHTTPPort, "HTTP status/websocket port (0 disables)")
		mdnsEnabled      = flag.Bool("mdns", false, "Advertise the HTTP server over mDNS")
		mqttEnabled      = flag.Bool("mqtt", false, "Publish state changes to MQTT")
		mqttBroker       = flag.String("mqtt-broker", "tcp://127.0.0.1:1883", "MQTT broker URL")
		logLevelStr      = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		_                = flag.Bool("version", false, "Print version and exit")
		_                = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "reader":
			o.ReaderType = readerType
		case "reader-device":
			o.ReaderDevice = readerDevice
		case "player":
			o.PlayerType = playerType
		case "player-device":
			o.PlayerDevice = playerDevice
		case "music-dir":
			o.PlayerMusicDir = musicDir
		case "volume":
			o.VolumeType = volumeType
		case "volume-fixed":
			o.VolumeFixed = volumeFixed
		case "removal-threshold":
			o.RemovalThreshold = removalThreshold
		case "tick-ms":
			o.TickMS = tickMS
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "http-port":
			o.HTTPPort = httpPort
		case "mdns":
			o.MDNSEnabled = mdnsEnabled
		case "mqtt":
			o.MQTTEnabled = mqttEnabled
		case "mqtt-broker":
			o.MQTTBroker = mqttBroker
		case "log-level":
			o.LogLevel = logLevelStr
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	logger := setupLogger(logLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// run wires the peripherals and services and blocks until a signal arrives.
func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Debug("starting rfidjukebox", "version", version)

	router, err := NewCardTable(cfg.Cards)
	if err != nil {
		return fmt.Errorf("cards: %w", err)
	}
	if router.Len() == 0 {
		logger.Warn("card table is empty; every card will pause playback")
	}

	// Peripherals. Failures degrade; they never stop the reconciler.
	cards, err := NewCardSource(cfg.Reader, logger)
	if err != nil {
		logger.Error("card reader unavailable, falling back to virtual reader", "type", cfg.Reader.Type, "error", err)
		cards = NewVirtualCardSource(0)
	}

	volume, err := NewVolumeInput(cfg.Volume)
	if err != nil {
		logger.Warn("volume input unavailable, volume stays at its last value", "type", cfg.Volume.Type, "error", err)
	}

	player, err := NewPlayer(cfg.Player, cfg.Volume.Max, logger)
	if err != nil {
		return fmt.Errorf("player: %w", err)
	}
	initCtx, cancelInit := context.WithTimeout(ctx, cfg.InitTimeout())
	if err := player.Init(initCtx); err != nil {
		logger.Warn("player init failed; continuing without audio", "backend", cfg.Player.Type, "error", err)
	}
	cancelInit()

	events := make(chan Event, 64)
	events <- PlayerStatusObserved{Ready: player.Ready(), Backend: cfg.Player.Type, At: time.Now()}

	var (
		wg    sync.WaitGroup
		sinks []chan<- StateBroadcast
	)

	// IPC
	ipcListener, err := listenIPC(cfg.IPC.SocketPath)
	if err != nil {
		return fmt.Errorf("IPC: %w", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := serveIPC(ctx, ipcListener, cfg.IPC.SocketPath, events, logger); err != nil {
			logger.Error("IPC server error", "error", err)
		}
	}()

	// HTTP + state websocket
	if cfg.HTTP.Port > 0 {
		wsServer := NewServer(logger, events, ServerConfig{})
		wsBroadcasts := make(chan StateBroadcast, 128)
		sinks = append(sinks, wsBroadcasts)

		wg.Add(3)
		go func() {
			defer wg.Done()
			wsServer.Hub().Run(ctx)
		}()
		go func() {
			defer wg.Done()
			RunBroadcaster(ctx, wsServer.Hub(), wsBroadcasts, logger)
		}()
		go func() {
			defer wg.Done()
			if err := runHTTPServer(ctx, cfg.HTTP.Port, newHTTPMux(events, wsServer, logger), logger); err != nil {
				logger.Error("HTTP server error", "error", err)
			}
		}()
	}

	// mDNS
	if cfg.MDNS.Enabled {
		adv, err := discovery.Advertise(ctx, discovery.Config{
			Instance: cfg.MDNS.Instance,
			Service:  cfg.MDNS.Service,
			Port:     cfg.HTTP.Port,
			Path:     "/ws",
			Version:  version,
		})
		if err != nil {
			logger.Warn("mDNS advertisement failed", "error", err)
		} else {
			defer adv.Shutdown()
			logger.Info("mDNS advertising", "service", cfg.MDNS.Service, "port", cfg.HTTP.Port)
		}
	}

	// MQTT
	if cfg.MQTT.Enabled {
		pub := NewMQTTPublisher(cfg.MQTT, logger)
		if err := pub.Connect(); err != nil {
			logger.Warn("mqtt not connected yet; retrying in background", "error", err)
		}
		mqttBroadcasts := make(chan StateBroadcast, 128)
		sinks = append(sinks, mqttBroadcasts)

		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx, mqttBroadcasts)
		}()
	}

	logger.Info("listening",
		"reader", cfg.Reader.Type,
		"player", cfg.Player.Type,
		"player_ready", player.Ready(),
		"volume", cfg.Volume.Type,
		"cards", router.Len(),
		"ipc", cfg.IPC.SocketPath,
		"http_port", cfg.HTTP.Port,
		"mdns", cfg.MDNS.Enabled,
		"mqtt", cfg.MQTT.Enabled)

	runDaemon(ctx, events, daemonDeps{
		Cards:          cards,
		Volume:         volume,
		Player:         player,
		Sinks:          sinks,
		CommandTimeout: cfg.CommandTimeout(),
	}, NewDaemonState(), cfg.ToReduceConfig(router, uuid.NewString), cfg.TickPeriod(), logger)

	stop()
	wg.Wait()
	logger.Info("shut down")
	return nil
}
