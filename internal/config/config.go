// Package config loads the signaling server configuration from environment
// variables plus a small flag set.
//
// Parsing is driven by an injectable lookup function so tests never mutate
// the process environment.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "VIDBRIDGE_LISTEN_ADDR"
	envVarLogFormat       = "VIDBRIDGE_LOG_FORMAT"
	envVarLogLevel        = "VIDBRIDGE_LOG_LEVEL"
	envVarShutdownTimeout = "VIDBRIDGE_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// Signaling connection knobs.
	envVarMaxMessageBytes      = "SIGNALING_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "SIGNALING_MAX_MESSAGES_PER_SECOND"
	envVarPongTimeout          = "SIGNALING_PONG_TIMEOUT"
	envVarWriteTimeout         = "SIGNALING_WRITE_TIMEOUT"

	// Media engine knobs.
	envVarWebRTCUDPPortRange = "WEBRTC_UDP_PORT_RANGE"
	envVarWebRTCUDPListenIP  = "WEBRTC_UDP_LISTEN_IP"
	envVarWebRTCNAT1To1IPs   = "WEBRTC_NAT_1TO1_IPS"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	DefaultListenAddr      = ":8443"
	DefaultShutdownTimeout = 10 * time.Second

	// 64 KB is comfortably larger than any SDP offer we have observed while
	// still bounding per-connection memory.
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50
	DefaultPongTimeout          = 60 * time.Second
	DefaultWriteTimeout         = 10 * time.Second
)

type PortRange struct {
	Min uint16
	Max uint16
}

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins restricts websocket upgrades by Origin header. Empty
	// means same-host only; a "*" entry allows any origin.
	AllowedOrigins []string

	ICEServers []webrtc.ICEServer

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	PongTimeout          time.Duration
	WriteTimeout         time.Duration

	WebRTCUDPPortRange *PortRange
	WebRTCUDPListenIP  net.IP
	WebRTCNAT1To1IPs   []string
}

// PingInterval returns how often keepalive pings are written. It must be
// shorter than PongTimeout or the read deadline fires before the peer can
// answer.
func (c Config) PingInterval() time.Duration {
	return c.PongTimeout * 9 / 10
}

// Load parses configuration from flags and the process environment.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	fs := flag.NewFlagSet("vidbridge-signaling", flag.ContinueOnError)
	modeFlag := fs.String("mode", string(ModeDev), "deployment mode: dev or prod")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var cfg Config

	switch Mode(strings.ToLower(strings.TrimSpace(*modeFlag))) {
	case ModeDev:
		cfg.Mode = ModeDev
	case ModeProd:
		cfg.Mode = ModeProd
	default:
		return Config{}, fmt.Errorf("invalid -mode %q (want dev or prod)", *modeFlag)
	}

	cfg.ListenAddr = envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)

	logFormat := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(cfg.Mode))
	switch LogFormat(strings.ToLower(strings.TrimSpace(logFormat))) {
	case LogFormatText:
		cfg.LogFormat = LogFormatText
	case LogFormatJSON:
		cfg.LogFormat = LogFormatJSON
	default:
		return Config{}, fmt.Errorf("invalid %s %q (want text or json)", envVarLogFormat, logFormat)
	}

	level, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, "info"))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	if raw, ok := lookup(envVarAllowedOrigins); ok {
		cfg.AllowedOrigins = splitCommaSeparated(raw)
	}

	cfg.ICEServers, err = parseICEServersFromEnv(lookup)
	if err != nil {
		return Config{}, err
	}

	maxBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	if maxBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", envVarMaxMessageBytes, maxBytes)
	}
	cfg.MaxMessageBytes = int64(maxBytes)

	cfg.MaxMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be positive, got %d", envVarMaxMessagesPerSecond, cfg.MaxMessagesPerSecond)
	}

	cfg.PongTimeout, err = envDurationOrDefault(lookup, envVarPongTimeout, DefaultPongTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WriteTimeout, err = envDurationOrDefault(lookup, envVarWriteTimeout, DefaultWriteTimeout)
	if err != nil {
		return Config{}, err
	}

	cfg.WebRTCUDPPortRange, err = parsePortRange(envOrDefault(lookup, envVarWebRTCUDPPortRange, ""))
	if err != nil {
		return Config{}, err
	}

	listenIP := envOrDefault(lookup, envVarWebRTCUDPListenIP, "0.0.0.0")
	cfg.WebRTCUDPListenIP = net.ParseIP(strings.TrimSpace(listenIP))
	if cfg.WebRTCUDPListenIP == nil {
		return Config{}, fmt.Errorf("invalid %s %q", envVarWebRTCUDPListenIP, listenIP)
	}

	if raw, ok := lookup(envVarWebRTCNAT1To1IPs); ok {
		cfg.WebRTCNAT1To1IPs = splitCommaSeparated(raw)
		for _, ip := range cfg.WebRTCNAT1To1IPs {
			if net.ParseIP(ip) == nil {
				return Config{}, fmt.Errorf("invalid %s entry %q", envVarWebRTCNAT1To1IPs, ip)
			}
		}
	}

	return cfg, nil
}

// IsUnspecifiedIP reports whether ip is 0.0.0.0 / :: (bind everywhere).
func IsUnspecifiedIP(ip net.IP) bool {
	return ip == nil || ip.IsUnspecified()
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid %s %q", envVarLogLevel, raw)
	}
}

func defaultLogFormatForMode(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func parsePortRange(raw string) (*PortRange, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	minStr, maxStr, found := strings.Cut(raw, "-")
	if !found {
		return nil, fmt.Errorf("invalid %s %q (want min-max)", envVarWebRTCUDPPortRange, raw)
	}
	min, err := strconv.ParseUint(strings.TrimSpace(minStr), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortRange, raw, err)
	}
	max, err := strconv.ParseUint(strings.TrimSpace(maxStr), 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", envVarWebRTCUDPPortRange, raw, err)
	}
	if min == 0 || min > max {
		return nil, fmt.Errorf("invalid %s %q (want 0 < min <= max)", envVarWebRTCUDPPortRange, raw)
	}
	return &PortRange{Min: uint16(min), Max: uint16(max)}, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
