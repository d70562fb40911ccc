package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func emptyLookup(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(emptyLookup, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
	if cfg.MaxMessageBytes != DefaultMaxMessageBytes {
		t.Fatalf("MaxMessageBytes=%d, want %d", cfg.MaxMessageBytes, DefaultMaxMessageBytes)
	}
	if cfg.MaxMessagesPerSecond != DefaultMaxMessagesPerSecond {
		t.Fatalf("MaxMessagesPerSecond=%d, want %d", cfg.MaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	}
	if cfg.PongTimeout != DefaultPongTimeout {
		t.Fatalf("PongTimeout=%v, want %v", cfg.PongTimeout, DefaultPongTimeout)
	}
	if cfg.WebRTCUDPPortRange != nil {
		t.Fatalf("expected WebRTCUDPPortRange unset, got %+v", *cfg.WebRTCUDPPortRange)
	}
	if !IsUnspecifiedIP(cfg.WebRTCUDPListenIP) {
		t.Fatalf("WebRTCUDPListenIP=%v, want unspecified", cfg.WebRTCUDPListenIP)
	}
	if len(cfg.ICEServers) != 0 {
		t.Fatalf("expected no ICE servers, got %v", cfg.ICEServers)
	}
}

func TestProdDefaultsToJSONLogs(t *testing.T) {
	cfg, err := load(emptyLookup, []string{"-mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
}

func TestInvalidMode(t *testing.T) {
	_, err := load(emptyLookup, []string{"-mode", "staging"})
	if err == nil || !strings.Contains(err.Error(), "invalid -mode") {
		t.Fatalf("err=%v, want invalid -mode", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		"VIDBRIDGE_LISTEN_ADDR":             "127.0.0.1:9000",
		"VIDBRIDGE_LOG_FORMAT":              "json",
		"VIDBRIDGE_LOG_LEVEL":               "debug",
		"VIDBRIDGE_SHUTDOWN_TIMEOUT":        "3s",
		"ALLOWED_ORIGINS":                   "https://meet.example.com, https://admin.example.com",
		"SIGNALING_MAX_MESSAGE_BYTES":       "1024",
		"SIGNALING_MAX_MESSAGES_PER_SECOND": "5",
		"SIGNALING_PONG_TIMEOUT":            "30s",
		"SIGNALING_WRITE_TIMEOUT":           "2s",
		"WEBRTC_UDP_PORT_RANGE":             "50000-50100",
		"WEBRTC_UDP_LISTEN_IP":              "192.0.2.10",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("ListenAddr=%q", cfg.ListenAddr)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout=%v, want 3s", cfg.ShutdownTimeout)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://meet.example.com" {
		t.Fatalf("AllowedOrigins=%v", cfg.AllowedOrigins)
	}
	if cfg.MaxMessageBytes != 1024 {
		t.Fatalf("MaxMessageBytes=%d", cfg.MaxMessageBytes)
	}
	if cfg.PongTimeout != 30*time.Second {
		t.Fatalf("PongTimeout=%v", cfg.PongTimeout)
	}
	if cfg.PingInterval() != 27*time.Second {
		t.Fatalf("PingInterval=%v, want 27s", cfg.PingInterval())
	}
	if cfg.WebRTCUDPPortRange == nil || cfg.WebRTCUDPPortRange.Min != 50000 || cfg.WebRTCUDPPortRange.Max != 50100 {
		t.Fatalf("WebRTCUDPPortRange=%+v", cfg.WebRTCUDPPortRange)
	}
	if cfg.WebRTCUDPListenIP.String() != "192.0.2.10" {
		t.Fatalf("WebRTCUDPListenIP=%v", cfg.WebRTCUDPListenIP)
	}
}

func TestInvalidValuesRejected(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"bad log level", map[string]string{"VIDBRIDGE_LOG_LEVEL": "verbose"}},
		{"bad log format", map[string]string{"VIDBRIDGE_LOG_FORMAT": "xml"}},
		{"zero message bytes", map[string]string{"SIGNALING_MAX_MESSAGE_BYTES": "0"}},
		{"negative rate", map[string]string{"SIGNALING_MAX_MESSAGES_PER_SECOND": "-1"}},
		{"bad duration", map[string]string{"SIGNALING_PONG_TIMEOUT": "soon"}},
		{"inverted port range", map[string]string{"WEBRTC_UDP_PORT_RANGE": "50100-50000"}},
		{"bad port range", map[string]string{"WEBRTC_UDP_PORT_RANGE": "everything"}},
		{"bad listen ip", map[string]string{"WEBRTC_UDP_LISTEN_IP": "localhost"}},
		{"bad nat ip", map[string]string{"WEBRTC_NAT_1TO1_IPS": "198.51.100.7,not-an-ip"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := load(lookupMap(tc.env), nil); err == nil {
				t.Fatalf("load accepted %v", tc.env)
			}
		})
	}
}
