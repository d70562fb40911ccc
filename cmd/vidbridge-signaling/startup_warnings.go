package main

import (
	"log/slog"
	"strings"

	"github.com/vidbridge/signaling/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured (clients behind NAT will fail to connect media)",
			"warning_code", "no_ice_servers",
			"mode", cfg.Mode,
		)
	}

	turnWithoutSecrets := false
	for _, srv := range cfg.ICEServers {
		for _, u := range srv.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				if srv.Username == "" || srv.Credential == nil || srv.Credential == "" {
					turnWithoutSecrets = true
				}
			}
		}
	}
	if turnWithoutSecrets {
		logger.Warn("startup security warning: TURN server configured without credentials",
			"warning_code", "turn_without_credentials",
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.WebRTCUDPPortRange == nil {
		logger.Warn("startup warning: WEBRTC_UDP_PORT_RANGE is unset while --mode=prod (media binds ephemeral ports; firewalls cannot pin them)",
			"warning_code", "udp_port_range_unset_in_prod",
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
