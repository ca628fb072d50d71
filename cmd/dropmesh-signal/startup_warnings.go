package main

import (
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"slices"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/config"
)

const largeSignalingMessageBytes = 1 << 20

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	} else if cfg.Mode == config.ModeProd && onlyLoopbackOrigins(cfg.AllowedOrigins) {
		logger.Warn("startup warning: ALLOWED_ORIGINS only lists localhost while --mode=prod (deployed frontends will be rejected)",
			"warning_code", "allowed_origins_localhost_in_prod",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if isLoopbackListenAddr(cfg.ListenAddr) {
		logger.Warn("startup warning: listen address is loopback-only (other devices on the network cannot connect)",
			"warning_code", "listen_addr_loopback",
			"listen_addr", cfg.ListenAddr,
			"mdns_enabled", cfg.MDNSEnabled,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("startup warning: ICE server configuration is invalid; GET /webrtc/ice will fail",
			"warning_code", "ice_config_invalid",
			"err", err,
		)
	}

	if cfg.MaxSignalingMessageBytes > largeSignalingMessageBytes {
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
}

func isLoopbackListenAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	return isLoopbackHost(host)
}

func onlyLoopbackOrigins(origins []string) bool {
	if len(origins) == 0 {
		return false
	}
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || !isLoopbackHost(u.Hostname()) {
			return false
		}
	}
	return true
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip, err := netip.ParseAddr(host)
	return err == nil && ip.IsLoopback()
}
