package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	logger := slog.New(&recordingHandler{mu: mu, records: records})
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[a.Key] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &recordingHandler{
		mu:      h.mu,
		records: h.records,
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *recordingHandler) WithGroup(string) slog.Handler {
	return h
}

func warningCodes(records []recordedLog) []string {
	var codes []string
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			codes = append(codes, code)
		}
	}
	return codes
}

func hasWarning(records []recordedLog, code string) bool {
	for _, c := range warningCodes(records) {
		if c == code {
			return true
		}
	}
	return false
}

func baseConfig() config.Config {
	return config.Config{
		ListenAddr:               "0.0.0.0:3000",
		AllowedOrigins:           []string{"http://localhost:5173"},
		Mode:                     config.ModeDev,
		MaxSignalingMessageBytes: config.DefaultMaxSignalingMessageBytes,
	}
}

func TestStartupWarnings_DefaultsAreQuiet(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, baseConfig())

	if codes := warningCodes(records()); len(codes) != 0 {
		t.Fatalf("unexpected warnings: %v", codes)
	}
}

func TestStartupWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()
	cfg := baseConfig()
	cfg.AllowedOrigins = []string{"*"}

	logStartupWarnings(logger, cfg)

	if !hasWarning(records(), "allowed_origins_wildcard") {
		t.Fatalf("expected allowed_origins_wildcard warning, got %v", warningCodes(records()))
	}
}

func TestStartupWarnings_LocalhostOriginsInProd(t *testing.T) {
	logger, records := newRecordingLogger()
	cfg := baseConfig()
	cfg.Mode = config.ModeProd
	cfg.AllowedOrigins = []string{"http://localhost:5173", "http://127.0.0.1:5173"}

	logStartupWarnings(logger, cfg)

	if !hasWarning(records(), "allowed_origins_localhost_in_prod") {
		t.Fatalf("expected allowed_origins_localhost_in_prod warning, got %v", warningCodes(records()))
	}

	logger, records = newRecordingLogger()
	cfg.AllowedOrigins = append(cfg.AllowedOrigins, "https://dropmesh.example.com")
	logStartupWarnings(logger, cfg)
	if hasWarning(records(), "allowed_origins_localhost_in_prod") {
		t.Fatalf("unexpected allowed_origins_localhost_in_prod warning with a public origin")
	}
}

func TestStartupWarnings_LoopbackListenAddr(t *testing.T) {
	for _, addr := range []string{"127.0.0.1:3000", "localhost:3000", "[::1]:3000"} {
		logger, records := newRecordingLogger()
		cfg := baseConfig()
		cfg.ListenAddr = addr

		logStartupWarnings(logger, cfg)

		if !hasWarning(records(), "listen_addr_loopback") {
			t.Fatalf("%s: expected listen_addr_loopback warning, got %v", addr, warningCodes(records()))
		}
	}
}

func TestStartupWarnings_InvalidICEConfig(t *testing.T) {
	cfg, err := config.Load([]string{"--ice-servers-json", "{not json"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	logger, records := newRecordingLogger()

	logStartupWarnings(logger, cfg)

	if !hasWarning(records(), "ice_config_invalid") {
		t.Fatalf("expected ice_config_invalid warning, got %v", warningCodes(records()))
	}
}

func TestStartupWarnings_LargeMessageLimit(t *testing.T) {
	logger, records := newRecordingLogger()
	cfg := baseConfig()
	cfg.MaxSignalingMessageBytes = 4 << 20

	logStartupWarnings(logger, cfg)

	got := records()
	if !hasWarning(got, "max_signaling_message_bytes_large") {
		t.Fatalf("expected max_signaling_message_bytes_large warning, got %v", warningCodes(got))
	}
	for _, r := range got {
		if r.attrs["warning_code"] == "max_signaling_message_bytes_large" && !strings.Contains(r.msg, "MAX_SIGNALING_MESSAGE_BYTES") {
			t.Fatalf("warning message does not name the env var: %q", r.msg)
		}
	}
}
