package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/config"
	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/discovery"
	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/httpserver"
	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/presence"
	"github.com/wilsonzlin/aero/proxy/dropmesh-signal/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

// exitError carries the process exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configError(err error) error { return &exitError{code: 2, err: err} }
func runtimeError(err error) error { return &exitError{code: 1, err: err} }

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	runServe := func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context(), args)
	}

	root := &cobra.Command{
		Use:   "dropmesh-signal",
		Short: "Signaling relay for DropMesh device discovery and peer handshakes",
		Long: "Runs the DropMesh signaling relay. Flags are parsed by the relay itself;\n" +
			"run with --help to list them.",
		Args: cobra.ArbitraryArgs,
		// Config owns flag parsing so env vars can supply flag defaults.
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE:               runServe,
	}

	root.AddCommand(&cobra.Command{
		Use:                "serve",
		Short:              "Run the relay (default)",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE:               runServe,
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			commit, built := resolveBuildInfo(buildCommit, buildTime)
			if commit == "" {
				commit = "unknown"
			}
			if built == "" {
				built = "unknown"
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "dropmesh-signal commit=%s built=%s\n", commit, built)
			return err
		},
	})

	return root
}

func serve(parent context.Context, args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return configError(err)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		return configError(err)
	}
	slog.SetDefault(logger)

	logger.Info("starting dropmesh-signal",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"allowed_origins", cfg.AllowedOrigins,
		"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
		"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
		"mdns_enabled", cfg.MDNSEnabled,
		"nats_url_set", cfg.NATSURL != "",
	)
	logStartupWarnings(logger, cfg)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		return runtimeError(err)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	m := metrics.New()

	var pub presence.Publisher = presence.Nop{}
	if cfg.NATSURL != "" {
		p, err := presence.Connect(cfg.NATSURL, cfg.NATSPresenceSubject, logger)
		if err != nil {
			_ = ln.Close()
			logger.Error("failed to start presence feed", "err", err)
			return runtimeError(err)
		}
		pub = p
	}
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("presence feed close failed", "err", err)
		}
	}()

	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built}, m)
	sig := signaling.NewServer(signaling.Config{
		Logger:               logger,
		Metrics:              m,
		Presence:             pub,
		AllowedOrigins:       cfg.AllowedOrigins,
		IdleTimeout:          cfg.SignalingWSIdleTimeout,
		PingInterval:         cfg.SignalingWSPingInterval,
		MaxMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueMessages:    cfg.SignalingSendQueueMessages,
	})
	sig.RegisterRoutes(srv.Mux())
	srv.Mux().Handle("GET /metrics", m.Handler())

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MDNSEnabled {
		startAnnouncer(ctx, logger, cfg, ln.Addr(), commit)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		sig.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			return runtimeError(err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Shutdown does not wait for hijacked connections; sig.Close handles those.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	sig.Close()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		return runtimeError(err)
	}
	return nil
}

// startAnnouncer advertises the bound port. Failures are logged and do not
// stop the relay.
func startAnnouncer(ctx context.Context, logger *slog.Logger, cfg config.Config, addr net.Addr, version string) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		logger.Warn("mdns disabled: cannot determine listen port", "addr", addr.String(), "err", err)
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		logger.Warn("mdns disabled: cannot determine listen port", "addr", addr.String(), "err", err)
		return
	}

	ann, err := discovery.NewAnnouncer(cfg.MDNSInstanceName, port, signaling.SocketPath, version, logger)
	if err != nil {
		logger.Warn("mdns disabled", "err", err)
		return
	}
	go func() {
		if err := ann.Run(ctx); err != nil {
			logger.Warn("mdns announcer stopped", "err", err)
		}
	}()
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values but fall back to the Go build info when
	// available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
