// Package discovery advertises the relay on the local network over
// mDNS/DNS-SD so clients can find it without a configured URL.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/brutella/dnssd"
)

const (
	ServiceType = "_dropmesh._tcp"
	Domain      = "local"

	// TextSocketPath is the TXT key naming the WebSocket path.
	TextSocketPath = "path"
	TextVersion    = "version"
)

type Announcer struct {
	log *slog.Logger
	cfg dnssd.Config
}

// NewAnnouncer prepares an advertisement for instance on port. socketPath and
// version end up in the TXT record.
func NewAnnouncer(instance string, port int, socketPath, version string, logger *slog.Logger) (*Announcer, error) {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return nil, errors.New("mdns instance name must not be empty")
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("mdns port %d out of range (1-65535)", port)
	}

	text := map[string]string{TextSocketPath: socketPath}
	if version != "" {
		text[TextVersion] = version
	}

	return &Announcer{
		log: logger,
		cfg: dnssd.Config{
			Name:   instance,
			Type:   ServiceType,
			Domain: Domain,
			// Responder fills in the addresses of every multicast interface.
			IPs:  nil,
			Text: text,
			Port: port,
		},
	}, nil
}

// Run answers mDNS queries until ctx is cancelled.
func (a *Announcer) Run(ctx context.Context) error {
	service, err := dnssd.NewService(a.cfg)
	if err != nil {
		return fmt.Errorf("create mDNS service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("create mDNS responder: %w", err)
	}

	if _, err := rp.Add(service); err != nil {
		return fmt.Errorf("add mDNS service: %w", err)
	}

	a.log.Info("mdns announcing", "instance", a.cfg.Name, "type", a.cfg.Type, "port", a.cfg.Port)
	err = rp.Respond(ctx)
	a.log.Info("mdns stopped", "instance", a.cfg.Name)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("mDNS responder: %w", err)
	}
	return nil
}
