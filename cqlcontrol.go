// Package cqlcontrol wires the control channel together from configuration:
// it loads settings, sets up logging and metrics, and hands back a control
// channel, not yet connected, bound to the caller's session and connector.
package cqlcontrol

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/axonops/cql-control/internal/config"
	"github.com/axonops/cql-control/internal/control"
	"github.com/axonops/cql-control/internal/logger"
	"github.com/axonops/cql-control/internal/metrics"
)

// Options carries the collaborators and overrides for opening a control
// channel.
type Options struct {
	// Session is the owning session: host map, notification hooks, metadata
	// store and token map.
	Session control.Session
	// Connector opens connections on behalf of the control channel.
	Connector control.Connector
	// ConfigPath points at an explicit config file; empty uses the default
	// search locations.
	ConfigPath string
	// Registerer receives control channel metrics; nil leaves them
	// unregistered.
	Registerer prometheus.Registerer
}

// Open loads configuration, initializes logging and metrics, and creates the
// control channel. The returned channel is not yet connected; call Connect.
func Open(opts Options) (*control.Control, *config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	logger.Init(cfg.Debug)

	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.New(opts.Registerer)
	}

	ctl := control.New(opts.Session, opts.Connector, control.Options{
		ProtocolVersion:   control.ProtocolVersion(cfg.ProtocolVersion),
		UseSchema:         cfg.UseSchema,
		TokenAwareRouting: cfg.TokenAwareRouting,
		ReconnectWait:     time.Duration(cfg.ReconnectWaitMs) * time.Millisecond,
		Metrics:           m,
	})

	return ctl, cfg, nil
}

// ContactAddresses resolves the configured contact points to addresses
// suitable for seeding the session's host map.
func ContactAddresses(cfg *config.Config) ([]control.Address, error) {
	addrs := make([]control.Address, 0, len(cfg.ContactPoints))
	for _, point := range cfg.ContactPoints {
		addr, err := control.ParseAddress(point, cfg.Port)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}
