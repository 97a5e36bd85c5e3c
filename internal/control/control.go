// Package control implements the control channel of a Cassandra compatible
// cluster client: a single long-lived connection that keeps the session's
// view of cluster topology and schema synchronized with the server and fails
// over across candidate hosts when the transport drops.
package control

import (
	"errors"
	"sync"
	"time"

	"github.com/axonops/cql-control/internal/cql"
	"github.com/axonops/cql-control/internal/logger"
	"github.com/axonops/cql-control/internal/metrics"
)

// State is the control channel lifecycle state
type State int

const (
	// StateNew is the initial state, before the first hosts refresh has
	// completed.
	StateNew State = iota
	// StateReady means the initial metadata load finished; server events
	// are processed and connection loss triggers reconnect.
	StateReady
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Options configures a control channel
type Options struct {
	// ProtocolVersion is the starting protocol version; zero selects the
	// highest supported base version.
	ProtocolVersion ProtocolVersion
	// UseSchema enables schema metadata maintenance.
	UseSchema bool
	// TokenAwareRouting enables partitioner/token reads for the token map.
	TokenAwareRouting bool
	// ReconnectWait is the delay before a reconnect attempt once Ready;
	// zero selects one second.
	ReconnectWait time.Duration
	// Metrics receives control channel metrics; nil creates unregistered
	// ones.
	Metrics *metrics.Metrics
}

// Control owns the control connection and drives metadata refreshes. All of
// its state is serialized behind one mutex: connection callbacks, event
// processing and refresh completions each take it, so event processing is
// strictly ordered with refresh completions.
type Control struct {
	mu sync.Mutex

	state   State
	session Session
	dialer  Connector

	conn          Conn
	currentHost   *Host
	plan          QueryPlan
	protocol      ProtocolVersion
	startProtocol ProtocolVersion
	serverVersion cql.Version

	useSchema  bool
	tokenAware bool
	eventTypes EventTypeMask

	reconnectTimer *time.Timer
	reconnectWait  time.Duration
	lastError      string

	metrics *metrics.Metrics
}

// New creates a control channel for the session. Call Connect to bring it
// up.
func New(session Session, dialer Connector, opts Options) *Control {
	c := &Control{
		state:         StateNew,
		session:       session,
		dialer:        dialer,
		protocol:      opts.ProtocolVersion,
		useSchema:     opts.UseSchema,
		tokenAware:    opts.TokenAwareRouting,
		reconnectWait: opts.ReconnectWait,
		metrics:       opts.Metrics,
	}
	if c.protocol <= 0 {
		c.protocol = HighestSupportedProtocolVersion
	}
	c.startProtocol = c.protocol
	if c.reconnectWait <= 0 {
		c.reconnectWait = time.Second
	}
	if c.metrics == nil {
		c.metrics = metrics.NewNop()
	}

	// Schema events are only worth the registration when something consumes
	// keyspace data: the schema store or the token map.
	c.eventTypes = EventTopologyChange | EventStatusChange
	if c.useSchema || c.tokenAware {
		c.eventTypes |= EventSchemaChange
	}

	return c
}

// Connect walks the startup query plan until a connection is established and
// the initial metadata load starts. Fatal failures (no hosts, no usable
// protocol version, bad credentials, TLS) are reported through the session's
// OnControlConnectionError; transient failures move on to the next host.
func (c *Control) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// The snapshot is taken before any other goroutine can observe the
	// session, so no host map lock is needed here.
	c.plan = newStartupQueryPlan(c.session.Hosts(), c.session.Random())
	c.reconnect(false)
}

// ConnectedHost returns the host the control connection is using, or nil
func (c *Control) ConnectedHost() *Host {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.currentHost
}

// State returns the lifecycle state
func (c *Control) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent connection error message, for
// diagnostics
func (c *Control) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Close shuts the control channel down: the connection is closed, the
// reconnect timer cancelled, and no further events are processed. The
// channel stays closed until the owner resets it with Clear.
func (c *Control) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateClosed
	if c.conn != nil {
		c.conn.Close()
	}
	c.stopReconnectTimer()
	c.metrics.Connected.Set(0)
}

// Clear resets the control channel to its initial state so the owner can
// run a fresh connect sequence, including after Close. Any live connection
// is closed, the reconnect timer is cancelled, and the negotiated protocol
// version rolls back to the configured starting point.
func (c *Control) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateNew
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.stopReconnectTimer()
	c.currentHost = nil
	c.plan = nil
	c.protocol = c.startProtocol
	c.serverVersion = cql.Version{}
	c.lastError = ""
	c.metrics.Connected.Set(0)
}

// reconnect advances through the query plan (or retries the current host
// after a protocol downgrade) until a connection is live or the plan is
// exhausted. Called with c.mu held.
func (c *Control) reconnect(retryCurrentHost bool) {
	for {
		if c.state == StateClosed {
			return
		}

		if !retryCurrentHost {
			next := c.plan.Next()
			if next == nil {
				if c.state == StateReady {
					// Keep trying: hosts discovered by events show up in the
					// fresh plan the timer fetches.
					c.scheduleReconnect()
				} else {
					c.session.OnControlConnectionError(ErrorNoHostsAvailable,
						"No hosts available for the control connection")
				}
				return
			}
			c.currentHost = next
		}
		retryCurrentHost = false

		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}

		c.metrics.ConnectAttempts.Inc()
		conn, err := c.dialer.Connect(c.currentHost.Address(), c.protocol, c.eventTypes, c)
		if err == nil {
			logger.Debugf("Connection ready on host %s", c.currentHost.Address())
			c.conn = conn
			c.metrics.Connected.Set(1)
			// Refresh metadata on every (re)connect: events could have been
			// missed while not connected.
			c.queryMetaHosts()
			return
		}

		c.lastError = err.Error()

		if c.state == StateNew {
			if errors.Is(err, ErrInvalidProtocol) {
				previous := c.protocol
				next, ok := c.protocol.NextLower()
				if !ok {
					logger.Errorf("Host %s does not support any valid protocol version",
						c.currentHost.Address())
					c.session.OnControlConnectionError(ErrorUnableToDetermineProtocol,
						"Not even protocol version 1 is supported")
					return
				}

				logger.Warnf("Host %s does not support protocol version %s. Trying protocol version %s...",
					c.currentHost.Address(), previous, next)
				c.metrics.ProtocolDowngrades.Inc()
				c.protocol = next
				retryCurrentHost = true
				continue
			}

			var authErr *AuthError
			if errors.As(err, &authErr) {
				c.metrics.ConnectFailures.WithLabelValues("auth").Inc()
				c.session.OnControlConnectionError(ErrorBadCredentials, authErr.Message)
				return
			}

			var sslErr *SSLError
			if errors.As(err, &sslErr) {
				c.metrics.ConnectFailures.WithLabelValues("ssl").Inc()
				c.session.OnControlConnectionError(ErrorUnableToConnect, sslErr.Message)
				return
			}
		}

		c.metrics.ConnectFailures.WithLabelValues("transient").Inc()
		if c.state == StateNew {
			logger.Errorf("Unable to establish a control connection to host %s because of the following error: %v",
				c.currentHost.Address(), err)
		} else {
			logger.Warnf("Unable to reconnect control connection to host %s because of the following error: %v",
				c.currentHost.Address(), err)
		}
	}
}

// becomeReady transitions New to Ready after the initial metadata load and
// replaces the control channel's query plan with a fresh one from the
// session that considers the hosts discovered from the system tables.
// Called with c.mu held.
func (c *Control) becomeReady() {
	c.state = StateReady
	c.session.OnControlConnectionReady()
	c.plan = c.session.NewQueryPlan()
}

// OnClose implements ConnListener. Any connection loss while not closed
// drives reconnect.
func (c *Control) OnClose(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn != c.conn {
		// A connection replaced earlier finally finished closing.
		return
	}
	c.conn = nil
	c.metrics.Connected.Set(0)

	switch c.state {
	case StateClosed:
		// Shutdown already closed the connection; nothing to recover.
	case StateReady:
		logger.Warnf("Lost control connection to host %s", conn.Address())
		// Reconnects once Ready go through the timer so that each attempt
		// starts from a fresh query plan.
		c.scheduleReconnect()
	default:
		logger.Warnf("Lost control connection to host %s", conn.Address())
		// Still bootstrapping: move on to the next host in the plan.
		c.reconnect(false)
	}
}

// scheduleReconnect arms the reconnect timer. The timer is only ever active
// while Ready with no live connection. Called with c.mu held.
func (c *Control) scheduleReconnect() {
	c.metrics.ReconnectSchedules.Inc()
	c.reconnectTimer = time.AfterFunc(c.reconnectWait, c.onReconnectTimer)
}

func (c *Control) onReconnectTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reconnectTimer = nil
	if c.state == StateClosed {
		return
	}

	// A fresh plan, not the exhausted one: hosts added by events since the
	// last attempt must be considered.
	c.plan = c.session.NewQueryPlan()
	c.reconnect(false)
}

func (c *Control) stopReconnectTimer() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}
