package control

import (
	"math/rand"

	"github.com/axonops/cql-control/internal/cql"
	"github.com/axonops/cql-control/internal/meta"
)

// EventTypeMask selects which server event classes a connection registers
// for.
type EventTypeMask int

const (
	EventTopologyChange EventTypeMask = 1 << iota
	EventStatusChange
	EventSchemaChange
)

// ResponseHandler receives the decoded result of one query, or the error
// that terminated it (timeout, malformed response, connection loss).
type ResponseHandler func(rs *cql.ResultSet, err error)

// Conn is the control channel's view of an established connection. The
// transport, framing and result decoding live behind it.
//
// Execute returns ErrNoStreams synchronously when no request slot is free;
// any other failure is delivered to the handler. Handlers and events are
// delivered from the connection's reader goroutine, never from inside
// Execute. Defunct marks the connection unusable and closes it; the
// listener's OnClose fires afterwards from the reader goroutine.
type Conn interface {
	Address() Address
	Execute(stmt cql.Statement, handler ResponseHandler) error
	Defunct()
	Close()
}

// ConnListener receives connection-scoped callbacks
type ConnListener interface {
	OnEvent(event *Event)
	OnClose(conn Conn)
}

// Connector opens connections for the control channel. Connect errors are
// classified with ErrInvalidProtocol, AuthError and SSLError; anything else
// is a transient connect failure.
type Connector interface {
	Connect(address Address, version ProtocolVersion, eventTypes EventTypeMask, listener ConnListener) (Conn, error)
}

// QueryPlan produces candidate hosts for connect attempts. Next returns nil
// once the plan is exhausted; plans are not restartable.
type QueryPlan interface {
	Next() *Host
}

// TokenMap is the session's token metadata, consulted only when token-aware
// routing is enabled.
type TokenMap interface {
	// Init sets the partitioner; returns false when already initialized.
	Init(partitioner string) bool
	HostsCleared()
	HostAdd(host *Host, tokens []string)
	HostUpdate(host *Host, tokens []string)
	HostRemove(host *Host)
	KeyspacesAdd(version cql.Version, rs *cql.ResultSet)
	KeyspacesUpdate(version cql.Version, rs *cql.ResultSet)
}

// Session is everything the control channel consumes from its owner: the
// host map, notification hooks, the metadata store and the token map.
//
// Host map methods may be called from the control channel's goroutines; the
// session is responsible for its own locking.
type Session interface {
	// Hosts returns a snapshot of the current host map.
	Hosts() []*Host
	GetHost(address Address) *Host
	// AddHost inserts a host for the address and returns it. markNew flags
	// the host as pending its add notification.
	AddHost(address Address, markNew bool) *Host
	// PurgeHosts removes hosts whose mark did not advance during the hosts
	// refresh that just completed.
	PurgeHosts(isInitial bool)
	// CurrentMark is the freshness generation stamped on hosts observed by
	// the current refresh.
	CurrentMark() uint64

	// NewQueryPlan obtains a fresh plan from the load balancing policy.
	NewQueryPlan() QueryPlan
	// Random returns the session's random source, or nil. Used only to
	// randomize the startup plan offset.
	Random() *rand.Rand

	OnAdd(host *Host)
	OnRemove(host *Host)
	OnUp(host *Host)
	OnDown(host *Host)
	// LoadBalancingHostAddRemove routes a logical remove/add pair to the
	// load balancing policy when a host changes rack or datacenter.
	LoadBalancingHostAddRemove(host *Host, added bool)

	OnControlConnectionReady()
	OnControlConnectionError(kind ErrorKind, message string)

	Metadata() *meta.Store
	TokenMap() TokenMap
}
