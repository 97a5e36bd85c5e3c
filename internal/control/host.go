package control

import (
	"sync"

	"github.com/axonops/cql-control/internal/cql"
)

// Host is one cluster node as seen by the session. The control channel
// updates it from system.local/system.peers rows; the session reads it from
// other goroutines, hence the mutex.
type Host struct {
	mu sync.Mutex

	address       Address
	datacenter    string
	rack          string
	version       cql.Version
	listenAddress string

	up        bool
	mark      uint64
	justAdded bool
}

// NewHost creates a host for the given contact address. Hosts start up;
// liveness changes arrive via status events.
func NewHost(address Address) *Host {
	return &Host{address: address, up: true}
}

// Address returns the contact address
func (h *Host) Address() Address {
	return h.address
}

// Datacenter returns the host's datacenter name
func (h *Host) Datacenter() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.datacenter
}

// Rack returns the host's rack name
func (h *Host) Rack() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rack
}

// SetRackAndDatacenter updates the host's topology placement
func (h *Host) SetRackAndDatacenter(rack, datacenter string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rack = rack
	h.datacenter = datacenter
}

// ReleaseVersion returns the server release version
func (h *Host) ReleaseVersion() cql.Version {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

// SetReleaseVersion records the server release version
func (h *Host) SetReleaseVersion(v cql.Version) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = v
}

// ListenAddress returns the node's internal listen address string, empty
// when not yet observed. Only peers rows carry it.
func (h *Host) ListenAddress() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listenAddress
}

// SetListenAddress records the node's internal listen address
func (h *Host) SetListenAddress(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listenAddress = addr
}

// IsUp reports node liveness
func (h *Host) IsUp() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.up
}

// SetUp marks the node up
func (h *Host) SetUp() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.up = true
}

// SetDown marks the node down
func (h *Host) SetDown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.up = false
}

// Mark returns the freshness generation last stamped on the host
func (h *Host) Mark() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mark
}

// SetMark stamps the host with the session's current freshness generation.
// The session purges hosts whose mark did not advance after a full hosts
// refresh.
func (h *Host) SetMark(mark uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mark = mark
}

// WasJustAdded reports whether the host was added but not yet announced via
// the session's add notification
func (h *Host) WasJustAdded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.justAdded
}

// SetJustAdded flags the host as pending its add notification
func (h *Host) SetJustAdded(justAdded bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.justAdded = justAdded
}
