package control

import (
	"net"

	"github.com/axonops/cql-control/internal/cql"
	"github.com/axonops/cql-control/internal/logger"
)

// determinePeerAddress resolves a system.peers row to the address used to
// contact the peer, or reports the row unusable. self is the address of the
// node the row was read from; the peer inherits its port.
//
// Some server versions publish broken peers rows: entries for the node
// itself, null rpc_address columns, or the bind-any address when the
// operator did not configure a specific rpc interface.
func determinePeerAddress(self Address, row cql.Row) (Address, bool) {
	peerIP, ok := row.Inet("peer")
	if !ok {
		logger.Warnf("Invalid address format for peer address")
		return Address{}, false
	}
	peer := Address{IP: peerIP, Port: self.Port}

	if !row.Has("rpc_address") || row.IsNull("rpc_address") {
		logger.Warnf("No rpc_address for host %s in system.peers on %s. Ignoring this entry.",
			peer, self)
		return Address{}, false
	}

	rpcIP, ok := row.Inet("rpc_address")
	if !ok {
		logger.Warnf("Invalid address format for rpc address")
		return Address{}, false
	}
	out := Address{IP: rpcIP, Port: self.Port}

	if out.Equal(self) || peer.Equal(self) {
		logger.Debugf("system.peers on %s contains a line with rpc_address for itself. "+
			"This is not normal, but is a known problem for some server versions. "+
			"Ignoring this entry.", self)
		return Address{}, false
	}

	if rpcIP.Equal(net.IPv4zero) || rpcIP.Equal(net.IPv6zero) {
		logger.Warnf("Found host with 'bind any' for rpc_address; using listen_address (%s) to contact instead. "+
			"If this is incorrect you should configure a specific interface for rpc_address on the server.",
			peer)
		out = peer
	}

	return out, true
}
