package control

import (
	"fmt"

	"github.com/axonops/cql-control/internal/cql"
	"github.com/axonops/cql-control/internal/logger"
)

// refreshNodeInfo re-reads one node's row after a status or topology event.
// Three query shapes: the connected host reads its own system.local; a peer
// with a known listen address is fetched with WHERE peer=...; otherwise all
// peers are read and matched by resolved address.
func (c *Control) refreshNodeInfo(host *Host, isNewNode, queryTokens bool) {
	if c.conn == nil {
		return
	}

	isConnectedHost := host.Address().Equal(c.conn.Address())
	tokenQuery := c.tokenAware && (host.WasJustAdded() || queryTokens)

	var query string
	matchAll := false
	switch {
	case isConnectedHost:
		if tokenQuery {
			query = selectLocalTokens
		} else {
			query = selectLocal
		}
	case host.ListenAddress() != "":
		base := selectPeers
		if tokenQuery {
			base = selectPeersTokens
		}
		query = fmt.Sprintf("%s WHERE peer = '%s'", base, host.ListenAddress())
	default:
		if tokenQuery {
			query = selectPeersTokens
		} else {
			query = selectPeers
		}
		matchAll = true
	}

	logger.Debugf("refresh_node_info: %s", query)
	c.metrics.RefreshTotal.WithLabelValues("node").Inc()

	if matchAll {
		c.issueQuery(c.conn, cql.Statement{Query: query}, func(rs *cql.ResultSet) {
			c.onRefreshNodeInfoAll(host, isNewNode, rs)
		})
	} else {
		c.issueQuery(c.conn, cql.Statement{Query: query}, func(rs *cql.ResultSet) {
			c.onRefreshNodeInfo(host, isNewNode, rs)
		})
	}
}

func (c *Control) onRefreshNodeInfo(host *Host, isNewNode bool, rs *cql.ResultSet) {
	if rs.RowCount() == 0 {
		c.metrics.RefreshErrors.WithLabelValues("node").Inc()
		logger.Errorf("No row found for host %s in %s's local/peers system table. %s will be ignored.",
			host.Address(), c.conn.Address(), host.Address())
		return
	}

	c.updateNodeInfo(host, rs.FirstRow(), updateHostAndBuild)

	if isNewNode {
		c.session.OnAdd(host)
	}
}

func (c *Control) onRefreshNodeInfoAll(host *Host, isNewNode bool, rs *cql.ResultSet) {
	if rs.RowCount() == 0 {
		c.metrics.RefreshErrors.WithLabelValues("node").Inc()
		logger.Errorf("No row found for host %s in %s's peers system table. %s will be ignored.",
			host.Address(), c.conn.Address(), host.Address())
		return
	}

	for _, row := range rs.Rows {
		address, ok := determinePeerAddress(c.conn.Address(), row)
		if ok && host.Address().Equal(address) {
			c.updateNodeInfo(host, row, updateHostAndBuild)
			if isNewNode {
				c.session.OnAdd(host)
			}
			break
		}
	}
}
