package control

import (
	"github.com/axonops/cql-control/internal/cql"
	"github.com/axonops/cql-control/internal/logger"
)

// The SELECT * forms and the WHERE key='local' form are deliberate: servers
// vary in which non-listed columns they return, and the schema parsers
// tolerate whatever shows up.
const (
	selectLocal       = "SELECT data_center, rack, release_version FROM system.local WHERE key='local'"
	selectLocalTokens = "SELECT data_center, rack, release_version, partitioner, tokens FROM system.local WHERE key='local'"
	selectPeers       = "SELECT peer, data_center, rack, release_version, rpc_address FROM system.peers"
	selectPeersTokens = "SELECT peer, data_center, rack, release_version, rpc_address, tokens FROM system.peers"

	selectKeyspaces20      = "SELECT * FROM system.schema_keyspaces"
	selectColumnFamilies20 = "SELECT * FROM system.schema_columnfamilies"
	selectColumns20        = "SELECT * FROM system.schema_columns"
	selectUsertypes21      = "SELECT * FROM system.schema_usertypes"
	selectFunctions22      = "SELECT * FROM system.schema_functions"
	selectAggregates22     = "SELECT * FROM system.schema_aggregates"

	selectKeyspaces30  = "SELECT * FROM system_schema.keyspaces"
	selectTables30     = "SELECT * FROM system_schema.tables"
	selectViews30      = "SELECT * FROM system_schema.views"
	selectColumns30    = "SELECT * FROM system_schema.columns"
	selectIndexes30    = "SELECT * FROM system_schema.indexes"
	selectUsertypes30  = "SELECT * FROM system_schema.types"
	selectFunctions30  = "SELECT * FROM system_schema.functions"
	selectAggregates30 = "SELECT * FROM system_schema.aggregates"
)

// updateHostType says whether a node-info row is applied to a host being
// (re)added or to an existing host whose token placement must be rebuilt.
type updateHostType int

const (
	addHost updateHostType = iota
	updateHostAndBuild
)

// queryMetaHosts issues the {local, peers} bundle. This runs before any
// schema query so the server version is known when the schema bundle is
// composed. Called with c.mu held and a live connection.
func (c *Control) queryMetaHosts() {
	local, peers := selectLocal, selectPeers
	if c.tokenAware {
		local, peers = selectLocalTokens, selectPeersTokens
	}

	c.metrics.RefreshTotal.WithLabelValues("hosts").Inc()
	c.issueBundle(c.conn, []namedQuery{
		{"local", cql.Statement{Query: local}},
		{"peers", cql.Statement{Query: peers}},
	}, c.onQueryHosts)
}

func (c *Control) onQueryHosts(results bundleResults) {
	session := c.session

	if c.tokenAware {
		session.TokenMap().HostsCleared()
	}

	isInitial := c.state == StateNew
	selfAddr := c.conn.Address()

	// An empty system.local means the node is mid-bootstrap or
	// misconfigured; without its own row the connection cannot serve as a
	// control connection. Defunct and move to the next node in the plan.
	host := session.GetHost(selfAddr)
	if host == nil {
		logger.Warnf("Host %s from local system table not found", selfAddr)
		c.conn.Defunct()
		return
	}
	host.SetMark(session.CurrentMark())

	local := results["local"]
	if local.RowCount() == 0 {
		logger.Warnf("No row found in %s's local system table", selfAddr)
		c.conn.Defunct()
		return
	}
	c.updateNodeInfo(host, local.FirstRow(), addHost)
	c.serverVersion = host.ReleaseVersion()

	if peers := results["peers"]; peers != nil {
		for _, row := range peers.Rows {
			address, ok := determinePeerAddress(selfAddr, row)
			if !ok {
				continue
			}

			peerHost := session.GetHost(address)
			isNew := peerHost == nil
			if isNew {
				peerHost = session.AddHost(address, false)
			}

			peerHost.SetMark(session.CurrentMark())
			c.updateNodeInfo(peerHost, row, addHost)
			if isNew && !isInitial {
				session.OnAdd(peerHost)
			}
		}
	}

	session.PurgeHosts(isInitial)

	if c.useSchema || c.tokenAware {
		c.queryMetaSchema()
	} else if isInitial {
		c.becomeReady()
	}
}

// queryMetaSchema issues the full schema bundle, version branched on the
// server release discovered by the hosts refresh. Only keyspaces is
// mandatory; the rest is fetched when schema metadata is enabled and the
// server version has the table.
func (c *Control) queryMetaSchema() {
	if !c.useSchema && !c.tokenAware {
		return
	}

	var queries []namedQuery
	if c.serverVersion.AtLeast(3, 0) {
		queries = append(queries, namedQuery{"keyspaces", cql.Statement{Query: selectKeyspaces30}})
		if c.useSchema {
			queries = append(queries,
				namedQuery{"tables", cql.Statement{Query: selectTables30}},
				namedQuery{"views", cql.Statement{Query: selectViews30}},
				namedQuery{"columns", cql.Statement{Query: selectColumns30}},
				namedQuery{"indexes", cql.Statement{Query: selectIndexes30}},
				namedQuery{"user_types", cql.Statement{Query: selectUsertypes30}},
				namedQuery{"functions", cql.Statement{Query: selectFunctions30}},
				namedQuery{"aggregates", cql.Statement{Query: selectAggregates30}},
			)
		}
	} else {
		queries = append(queries, namedQuery{"keyspaces", cql.Statement{Query: selectKeyspaces20}})
		if c.useSchema {
			queries = append(queries,
				namedQuery{"tables", cql.Statement{Query: selectColumnFamilies20}},
				namedQuery{"columns", cql.Statement{Query: selectColumns20}},
			)
			if c.serverVersion.AtLeast(2, 1) {
				queries = append(queries, namedQuery{"user_types", cql.Statement{Query: selectUsertypes21}})
			}
			if c.serverVersion.AtLeast(2, 2) {
				queries = append(queries,
					namedQuery{"functions", cql.Statement{Query: selectFunctions22}},
					namedQuery{"aggregates", cql.Statement{Query: selectAggregates22}},
				)
			}
		}
	}

	c.metrics.RefreshTotal.WithLabelValues("schema").Inc()
	c.issueBundle(c.conn, queries, c.onQueryMetaSchema)
}

func (c *Control) onQueryMetaSchema(results bundleResults) {
	session := c.session
	isInitial := c.state == StateNew

	if c.tokenAware {
		session.TokenMap().KeyspacesAdd(c.serverVersion, results["keyspaces"])
	}

	if c.useSchema {
		md := session.Metadata()
		md.ClearAndUpdateBack()

		if rs := results["keyspaces"]; rs != nil {
			md.UpdateKeyspaces(c.serverVersion, rs)
		}
		if rs := results["tables"]; rs != nil {
			md.UpdateTables(c.serverVersion, rs)
		}
		if rs := results["views"]; rs != nil {
			md.UpdateViews(c.serverVersion, rs)
		}
		if rs := results["columns"]; rs != nil {
			md.UpdateColumns(c.serverVersion, rs)
		}
		if rs := results["indexes"]; rs != nil {
			md.UpdateIndexes(c.serverVersion, rs)
		}
		if rs := results["user_types"]; rs != nil {
			md.UpdateUserTypes(c.serverVersion, rs)
		}
		if rs := results["functions"]; rs != nil {
			md.UpdateFunctions(c.serverVersion, rs)
		}
		if rs := results["aggregates"]; rs != nil {
			md.UpdateAggregates(c.serverVersion, rs)
		}

		md.SwapToBackAndUpdateFront()
	}

	if isInitial {
		c.becomeReady()
	}
}

// updateNodeInfo applies a system.local or system.peers row to a host.
func (c *Control) updateNodeInfo(host *Host, row cql.Row, typ updateHostType) {
	rack, _ := row.String("rack")
	dc, _ := row.String("data_center")
	releaseVersion, _ := row.String("release_version")

	// Only peers rows carry the node's internal listen address.
	if row.Has("peer") {
		if peerIP, ok := row.Inet("peer"); ok {
			host.SetListenAddress(peerIP.String())
		} else {
			logger.Warnf("Invalid address format for listen address")
		}
	}

	if (rack != "" && rack != host.Rack()) || (dc != "" && dc != host.Datacenter()) {
		// The load balancing policy partitions hosts by rack and DC; a
		// placement change must be routed as a remove followed by an add or
		// the policy's buckets go stale.
		if !host.WasJustAdded() {
			c.session.LoadBalancingHostAddRemove(host, false)
		}
		host.SetRackAndDatacenter(rack, dc)
		if !host.WasJustAdded() {
			c.session.LoadBalancingHostAddRemove(host, true)
		}
	}

	if v, err := cql.ParseVersion(releaseVersion); err == nil {
		host.SetReleaseVersion(v)
	} else {
		logger.Warnf("Invalid release version string %q on host %s", releaseVersion, host.Address())
	}

	if c.tokenAware {
		isConnectedHost := c.conn != nil && host.Address().Equal(c.conn.Address())
		if isConnectedHost {
			if partitioner, ok := row.String("partitioner"); ok {
				if !c.session.TokenMap().Init(partitioner) {
					logger.Debugf("Token map has already been initialized")
				}
			}
		}
		if tokens, ok := row.StringList("tokens"); ok {
			if typ == updateHostAndBuild {
				c.session.TokenMap().HostUpdate(host, tokens)
			} else {
				c.session.TokenMap().HostAdd(host, tokens)
			}
		}
	}
}
