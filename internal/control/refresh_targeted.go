package control

import (
	"fmt"

	"github.com/axonops/cql-control/internal/cql"
	"github.com/axonops/cql-control/internal/logger"
	"github.com/axonops/cql-control/internal/meta"
)

// Targeted refreshes re-read a single schema entity after a schema change
// event. A row that has vanished by the time the query runs is logged and
// dropped; the DROPPED event that follows will clean up.

func (c *Control) refreshKeyspace(keyspace string) {
	if c.conn == nil {
		return
	}

	query := selectKeyspaces20
	if c.serverVersion.AtLeast(3, 0) {
		query = selectKeyspaces30
	}
	query += fmt.Sprintf(" WHERE keyspace_name='%s'", keyspace)

	logger.Debugf("Refreshing keyspace %s", query)
	c.metrics.RefreshTotal.WithLabelValues("keyspace").Inc()

	c.issueQuery(c.conn, cql.Statement{Query: query}, func(rs *cql.ResultSet) {
		if rs.RowCount() == 0 {
			c.metrics.RefreshErrors.WithLabelValues("keyspace").Inc()
			logger.Errorf("No row found for keyspace %s in system schema table.", keyspace)
			return
		}
		if c.tokenAware {
			c.session.TokenMap().KeyspacesUpdate(c.serverVersion, rs)
		}
		if c.useSchema {
			c.session.Metadata().UpdateKeyspaces(c.serverVersion, rs)
		}
	})
}

func (c *Control) refreshTableOrView(keyspace, name string) {
	if c.conn == nil {
		return
	}

	var queries []namedQuery
	if c.serverVersion.AtLeast(3, 0) {
		queries = []namedQuery{
			{"tables", cql.Statement{Query: fmt.Sprintf(
				"%s WHERE keyspace_name='%s' AND table_name='%s'", selectTables30, keyspace, name)}},
			{"columns", cql.Statement{Query: fmt.Sprintf(
				"%s WHERE keyspace_name='%s' AND table_name='%s'", selectColumns30, keyspace, name)}},
			{"views", cql.Statement{Query: fmt.Sprintf(
				"%s WHERE keyspace_name='%s' AND view_name='%s'", selectViews30, keyspace, name)}},
			{"indexes", cql.Statement{Query: fmt.Sprintf(
				"%s WHERE keyspace_name='%s' AND table_name='%s'", selectIndexes30, keyspace, name)}},
		}
	} else {
		queries = []namedQuery{
			{"tables", cql.Statement{Query: fmt.Sprintf(
				"%s WHERE keyspace_name='%s' AND columnfamily_name='%s'", selectColumnFamilies20, keyspace, name)}},
			{"columns", cql.Statement{Query: fmt.Sprintf(
				"%s WHERE keyspace_name='%s' AND columnfamily_name='%s'", selectColumns20, keyspace, name)}},
		}
	}

	logger.Debugf("Refreshing table/view %s.%s", keyspace, name)
	c.metrics.RefreshTotal.WithLabelValues("table").Inc()

	c.issueBundle(c.conn, queries, func(results bundleResults) {
		md := c.session.Metadata()

		tables := results["tables"]
		if tables.RowCount() == 0 {
			// The same event arrives for tables and materialized views; an
			// empty tables result with view rows means this was a view.
			views := results["views"]
			if views.RowCount() == 0 {
				c.metrics.RefreshErrors.WithLabelValues("table").Inc()
				logger.Errorf("No row found for table (or view) %s.%s in system schema tables.", keyspace, name)
				return
			}
			md.UpdateViews(c.serverVersion, views)
		} else {
			md.UpdateTables(c.serverVersion, tables)
		}

		if rs := results["columns"]; rs != nil {
			md.UpdateColumns(c.serverVersion, rs)
		}
		if rs := results["indexes"]; rs != nil {
			md.UpdateIndexes(c.serverVersion, rs)
		}
	})
}

func (c *Control) refreshType(keyspace, typeName string) {
	if c.conn == nil {
		return
	}

	base := selectUsertypes21
	if c.serverVersion.AtLeast(3, 0) {
		base = selectUsertypes30
	}
	query := fmt.Sprintf("%s WHERE keyspace_name='%s' AND type_name='%s'", base, keyspace, typeName)

	logger.Debugf("Refreshing type %s", query)
	c.metrics.RefreshTotal.WithLabelValues("type").Inc()

	c.issueQuery(c.conn, cql.Statement{Query: query}, func(rs *cql.ResultSet) {
		if rs.RowCount() == 0 {
			c.metrics.RefreshErrors.WithLabelValues("type").Inc()
			logger.Errorf("No row found for keyspace %s and type %s in system schema.", keyspace, typeName)
			return
		}
		c.session.Metadata().UpdateUserTypes(c.serverVersion, rs)
	})
}

func (c *Control) refreshFunction(keyspace, name string, argTypes []string, isAggregate bool) {
	if c.conn == nil {
		return
	}

	// Functions are overloadable, so the lookup binds the argument type list
	// as a value. The column holding it was renamed in 3.0.
	var query string
	if c.serverVersion.AtLeast(3, 0) {
		if isAggregate {
			query = selectAggregates30 + " WHERE keyspace_name=? AND aggregate_name=? AND argument_types=?"
		} else {
			query = selectFunctions30 + " WHERE keyspace_name=? AND function_name=? AND argument_types=?"
		}
	} else {
		if isAggregate {
			query = selectAggregates22 + " WHERE keyspace_name=? AND aggregate_name=? AND signature=?"
		} else {
			query = selectFunctions22 + " WHERE keyspace_name=? AND function_name=? AND signature=?"
		}
	}

	kind := "function"
	if isAggregate {
		kind = "aggregate"
	}
	logger.Debugf("Refreshing %s %s in keyspace %s", kind, meta.FullFunctionName(name, argTypes), keyspace)
	c.metrics.RefreshTotal.WithLabelValues(kind).Inc()

	stmt := cql.Statement{Query: query, Values: []interface{}{keyspace, name, argTypes}}
	c.issueQuery(c.conn, stmt, func(rs *cql.ResultSet) {
		if rs.RowCount() == 0 {
			c.metrics.RefreshErrors.WithLabelValues(kind).Inc()
			logger.Errorf("No row found for keyspace %s and %s %s", keyspace, kind, meta.FullFunctionName(name, argTypes))
			return
		}
		if isAggregate {
			c.session.Metadata().UpdateAggregates(c.serverVersion, rs)
		} else {
			c.session.Metadata().UpdateFunctions(c.serverVersion, rs)
		}
	})
}
