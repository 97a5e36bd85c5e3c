package control

import (
	"sync"

	"github.com/axonops/cql-control/internal/cql"
	"github.com/axonops/cql-control/internal/logger"
)

// namedQuery is one sub-query of a bundle, addressed by key in the results
type namedQuery struct {
	key  string
	stmt cql.Statement
}

// bundleResults maps sub-query keys to their decoded results. Keys whose
// sub-query the server version does not know are simply absent.
type bundleResults map[string]*cql.ResultSet

// issueBundle dispatches a set of related queries on conn and runs done once
// with all results. Sub-query failures collapse into a single bundle
// failure that defuncts the connection; done never sees partial results.
//
// done runs on the connection's reader goroutine holding c.mu, after
// verifying conn is still the current connection.
func (c *Control) issueBundle(conn Conn, queries []namedQuery, done func(bundleResults)) {
	state := &bundleState{
		pending: len(queries),
		results: make(bundleResults, len(queries)),
	}

	for _, q := range queries {
		q := q
		err := conn.Execute(q.stmt, func(rs *cql.ResultSet, err error) {
			c.completeBundleQuery(conn, state, q.key, rs, err, done)
		})
		if err != nil {
			// No stream slot left. The connection is saturated beyond use
			// for metadata; give it up and let reconnect recover.
			logger.Errorf("No more streams available while issuing control query %q", q.key)
			conn.Defunct()
			return
		}
	}
}

type bundleState struct {
	mu      sync.Mutex
	pending int
	results bundleResults
	failed  error
}

func (c *Control) completeBundleQuery(conn Conn, state *bundleState, key string, rs *cql.ResultSet, err error, done func(bundleResults)) {
	state.mu.Lock()
	if err != nil {
		state.failed = err
	} else {
		state.results[key] = rs
	}
	state.pending--
	last := state.pending == 0
	state.mu.Unlock()

	if !last {
		return
	}

	if state.failed != nil {
		// Timeouts and malformed responses are not retried on the control
		// connection; defunct and reconnect instead.
		logger.Warnf("Error executing control connection query %q: %v", key, state.failed)
		conn.Defunct()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		// The connection was replaced while the bundle was in flight.
		return
	}
	done(state.results)
}

// issueQuery dispatches a single query. The completion runs holding c.mu
// with the issuing connection verified current; on any failure the
// connection is defuncted instead.
func (c *Control) issueQuery(conn Conn, stmt cql.Statement, done func(*cql.ResultSet)) {
	err := conn.Execute(stmt, func(rs *cql.ResultSet, err error) {
		if err != nil {
			logger.Warnf("Error executing control connection query: %v", err)
			conn.Defunct()
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn != conn {
			return
		}
		done(rs)
	})
	if err != nil {
		logger.Errorf("No more streams available while issuing control query")
		conn.Defunct()
	}
}
