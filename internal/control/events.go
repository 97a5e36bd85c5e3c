package control

import (
	"github.com/axonops/cql-control/internal/logger"
	"github.com/axonops/cql-control/internal/meta"
)

// EventType is the class of a server pushed event
type EventType int

const (
	EventTypeTopologyChange EventType = iota
	EventTypeStatusChange
	EventTypeSchemaChange
)

func (t EventType) String() string {
	switch t {
	case EventTypeTopologyChange:
		return "topology_change"
	case EventTypeStatusChange:
		return "status_change"
	case EventTypeSchemaChange:
		return "schema_change"
	default:
		return "unknown"
	}
}

// TopologyChange is the subtype of a topology event
type TopologyChange int

const (
	TopologyNewNode TopologyChange = iota
	TopologyRemovedNode
	TopologyMovedNode
)

// StatusChange is the subtype of a status event
type StatusChange int

const (
	StatusUp StatusChange = iota
	StatusDown
)

// SchemaChange is the subtype of a schema event
type SchemaChange int

const (
	SchemaCreated SchemaChange = iota
	SchemaUpdated
	SchemaDropped
)

// SchemaTarget is the entity kind a schema event refers to
type SchemaTarget int

const (
	SchemaTargetKeyspace SchemaTarget = iota
	SchemaTargetTable
	SchemaTargetType
	SchemaTargetFunction
	SchemaTargetAggregate
)

// Event is one decoded server pushed event
type Event struct {
	Type EventType

	TopologyChange TopologyChange
	StatusChange   StatusChange
	SchemaChange   SchemaChange
	SchemaTarget   SchemaTarget

	// Node is the affected node for topology and status events
	Node Address

	// Keyspace, Target and ArgTypes describe the affected schema entity
	Keyspace string
	Target   string
	ArgTypes []string
}

// OnEvent translates a server pushed event into targeted refresh calls.
// Events are only processed after the initial set of hosts and schema have
// been established; adding a host from an UP/NEW_NODE event before the
// initial load would race the session's pool bring-up.
func (c *Control) OnEvent(event *Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.EventsTotal.WithLabelValues(event.Type.String()).Inc()

	if c.state != StateReady {
		c.metrics.EventsDropped.Inc()
		return
	}

	switch event.Type {
	case EventTypeTopologyChange:
		c.handleTopologyChange(event)
	case EventTypeStatusChange:
		c.handleStatusChange(event)
	case EventTypeSchemaChange:
		c.handleSchemaChange(event)
	}
}

func (c *Control) handleTopologyChange(event *Event) {
	switch event.TopologyChange {
	case TopologyNewNode:
		logger.Infof("New node %s added", event.Node)
		host := c.session.GetHost(event.Node)
		if host == nil {
			host = c.session.AddHost(event.Node, true)
			c.refreshNodeInfo(host, true, true)
		}

	case TopologyRemovedNode:
		logger.Infof("Node %s removed", event.Node)
		host := c.session.GetHost(event.Node)
		if host != nil {
			c.session.OnRemove(host)
			if c.tokenAware {
				c.session.TokenMap().HostRemove(host)
			}
		} else {
			logger.Debugf("Tried to remove host %s that doesn't exist", event.Node)
		}

	case TopologyMovedNode:
		logger.Infof("Node %s moved", event.Node)
		host := c.session.GetHost(event.Node)
		if host != nil {
			c.refreshNodeInfo(host, false, true)
		} else {
			// Nothing to do for an unknown host; it will be picked up by the
			// next full hosts refresh.
			logger.Debugf("Move event for host %s that doesn't exist", event.Node)
		}
	}
}

func (c *Control) handleStatusChange(event *Event) {
	switch event.StatusChange {
	case StatusUp:
		logger.Infof("Node %s is up", event.Node)
		c.onUp(event.Node)
	case StatusDown:
		logger.Infof("Node %s is down", event.Node)
		c.onDown(event.Node)
	}
}

func (c *Control) onUp(address Address) {
	host := c.session.GetHost(address)
	if host != nil {
		if host.IsUp() {
			return
		}

		// Immediately mark the node as up and asynchronously refresh its
		// information. Pool components may be blocked waiting for the host
		// to be marked up before the control connection can be reused.
		c.session.OnUp(host)
		c.refreshNodeInfo(host, false, false)
	} else {
		host = c.session.AddHost(address, false)
		c.refreshNodeInfo(host, true, false)
	}
}

func (c *Control) onDown(address Address) {
	host := c.session.GetHost(address)
	if host == nil {
		logger.Debugf("Tried to down host %s that doesn't exist", address)
		return
	}
	if !host.IsUp() {
		return
	}
	c.session.OnDown(host)
}

func (c *Control) handleSchemaChange(event *Event) {
	// Without schema metadata only keyspace events matter: the token map
	// still needs replication settings.
	if !c.useSchema && event.SchemaTarget != SchemaTargetKeyspace {
		return
	}

	logger.Debugf("Schema change (%d): %s %s", event.SchemaChange, event.Keyspace, event.Target)

	switch event.SchemaChange {
	case SchemaCreated, SchemaUpdated:
		switch event.SchemaTarget {
		case SchemaTargetKeyspace:
			c.refreshKeyspace(event.Keyspace)
		case SchemaTargetTable:
			c.refreshTableOrView(event.Keyspace, event.Target)
		case SchemaTargetType:
			c.refreshType(event.Keyspace, event.Target)
		case SchemaTargetFunction, SchemaTargetAggregate:
			c.refreshFunction(event.Keyspace, event.Target, event.ArgTypes,
				event.SchemaTarget == SchemaTargetAggregate)
		}

	case SchemaDropped:
		md := c.session.Metadata()
		switch event.SchemaTarget {
		case SchemaTargetKeyspace:
			md.DropKeyspace(event.Keyspace)
		case SchemaTargetTable:
			md.DropTableOrView(event.Keyspace, event.Target)
		case SchemaTargetType:
			md.DropUserType(event.Keyspace, event.Target)
		case SchemaTargetFunction:
			md.DropFunction(event.Keyspace, meta.FullFunctionName(event.Target, event.ArgTypes))
		case SchemaTargetAggregate:
			md.DropAggregate(event.Keyspace, meta.FullFunctionName(event.Target, event.ArgTypes))
		}
	}
}
