package control

import (
	"strings"
	"testing"

	"github.com/axonops/cql-control/internal/cql"
)

// schemaResponder answers the hosts bundle plus the system_schema tables
func schemaResponder(local, peers *cql.ResultSet, schema map[string]*cql.ResultSet) func(cql.Statement) (*cql.ResultSet, error) {
	return func(stmt cql.Statement) (*cql.ResultSet, error) {
		switch {
		case strings.Contains(stmt.Query, "system.local"):
			return local, nil
		case strings.Contains(stmt.Query, "system.peers"):
			return peers, nil
		}
		for table, rs := range schema {
			if strings.Contains(stmt.Query, table) {
				return rs, nil
			}
		}
		return &cql.ResultSet{}, nil
	}
}

func keyspaceRow(name string) cql.Row {
	return cql.Row{
		"keyspace_name":  name,
		"durable_writes": true,
		"replication":    map[string]string{"class": "SimpleStrategy", "replication_factor": "3"},
	}
}

func readySchemaControl(t *testing.T, schema map[string]*cql.ResultSet) (*Control, *fakeSession, *fakeConnector) {
	t.Helper()
	self := addr("10.0.0.1", 9042)
	session := newFakeSession(self)
	connector := simpleDialer(schemaResponder(
		rows(localRow("dc1", "rack1", "3.11.4")),
		rows(),
		schema,
	))
	ctl := New(session, connector, Options{UseSchema: true})
	bringReady(t, ctl, connector)
	return ctl, session, connector
}

func TestInitialSchemaLoad(t *testing.T) {
	_, session, _ := readySchemaControl(t, map[string]*cql.ResultSet{
		"system_schema.keyspaces": rows(keyspaceRow("app")),
		"system_schema.tables": rows(cql.Row{
			"keyspace_name": "app", "table_name": "users",
		}),
		"system_schema.columns": rows(cql.Row{
			"keyspace_name": "app", "table_name": "users",
			"column_name": "id", "kind": "partition_key", "type": "uuid",
		}),
	})

	snap := session.md.CurrentSnapshot()
	ks := snap.Keyspace("app")
	if ks == nil {
		t.Fatal("keyspace app missing after initial schema load")
	}
	table := ks.Tables["users"]
	if table == nil {
		t.Fatal("table app.users missing after initial schema load")
	}
	if col := table.Columns["id"]; col == nil || col.Type != "uuid" {
		t.Errorf("column app.users.id not loaded: %+v", col)
	}
}

func TestEventsIgnoredBeforeReady(t *testing.T) {
	self := addr("10.0.0.1", 9042)
	peer := addr("10.0.0.2", 9042)
	session := newFakeSession(self)
	connector := simpleDialer(hostsResponder(rows(localRow("dc1", "r1", "3.11.4")), rows()))

	ctl := New(session, connector, Options{})
	ctl.Connect()
	conn := connector.lastConn()
	issued := conn.executedCount()

	// The hosts bundle is still in flight; an UP event must be dropped.
	ctl.OnEvent(&Event{Type: EventTypeStatusChange, StatusChange: StatusUp, Node: peer})

	if len(session.ups) != 0 {
		t.Error("UP event before ready must not mark anything up")
	}
	if conn.executedCount() != issued {
		t.Error("UP event before ready must not issue queries")
	}

	conn.pump()
	if !session.ready() {
		t.Fatal("expected ready after pumping the hosts bundle")
	}
}

func TestSchemaEventIgnoredBeforeReady(t *testing.T) {
	self := addr("10.0.0.1", 9042)
	session := newFakeSession(self)
	connector := simpleDialer(hostsResponder(rows(localRow("dc1", "r1", "3.11.4")), rows()))

	ctl := New(session, connector, Options{UseSchema: true})
	ctl.Connect()

	ctl.OnEvent(&Event{
		Type: EventTypeSchemaChange, SchemaChange: SchemaDropped,
		SchemaTarget: SchemaTargetKeyspace, Keyspace: "foo",
	})

	// No metadata mutation: the store is still pristine.
	if len(session.md.CurrentSnapshot().Keyspaces) != 0 {
		t.Error("schema event before ready mutated metadata")
	}
}

func TestDroppedKeyspaceEventAppliesWithoutQuery(t *testing.T) {
	ctl, session, connector := readySchemaControl(t, map[string]*cql.ResultSet{
		"system_schema.keyspaces": rows(keyspaceRow("foo"), keyspaceRow("bar")),
	})
	conn := connector.lastConn()
	issued := conn.executedCount()

	ctl.OnEvent(&Event{
		Type: EventTypeSchemaChange, SchemaChange: SchemaDropped,
		SchemaTarget: SchemaTargetKeyspace, Keyspace: "foo",
	})

	snap := session.md.CurrentSnapshot()
	if snap.Keyspace("foo") != nil {
		t.Error("keyspace foo should be dropped")
	}
	if snap.Keyspace("bar") == nil {
		t.Error("keyspace bar should be untouched")
	}
	if conn.executedCount() != issued {
		t.Error("a DROPPED event must not issue any query")
	}
}

func TestKeyspaceRefreshEventAndIdempotence(t *testing.T) {
	ctl, session, connector := readySchemaControl(t, map[string]*cql.ResultSet{
		"system_schema.keyspaces": rows(keyspaceRow("app")),
	})
	conn := connector.lastConn()

	event := &Event{
		Type: EventTypeSchemaChange, SchemaChange: SchemaUpdated,
		SchemaTarget: SchemaTargetKeyspace, Keyspace: "app",
	}

	ctl.OnEvent(event)
	conn.pump()
	first := session.md.CurrentSnapshot().Keyspace("app")
	if first == nil {
		t.Fatal("keyspace app missing after refresh")
	}

	// Applying the same refresh again yields the same state.
	ctl.OnEvent(event)
	conn.pump()
	second := session.md.CurrentSnapshot().Keyspace("app")
	if second == nil {
		t.Fatal("keyspace app missing after second refresh")
	}
	if second.Replication["replication_factor"] != first.Replication["replication_factor"] ||
		second.DurableWrites != first.DurableWrites {
		t.Error("repeated keyspace refresh is not idempotent")
	}

	// The WHERE clause targets the keyspace by name.
	last := conn.executed[conn.executedCount()-1]
	if !strings.Contains(last.Query, "WHERE keyspace_name='app'") {
		t.Errorf("keyspace refresh not filtered: %s", last.Query)
	}
}

func TestTableRefreshFallsBackToView(t *testing.T) {
	ctl, session, connector := readySchemaControl(t, map[string]*cql.ResultSet{
		"system_schema.keyspaces": rows(keyspaceRow("app")),
	})
	conn := connector.lastConn()

	// The tables query returns nothing; the views query matches.
	conn.mu.Lock()
	conn.respond = func(stmt cql.Statement) (*cql.ResultSet, error) {
		switch {
		case strings.Contains(stmt.Query, "system_schema.views"):
			return rows(cql.Row{
				"keyspace_name": "app", "view_name": "by_email", "base_table_name": "users",
			}), nil
		default:
			return &cql.ResultSet{}, nil
		}
	}
	conn.mu.Unlock()

	ctl.OnEvent(&Event{
		Type: EventTypeSchemaChange, SchemaChange: SchemaUpdated,
		SchemaTarget: SchemaTargetTable, Keyspace: "app", Target: "by_email",
	})
	conn.pump()

	view := session.md.CurrentSnapshot().Keyspace("app").Views["by_email"]
	if view == nil || view.BaseTable != "users" {
		t.Errorf("view refresh not applied: %+v", view)
	}
}

func TestFunctionRefreshBindsSignature(t *testing.T) {
	ctl, _, connector := readySchemaControl(t, map[string]*cql.ResultSet{
		"system_schema.keyspaces": rows(keyspaceRow("app")),
	})
	conn := connector.lastConn()

	ctl.OnEvent(&Event{
		Type: EventTypeSchemaChange, SchemaChange: SchemaCreated,
		SchemaTarget: SchemaTargetFunction,
		Keyspace:     "app", Target: "avg_state", ArgTypes: []string{"int", "double"},
	})

	last := conn.executed[conn.executedCount()-1]
	if !strings.Contains(last.Query, "WHERE keyspace_name=? AND function_name=? AND argument_types=?") {
		t.Errorf("function refresh should bind values on 3.x: %s", last.Query)
	}
	if len(last.Values) != 3 {
		t.Fatalf("expected 3 bound values, got %v", last.Values)
	}
	if types, ok := last.Values[2].([]string); !ok || len(types) != 2 {
		t.Errorf("argument types not bound as a list: %v", last.Values[2])
	}
}

func TestSchemaEventsFilteredWithoutUseSchema(t *testing.T) {
	self := addr("10.0.0.1", 9042)
	session := newFakeSession(self)
	connector := simpleDialer(schemaResponder(
		rows(cql.Row{
			"data_center": "dc1", "rack": "r1", "release_version": "3.11.4",
			"partitioner": "org.apache.cassandra.dht.Murmur3Partitioner",
			"tokens":      []string{"-9223372036854775808"},
		}),
		rows(),
		map[string]*cql.ResultSet{"system_schema.keyspaces": rows(keyspaceRow("app"))},
	))

	ctl := New(session, connector, Options{TokenAwareRouting: true})
	conn := bringReady(t, ctl, connector)
	issued := conn.executedCount()

	// A table event is dropped without schema metadata...
	ctl.OnEvent(&Event{
		Type: EventTypeSchemaChange, SchemaChange: SchemaUpdated,
		SchemaTarget: SchemaTargetTable, Keyspace: "app", Target: "users",
	})
	if conn.executedCount() != issued {
		t.Error("table event must be ignored when schema metadata is off")
	}

	// ...but a keyspace event still refreshes the token map.
	ctl.OnEvent(&Event{
		Type: EventTypeSchemaChange, SchemaChange: SchemaUpdated,
		SchemaTarget: SchemaTargetKeyspace, Keyspace: "app",
	})
	conn.pump()
	if session.tm.keyspaceUpdates != 1 {
		t.Errorf("expected one token map keyspace update, got %d", session.tm.keyspaceUpdates)
	}
}

func TestUpEventMarksUpThenRefreshes(t *testing.T) {
	ctl, session, connector := readySchemaControl(t, nil)
	conn := connector.lastConn()

	peer := addr("10.0.0.2", 9042)
	host := session.AddHost(peer, false)
	host.SetJustAdded(false)
	host.SetDown()
	host.SetListenAddress("10.0.0.2")

	conn.mu.Lock()
	conn.respond = func(stmt cql.Statement) (*cql.ResultSet, error) {
		return rows(peerRow("10.0.0.2", "10.0.0.2", "dc1", "rack7", "3.11.4")), nil
	}
	conn.mu.Unlock()

	ctl.OnEvent(&Event{Type: EventTypeStatusChange, StatusChange: StatusUp, Node: peer})

	// The up mark lands before the refresh completes.
	if len(session.ups) != 1 || !session.ups[0].Equal(peer) {
		t.Fatalf("expected immediate up notification, got %v", session.ups)
	}
	if !host.IsUp() {
		t.Error("host should be marked up before the node refresh completes")
	}

	conn.pump()
	if host.Rack() != "rack7" {
		t.Errorf("node info refresh did not apply, rack=%q", host.Rack())
	}
}

func TestUpEventForUpHostIsNoop(t *testing.T) {
	ctl, session, connector := readySchemaControl(t, nil)
	conn := connector.lastConn()

	peer := addr("10.0.0.2", 9042)
	host := session.AddHost(peer, false)
	host.SetJustAdded(false)
	issued := conn.executedCount()

	ctl.OnEvent(&Event{Type: EventTypeStatusChange, StatusChange: StatusUp, Node: peer})

	if len(session.ups) != 0 {
		t.Error("up event for an up host must not re-notify")
	}
	if conn.executedCount() != issued {
		t.Error("up event for an up host must not issue queries")
	}
}

func TestDownEvent(t *testing.T) {
	ctl, session, _ := readySchemaControl(t, nil)

	peer := addr("10.0.0.2", 9042)
	host := session.AddHost(peer, false)
	host.SetJustAdded(false)

	ctl.OnEvent(&Event{Type: EventTypeStatusChange, StatusChange: StatusDown, Node: peer})
	if len(session.downs) != 1 {
		t.Fatalf("expected one down notification, got %v", session.downs)
	}

	// Down again: already down, dropped.
	ctl.OnEvent(&Event{Type: EventTypeStatusChange, StatusChange: StatusDown, Node: peer})
	if len(session.downs) != 1 {
		t.Errorf("down event for a down host must be dropped, got %v", session.downs)
	}

	// Unknown host: logged and dropped.
	ctl.OnEvent(&Event{Type: EventTypeStatusChange, StatusChange: StatusDown, Node: addr("10.0.0.99", 9042)})
	if len(session.downs) != 1 {
		t.Errorf("down event for unknown host must be dropped, got %v", session.downs)
	}
}

func TestRemovedNodeEvent(t *testing.T) {
	ctl, session, _ := readySchemaControl(t, nil)

	peer := addr("10.0.0.2", 9042)
	host := session.AddHost(peer, false)
	host.SetJustAdded(false)

	ctl.OnEvent(&Event{Type: EventTypeTopologyChange, TopologyChange: TopologyRemovedNode, Node: peer})

	if len(session.removes) != 1 || !session.removes[0].Equal(peer) {
		t.Errorf("expected remove notification for %s, got %v", peer, session.removes)
	}
}

func TestMovedNodeUnknownHostIsNoop(t *testing.T) {
	ctl, session, connector := readySchemaControl(t, nil)
	conn := connector.lastConn()
	issued := conn.executedCount()

	ctl.OnEvent(&Event{
		Type: EventTypeTopologyChange, TopologyChange: TopologyMovedNode,
		Node: addr("10.0.0.77", 9042),
	})

	if conn.executedCount() != issued {
		t.Error("moved event for unknown host must not issue queries")
	}
	if session.tm.hostRemoves != 0 {
		t.Error("moved event for unknown host must not touch the token map")
	}
}

func TestNewNodeEventRefreshesNodeInfo(t *testing.T) {
	ctl, session, connector := readySchemaControl(t, nil)
	conn := connector.lastConn()

	joined := addr("10.0.0.3", 9042)
	conn.mu.Lock()
	conn.respond = func(stmt cql.Statement) (*cql.ResultSet, error) {
		if strings.Contains(stmt.Query, "system.peers") {
			return rows(peerRow("10.0.0.3", "10.0.0.3", "dc1", "rack3", "3.11.4")), nil
		}
		return &cql.ResultSet{}, nil
	}
	conn.mu.Unlock()

	ctl.OnEvent(&Event{Type: EventTypeTopologyChange, TopologyChange: TopologyNewNode, Node: joined})
	conn.pump()

	host := session.GetHost(joined)
	if host == nil {
		t.Fatal("new node not added")
	}
	if host.Rack() != "rack3" {
		t.Errorf("node info not refreshed for new node, rack=%q", host.Rack())
	}
	if len(session.adds) != 1 || !session.adds[0].Equal(joined) {
		t.Errorf("expected add notification for %s, got %v", joined, session.adds)
	}
}
