package control

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/axonops/cql-control/internal/cql"
)

func TestBundleFailureCollapsesAndDefuncts(t *testing.T) {
	self := addr("10.0.0.1", 9042)
	session := newFakeSession(self)

	// local succeeds, peers times out: the completion must never run with
	// partial results, and the connection is given up.
	connector := simpleDialer(func(stmt cql.Statement) (*cql.ResultSet, error) {
		if strings.Contains(stmt.Query, "system.peers") {
			return nil, fmt.Errorf("request timed out")
		}
		return rows(localRow("dc1", "r1", "3.11.4")), nil
	})

	ctl := New(session, connector, Options{})
	ctl.Connect()
	conn := connector.lastConn()
	conn.pump()

	if !conn.isDefunct() {
		t.Fatal("a sub-query failure must defunct the connection")
	}
	if session.ready() {
		t.Error("the bundle completion must not run on failure")
	}
	if ctl.State() != StateNew {
		t.Errorf("state must remain new, got %s", ctl.State())
	}
}

func TestNoStreamsDefunctsConnection(t *testing.T) {
	ctl, _, connector := readySchemaControl(t, nil)
	conn := connector.lastConn()

	// Saturate the connection: the next targeted refresh cannot get a
	// stream and must give the connection up.
	saturated := &saturatedConn{fakeConn: conn}
	ctl.mu.Lock()
	ctl.conn = saturated
	ctl.mu.Unlock()

	ctl.OnEvent(&Event{
		Type: EventTypeSchemaChange, SchemaChange: SchemaUpdated,
		SchemaTarget: SchemaTargetKeyspace, Keyspace: "app",
	})

	if !saturated.isDefunct() {
		t.Error("refresh without stream slots must defunct the connection")
	}
}

type saturatedConn struct {
	*fakeConn
}

func (c *saturatedConn) Execute(stmt cql.Statement, handler ResponseHandler) error {
	return ErrNoStreams
}

func TestStaleCompletionAfterReplacedConnection(t *testing.T) {
	session := newFakeSession(addr("10.0.0.1", 9042), addr("10.0.0.2", 9042))
	connector := simpleDialer(hostsResponder(rows(localRow("dc1", "r1", "3.11.4")), rows()))

	ctl := New(session, connector, Options{})
	ctl.Connect()
	first := connector.lastConn()

	// The connection drops with the hosts bundle still in flight; reconnect
	// establishes a replacement.
	ctl.OnClose(first)
	second := connector.lastConn()
	if second == first {
		t.Fatal("expected a replacement connection")
	}

	// The in-flight completion from the dead connection arrives late and
	// must be discarded.
	first.pump()
	if session.ready() {
		t.Fatal("completion from a replaced connection must be discarded")
	}

	second.pump()
	if !session.ready() {
		t.Error("the live connection's completion must still drive ready")
	}
}

func TestReconnectScheduledWhenReadyPlanExhausted(t *testing.T) {
	self := addr("10.0.0.1", 9042)
	session := newFakeSession(self)

	dialCount := 0
	connector := &fakeConnector{}
	connector.dial = func(a Address, version ProtocolVersion) (*fakeConn, error) {
		dialCount++
		if dialCount == 2 {
			// The reconnect after the first connection loss fails.
			return nil, fmt.Errorf("connection refused")
		}
		return &fakeConn{addr: a, respond: hostsResponder(rows(localRow("dc1", "r1", "3.11.4")), rows())}, nil
	}

	ctl := New(session, connector, Options{ReconnectWait: 10 * time.Millisecond})
	conn := bringReady(t, ctl, connector)
	planCallsAtReady := session.planCalls

	// Lose the connection: reconnects once Ready are timer driven, so no
	// attempt happens inline.
	ctl.OnClose(conn)
	if len(connector.attemptList()) != 1 {
		t.Fatalf("reconnect while ready must wait for the timer, attempts=%v", connector.attemptList())
	}

	if ctl.State() != StateReady {
		t.Fatalf("connection loss while ready must not be fatal, got %s", ctl.State())
	}
	if len(session.errors) != 0 {
		t.Fatalf("connection loss while ready must not surface errors, got %v", session.errors)
	}

	// The first timer firing fails its dial and the plan runs dry, which
	// re-arms the timer; the following attempt succeeds.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c := connector.lastConn(); c != nil && c != conn {
			c.pump()
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if ctl.ConnectedHost() == nil {
		t.Fatal("expected the timer-driven reconnect to establish a connection")
	}

	if ctl.State() != StateReady {
		t.Fatalf("plan exhaustion while ready must not be fatal, got %s", ctl.State())
	}
	if len(session.errors) != 0 {
		t.Fatalf("plan exhaustion while ready must not surface errors, got %v", session.errors)
	}

	session.mu.Lock()
	planCalls := session.planCalls
	session.mu.Unlock()
	if planCalls <= planCallsAtReady {
		t.Error("each reconnect attempt must obtain a fresh query plan")
	}
}

func TestReconnectRefreshesMetadata(t *testing.T) {
	self := addr("10.0.0.1", 9042)
	session := newFakeSession(self)
	connector := simpleDialer(hostsResponder(rows(localRow("dc1", "r1", "3.11.4")), rows()))

	ctl := New(session, connector, Options{ReconnectWait: 10 * time.Millisecond})
	conn := bringReady(t, ctl, connector)

	// Connection loss while ready: the replacement connection re-runs the
	// hosts refresh, since events could have been missed.
	ctl.OnClose(conn)

	var replacement *fakeConn
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c := connector.lastConn(); c != conn {
			replacement = c
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if replacement == nil {
		t.Fatal("expected a timer-driven reconnect attempt")
	}
	replacement.pump()

	if len(session.purges) != 2 {
		t.Errorf("expected a second hosts refresh after reconnect, purges=%v", session.purges)
	}
	if session.purges[1] != false {
		t.Error("the reconnect refresh is not an initial purge")
	}
	if ctl.State() != StateReady {
		t.Errorf("expected ready after reconnect, got %s", ctl.State())
	}
}
