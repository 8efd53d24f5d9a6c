package stream

import (
	"testing"
	"time"
)

func newTestManager(poolSize int) *Manager {
	m := NewManager(poolSize, nil, nil, time.Minute, nil)
	for _, c := range m.conns {
		c.healthy = true
	}
	return m
}

func TestAssignKeysPicksLeastLoadedConnection(t *testing.T) {
	m := newTestManager(2)

	m.AssignKeys([]string{"key1"}, RoleAccountWatch)
	m.AssignKeys([]string{"key2"}, RoleAccountWatch)

	if len(m.conns[0].keys) != 1 || len(m.conns[1].keys) != 1 {
		t.Fatalf("expected keys spread evenly across connections, got %d and %d",
			len(m.conns[0].keys), len(m.conns[1].keys))
	}
}

func TestAssignKeysIsIdempotentPerKey(t *testing.T) {
	m := newTestManager(2)

	m.AssignKeys([]string{"key1"}, RoleAccountWatch)
	m.AssignKeys([]string{"key1"}, RoleAccountWatch)

	total := len(m.conns[0].keys) + len(m.conns[1].keys)
	if total != 1 {
		t.Fatalf("expected key assigned exactly once, got total %d", total)
	}
}

func TestAssignKeysSkipsUnhealthyConnections(t *testing.T) {
	m := newTestManager(2)
	m.conns[0].healthy = false

	m.AssignKeys([]string{"key1", "key2", "key3"}, RoleAccountWatch)

	if len(m.conns[0].keys) != 0 {
		t.Fatalf("expected unhealthy connection to receive no keys, got %d", len(m.conns[0].keys))
	}
	if len(m.conns[1].keys) != 3 {
		t.Fatalf("expected all keys on the healthy connection, got %d", len(m.conns[1].keys))
	}
}

func TestRedistributeMovesKeysOffFailedConnection(t *testing.T) {
	m := newTestManager(2)
	m.AssignKeys([]string{"key1", "key2"}, RoleAccountWatch)

	// Force both keys onto conn 0 for a deterministic starting point.
	m.mu.Lock()
	for _, c := range m.conns {
		c.keys = make(map[string]Role)
	}
	m.conns[0].keys["key1"] = RoleAccountWatch
	m.conns[0].keys["key2"] = RoleAccountWatch
	m.keyToConn["key1"] = 0
	m.keyToConn["key2"] = 0
	m.mu.Unlock()

	m.conns[0].healthy = false
	m.redistribute(m.conns[0])

	if len(m.conns[0].keys) != 0 {
		t.Fatalf("expected failed connection to retain no keys, got %d", len(m.conns[0].keys))
	}
	if len(m.conns[1].keys) != 2 {
		t.Fatalf("expected surviving connection to absorb both keys, got %d", len(m.conns[1].keys))
	}
}
