package relay

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/computemarket/cmkt/internal/connectors"
	"github.com/computemarket/cmkt/internal/models"
	"github.com/computemarket/cmkt/internal/store"
	"github.com/rs/zerolog"
)

// mockConnector records deliveries and can be told to fail.
type mockConnector struct {
	name   string
	allow  map[models.EventType]bool
	failAt uint64

	mu     sync.Mutex
	got    []uint64
	closed bool
}

func (m *mockConnector) Name() string {
	return m.name
}

func (m *mockConnector) Deliver(ctx context.Context, ev models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAt != 0 && ev.Seq == m.failAt {
		return errors.New("connector unavailable")
	}
	m.got = append(m.got, ev.Seq)
	return nil
}

func (m *mockConnector) IsAllowed(typ models.EventType) bool {
	return m.allow == nil || m.allow[typ]
}

func (m *mockConnector) Close() error {
	m.closed = true
	return nil
}

func (m *mockConnector) seqs() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint64(nil), m.got...)
}

func TestFlush_DeliversInOrderAndMarksPublished(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	appendEvents(t, s, 5)

	conn := &mockConnector{name: "mock"}
	r := New(s, []connectors.Connector{conn}, &Config{BatchSize: 3}, zerolog.Nop())

	n, err := r.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 published in first batch, got %d", n)
	}
	n, err = r.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 published in second batch, got %d", n)
	}

	got := conn.seqs()
	for i, seq := range got {
		if seq != uint64(i+1) {
			t.Fatalf("Out of order delivery: %v", got)
		}
	}

	pending, _ := s.PendingEvents(10)
	if len(pending) != 0 {
		t.Errorf("Expected empty outbox, got %d pending", len(pending))
	}
	if r.GetStats()["last_seq"].(uint64) != 5 {
		t.Errorf("Expected last_seq 5, got %v", r.GetStats()["last_seq"])
	}
}

func TestFlush_StopsAtFailure(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	appendEvents(t, s, 4)

	conn := &mockConnector{name: "flaky", failAt: 3}
	r := New(s, []connectors.Connector{conn}, nil, zerolog.Nop())

	n, err := r.Flush(context.Background())
	if err == nil {
		t.Fatal("Expected delivery error")
	}
	if n != 2 {
		t.Errorf("Expected 2 published before failure, got %d", n)
	}

	pending, _ := s.PendingEvents(10)
	if len(pending) != 2 || pending[0].Seq != 3 {
		t.Errorf("Expected seq 3 and 4 still pending, got %+v", pending)
	}

	// Connector recovers and the rest drains
	conn.mu.Lock()
	conn.failAt = 0
	conn.mu.Unlock()
	if n, err := r.Flush(context.Background()); err != nil || n != 2 {
		t.Fatalf("Expected 2 published after recovery, got %d (%v)", n, err)
	}

	stats := r.GetStats()
	if stats["failures"].(map[string]uint64)["flaky"] != 1 {
		t.Errorf("Expected 1 failure, got %v", stats["failures"])
	}
}

func TestFlush_RespectsConnectorFilter(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	for _, typ := range []models.EventType{models.EventTaskCreated, models.EventTaskCompleted, models.EventTaskCreated} {
		if err := s.AppendEvent(&models.Event{Type: typ}); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	all := &mockConnector{name: "all"}
	completions := &mockConnector{name: "completions", allow: map[models.EventType]bool{models.EventTaskCompleted: true}}
	r := New(s, []connectors.Connector{all, completions}, nil, zerolog.Nop())

	if _, err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(all.seqs()) != 3 {
		t.Errorf("Expected 3 events on unfiltered connector, got %v", all.seqs())
	}
	if got := completions.seqs(); len(got) != 1 || got[0] != 2 {
		t.Errorf("Expected only seq 2 on filtered connector, got %v", got)
	}
}

func TestFlush_TypesFilterOnlyThroughConnectors(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	appendEvents(t, s, 3)

	// Types configures the connectors at build time; the relay itself
	// hands every event to every connector that accepts it.
	cfg := DefaultConfig()
	cfg.Types = []string{string(models.EventTaskCompleted)}
	all := &mockConnector{name: "all"}
	r := New(s, []connectors.Connector{all}, cfg, zerolog.Nop())

	if _, err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if got := all.seqs(); len(got) != 3 {
		t.Errorf("Expected all 3 events on an accepting connector, got %v", got)
	}
}

func TestStartStop(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	appendEvents(t, s, 3)

	conn := &mockConnector{name: "mock"}
	r := New(s, []connectors.Connector{conn}, &Config{Interval: 10 * time.Millisecond}, zerolog.Nop())
	r.Start()

	deadline := time.Now().Add(2 * time.Second)
	for len(conn.seqs()) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	r.Stop()

	if len(conn.seqs()) != 3 {
		t.Errorf("Expected 3 deliveries, got %v", conn.seqs())
	}
	if !conn.closed {
		t.Error("Expected connector to be closed on Stop")
	}
}

func appendEvents(t *testing.T, s *store.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.AppendEvent(&models.Event{Type: models.EventTaskCreated, TaskID: uint64(i + 1)}); err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return s
}
