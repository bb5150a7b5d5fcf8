package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/computemarket/cmkt/internal/models"
	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestDeliver(t *testing.T) {
	w := &fakeWriter{}
	c := New([]string{"localhost:9092"}, "market-events", nil)
	c.writer = w

	ev := models.Event{Seq: 7, ID: "abc", Type: models.EventTaskCreated, TaskID: 3, Amount: "100"}
	if err := c.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "task-3" {
		t.Errorf("Expected key task-3, got %s", msg.Key)
	}

	var decoded models.Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	if decoded.Seq != 7 || decoded.Type != models.EventTaskCreated {
		t.Errorf("Unexpected payload: %+v", decoded)
	}

	if err := c.Close(); err != nil || !w.closed {
		t.Errorf("Close did not close writer: %v", err)
	}
}

func TestDeliver_Error(t *testing.T) {
	c := New([]string{"localhost:9092"}, "market-events", nil)
	c.writer = &fakeWriter{err: errors.New("broker down")}

	if err := c.Deliver(context.Background(), models.Event{Seq: 1}); err == nil {
		t.Fatal("Expected delivery error")
	}
}

func TestMessageKey(t *testing.T) {
	cases := []struct {
		ev   models.Event
		want string
	}{
		{models.Event{TaskID: 9, ServiceID: 1}, "task-9"},
		{models.Event{ServiceID: 4}, "service-4"},
		{models.Event{Type: models.EventAuthorityTransferred}, "authority"},
	}
	for _, tc := range cases {
		if got := string(MessageKey(tc.ev)); got != tc.want {
			t.Errorf("MessageKey(%+v) = %s, want %s", tc.ev, got, tc.want)
		}
	}
}

func TestIsAllowed(t *testing.T) {
	c := New(nil, "t", []string{"task_completed", "task_refunded"})
	if !c.IsAllowed(models.EventTaskCompleted) {
		t.Error("Expected task_completed to be allowed")
	}
	if c.IsAllowed(models.EventTaskCreated) {
		t.Error("Expected task_created to be filtered out")
	}
}
