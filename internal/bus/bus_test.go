package bus

import (
	"sync"
	"testing"
	"time"
)

type testEvent struct {
	Name  string `json:"name"`
	Score int64  `json:"score"`
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b, err := New()
	if err != nil {
		t.Fatalf("starting bus: %v", err)
	}
	defer b.Close()

	var mu sync.Mutex
	var got []testEvent
	if _, err := Subscribe(b, "test.subject", func(ev testEvent) {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	b.Publish("test.subject", testEvent{Name: "ace", Score: 42})
	b.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event never delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].Name != "ace" || got[0].Score != 42 {
		t.Fatalf("event mismatch: %+v", got[0])
	}
}

func TestSubscribersAreSubjectScoped(t *testing.T) {
	b, err := New()
	if err != nil {
		t.Fatalf("starting bus: %v", err)
	}
	defer b.Close()

	hits := make(chan testEvent, 4)
	if _, err := Subscribe(b, "subject.a", func(ev testEvent) {
		hits <- ev
	}); err != nil {
		t.Fatalf("subscribing: %v", err)
	}

	b.Publish("subject.b", testEvent{Name: "other"})
	b.Publish("subject.a", testEvent{Name: "mine"})
	b.Flush()

	select {
	case ev := <-hits:
		if ev.Name != "mine" {
			t.Fatalf("received foreign event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("scoped event never delivered")
	}

	select {
	case ev := <-hits:
		t.Fatalf("unexpected extra event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
