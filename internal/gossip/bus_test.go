package gossip

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeReceivesN(t *testing.T) {
	bus := NewBus()
	var wg sync.WaitGroup
	wg.Add(1)

	var got []Event
	go func() {
		defer wg.Done()
		got = bus.Subscribe(2, 5*time.Second)
	}()

	// Give the subscriber a moment to register.
	time.Sleep(20 * time.Millisecond)
	bus.Emit(Event{Type: EventPeerConnected, Remote: "did:key:zA"})
	bus.Emit(Event{Type: EventRefsSynced, Remote: "did:key:zA", RID: "rid:demo"})
	wg.Wait()

	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Type != EventPeerConnected || got[1].Type != EventRefsSynced {
		t.Fatalf("events = %+v", got)
	}
	for _, e := range got {
		if e.ID == "" || e.Time == "" {
			t.Fatalf("event missing id/time: %+v", e)
		}
	}
}

func TestBus_SubscribeTimesOut(t *testing.T) {
	bus := NewBus()
	start := time.Now()
	got := bus.Subscribe(5, 50*time.Millisecond)
	if len(got) != 0 {
		t.Fatalf("got %d events from silent bus", len(got))
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Subscribe blocked %v past its timeout", elapsed)
	}
}

func TestBus_EmitNeverBlocks(t *testing.T) {
	bus := NewBus()

	done := make(chan struct{})
	go func() {
		// Overflow the subscriber buffer while nobody drains it; Emit must
		// drop rather than block.
		sub := make(chan Event, 1)
		bus.mu.Lock()
		bus.subs[sub] = true
		bus.mu.Unlock()

		for i := 0; i < subscriberBuffer*4; i++ {
			bus.Emit(Event{Type: EventRefsAnnounced})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
}

func TestEvent_EncodeIsOneLine(t *testing.T) {
	e := Event{ID: "01J", Type: EventRefsSynced, Remote: "did:key:zA", Time: "now"}
	data, err := e.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Fatal("encoded event not newline-terminated")
	}
	for _, b := range data[:len(data)-1] {
		if b == '\n' {
			t.Fatal("embedded newline in encoded event")
		}
	}
}
