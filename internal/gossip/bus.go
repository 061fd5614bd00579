package gossip

import (
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event types.
const (
	EventRefsSynced       = "refsSynced"
	EventRefsAnnounced    = "refsAnnounced"
	EventPeerConnected    = "peerConnected"
	EventPeerDisconnected = "peerDisconnected"
	EventFetchFailed      = "fetchFailed"
)

// Event is one record of the observable protocol stream. Serialized as
// newline-delimited JSON for consumers.
type Event struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Remote string `json:"remote,omitempty"` // peer DID
	RID    string `json:"rid,omitempty"`
	Detail string `json:"detail,omitempty"`
	Time   string `json:"time"`
}

// Encode renders the event as one JSON line.
func (e Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

const subscriberBuffer = 128

// Bus fans protocol events out to subscribers. Each subscription holds a
// bounded buffer; the oldest events are dropped when a slow consumer falls
// behind, so emitters never block.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Event]bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]bool)}
}

// Emit publishes an event, stamping its id and time.
func (b *Bus) Emit(e Event) {
	e.ID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	e.Time = time.Now().UTC().Format(time.RFC3339Nano)

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Drop the oldest buffered event to make room.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Subscribe waits for up to n events or until timeout, whichever comes
// first, and returns between 0 and n events. It never blocks past timeout.
func (b *Bus) Subscribe(n int, timeout time.Duration) []Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var events []Event
	for len(events) < n {
		select {
		case e := <-ch:
			events = append(events, e)
		case <-deadline.C:
			return events
		}
	}
	return events
}
