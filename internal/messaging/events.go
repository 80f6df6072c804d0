package messaging

import (
	"sync"

	"p2p-relay/internal/dht"
)

type EventType string

const (
	EventMessageSent       EventType = "message_sent"
	EventSendMessageFailed EventType = "send_message_failed"
	EventMessageReceived   EventType = "message_received"
)

type Event struct {
	Type       EventType
	Tag        MessageTag
	PeerNodeID dht.NodeID
	// Message is the undelivered message for EventSendMessageFailed.
	Message *OutboundMessage
}

// eventHub fans events out to subscribers without ever blocking the publisher.
type eventHub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	closed bool

	onDrop func()
}

func newEventHub(onDrop func()) *eventHub {
	return &eventHub{subs: make(map[int]chan Event), onDrop: onDrop}
}

func (h *eventHub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *eventHub) publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
}

func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
