package session

import (
	"sync"
	"time"
)

// EventType names what happened in a session
type EventType string

const (
	EventTrackStarted   EventType = "trackStarted"
	EventTrackEnded     EventType = "trackEnded"
	EventPositionUpdate EventType = "positionUpdate"
	EventError          EventType = "error"
	EventStateChange    EventType = "stateChange"
	EventVolumeChange   EventType = "volumeChange"
	EventEffectsChange  EventType = "effectsChange"
	EventPlaylistChange EventType = "playlistChange"
)

var allEventTypes = []EventType{
	EventTrackStarted,
	EventTrackEnded,
	EventPositionUpdate,
	EventError,
	EventStateChange,
	EventVolumeChange,
	EventEffectsChange,
	EventPlaylistChange,
}

// Event is one notification with the session status at the time
type Event struct {
	Type    EventType `json:"type"`
	Status  *Status   `json:"status,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Bus handles event distribution using channels
type Bus struct {
	subscribers map[EventType][]chan Event
	mu          sync.RWMutex
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
	}
}

// Subscribe returns a channel receiving the given event types, or every
// type when none are given.
func (b *Bus) Subscribe(types ...EventType) <-chan Event {
	if len(types) == 0 {
		types = allEventTypes
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 32)
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}
	return ch
}

// Publish broadcasts an event to all subscribers of its type. Slow
// subscribers miss events rather than block the session.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Unsubscribe removes and closes a subscriber channel
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var found chan Event
	for t, subs := range b.subscribers {
		for i, ch := range subs {
			if ch == sub {
				found = ch
				b.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
	if found != nil {
		close(found)
	}
}

// Close closes all subscriber channels
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	closed := make(map[chan Event]bool)
	for _, subs := range b.subscribers {
		for _, ch := range subs {
			if !closed[ch] {
				close(ch)
				closed[ch] = true
			}
		}
	}
	b.subscribers = make(map[EventType][]chan Event)
}
