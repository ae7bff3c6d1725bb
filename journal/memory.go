package journal

import (
	"sync"

	"github.com/raulk/clock"

	"github.com/filecoin-project/go-storefront/build"
)

// MemJournal keeps recorded events in memory. Used in tests.
type MemJournal struct {
	EventTypeRegistry

	clock clock.Clock

	mu     sync.Mutex
	events []Event
}

var _ Journal = (*MemJournal)(nil)

func NewMemJournal(disabled DisabledEvents) *MemJournal {
	return &MemJournal{
		EventTypeRegistry: NewEventTypeRegistry(disabled),
		clock:             build.Clock,
	}
}

func (m *MemJournal) RecordEvent(evtType EventType, supplier func() interface{}) {
	if !evtType.Enabled() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{
		EventType: evtType,
		Timestamp: m.clock.Now(),
		Data:      supplier(),
	})
}

// Events returns a copy of all recorded events.
func (m *MemJournal) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemJournal) Close() error { return nil }
