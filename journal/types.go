// Package journal records significant pipeline events for operator
// inspection: piece submissions, deal resolutions, dead letters. Events are
// typed and can be disabled per type.
package journal

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/xerrors"
)

// EventType represents the signature of an event.
type EventType struct {
	System string
	Event  string

	// enabled stores whether this event type is enabled.
	enabled bool

	// safe is a sentinel marker that's set to true if this EventType was
	// constructed correctly (via the registry).
	safe bool
}

func (et EventType) String() string {
	return et.System + ":" + et.Event
}

// Enabled returns whether this event type is enabled in the journaling
// subsystem. Users are advised to check this before actually attempting to
// add a journal entry, as it helps bypass object construction for events that
// would be discarded anyway.
func (et EventType) Enabled() bool {
	return et.safe && et.enabled
}

// Event represents a journal entry.
type Event struct {
	EventType

	Timestamp time.Time
	Data      interface{}
}

// DisabledEvents is the set of event types whose journaling is suppressed.
type DisabledEvents []EventType

// NoDisabledEvents is the default: nothing disabled.
var NoDisabledEvents = DisabledEvents{}

// ParseDisabledEvents parses a comma-separated list of system:event
// signatures.
func ParseDisabledEvents(s string) (DisabledEvents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return NoDisabledEvents, nil
	}
	evts := strings.Split(s, ",")
	ret := make(DisabledEvents, 0, len(evts))
	for _, evt := range evts {
		parts := strings.Split(strings.TrimSpace(evt), ":")
		if len(parts) != 2 {
			return nil, xerrors.Errorf("invalid event signature %q, expected system:event", evt)
		}
		ret = append(ret, EventType{System: parts[0], Event: parts[1]})
	}
	return ret, nil
}

// EventTypeRegistry is a component that constructs tracked EventTypes.
// Instances are safe for concurrent use.
type EventTypeRegistry interface {
	// RegisterEventType introduces a new event type to the registry and
	// returns an EventType usable with RecordEvent.
	RegisterEventType(system, event string) EventType
}

// Journal represents an audit trail of system actions.
type Journal interface {
	EventTypeRegistry

	// RecordEvent records this event to the journal, if and only if the
	// EventType is enabled. The supplier is only called in that case.
	RecordEvent(evtType EventType, supplier func() interface{})

	// Close closes the journal.
	Close() error
}

type eventTypeRegistry struct {
	sync.Mutex
	m map[string]EventType
}

func NewEventTypeRegistry(disabled DisabledEvents) EventTypeRegistry {
	registry := &eventTypeRegistry{
		m: make(map[string]EventType, len(disabled)),
	}
	for _, et := range disabled {
		et.enabled, et.safe = false, true
		registry.m[et.String()] = et
	}
	return registry
}

func (d *eventTypeRegistry) RegisterEventType(system, event string) EventType {
	d.Lock()
	defer d.Unlock()

	key := fmt.Sprintf("%s:%s", system, event)
	if et, ok := d.m[key]; ok {
		return et
	}

	et := EventType{
		System:  system,
		Event:   event,
		enabled: true,
		safe:    true,
	}
	d.m[key] = et
	return et
}
