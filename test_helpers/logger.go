package test_helpers

import (
	"sync"

	"github.com/ice-blockchain/go-multidb"
)

// RecordingLogger keeps every reported event.
type RecordingLogger struct {
	mu     sync.Mutex
	events []multidb.LogEvent
}

func (l *RecordingLogger) Report(event multidb.LogEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *RecordingLogger) Events() []multidb.LogEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	ret := make([]multidb.LogEvent, len(l.events))
	copy(ret, l.events)
	return ret
}

// Names returns the names of the reported events, in order.
func (l *RecordingLogger) Names() []string {
	events := l.Events()
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.EventName()
	}
	return names
}

// Count returns how many events with the given name were reported.
func (l *RecordingLogger) Count(name string) int {
	n := 0
	for _, e := range l.Events() {
		if e.EventName() == name {
			n++
		}
	}
	return n
}
