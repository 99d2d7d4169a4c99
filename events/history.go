package events

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Record is one entry of the published-event history.
type Record struct {
	ID    uuid.UUID
	Type  string
	Time  time.Time
	Event any
}

func (b *Bus) record(t reflect.Type, ev any) {
	if b.history == nil {
		return
	}
	b.history.Push(Record{
		ID:    uuid.New(),
		Type:  t.String(),
		Time:  time.Now(),
		Event: ev,
	})
}

// History returns the most recently published events, oldest first.
func (b *Bus) History() []Record {
	if b.history == nil {
		return nil
	}
	return b.history.Snapshot()
}

// HistoryOf returns the recorded events of type T, oldest first.
func HistoryOf[T any](b *Bus) []T {
	var out []T
	for _, r := range b.History() {
		if ev, ok := r.Event.(T); ok {
			out = append(out, ev)
		}
	}
	return out
}
