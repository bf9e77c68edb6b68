package stage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// StageEvent is one observable transition of a document's Stage Machine,
// published to Subscribers. It replaces polling (spec §9) with a push
// model; the HTTP layer forwards these as Server-Sent-Events.
type StageEvent struct {
	DocumentID uuid.UUID
	Stage      State
	Status     EventStatus
	Progress   float64 // 0..1, stage-local
	Error      string  `json:"error,omitempty"`
}

// EventStatus is the phase of a stage a StageEvent reports.
type EventStatus string

const (
	EventStarted  EventStatus = "started"
	EventProgress EventStatus = "progress"
	EventDone     EventStatus = "done"
	EventFailed   EventStatus = "failed"
	EventPaused   EventStatus = "paused"
	EventResumed  EventStatus = "resumed"
)

// broker fans out StageEvents to per-document subscriber channels. One
// broker is shared across every document's Machine in a process.
type broker struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]chan StageEvent
}

func newBroker() *broker {
	return &broker{subs: make(map[uuid.UUID][]chan StageEvent)}
}

// Subscribe returns a channel of events for documentID. The channel is
// closed when ctx is done; callers MUST drain it or cancel ctx to avoid
// leaking the broker's internal slot for this subscriber.
func (b *broker) Subscribe(ctx context.Context, documentID uuid.UUID) (<-chan StageEvent, error) {
	ch := make(chan StageEvent, 16)

	b.mu.Lock()
	b.subs[documentID] = append(b.subs[documentID], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(documentID, ch)
	}()

	return ch, nil
}

func (b *broker) unsubscribe(documentID uuid.UUID, ch chan StageEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[documentID]
	for i, c := range subs {
		if c == ch {
			b.subs[documentID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.subs[documentID]) == 0 {
		delete(b.subs, documentID)
	}
}

// publish sends ev to every current subscriber of ev.DocumentID. A full
// subscriber channel is skipped rather than blocking the Stage Machine —
// a slow SSE client loses intermediate progress events, never the
// machine's forward progress.
func (b *broker) publish(ev StageEvent) {
	b.mu.Lock()
	subs := append([]chan StageEvent(nil), b.subs[ev.DocumentID]...)
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
