package coordination

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/hive/pkg/models"
)

// EventSink receives a copy of every broadcast event, e.g. to mirror the
// history into an external store.
type EventSink interface {
	Publish(ctx context.Context, event models.CoordinationEvent) error
}

// sinkTimeout bounds each sink publish.
const sinkTimeout = 2 * time.Second

// Subscription delivers events to one agent over its own channel.
type Subscription struct {
	id      uint64
	agentID string
	types   map[models.EventType]bool
	ch      chan models.CoordinationEvent
	dropped atomic.Uint64
}

// C returns the subscription's event channel. It is closed by Unsubscribe.
func (s *Subscription) C() <-chan models.CoordinationEvent { return s.ch }

// AgentID returns the subscribing agent.
func (s *Subscription) AgentID() string { return s.agentID }

// Dropped returns how many events were discarded because the channel was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) wants(e models.CoordinationEvent) bool {
	if e.AgentID == s.agentID {
		return false
	}
	return len(s.types) == 0 || s.types[e.Type]
}

// eventLog is a fixed-capacity ring buffer plus subscriber fan-out.
type eventLog struct {
	mu     sync.RWMutex
	buf    []models.CoordinationEvent
	start  int
	size   int
	total  uint64
	bufCap int

	subs   map[uint64]*Subscription
	nextID uint64
	subBuf int
	// closed is set by Stop; later subscriptions start closed.
	closed bool
}

func newEventLog(capacity, subBuf int) *eventLog {
	return &eventLog{
		buf:    make([]models.CoordinationEvent, capacity),
		bufCap: capacity,
		subs:   make(map[uint64]*Subscription),
		subBuf: subBuf,
	}
}

// append adds e, dropping the oldest entry when full, and fans it out.
// Fan-out never blocks: a full subscriber channel loses the event.
func (l *eventLog) append(e models.CoordinationEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size < l.bufCap {
		l.buf[(l.start+l.size)%l.bufCap] = e
		l.size++
	} else {
		l.buf[l.start] = e
		l.start = (l.start + 1) % l.bufCap
	}
	l.total++

	for _, s := range l.subs {
		if !s.wants(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// snapshot returns the history oldest first.
func (l *eventLog) snapshot() []models.CoordinationEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.CoordinationEvent, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.buf[(l.start+i)%l.bufCap])
	}
	return out
}

// BroadcastEvent appends an event to the history, delivers it to
// subscribers and mirrors it to the sink if one is configured.
func (r *Registry) BroadcastEvent(eventType models.EventType, agentID string, payload map[string]any) models.CoordinationEvent {
	e := models.CoordinationEvent{
		Type:      eventType,
		AgentID:   agentID,
		Timestamp: r.now(),
		Payload:   copyPayload(payload),
	}
	r.events.append(e)
	r.metrics.RecordEvent(string(eventType))

	if r.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := r.sink.Publish(ctx, e); err != nil {
			r.logger.Warn("event sink publish failed", zap.String("type", string(eventType)), zap.Error(err))
		}
		cancel()
	}
	return e
}

// GetAgentMessages returns events from other agents after since, oldest
// first. A zero since returns the whole retained history. When types are
// given only those types are returned.
func (r *Registry) GetAgentMessages(agentID string, since time.Time, types ...models.EventType) []models.CoordinationEvent {
	filter := make(map[models.EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	var out []models.CoordinationEvent
	for _, e := range r.events.snapshot() {
		if e.AgentID == agentID {
			continue
		}
		if !since.IsZero() && !e.Timestamp.After(since) {
			continue
		}
		if len(filter) > 0 && !filter[e.Type] {
			continue
		}
		e.Payload = copyPayload(e.Payload)
		out = append(out, e)
	}
	return out
}

// Subscribe registers agentID for push delivery of future events from
// other agents, optionally filtered by type. After Stop it returns a
// subscription whose channel is already closed.
func (r *Registry) Subscribe(agentID string, types ...models.EventType) *Subscription {
	l := r.events
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	s := &Subscription{
		id:      l.nextID,
		agentID: agentID,
		types:   make(map[models.EventType]bool, len(types)),
		ch:      make(chan models.CoordinationEvent, l.subBuf),
	}
	for _, t := range types {
		s.types[t] = true
	}
	if l.closed {
		close(s.ch)
		return s
	}
	l.subs[s.id] = s
	return s
}

// Unsubscribe stops delivery and closes the subscription channel. It is
// safe to call more than once.
func (r *Registry) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	l := r.events
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.subs[s.id]; !ok {
		return
	}
	delete(l.subs, s.id)
	close(s.ch)
}

func copyPayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
