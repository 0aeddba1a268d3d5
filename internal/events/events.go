package events

import (
	"sync"

	"tacbridge.ai/internal/protocol"
)

type Type string

const (
	ContactSpotted       Type = "CONTACT_SPOTTED"
	UnitKilled           Type = "UNIT_KILLED"
	ObjectiveCaptured    Type = "OBJECTIVE_CAPTURED"
	PlayerDowned         Type = "PLAYER_DOWNED"
	VehicleDestroyed     Type = "VEHICLE_DESTROYED"
	MissionCompleted     Type = "MISSION_COMPLETED"
	MissionFailed        Type = "MISSION_FAILED"
	ReinforcementArrived Type = "REINFORCEMENT_ARRIVED"
)

var knownTypes = map[Type]struct{}{
	ContactSpotted:       {},
	UnitKilled:           {},
	ObjectiveCaptured:    {},
	PlayerDowned:         {},
	VehicleDestroyed:     {},
	MissionCompleted:     {},
	MissionFailed:        {},
	ReinforcementArrived: {},
}

func IsKnownType(t Type) bool {
	_, ok := knownTypes[t]
	return ok
}

type Event struct {
	ID        string
	Type      Type
	Timestamp float64
	// SourceGroup references a group by id; empty means none.
	SourceGroup string
	Data        map[string]any
}

func (e Event) Obs() protocol.EventObs {
	o := protocol.EventObs{
		EventID:   e.ID,
		Type:      string(e.Type),
		Timestamp: e.Timestamp,
		Data:      e.Data,
	}
	if e.SourceGroup != "" {
		src := e.SourceGroup
		o.SourceGroup = &src
	}
	return o
}

const DefaultCapacity = 50

// Queue is a bounded FIFO. Pushing into a full queue evicts the oldest event.
type Queue struct {
	mu      sync.Mutex
	buf     []Event
	cap     int
	dropped uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{buf: make([]Event, 0, capacity), cap: capacity}
}

func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) >= q.cap {
		n := len(q.buf) - q.cap + 1
		copy(q.buf, q.buf[n:])
		q.buf = q.buf[:len(q.buf)-n]
		q.dropped += uint64(n)
	}
	q.buf = append(q.buf, ev)
}

// DrainAll returns every buffered event in FIFO order and empties the queue.
func (q *Queue) DrainAll() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, len(q.buf))
	copy(out, q.buf)
	q.buf = q.buf[:0]
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

func (q *Queue) Cap() int { return q.cap }

// Dropped counts events evicted by overflow since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
