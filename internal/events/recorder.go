package events

import (
	"sync"
	"time"

	"tacbridge.ai/internal/ids"
	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
)

// Recorder turns observer callbacks into queued events with fresh ids and
// timestamps relative to its creation.
type Recorder struct {
	q     *Queue
	seq   ids.Sequence
	mu    sync.Mutex
	clock func() float64
}

// NewRecorder uses a monotonic clock starting at zero when clock is nil.
func NewRecorder(q *Queue, clock func() float64) *Recorder {
	if clock == nil {
		start := time.Now()
		clock = func() float64 { return time.Since(start).Seconds() }
	}
	return &Recorder{q: q, clock: clock}
}

func (r *Recorder) Queue() *Queue { return r.q }

// Record queues an event of any type and returns it.
func (r *Recorder) Record(t Type, sourceGroup string, data map[string]any) Event {
	r.mu.Lock()
	ev := Event{
		ID:          ids.EventID(r.seq.Next()),
		Type:        t,
		Timestamp:   r.clock(),
		SourceGroup: sourceGroup,
		Data:        data,
	}
	r.q.Push(ev)
	r.mu.Unlock()
	return ev
}

func (r *Recorder) ContactSpotted(groupID string, enemyPos sim.Vec3, enemyCount int, distance float64) Event {
	return r.Record(ContactSpotted, groupID, map[string]any{
		"enemy_position": protocol.PosOf(enemyPos),
		"enemy_count":    enemyCount,
		"distance":       distance,
	})
}

func (r *Recorder) UnitKilled(groupID, unitID string) Event {
	var data map[string]any
	if unitID != "" {
		data = map[string]any{"unit_id": unitID}
	}
	return r.Record(UnitKilled, groupID, data)
}

func (r *Recorder) PlayerDowned(playerID string) Event {
	return r.Record(PlayerDowned, "", map[string]any{"player_id": playerID})
}

func (r *Recorder) ObjectiveCaptured(groupID, objective string) Event {
	return r.Record(ObjectiveCaptured, groupID, map[string]any{"objective": objective})
}

func (r *Recorder) VehicleDestroyed(vehicleID string) Event {
	return r.Record(VehicleDestroyed, "", map[string]any{"vehicle_id": vehicleID})
}

func (r *Recorder) MissionCompleted(missionID string) Event {
	return r.Record(MissionCompleted, "", map[string]any{"mission_id": missionID})
}

func (r *Recorder) MissionFailed(missionID string) Event {
	return r.Record(MissionFailed, "", map[string]any{"mission_id": missionID})
}

func (r *Recorder) ReinforcementArrived(groupID string) Event {
	return r.Record(ReinforcementArrived, groupID, nil)
}
