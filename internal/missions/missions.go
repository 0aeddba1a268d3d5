package missions

import (
	"fmt"
	"io"
	"log"
	"strings"

	"tacbridge.ai/internal/events"
	"tacbridge.ai/internal/ids"
	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
)

type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
)

// Unlimited is the time_remaining sentinel for missions without a limit.
const Unlimited = -1.0

const maxAssignmentLog = 256

type Mission struct {
	ID             string
	Type           string
	Status         Status
	Objective      sim.Vec3
	Priority       string
	AssignedGroups []string
	TimeRemaining  float64
	Completion     float64
}

// Patch is a partial update; nil fields are left untouched.
type Patch struct {
	Objective  *sim.Vec3
	Priority   *string
	Completion *float64
}

// Assignment records one assign attempt, linked or not.
type Assignment struct {
	GroupID         string
	MissionID       string
	GroupResolved   bool
	MissionResolved bool
}

func (a Assignment) Linked() bool { return a.GroupResolved && a.MissionResolved }

// Observer receives mission lifecycle events. *events.Recorder satisfies it.
type Observer interface {
	MissionCompleted(missionID string) events.Event
	MissionFailed(missionID string) events.Event
}

type Registry struct {
	seq    ids.Sequence
	order  []string
	byID   map[string]*Mission
	logger *log.Logger

	groupExists func(groupID string) bool
	observer    Observer

	assignments []Assignment
}

// New builds an empty registry. groupExists resolves group ids for
// assignment; nil treats every group as unresolved.
func New(groupExists func(string) bool, observer Observer, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if groupExists == nil {
		groupExists = func(string) bool { return false }
	}
	return &Registry{
		byID:        map[string]*Mission{},
		logger:      logger,
		groupExists: groupExists,
		observer:    observer,
	}
}

func notFound(id string) error {
	return fmt.Errorf("mission %q: %w", id, protocol.ErrUnknownReference)
}

// Create always succeeds. A nil or non-positive timeLimit means unlimited.
func (r *Registry) Create(typ string, objective *sim.Vec3, timeLimit *float64) string {
	m := &Mission{
		ID:             ids.MissionID(r.seq.Next()),
		Type:           strings.TrimSpace(typ),
		Status:         StatusActive,
		AssignedGroups: []string{},
		TimeRemaining:  Unlimited,
	}
	if objective != nil {
		m.Objective = *objective
	}
	if timeLimit != nil && *timeLimit > 0 {
		m.TimeRemaining = *timeLimit
	}
	r.byID[m.ID] = m
	r.order = append(r.order, m.ID)
	r.logger.Printf("mission created: %s type %s", m.ID, m.Type)
	return m.ID
}

func (r *Registry) Update(id string, p Patch) error {
	m, ok := r.byID[id]
	if !ok {
		return notFound(id)
	}
	if p.Objective != nil {
		m.Objective = *p.Objective
	}
	if p.Priority != nil {
		m.Priority = *p.Priority
	}
	if p.Completion != nil {
		c := *p.Completion
		if c < 0 {
			c = 0
		} else if c > 1 {
			c = 1
		}
		m.Completion = c
	}
	r.logger.Printf("mission updated: %s", id)
	return nil
}

// End marks the mission COMPLETED. The record is retained.
func (r *Registry) End(id string) error {
	m, ok := r.byID[id]
	if !ok {
		return notFound(id)
	}
	if m.Status == StatusCompleted {
		return nil
	}
	m.Status = StatusCompleted
	r.logger.Printf("mission ended: %s", id)
	if r.observer != nil {
		r.observer.MissionCompleted(id)
	}
	return nil
}

// AssignGroup links a group to a mission when both ids resolve. Every call
// is recorded; an unresolved side returns protocol.ErrUnknownReference.
func (r *Registry) AssignGroup(groupID, missionID string) error {
	m, missionOK := r.byID[missionID]
	a := Assignment{
		GroupID:         groupID,
		MissionID:       missionID,
		GroupResolved:   r.groupExists(groupID),
		MissionResolved: missionOK,
	}
	r.recordAssignment(a)
	if !a.Linked() {
		r.logger.Printf("assignment recorded without link: group %s (resolved=%v) mission %s (resolved=%v)",
			groupID, a.GroupResolved, missionID, a.MissionResolved)
		if !missionOK {
			return notFound(missionID)
		}
		return fmt.Errorf("group %q: %w", groupID, protocol.ErrUnknownReference)
	}
	for _, g := range m.AssignedGroups {
		if g == groupID {
			return nil
		}
	}
	m.AssignedGroups = append(m.AssignedGroups, groupID)
	r.logger.Printf("group %s assigned to mission %s", groupID, missionID)
	return nil
}

func (r *Registry) recordAssignment(a Assignment) {
	if len(r.assignments) >= maxAssignmentLog {
		r.assignments = append(r.assignments[:0], r.assignments[1:]...)
	}
	r.assignments = append(r.assignments, a)
}

// UnassignGroup drops groupID from every mission. Missions themselves are
// never removed.
func (r *Registry) UnassignGroup(groupID string) {
	for _, id := range r.order {
		m := r.byID[id]
		out := m.AssignedGroups[:0]
		for _, g := range m.AssignedGroups {
			if g != groupID {
				out = append(out, g)
			}
		}
		m.AssignedGroups = out
	}
}

// Advance counts down finite timers. A mission whose timer runs out is
// closed and reported as failed.
func (r *Registry) Advance(dt float64) {
	if dt <= 0 {
		return
	}
	for _, id := range r.order {
		m := r.byID[id]
		if m.Status != StatusActive || m.TimeRemaining <= 0 {
			continue
		}
		m.TimeRemaining -= dt
		if m.TimeRemaining > 0 {
			continue
		}
		m.TimeRemaining = 0
		m.Status = StatusCompleted
		r.logger.Printf("mission expired: %s", id)
		if r.observer != nil {
			r.observer.MissionFailed(id)
		}
	}
}

func (r *Registry) Get(id string) (Mission, bool) {
	m, ok := r.byID[id]
	if !ok {
		return Mission{}, false
	}
	cp := *m
	cp.AssignedGroups = append([]string{}, m.AssignedGroups...)
	return cp, true
}

func (r *Registry) Len() int { return len(r.order) }

// All returns every mission in creation order, completed ones included.
func (r *Registry) All() []Mission {
	out := make([]Mission, 0, len(r.order))
	for _, id := range r.order {
		m, _ := r.Get(id)
		out = append(out, m)
	}
	return out
}

func (r *Registry) Assignments() []Assignment {
	return append([]Assignment(nil), r.assignments...)
}

// SerializeActive emits ACTIVE missions in creation order.
func (r *Registry) SerializeActive() []protocol.MissionObs {
	out := make([]protocol.MissionObs, 0, len(r.order))
	for _, id := range r.order {
		m := r.byID[id]
		if m.Status != StatusActive {
			continue
		}
		out = append(out, protocol.MissionObs{
			MissionID:         m.ID,
			Type:              m.Type,
			Status:            string(m.Status),
			ObjectivePosition: protocol.PosOf(m.Objective),
			Completion:        m.Completion,
		})
	}
	return out
}
