package groups

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"tacbridge.ai/internal/ids"
	"tacbridge.ai/internal/protocol"
	"tacbridge.ai/internal/sim"
)

const UnknownFaction = "UNKNOWN"

type Record struct {
	ID      string
	Faction string
	Prefab  string
	Handle  sim.Group
}

// Registry maps external group ids to live engine groups. It is owned by the
// bridge loop and is not safe for concurrent use.
type Registry struct {
	world     sim.World
	templates Templates
	seq       *ids.Sequence
	logger    *log.Logger

	recs     map[string]*Record
	onUnlink []func(groupID string)
}

// New builds a registry. seq is shared by every group id the registry mints;
// a nil seq gets a private one.
func New(world sim.World, templates Templates, seq *ids.Sequence, logger *log.Logger) *Registry {
	if templates == nil {
		templates = DefaultTemplates()
	}
	if seq == nil {
		seq = &ids.Sequence{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		world:     world,
		templates: templates,
		seq:       seq,
		logger:    logger,
		recs:      map[string]*Record{},
	}
}

// SetTemplates swaps the spawn table, e.g. after a catalog reload.
func (r *Registry) SetTemplates(t Templates) {
	if t != nil {
		r.templates = t
	}
}

// OnUnlink registers fn to run after a group leaves the registry.
func (r *Registry) OnUnlink(fn func(groupID string)) {
	r.onUnlink = append(r.onUnlink, fn)
}

func notFound(id string) error {
	return fmt.Errorf("group %q: %w", id, protocol.ErrUnknownReference)
}

// Register stores a live group. An empty explicitID mints grp_NNN. An
// explicit id carrying a sequence number moves the shared sequence past it,
// so later minted ids cannot collide with it. Registering an explicit id
// that is already live replaces the handle.
func (r *Registry) Register(handle sim.Group, explicitID string) string {
	id := strings.TrimSpace(explicitID)
	if id == "" {
		id = r.mint(ids.GroupID)
	} else {
		if n, ok := ids.ParseSeq("grp_", id); ok {
			r.seq.AdvancePast(n)
		}
		if _, dup := r.recs[id]; dup {
			r.logger.Printf("group %s re-registered; previous handle replaced", id)
		}
	}
	r.recs[id] = &Record{ID: id, Handle: handle}
	return id
}

// mint draws sequence values until format yields an id that is not live.
func (r *Registry) mint(format func(uint64) string) string {
	for {
		id := format(r.seq.Next())
		if _, taken := r.recs[id]; !taken {
			return id
		}
	}
}

// Spawn materializes a templated group. An unmapped pair fails with
// protocol.ErrUnknownTemplate and leaves the registry untouched.
func (r *Registry) Spawn(faction, template string, pos sim.Vec3) (string, error) {
	prefab, ok := r.templates.Prefab(faction, template)
	if !ok {
		return "", fmt.Errorf("%s/%s: %w", faction, template, protocol.ErrUnknownTemplate)
	}
	g, err := r.world.SpawnGroup(prefab, pos)
	if err != nil {
		return "", fmt.Errorf("spawn %s: %w", prefab, err)
	}
	if g == nil {
		return "", fmt.Errorf("spawn %s: world returned no group", prefab)
	}
	id := r.mint(func(n uint64) string { return ids.SpawnedGroupID(faction, n) })
	r.recs[id] = &Record{ID: id, Faction: strings.TrimSpace(faction), Prefab: prefab, Handle: g}
	r.logger.Printf("group spawned: %s at (%.1f, %.1f, %.1f)", id, pos.X, pos.Y, pos.Z)
	return id, nil
}

// Despawn deletes every member and drops the entry. Unknown ids return
// protocol.ErrUnknownReference, which callers treat as already done.
func (r *Registry) Despawn(id string) error {
	rec, ok := r.recs[id]
	if !ok {
		return notFound(id)
	}
	if rec.Handle != nil {
		for _, m := range rec.Handle.Members() {
			if m == nil {
				continue
			}
			if err := r.world.DeleteEntity(m); err != nil {
				r.logger.Printf("group %s: delete member: %v", id, err)
			}
		}
	}
	delete(r.recs, id)
	for _, fn := range r.onUnlink {
		fn(id)
	}
	r.logger.Printf("group removed: %s", id)
	return nil
}

func (r *Registry) handle(id string) (sim.Group, error) {
	rec, ok := r.recs[id]
	if !ok || rec.Handle == nil {
		return nil, notFound(id)
	}
	return rec.Handle, nil
}

// SetFormation applies the mapped formation. On an unknown key the fallback
// is applied and the returned error wraps protocol.ErrUnknownEnumKey.
func (r *Registry) SetFormation(id, key string) error {
	g, err := r.handle(id)
	if err != nil {
		return err
	}
	f, keyErr := LookupFormation(key)
	if err := g.SetFormation(f); err != nil {
		return fmt.Errorf("group %s formation: %w", id, err)
	}
	return keyErr
}

func (r *Registry) SetBehavior(id, key string) error {
	g, err := r.handle(id)
	if err != nil {
		return err
	}
	b, keyErr := LookupBehavior(key)
	if err := g.SetBehavior(b); err != nil {
		return fmt.Errorf("group %s behavior: %w", id, err)
	}
	return keyErr
}

func (r *Registry) SetWaypoint(id string, pos sim.Vec3, orderKey string) error {
	g, err := r.handle(id)
	if err != nil {
		return err
	}
	wp, keyErr := LookupWaypoint(orderKey)
	if err := g.AddWaypoint(pos, wp.Kind); err != nil {
		return fmt.Errorf("group %s waypoint: %w", id, err)
	}
	if wp.Behavior != "" {
		if err := g.SetBehavior(wp.Behavior); err != nil {
			return fmt.Errorf("group %s behavior: %w", id, err)
		}
	}
	return keyErr
}

// SetAmbush is a DEFEND waypoint followed by STEALTH behavior.
func (r *Registry) SetAmbush(id string, pos sim.Vec3) error {
	if err := r.SetWaypoint(id, pos, "DEFEND"); err != nil {
		return err
	}
	return r.SetBehavior(id, "STEALTH")
}

func (r *Registry) Get(id string) (Record, bool) {
	rec, ok := r.recs[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (r *Registry) Has(id string) bool {
	_, ok := r.recs[id]
	return ok
}

func (r *Registry) Len() int { return len(r.recs) }

func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.recs))
	for id := range r.recs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SerializeAll emits one observation per registered group, sorted by id.
func (r *Registry) SerializeAll() []protocol.GroupObs {
	out := make([]protocol.GroupObs, 0, len(r.recs))
	for _, id := range r.IDs() {
		rec := r.recs[id]
		if rec.Handle == nil {
			continue
		}
		out = append(out, serialize(rec))
	}
	return out
}

func serialize(rec *Record) protocol.GroupObs {
	obs := protocol.GroupObs{GroupID: rec.ID, Faction: UnknownFaction}
	if rec.Faction != "" {
		obs.Faction = rec.Faction
	}

	// Dead members that the world has not removed yet count neither as
	// units nor as zero health.
	var total float64
	var healthy int
	for _, m := range rec.Handle.Members() {
		if m == nil || !m.Alive() {
			continue
		}
		obs.UnitCount++
		if h, ok := m.Health(); ok {
			total += h
			healthy++
		}
	}
	if healthy > 0 {
		obs.HealthAvg = total / float64(healthy)
	}

	if leader := rec.Handle.Leader(); leader != nil {
		if f, ok := leader.Faction(); ok && f != "" {
			obs.Faction = f
		}
		if p, ok := leader.Position(); ok {
			pos := protocol.PosOf(p)
			obs.Position = &pos
		}
	}
	return obs
}
