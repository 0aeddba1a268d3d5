package memworld

import "tacbridge.ai/internal/sim"

type Unit struct {
	w         *World
	id        int
	faction   string
	health    float64
	pos       sim.Vec3
	inVehicle bool
	deleted   bool
}

var _ sim.Entity = (*Unit)(nil)

func (u *Unit) ID() int { return u.id }

func (u *Unit) Faction() (string, bool) {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	if u.deleted || u.faction == "" {
		return "", false
	}
	return u.faction, true
}

func (u *Unit) Health() (float64, bool) {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	if u.deleted {
		return 0, false
	}
	return u.health, true
}

func (u *Unit) Position() (sim.Vec3, bool) {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	if u.deleted {
		return sim.Vec3{}, false
	}
	return u.pos, true
}

func (u *Unit) Alive() bool {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	return !u.deleted && u.health > 0
}

func (u *Unit) InVehicle() bool {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	return u.inVehicle
}

// Damage lowers health, clamped at zero, and reports whether the unit died.
func (u *Unit) Damage(amount float64) bool {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	if u.deleted || u.health <= 0 {
		return false
	}
	u.health -= amount
	if u.health <= 0 {
		u.health = 0
		return true
	}
	return false
}

func (u *Unit) SetInVehicle(v bool) {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	u.inVehicle = v
}

func (u *Unit) MoveTo(p sim.Vec3) {
	u.w.mu.Lock()
	defer u.w.mu.Unlock()
	u.pos = p
}
