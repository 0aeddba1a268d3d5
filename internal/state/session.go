package state

import (
	"strings"

	"github.com/google/uuid"
)

// Session lives for one bridge process and is never persisted.
type Session struct {
	ID     string
	Tick   uint64
	Active bool
}

func NewSessionID() string {
	return "gm_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func NewSession() *Session {
	return &Session{ID: NewSessionID(), Active: true}
}
