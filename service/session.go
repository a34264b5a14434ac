package service

import (
	"sync"
	"time"

	"quantum-voting/models"
)

// VoterSession tracks one anonymous voter's progress through the elections
// it must vote in. It holds no identity.
type VoterSession struct {
	id             string
	startTime      time.Time
	endTime        time.Time
	isActive       bool
	constituencies map[models.ElectionType]int
	cast           map[models.ElectionType]bool
	mu             sync.RWMutex

	// castMu serializes ballot casting for the session.
	castMu sync.Mutex
}

func NewVoterSession(id string, ttl time.Duration, constituencies map[models.ElectionType]int) *VoterSession {
	now := time.Now()
	copied := make(map[models.ElectionType]int, len(constituencies))
	for e, c := range constituencies {
		copied[e] = c
	}
	return &VoterSession{
		id:             id,
		startTime:      now,
		endTime:        now.Add(ttl),
		isActive:       true,
		constituencies: copied,
		cast:           make(map[models.ElectionType]bool),
	}
}

func (vs *VoterSession) ID() string {
	return vs.id
}

func (vs *VoterSession) ExpiresAt() time.Time {
	return vs.endTime
}

func (vs *VoterSession) IsActive() bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.isActive && time.Now().Before(vs.endTime)
}

func (vs *VoterSession) IsExpired() bool {
	return !time.Now().Before(vs.endTime)
}

func (vs *VoterSession) End() {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.isActive = false
}

// Constituency returns the constituency chosen for election, if required.
func (vs *VoterSession) Constituency(election models.ElectionType) (int, bool) {
	c, ok := vs.constituencies[election]
	return c, ok
}

func (vs *VoterSession) HasCast(election models.ElectionType) bool {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	return vs.cast[election]
}

// MarkCast records a sealed ballot for election and reports whether every
// required election now has one.
func (vs *VoterSession) MarkCast(election models.ElectionType) bool {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	vs.cast[election] = true
	return len(vs.cast) >= len(vs.constituencies)
}

// Remaining lists required elections without a ballot yet.
func (vs *VoterSession) Remaining() []models.ElectionType {
	vs.mu.RLock()
	defer vs.mu.RUnlock()
	var out []models.ElectionType
	for _, e := range []models.ElectionType{models.ElectionMLA, models.ElectionMP} {
		if _, required := vs.constituencies[e]; required && !vs.cast[e] {
			out = append(out, e)
		}
	}
	return out
}
