package execution

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubmissionManager keeps the submissions sent during this run.
type SubmissionManager struct {
	submissions map[uuid.UUID]*Submission
	mu          sync.RWMutex
}

func NewSubmissionManager() *SubmissionManager {
	return &SubmissionManager{
		submissions: make(map[uuid.UUID]*Submission),
	}
}

func (sm *SubmissionManager) Add(s *Submission) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.submissions[s.ID] = s
}

// Get returns a copy of the submission with the given id, or nil.
func (sm *SubmissionManager) Get(id uuid.UUID) *Submission {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	s, ok := sm.submissions[id]
	if !ok {
		return nil
	}
	c := *s
	return &c
}

func (sm *SubmissionManager) update(id uuid.UUID, fn func(s *Submission)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if s, exists := sm.submissions[id]; exists {
		fn(s)
		s.UpdatedAt = time.Now()
	}
}

// Pending returns the submissions still waiting to be mined.
func (sm *SubmissionManager) Pending() []Submission {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var out []Submission
	for _, s := range sm.submissions {
		if !s.Done() {
			out = append(out, *s)
		}
	}
	return out
}

// History returns up to limit submissions, newest first. A limit <= 0 returns all.
func (sm *SubmissionManager) History(limit int) []Submission {
	sm.mu.RLock()
	out := make([]Submission, 0, len(sm.submissions))
	for _, s := range sm.submissions {
		out = append(out, *s)
	}
	sm.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
