// Package memory is an in-process store used by tests. It enforces the
// same guarded-update semantics as the postgres implementation under a
// single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"campusgate/gatepass/internal/model"
	"campusgate/gatepass/internal/store"
)

type Store struct {
	mu             sync.Mutex
	passes         map[string]model.Pass
	events         map[string]model.Event
	studentEntries map[string]model.StudentEntry
}

func New() *Store {
	return &Store{
		passes:         make(map[string]model.Pass),
		events:         make(map[string]model.Event),
		studentEntries: make(map[string]model.StudentEntry),
	}
}

func (s *Store) CreatePass(_ context.Context, p model.Pass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.passes[p.PassID]; exists {
		return store.ErrDuplicateID
	}
	s.passes[p.PassID] = p
	return nil
}

func (s *Store) GetPass(_ context.Context, passID string) (model.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passes[passID]
	if !ok {
		return model.Pass{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListActivePasses(_ context.Context) ([]model.Pass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	passes := make([]model.Pass, 0, len(s.passes))
	for _, p := range s.passes {
		if p.PassStatus == model.PassStatusDeleted {
			continue
		}
		passes = append(passes, p)
	}
	sort.Slice(passes, func(i, j int) bool {
		return passes[i].CreatedAt.After(passes[j].CreatedAt)
	})
	return passes, nil
}

func (s *Store) SetEntry(_ context.Context, passID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passes[passID]
	if !ok {
		return false, store.ErrNotFound
	}
	if p.PassStatus != model.PassStatusActive || p.EntryTime != nil {
		return false, nil
	}
	at = at.UTC()
	p.EntryTime = &at
	p.EntryStatus = model.EntryStatusEntered
	s.passes[passID] = p
	return true, nil
}

func (s *Store) SetExit(_ context.Context, passID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passes[passID]
	if !ok {
		return false, store.ErrNotFound
	}
	if p.PassStatus != model.PassStatusActive || p.EntryTime == nil || p.ExitTime != nil {
		return false, nil
	}
	at = at.UTC()
	// An exit can never predate the recorded entry.
	if at.Before(*p.EntryTime) {
		at = *p.EntryTime
	}
	p.ExitTime = &at
	p.EntryStatus = model.EntryStatusExited
	s.passes[passID] = p
	return true, nil
}

func (s *Store) SetPassStatus(_ context.Context, passID, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.passes[passID]
	if !ok {
		return false, store.ErrNotFound
	}
	if p.PassStatus != model.PassStatusActive {
		return false, nil
	}
	p.PassStatus = status
	s.passes[passID] = p
	return true, nil
}

func (s *Store) CountExpiredBetween(_ context.Context, from, until time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, p := range s.passes {
		if p.PassStatus != model.PassStatusActive {
			continue
		}
		if p.ValidUntil.After(from) && !p.ValidUntil.After(until) {
			count++
		}
	}
	return count, nil
}

func (s *Store) Report(_ context.Context, recentLimit int) (model.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := model.Report{
		EventsCount:    int64(len(s.events)),
		RecentVisitors: []model.RecentVisitor{},
	}
	var entered []model.Pass
	for _, p := range s.passes {
		report.PassesGenerated++
		if p.EntryTime != nil {
			report.VisitorEntries++
			entered = append(entered, p)
		}
	}
	sort.Slice(entered, func(i, j int) bool {
		return entered[i].EntryTime.After(*entered[j].EntryTime)
	})
	for i, p := range entered {
		if i >= recentLimit {
			break
		}
		report.RecentVisitors = append(report.RecentVisitors, model.RecentVisitor{
			VisitorName: p.VisitorName,
			VisitType:   p.VisitType,
			EntryTime:   *p.EntryTime,
		})
	}
	return report, nil
}

func (s *Store) CreateStudentEntry(_ context.Context, e model.StudentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.studentEntries[e.ID] = e
	return nil
}

func (s *Store) GetStudentEntry(_ context.Context, id string) (model.StudentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.studentEntries[id]
	if !ok {
		return model.StudentEntry{}, store.ErrNotFound
	}
	return e, nil
}

func (s *Store) ListStudentEntries(_ context.Context) ([]model.StudentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]model.StudentEntry, 0, len(s.studentEntries))
	for _, e := range s.studentEntries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].EntryTime.After(entries[j].EntryTime)
	})
	return entries, nil
}

func (s *Store) SetStudentExit(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.studentEntries[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if e.ExitTime != nil {
		return false, nil
	}
	at = at.UTC()
	if at.Before(e.EntryTime) {
		at = e.EntryTime
	}
	e.ExitTime = &at
	s.studentEntries[id] = e
	return true, nil
}

func (s *Store) CreateEvent(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
	return nil
}

func (s *Store) GetEvent(_ context.Context, id string) (model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return model.Event{}, store.ErrNotFound
	}
	return e, nil
}

func (s *Store) ListEvents(_ context.Context) ([]model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]model.Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].StartDate.Before(events[j].StartDate)
	})
	return events, nil
}

func (s *Store) UpdateEvent(_ context.Context, e model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; !ok {
		return store.ErrNotFound
	}
	s.events[e.ID] = e
	return nil
}

func (s *Store) DeleteEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.events, id)
	return nil
}
