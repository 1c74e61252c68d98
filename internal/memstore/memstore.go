// Package memstore keeps sections, items and sources in process memory. It
// honours the same conditional-write rules as the Postgres repositories and
// backs tests and single-process local runs.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"examforge/internal/models"

	"github.com/google/uuid"
)

type Store struct {
	mu       sync.Mutex
	sections map[string]models.Section
	items    map[string][]models.Question
	sources  map[string]models.Source
	links    map[string][]string
	calls    []models.GenerationCall
}

func New() *Store {
	return &Store{
		sections: map[string]models.Section{},
		items:    map[string][]models.Question{},
		sources:  map[string]models.Source{},
		links:    map[string][]string{},
	}
}

func (s *Store) PutSection(sec models.Section) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec.CreatedAt.IsZero() {
		sec.CreatedAt = time.Now().UTC()
	}
	sec.UpdatedAt = sec.CreatedAt
	sec.Progress = sec.Progress.Clone()
	s.sections[sec.SectionID] = sec
}

func (s *Store) PutSource(src models.Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.SourceID] = src
}

func (s *Store) LinkSources(sectionID string, sourceIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[sectionID] = append([]string(nil), sourceIDs...)
}

// PutItems seeds committed items, tagging them with attemptID when given.
func (s *Store) PutItems(sectionID string, items ...models.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		it.SectionID = sectionID
		if it.ItemID == "" {
			it.ItemID = uuid.NewString()
		}
		s.items[sectionID] = append(s.items[sectionID], it)
	}
}

func (s *Store) GetSection(ctx context.Context, sectionID string) (models.Section, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[sectionID]
	if !ok {
		return models.Section{}, fmt.Errorf("get section %s: %w", sectionID, models.ErrNotFound)
	}
	return cloneSection(sec), nil
}

func (s *Store) StartAttempt(ctx context.Context, in models.AttemptStart) (models.Section, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[in.SectionID]
	if !ok {
		return models.Section{}, fmt.Errorf("start attempt: %w", models.ErrNotFound)
	}
	if !slices.Contains(in.From, sec.Status) {
		return models.Section{}, fmt.Errorf("start attempt from %s: %w", sec.Status, models.ErrConflict)
	}
	delete(s.items, in.SectionID)
	at := in.At
	sec.Status = models.StatusGenerating
	sec.AttemptID = in.AttemptID
	sec.StartedAt = &at
	sec.LastActivityAt = &at
	sec.Error = ""
	sec.BatchNumber = 0
	sec.GeneratedSoFar = 0
	sec.BatchSize = in.BatchSize
	sec.TotalBatches = in.TotalBatches
	sec.Progress = in.Progress.Clone()
	sec.UpdatedAt = at
	s.sections[in.SectionID] = sec
	return cloneSection(sec), nil
}

func (s *Store) ResumeAttempt(ctx context.Context, in models.AttemptResume) (models.Section, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[in.SectionID]
	if !ok {
		return models.Section{}, fmt.Errorf("resume attempt: %w", models.ErrNotFound)
	}
	if sec.Status != models.StatusInReview || sec.AttemptID != "" {
		return models.Section{}, fmt.Errorf("resume attempt from %s: %w", sec.Status, models.ErrConflict)
	}
	at := in.At
	sec.Status = models.StatusGenerating
	sec.AttemptID = in.AttemptID
	sec.StartedAt = &at
	sec.LastActivityAt = &at
	sec.Error = ""
	sec.TotalBatches = max(sec.TotalBatches, in.TotalBatches)
	sec.Progress = in.Progress.Clone()
	sec.UpdatedAt = at
	s.sections[in.SectionID] = sec
	return cloneSection(sec), nil
}

func (s *Store) Heartbeat(ctx context.Context, sectionID, attemptID string, at time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.ownedLocked(sectionID, attemptID)
	if !ok {
		return fmt.Errorf("heartbeat: %w", models.ErrAttemptLost)
	}
	sec.LastActivityAt = &at
	sec.UpdatedAt = at
	s.sections[sectionID] = sec
	return nil
}

func (s *Store) CommitBatch(ctx context.Context, in models.BatchCommit) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.ownedLocked(in.SectionID, in.AttemptID)
	if !ok || sec.BatchNumber != in.BatchNumber-1 {
		return fmt.Errorf("commit batch %d: %w", in.BatchNumber, models.ErrAttemptLost)
	}
	for _, it := range in.Items {
		it.SectionID = in.SectionID
		it.AttemptID = in.AttemptID
		it.BatchNumber = in.BatchNumber
		if it.CreatedAt.IsZero() {
			it.CreatedAt = in.At
		}
		s.items[in.SectionID] = append(s.items[in.SectionID], it)
	}
	at := in.At
	sec.BatchNumber = in.BatchNumber
	sec.TotalBatches = max(sec.TotalBatches, in.TotalBatches)
	sec.GeneratedSoFar = in.GeneratedSoFar
	sec.Progress = in.Progress.Clone()
	sec.LastActivityAt = &at
	sec.UpdatedAt = at
	s.sections[in.SectionID] = sec
	return nil
}

func (s *Store) EndAttempt(ctx context.Context, in models.AttemptEnd) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.ownedLocked(in.SectionID, in.AttemptID)
	if !ok {
		return fmt.Errorf("end attempt: %w", models.ErrAttemptLost)
	}
	if in.KeepItems {
		items := s.items[in.SectionID]
		for i := range items {
			if items[i].AttemptID == in.AttemptID {
				items[i].AttemptID = ""
			}
		}
	} else {
		s.dropAttemptLocked(&sec, in.AttemptID)
		sec.StartedAt = nil
		sec.LastActivityAt = nil
	}
	if in.Progress != nil {
		sec.Progress = in.Progress.Clone()
	}
	sec.Status = in.Status
	sec.AttemptID = ""
	sec.Error = in.Error
	sec.UpdatedAt = time.Now().UTC()
	s.sections[in.SectionID] = sec
	return nil
}

func (s *Store) ReapStale(ctx context.Context, sectionID, attemptID string, cutoff time.Time, reason string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[sectionID]
	if !ok {
		return false, fmt.Errorf("reap section: %w", models.ErrNotFound)
	}
	if sec.Status != models.StatusGenerating || sec.AttemptID != attemptID || !staleAt(sec, cutoff) {
		return false, nil
	}
	s.dropAttemptLocked(&sec, attemptID)
	sec.Status = models.StatusReady
	sec.AttemptID = ""
	sec.StartedAt = nil
	sec.LastActivityAt = nil
	sec.Error = reason
	sec.UpdatedAt = time.Now().UTC()
	s.sections[sectionID] = sec
	return true, nil
}

func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Section, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Section, 0)
	for _, sec := range s.sections {
		if sec.Status == models.StatusGenerating && staleAt(sec, cutoff) {
			out = append(out, cloneSection(sec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionID < out[j].SectionID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, sectionID string, from []models.SectionStatus, to models.SectionStatus, msg string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[sectionID]
	if !ok {
		return fmt.Errorf("update section status: %w", models.ErrNotFound)
	}
	if !slices.Contains(from, sec.Status) {
		return fmt.Errorf("update section status from %s: %w", sec.Status, models.ErrConflict)
	}
	sec.Status = to
	sec.Error = msg
	sec.UpdatedAt = time.Now().UTC()
	s.sections[sectionID] = sec
	return nil
}

func (s *Store) ReassignSources(ctx context.Context, sectionID string, sourceIDs []string, from []models.SectionStatus) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[sectionID]
	if !ok {
		return fmt.Errorf("reassign sources: %w", models.ErrNotFound)
	}
	if !slices.Contains(from, sec.Status) || sec.AttemptID != "" {
		return fmt.Errorf("reassign sources from %s: %w", sec.Status, models.ErrConflict)
	}
	for _, id := range sourceIDs {
		src, ok := s.sources[id]
		if !ok || src.SubjectID != sec.SubjectID {
			return fmt.Errorf("reassign source %s: %w", id, models.ErrNotFound)
		}
	}
	s.links[sectionID] = append([]string(nil), sourceIDs...)
	sec.Status = models.StatusReady
	sec.Error = ""
	sec.UpdatedAt = time.Now().UTC()
	s.sections[sectionID] = sec
	return nil
}

func (s *Store) ListSources(ctx context.Context, sectionID string) ([]models.Source, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Source, 0, len(s.links[sectionID]))
	for _, id := range s.links[sectionID] {
		if src, ok := s.sources[id]; ok {
			out = append(out, src)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *Store) CountItems(ctx context.Context, sectionID, attemptID string) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, it := range s.items[sectionID] {
		if attemptID == "" || it.AttemptID == attemptID {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListItems(ctx context.Context, sectionID string) ([]models.Question, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Question(nil), s.items[sectionID]...), nil
}

func (s *Store) DeleteItems(ctx context.Context, sectionID string, itemIDs []string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[sectionID] = slices.DeleteFunc(s.items[sectionID], func(it models.Question) bool {
		return slices.Contains(itemIDs, it.ItemID)
	})
	return nil
}

func (s *Store) ItemStats(ctx context.Context, sectionID string) (models.ItemStats, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var st models.ItemStats
	for _, it := range s.items[sectionID] {
		st.Total++
		if it.Selected {
			st.Selected++
		}
	}
	return st, nil
}

func (s *Store) InsertGenerationCall(ctx context.Context, rec models.GenerationCall) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CallID == "" {
		rec.CallID = uuid.NewString()
	}
	s.calls = append(s.calls, rec)
	return nil
}

func (s *Store) Calls() []models.GenerationCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.GenerationCall(nil), s.calls...)
}

func (s *Store) ownedLocked(sectionID, attemptID string) (models.Section, bool) {
	sec, ok := s.sections[sectionID]
	if !ok || attemptID == "" || sec.Status != models.StatusGenerating || sec.AttemptID != attemptID {
		return models.Section{}, false
	}
	return sec, true
}

func (s *Store) dropAttemptLocked(sec *models.Section, attemptID string) {
	if attemptID != "" {
		s.items[sec.SectionID] = slices.DeleteFunc(s.items[sec.SectionID], func(it models.Question) bool {
			return it.AttemptID == attemptID
		})
	}
	sec.GeneratedSoFar = len(s.items[sec.SectionID])
}

func staleAt(sec models.Section, cutoff time.Time) bool {
	last := sec.LastSeen()
	return last == nil || last.Before(cutoff)
}

func cloneSection(sec models.Section) models.Section {
	sec.Progress = sec.Progress.Clone()
	return sec
}
