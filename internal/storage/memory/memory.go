// Package memory is an in-process gateway used by tests and by
// DATA_BACKEND=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"paytrack/internal/core"
)

type lease struct {
	holder    string
	expiresAt time.Time
}

// Store keeps definitions and occurrences in maps guarded by a mutex.
type Store struct {
	mu          sync.Mutex
	order       []string
	definitions map[string]core.PaymentDefinition
	items       []core.Occurrence
	keys        map[string]struct{}
	leases      map[string]lease
}

func New(defs ...core.PaymentDefinition) *Store {
	s := &Store{
		definitions: map[string]core.PaymentDefinition{},
		keys:        map[string]struct{}{},
		leases:      map[string]lease{},
	}
	for _, d := range defs {
		_ = s.InsertDefinition(context.Background(), d)
	}
	return s
}

// InsertDefinition stores def, replacing any definition with the same ID.
func (s *Store) InsertDefinition(_ context.Context, def core.PaymentDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("definition id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[def.ID]; !ok {
		s.order = append(s.order, def.ID)
	}
	s.definitions[def.ID] = cloneDefinition(def)
	return nil
}

func (s *Store) ListDefinitions(_ context.Context, userID string) ([]core.PaymentDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.PaymentDefinition
	for _, id := range s.order {
		d := s.definitions[id]
		if d.UserID == userID {
			out = append(out, cloneDefinition(d))
		}
	}
	return out, nil
}

// Definition returns a copy of the stored definition.
func (s *Store) Definition(id string) (core.PaymentDefinition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.definitions[id]
	return cloneDefinition(d), ok
}

func (s *Store) ListOccurrenceDates(_ context.Context, definitionID string, onOrAfter core.Date) ([]core.Date, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Date
	for _, o := range s.items {
		if o.DefinitionID == nil || *o.DefinitionID != definitionID {
			continue
		}
		if o.DueDate.Before(onOrAfter) {
			continue
		}
		out = append(out, o.DueDate)
	}
	return out, nil
}

// InsertOccurrences validates the whole batch before storing any row, so a
// bad row leaves the store untouched. It returns the rows actually stored.
func (s *Store) InsertOccurrences(_ context.Context, rows []core.Occurrence) ([]core.Occurrence, error) {
	for _, o := range rows {
		if err := o.Validate(); err != nil {
			return nil, fmt.Errorf("occurrence %s: %w", o.ID, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make([]core.Occurrence, 0, len(rows))
	for _, o := range rows {
		if o.DefinitionID != nil {
			k := occurrenceKey(*o.DefinitionID, o.DueDate)
			if _, dup := s.keys[k]; dup {
				continue
			}
			s.keys[k] = struct{}{}
		}
		s.items = append(s.items, o)
		stored = append(stored, o)
	}
	return stored, nil
}

func (s *Store) UpdateDefinitionCursor(_ context.Context, definitionID string, date core.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.definitions[definitionID]
	if !ok {
		return nil
	}
	if d.LastGeneratedDate != nil && !date.After(*d.LastGeneratedDate) {
		return nil
	}
	cursor := date
	d.LastGeneratedDate = &cursor
	s.definitions[definitionID] = d
	return nil
}

func (s *Store) ListUserIDs(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, d := range s.definitions {
		if _, ok := seen[d.UserID]; ok {
			continue
		}
		seen[d.UserID] = struct{}{}
		out = append(out, d.UserID)
	}
	sort.Strings(out)
	return out, nil
}

// ListOccurrences returns the user's occurrences ordered by due date.
func (s *Store) ListOccurrences(_ context.Context, userID string) ([]core.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Occurrence
	for _, o := range s.items {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (s *Store) AcquireLease(_ context.Context, userID, holder string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[userID]; ok && l.holder != holder && now.Before(l.expiresAt) {
		return false, nil
	}
	s.leases[userID] = lease{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *Store) ReleaseLease(_ context.Context, userID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[userID]; ok && l.holder == holder {
		delete(s.leases, userID)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

func occurrenceKey(definitionID string, due core.Date) string {
	return definitionID + "|" + due.String()
}

func cloneDefinition(d core.PaymentDefinition) core.PaymentDefinition {
	if d.Amount != nil {
		a := *d.Amount
		d.Amount = &a
	}
	if d.RecurrenceMonth != nil {
		m := *d.RecurrenceMonth
		d.RecurrenceMonth = &m
	}
	if d.LastGeneratedDate != nil {
		c := *d.LastGeneratedDate
		d.LastGeneratedDate = &c
	}
	return d
}
