// Package journal is the per-account, append-only change journal and the
// notes sub-ledger attached to its records.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/driftwatch/internal/apperr"
	"github.com/starford/driftwatch/internal/checksum"
	"github.com/starford/driftwatch/internal/models"
	"github.com/starford/driftwatch/internal/store"
)

// timeNow is swapped in tests for deterministic note timestamps.
var timeNow = time.Now

// Service coordinates change-record persistence. All writes for one account
// are serialized through a per-account lock so a nightly run and a concurrent
// note edit (or on-demand check) cannot lose each other's updates.
type Service struct {
	store store.ChangeStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a journal service over the given change storage.
func NewService(st store.ChangeStore) *Service {
	return &Service{
		store: st,
		locks: make(map[string]*sync.Mutex),
	}
}

// lockAccount acquires the write lock for one account and returns its unlock.
func (s *Service) lockAccount(accountID string) func() {
	s.mu.Lock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Record appends candidate changes to an account's journal, dropping every
// candidate that duplicates an already persisted record by identity or by
// its (campaign, date, diff-content) triple. The append is all-or-nothing:
// on a persistence error none of the run's candidates are committed. The
// surviving records are returned.
func (s *Service) Record(ctx context.Context, accountID string, candidates []models.ChangeRecord) ([]models.ChangeRecord, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	unlock := s.lockAccount(accountID)
	defer unlock()

	existing, err := s.store.Changes(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("journal: load existing changes: %w", err)
	}

	seenIDs := make(map[string]struct{}, len(existing))
	seenContent := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seenIDs[rec.ID] = struct{}{}
		key, err := contentKey(rec)
		if err != nil {
			return nil, err
		}
		seenContent[key] = struct{}{}
	}

	var fresh []models.ChangeRecord
	for _, cand := range candidates {
		if cand.ID == "" {
			cand.ID = uuid.NewString()
		}
		if cand.Notes == nil {
			cand.Notes = []models.Note{}
		}
		if _, dup := seenIDs[cand.ID]; dup {
			continue
		}
		key, err := contentKey(cand)
		if err != nil {
			return nil, err
		}
		if _, dup := seenContent[key]; dup {
			continue
		}
		seenIDs[cand.ID] = struct{}{}
		seenContent[key] = struct{}{}
		fresh = append(fresh, cand)
	}

	if len(fresh) == 0 {
		return nil, nil
	}
	if err := s.store.AppendChanges(ctx, accountID, fresh); err != nil {
		return nil, fmt.Errorf("journal: append changes: %w", err)
	}
	slog.Info("changes recorded",
		slog.String("account_id", accountID),
		slog.Int("persisted", len(fresh)),
		slog.Int("dropped", len(candidates)-len(fresh)))
	return fresh, nil
}

// contentKey fingerprints a record by its dedup triple.
func contentKey(rec models.ChangeRecord) (string, error) {
	sum, err := checksum.SumJSON(rec.Changes)
	if err != nil {
		return "", fmt.Errorf("journal: fingerprint changes: %w", err)
	}
	return rec.CampaignName + "\x00" + rec.Date + "\x00" + sum, nil
}

// List returns the account's change records, newest first.
func (s *Service) List(ctx context.Context, accountID string) ([]models.ChangeRecord, error) {
	return s.store.Changes(ctx, accountID)
}

// Get returns one change record by id.
func (s *Service) Get(ctx context.Context, accountID, changeID string) (models.ChangeRecord, error) {
	return s.store.Change(ctx, accountID, changeID)
}

// AddNote appends a note with a fresh identity and current timestamp to a
// change record. Returns apperr.ErrNotFound if the record does not exist.
func (s *Service) AddNote(ctx context.Context, accountID, changeID, text string) (models.Note, error) {
	unlock := s.lockAccount(accountID)
	defer unlock()

	rec, err := s.store.Change(ctx, accountID, changeID)
	if err != nil {
		return models.Note{}, err
	}
	note := models.Note{
		ID:        uuid.NewString(),
		Text:      text,
		Timestamp: timeNow().UTC(),
	}
	if err := s.store.UpdateNotes(ctx, accountID, changeID, append(rec.Notes, note)); err != nil {
		return models.Note{}, err
	}
	return note, nil
}

// EditNote replaces a note's text and refreshes its timestamp. Returns
// apperr.ErrNotFound if the record or the note does not exist.
func (s *Service) EditNote(ctx context.Context, accountID, changeID, noteID, text string) (models.Note, error) {
	unlock := s.lockAccount(accountID)
	defer unlock()

	rec, err := s.store.Change(ctx, accountID, changeID)
	if err != nil {
		return models.Note{}, err
	}
	for i, n := range rec.Notes {
		if n.ID != noteID {
			continue
		}
		rec.Notes[i].Text = text
		rec.Notes[i].Timestamp = timeNow().UTC()
		if err := s.store.UpdateNotes(ctx, accountID, changeID, rec.Notes); err != nil {
			return models.Note{}, err
		}
		return rec.Notes[i], nil
	}
	return models.Note{}, apperr.ErrNotFound
}

// DeleteNote removes one note by identity. Returns apperr.ErrNotFound if the
// record or the note does not exist.
func (s *Service) DeleteNote(ctx context.Context, accountID, changeID, noteID string) error {
	unlock := s.lockAccount(accountID)
	defer unlock()

	rec, err := s.store.Change(ctx, accountID, changeID)
	if err != nil {
		return err
	}
	kept := rec.Notes[:0]
	for _, n := range rec.Notes {
		if n.ID != noteID {
			kept = append(kept, n)
		}
	}
	if len(kept) == len(rec.Notes) {
		return apperr.ErrNotFound
	}
	return s.store.UpdateNotes(ctx, accountID, changeID, kept)
}
