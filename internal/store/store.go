// Package store persists snapshots, change records, and the user registry.
package store

import (
	"context"

	"github.com/starford/driftwatch/internal/models"
)

// SnapshotStore holds the last observed snapshot set per account.
type SnapshotStore interface {
	// Snapshots returns the persisted snapshot set for an account.
	Snapshots(ctx context.Context, accountID string) ([]models.Snapshot, error)
	// ReplaceSnapshots swaps the account's snapshot set wholesale in one
	// transaction. Snapshots are never partially updated.
	ReplaceSnapshots(ctx context.Context, accountID string, snaps []models.Snapshot) error
}

// ChangeStore is the per-account change journal storage.
type ChangeStore interface {
	// Changes returns the account's change records, newest first.
	Changes(ctx context.Context, accountID string) ([]models.ChangeRecord, error)
	// Change returns one record by id, or apperr.ErrNotFound.
	Change(ctx context.Context, accountID, changeID string) (models.ChangeRecord, error)
	// AppendChanges appends records in one transaction; on error none of
	// them are committed.
	AppendChanges(ctx context.Context, accountID string, recs []models.ChangeRecord) error
	// UpdateNotes replaces the notes list of one record, or returns
	// apperr.ErrNotFound.
	UpdateNotes(ctx context.Context, accountID, changeID string, notes []models.Note) error
}

// UserStore exposes the tracked users and their accounts to the scheduler.
type UserStore interface {
	Users(ctx context.Context) ([]models.User, error)
	Accounts(ctx context.Context, userID string) ([]models.Account, error)
	// Account returns one account by id, or apperr.ErrNotFound.
	Account(ctx context.Context, accountID string) (models.Account, error)
	// AccountOwner returns the user owning accountID, for the on-demand path.
	AccountOwner(ctx context.Context, accountID string) (models.User, error)
	// UpdateAccessToken stores a freshly refreshed credential.
	UpdateAccessToken(ctx context.Context, userID, token string) error
}
