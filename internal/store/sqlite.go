package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/driftwatch/internal/apperr"
	"github.com/starford/driftwatch/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS accounts (
	id      TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	name    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);

CREATE TABLE IF NOT EXISTS snapshots (
	account_id  TEXT NOT NULL,
	campaign_id TEXT NOT NULL,
	doc         TEXT NOT NULL DEFAULT '{}',
	fetched_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (account_id, campaign_id)
);

CREATE TABLE IF NOT EXISTS changes (
	id            TEXT PRIMARY KEY,
	account_id    TEXT NOT NULL,
	campaign_name TEXT NOT NULL DEFAULT '',
	date          TEXT NOT NULL DEFAULT '',
	changes       TEXT NOT NULL DEFAULT '{}',
	resolved      TEXT NOT NULL DEFAULT '{}',
	notes         TEXT NOT NULL DEFAULT '[]',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_changes_account ON changes(account_id);
`

// DB wraps a SQLite connection with journal-specific operations. It
// implements SnapshotStore, ChangeStore, and UserStore.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Snapshots returns the persisted snapshot set for an account.
func (db *DB) Snapshots(ctx context.Context, accountID string) ([]models.Snapshot, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT doc FROM snapshots WHERE account_id = ?`, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: load snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("store: decode snapshot doc: %w", err)
		}
		snap, err := models.SnapshotFromDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// ReplaceSnapshots swaps the account's snapshot set in one transaction.
func (db *DB) ReplaceSnapshots(ctx context.Context, accountID string, snaps []models.Snapshot) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("store: clear snapshots: %w", err)
	}
	if len(snaps) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO snapshots (account_id, campaign_id, doc, fetched_at) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare snapshot insert: %w", err)
		}
		defer stmt.Close()
		now := time.Now().UTC()
		for _, snap := range snaps {
			doc, err := json.Marshal(snap.Fields)
			if err != nil {
				return fmt.Errorf("store: encode snapshot doc: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, accountID, snap.ID, string(doc), now); err != nil {
				return fmt.Errorf("store: insert snapshot: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Changes returns the account's change records, newest first.
func (db *DB) Changes(ctx context.Context, accountID string) ([]models.ChangeRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, campaign_name, date, changes, resolved, notes
		FROM changes WHERE account_id = ?
		ORDER BY date DESC, created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("store: load changes: %w", err)
	}
	defer rows.Close()

	var out []models.ChangeRecord
	for rows.Next() {
		rec, err := scanChange(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Change returns one record by id.
func (db *DB) Change(ctx context.Context, accountID, changeID string) (models.ChangeRecord, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, campaign_name, date, changes, resolved, notes
		FROM changes WHERE account_id = ? AND id = ?`, accountID, changeID)
	rec, err := scanChange(row.Scan)
	if err == sql.ErrNoRows {
		return models.ChangeRecord{}, apperr.ErrNotFound
	}
	return rec, err
}

func scanChange(scan func(...any) error) (models.ChangeRecord, error) {
	var rec models.ChangeRecord
	var changesJSON, resolvedJSON, notesJSON string
	if err := scan(&rec.ID, &rec.CampaignName, &rec.Date, &changesJSON, &resolvedJSON, &notesJSON); err != nil {
		return models.ChangeRecord{}, err
	}
	if err := json.Unmarshal([]byte(changesJSON), &rec.Changes); err != nil {
		return models.ChangeRecord{}, fmt.Errorf("store: decode changes: %w", err)
	}
	if err := json.Unmarshal([]byte(resolvedJSON), &rec.Resolved); err != nil {
		return models.ChangeRecord{}, fmt.Errorf("store: decode resolved refs: %w", err)
	}
	if err := json.Unmarshal([]byte(notesJSON), &rec.Notes); err != nil {
		return models.ChangeRecord{}, fmt.Errorf("store: decode notes: %w", err)
	}
	if rec.Notes == nil {
		rec.Notes = []models.Note{}
	}
	return rec, nil
}

// AppendChanges appends records in one transaction.
func (db *DB) AppendChanges(ctx context.Context, accountID string, recs []models.ChangeRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO changes (id, account_id, campaign_name, date, changes, resolved, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare change insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, rec := range recs {
		changesJSON, err := json.Marshal(rec.Changes)
		if err != nil {
			return fmt.Errorf("store: encode changes: %w", err)
		}
		resolved := rec.Resolved
		if resolved == nil {
			resolved = map[string]string{}
		}
		resolvedJSON, _ := json.Marshal(resolved)
		notes := rec.Notes
		if notes == nil {
			notes = []models.Note{}
		}
		notesJSON, _ := json.Marshal(notes)
		if _, err := stmt.ExecContext(ctx, rec.ID, accountID, rec.CampaignName, rec.Date,
			string(changesJSON), string(resolvedJSON), string(notesJSON), now); err != nil {
			return fmt.Errorf("store: insert change: %w", err)
		}
	}
	return tx.Commit()
}

// UpdateNotes replaces the notes list of one record.
func (db *DB) UpdateNotes(ctx context.Context, accountID, changeID string, notes []models.Note) error {
	if notes == nil {
		notes = []models.Note{}
	}
	notesJSON, err := json.Marshal(notes)
	if err != nil {
		return fmt.Errorf("store: encode notes: %w", err)
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE changes SET notes = ? WHERE account_id = ? AND id = ?`,
		string(notesJSON), accountID, changeID)
	if err != nil {
		return fmt.Errorf("store: update notes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Users returns every tracked user with credentials.
func (db *DB) Users(ctx context.Context) ([]models.User, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name, access_token, refresh_token FROM users`)
	if err != nil {
		return nil, fmt.Errorf("store: load users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name, &u.AccessToken, &u.RefreshToken); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Accounts returns the ad accounts belonging to one user.
func (db *DB) Accounts(ctx context.Context, userID string) ([]models.Account, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, user_id, name FROM accounts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: load accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.Name); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Account returns one account by id.
func (db *DB) Account(ctx context.Context, accountID string) (models.Account, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT id, user_id, name FROM accounts WHERE id = ?`, accountID)
	var a models.Account
	err := row.Scan(&a.ID, &a.UserID, &a.Name)
	if err == sql.ErrNoRows {
		return models.Account{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("store: load account: %w", err)
	}
	return a, nil
}

// AccountOwner returns the user owning accountID.
func (db *DB) AccountOwner(ctx context.Context, accountID string) (models.User, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT u.id, u.name, u.access_token, u.refresh_token
		FROM users u JOIN accounts a ON a.user_id = u.id
		WHERE a.id = ?`, accountID)
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.AccessToken, &u.RefreshToken)
	if err == sql.ErrNoRows {
		return models.User{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("store: account owner: %w", err)
	}
	return u, nil
}

// UpdateAccessToken stores a freshly refreshed credential.
func (db *DB) UpdateAccessToken(ctx context.Context, userID, token string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE users SET access_token = ? WHERE id = ?`, token, userID)
	if err != nil {
		return fmt.Errorf("store: update access token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// UpsertUser registers (or updates) a tracked user.
func (db *DB) UpsertUser(ctx context.Context, u models.User) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (id, name, access_token, refresh_token)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name          = excluded.name,
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token`,
		u.ID, u.Name, u.AccessToken, u.RefreshToken)
	if err != nil {
		return fmt.Errorf("store: upsert user: %w", err)
	}
	return nil
}

// UpsertAccount registers (or updates) an ad account for a user.
func (db *DB) UpsertAccount(ctx context.Context, a models.Account) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name    = excluded.name`,
		a.ID, a.UserID, a.Name)
	if err != nil {
		return fmt.Errorf("store: upsert account: %w", err)
	}
	return nil
}
