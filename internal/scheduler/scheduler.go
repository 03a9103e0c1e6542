// Package scheduler drives the daily drift check across all users and
// accounts, with failure isolation at entity, account, and user granularity.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/driftwatch/internal/apperr"
	"github.com/starford/driftwatch/internal/diff"
	"github.com/starford/driftwatch/internal/journal"
	"github.com/starford/driftwatch/internal/models"
	"github.com/starford/driftwatch/internal/refs"
	"github.com/starford/driftwatch/internal/store"
)

// Platform is the ad-platform collaborator the scheduler depends on.
type Platform interface {
	FetchCampaigns(ctx context.Context, accountID, token string) ([]map[string]any, error)
	FetchAnalytics(ctx context.Context, accountID, token string, q models.AnalyticsQuery) ([]map[string]any, error)
	LookupReference(ctx context.Context, kind models.RefKind, id, token string) (string, error)
	Probe(ctx context.Context, token string) error
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}

// Config holds scheduler tuning.
type Config struct {
	// RunAt is the daily wall-clock run time in "HH:MM" form.
	RunAt string
	// CallTimeout bounds every external platform call.
	CallTimeout time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Scheduler owns the periodic batch job and the on-demand check path.
type Scheduler struct {
	platform Platform
	users    store.UserStore
	snaps    store.SnapshotStore
	journal  *journal.Service

	runHour, runMinute int
	callTimeout        time.Duration

	now func() time.Time
}

// New builds a scheduler. Cfg.RunAt must parse as "HH:MM".
func New(platform Platform, users store.UserStore, snaps store.SnapshotStore, jr *journal.Service, cfg Config) (*Scheduler, error) {
	at, err := time.Parse("15:04", cfg.RunAt)
	if err != nil {
		return nil, fmt.Errorf("scheduler: parse run time %q: %w", cfg.RunAt, err)
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		platform:    platform,
		users:       users,
		snaps:       snaps,
		journal:     jr,
		runHour:     at.Hour(),
		runMinute:   at.Minute(),
		callTimeout: timeout,
		now:         now,
	}, nil
}

// Run blocks until ctx is cancelled, executing one pass per calendar day at
// the configured time.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.nextRun(s.now())
		slog.Info("drift check scheduled", slog.Time("next_run", next))
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// nextRun returns the next occurrence of the configured wall-clock time
// strictly after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.runHour, s.runMinute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// RunOnce executes a full pass over every user and account. Failures are
// absorbed at the narrowest granularity: a bad entity does not abort its
// account, a bad account does not abort its user, a bad user does not abort
// the run.
func (s *Scheduler) RunOnce(ctx context.Context) {
	users, err := s.users.Users(ctx)
	if err != nil {
		slog.Error("list users failed", slog.String("error", err.Error()))
		return
	}
	slog.Info("drift check started", slog.Int("users", len(users)))

	resolver := refs.NewResolver(s.boundedLookup())
	for _, user := range users {
		if err := s.processUser(ctx, user, resolver); err != nil {
			slog.Warn("user skipped",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()))
		}
	}
	slog.Info("drift check finished")
}

func (s *Scheduler) processUser(ctx context.Context, user models.User, resolver *refs.Resolver) error {
	token, err := s.ensureCredential(ctx, user)
	if err != nil {
		return err
	}

	accounts, err := s.users.Accounts(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, acct := range accounts {
		if err := s.checkAccount(ctx, acct.ID, token, resolver); err != nil {
			slog.Warn("account skipped",
				slog.String("account_id", acct.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// ensureCredential probes the stored token and, if it is expired, attempts
// exactly one refresh. Any other outcome skips the user for this run.
func (s *Scheduler) ensureCredential(ctx context.Context, user models.User) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	err := s.platform.Probe(probeCtx, user.AccessToken)
	cancel()
	if err == nil {
		return user.AccessToken, nil
	}
	if !errors.Is(err, apperr.ErrAuthExpired) {
		return "", err
	}

	refreshCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	token, err := s.platform.RefreshAccessToken(refreshCtx, user.RefreshToken)
	cancel()
	if err != nil {
		return "", fmt.Errorf("refresh credential: %w", err)
	}
	if err := s.users.UpdateAccessToken(ctx, user.ID, token); err != nil {
		return "", fmt.Errorf("persist refreshed credential: %w", err)
	}
	slog.Info("credential refreshed", slog.String("user_id", user.ID))
	return token, nil
}

// CheckAccount runs one fetch-diff-record cycle for a single account,
// outside the daily schedule. The owning user's credential is used.
func (s *Scheduler) CheckAccount(ctx context.Context, accountID string) error {
	user, err := s.users.AccountOwner(ctx, accountID)
	if err != nil {
		return err
	}
	token, err := s.ensureCredential(ctx, user)
	if err != nil {
		return err
	}
	return s.checkAccount(ctx, accountID, token, refs.NewResolver(s.boundedLookup()))
}

// Analytics fetches the performance report for one account on demand,
// using the owning user's credential.
func (s *Scheduler) Analytics(ctx context.Context, accountID string, q models.AnalyticsQuery) ([]map[string]any, error) {
	user, err := s.users.AccountOwner(ctx, accountID)
	if err != nil {
		return nil, err
	}
	token, err := s.ensureCredential(ctx, user)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return s.platform.FetchAnalytics(callCtx, accountID, token, q)
}

func (s *Scheduler) checkAccount(ctx context.Context, accountID, token string, resolver *refs.Resolver) error {
	fetchCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	docs, err := s.platform.FetchCampaigns(fetchCtx, accountID, token)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch snapshots: %w", err)
	}

	prev, err := s.snaps.Snapshots(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load previous snapshots: %w", err)
	}
	prevByID := make(map[string]models.Snapshot, len(prev))
	for _, snap := range prev {
		prevByID[snap.ID] = snap
	}

	type candidate struct {
		snap models.Snapshot
		tree models.Tree
		refs models.RefSet
	}
	var current []models.Snapshot
	var candidates []candidate
	accountRefs := models.RefSet{}

	for _, doc := range docs {
		snap, err := models.SnapshotFromDoc(doc)
		if err != nil {
			slog.Warn("entity skipped",
				slog.String("account_id", accountID),
				slog.String("error", err.Error()))
			continue
		}
		current = append(current, snap)

		var prevFields map[string]any
		if p, ok := prevByID[snap.ID]; ok {
			prevFields = p.Fields
		}
		tree, refSet := diff.Diff(prevFields, snap.Fields)
		if len(tree) == 0 {
			continue
		}
		candidates = append(candidates, candidate{snap: snap, tree: tree, refs: refSet})
		accountRefs.Merge(refSet)
	}

	names := resolver.Resolve(ctx, accountRefs, token)

	today := s.now().Format(models.DateLayout)
	records := make([]models.ChangeRecord, 0, len(candidates))
	for _, c := range candidates {
		refs.Substitute(c.tree, names)
		resolved := make(map[string]string, len(c.refs))
		for ref := range c.refs {
			resolved[ref.Token()] = names[ref]
		}
		records = append(records, models.ChangeRecord{
			ID:           uuid.NewString(),
			CampaignName: c.snap.Name,
			Date:         today,
			Changes:      c.tree,
			Notes:        []models.Note{},
			Resolved:     resolved,
		})
	}

	if len(records) > 0 {
		if _, err := s.journal.Record(ctx, accountID, records); err != nil {
			return err
		}
	}
	// Only after a committed pass does today's state become the baseline.
	if err := s.snaps.ReplaceSnapshots(ctx, accountID, current); err != nil {
		return fmt.Errorf("replace snapshots: %w", err)
	}
	return nil
}

// boundedLookup wraps the platform so every reference lookup carries its own
// timeout.
func (s *Scheduler) boundedLookup() refs.Lookup {
	return lookupFunc(func(ctx context.Context, kind models.RefKind, id, token string) (string, error) {
		lookupCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		defer cancel()
		return s.platform.LookupReference(lookupCtx, kind, id, token)
	})
}

type lookupFunc func(ctx context.Context, kind models.RefKind, id, token string) (string, error)

func (f lookupFunc) LookupReference(ctx context.Context, kind models.RefKind, id, token string) (string, error) {
	return f(ctx, kind, id, token)
}
