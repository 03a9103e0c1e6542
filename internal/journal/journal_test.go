package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/driftwatch/internal/apperr"
	"github.com/starford/driftwatch/internal/models"
	"github.com/starford/driftwatch/internal/store"
	"github.com/starford/driftwatch/internal/testutil"
)

func testService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	return NewService(db), db
}

func budgetChange(old, new string) models.Tree {
	return models.Tree{
		"dailyBudget": models.NestedChange(models.Tree{
			"amount": models.ValueChange(old, new),
		}),
	}
}

func TestRecordPersistsFreshCandidates(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	persisted, err := svc.Record(ctx, "acct", []models.ChangeRecord{{
		CampaignName: "Alpha", Date: "2026-08-28", Changes: budgetChange("100", "150"),
	}})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(persisted) != 1 {
		t.Fatalf("persisted = %d, want 1", len(persisted))
	}
	if persisted[0].ID == "" {
		t.Error("record was not assigned an identity")
	}
	if persisted[0].Notes == nil || len(persisted[0].Notes) != 0 {
		t.Errorf("notes = %#v, want empty list", persisted[0].Notes)
	}
}

func TestRecordIdempotent(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	cand := models.ChangeRecord{
		CampaignName: "Alpha", Date: "2026-08-28", Changes: budgetChange("100", "150"),
	}
	if _, err := svc.Record(ctx, "acct", []models.ChangeRecord{cand}); err != nil {
		t.Fatal(err)
	}
	// Re-detection of the same content on the same date is dropped even
	// though the candidate carries a different (empty) identity.
	second, err := svc.Record(ctx, "acct", []models.ChangeRecord{cand})
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("duplicate content persisted: %+v", second)
	}

	all, err := svc.List(ctx, "acct")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("journal holds %d records, want 1", len(all))
	}
}

func TestRecordDedupByIdentity(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	cand := models.ChangeRecord{
		ID: "fixed-id", CampaignName: "Alpha", Date: "2026-08-28",
		Changes: budgetChange("100", "150"),
	}
	if _, err := svc.Record(ctx, "acct", []models.ChangeRecord{cand}); err != nil {
		t.Fatal(err)
	}
	// Same identity, different content: still a duplicate.
	cand.Changes = budgetChange("150", "200")
	second, err := svc.Record(ctx, "acct", []models.ChangeRecord{cand})
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Errorf("identity duplicate persisted: %+v", second)
	}
}

func TestRecordSameContentDifferentDatePersists(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	day1 := models.ChangeRecord{CampaignName: "Alpha", Date: "2026-08-27", Changes: budgetChange("100", "150")}
	day2 := models.ChangeRecord{CampaignName: "Alpha", Date: "2026-08-28", Changes: budgetChange("100", "150")}
	if _, err := svc.Record(ctx, "acct", []models.ChangeRecord{day1}); err != nil {
		t.Fatal(err)
	}
	second, err := svc.Record(ctx, "acct", []models.ChangeRecord{day2})
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 1 {
		t.Errorf("same drift on a new date dropped, want persisted")
	}
}

func TestAddEditDeleteNotes(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	fixed := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return fixed }
	t.Cleanup(func() { timeNow = time.Now })

	persisted, err := svc.Record(ctx, "acct", []models.ChangeRecord{{
		CampaignName: "Alpha", Date: "2026-08-28", Changes: budgetChange("100", "150"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	changeID := persisted[0].ID

	first, err := svc.AddNote(ctx, "acct", changeID, "check with finance")
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	second, err := svc.AddNote(ctx, "acct", changeID, "approved")
	if err != nil {
		t.Fatalf("AddNote: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("notes share an identity")
	}

	// Deleting the first leaves exactly the second, untouched.
	if err := svc.DeleteNote(ctx, "acct", changeID, first.ID); err != nil {
		t.Fatalf("DeleteNote: %v", err)
	}
	rec, err := svc.Get(ctx, "acct", changeID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Notes) != 1 {
		t.Fatalf("notes = %+v, want exactly one", rec.Notes)
	}
	if rec.Notes[0].ID != second.ID || rec.Notes[0].Text != "approved" {
		t.Errorf("surviving note = %+v", rec.Notes[0])
	}
	if !rec.Notes[0].Timestamp.Equal(second.Timestamp) {
		t.Errorf("surviving timestamp changed: %v != %v", rec.Notes[0].Timestamp, second.Timestamp)
	}

	// Edit refreshes text and timestamp.
	later := fixed.Add(2 * time.Hour)
	timeNow = func() time.Time { return later }
	edited, err := svc.EditNote(ctx, "acct", changeID, second.ID, "approved by CFO")
	if err != nil {
		t.Fatalf("EditNote: %v", err)
	}
	if edited.Text != "approved by CFO" || !edited.Timestamp.Equal(later) {
		t.Errorf("edited note = %+v", edited)
	}
}

func TestNoteOperationsNotFound(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	if _, err := svc.AddNote(ctx, "acct", "ghost", "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("AddNote on missing record: %v", err)
	}

	persisted, err := svc.Record(ctx, "acct", []models.ChangeRecord{{
		CampaignName: "Alpha", Date: "2026-08-28", Changes: budgetChange("1", "2"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	changeID := persisted[0].ID

	if _, err := svc.EditNote(ctx, "acct", changeID, "ghost-note", "x"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("EditNote on missing note: %v", err)
	}
	if err := svc.DeleteNote(ctx, "acct", changeID, "ghost-note"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("DeleteNote on missing note: %v", err)
	}
}

func TestNoteMutationsNeverTouchDiffPayload(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	persisted, err := svc.Record(ctx, "acct", []models.ChangeRecord{{
		CampaignName: "Alpha", Date: "2026-08-28", Changes: budgetChange("100", "150"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	changeID := persisted[0].ID
	if _, err := svc.AddNote(ctx, "acct", changeID, "note"); err != nil {
		t.Fatal(err)
	}

	rec, err := svc.Get(ctx, "acct", changeID)
	if err != nil {
		t.Fatal(err)
	}
	amount := rec.Changes["dailyBudget"].Nested["amount"]
	if amount.Old != "100" || amount.New != "150" {
		t.Errorf("diff payload mutated: %+v", amount)
	}
}
