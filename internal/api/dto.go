package api

import "github.com/starford/driftwatch/internal/models"

// SubmitChangesRequest carries pre-diffed change candidates from the
// on-demand client-side diff path.
type SubmitChangesRequest struct {
	Changes []models.ChangeRecord `json:"changes"`
}

// AddNoteRequest is the request body for adding a note.
type AddNoteRequest struct {
	Text string `json:"text"`
}

// EditNoteRequest is the request body for editing a note.
type EditNoteRequest struct {
	Text string `json:"text"`
}

// ChangeListResponse wraps a change-record listing.
type ChangeListResponse struct {
	Changes []models.ChangeRecord `json:"changes"`
	Total   int                   `json:"total"`
}

// SnapshotListResponse wraps the persisted snapshot set of an account.
type SnapshotListResponse struct {
	Campaigns []map[string]any `json:"campaigns"`
	Total     int              `json:"total"`
}

// AnalyticsResponse wraps the platform's performance report rows.
type AnalyticsResponse struct {
	Elements []map[string]any `json:"elements"`
	Total    int              `json:"total"`
}

// AccountNameResponse carries an account's display name.
type AccountNameResponse struct {
	Name string `json:"name"`
}
