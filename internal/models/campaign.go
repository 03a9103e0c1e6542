// Package models defines the domain types for Driftwatch.
package models

import (
	"fmt"
	"time"

	"github.com/starford/driftwatch/internal/apperr"
)

// Snapshot is the full observed state of one campaign at the time of a fetch.
// Fields holds the raw campaign document as returned by the ad platform.
type Snapshot struct {
	ID     string
	Name   string
	Fields map[string]any
}

// SnapshotFromDoc builds a Snapshot from a raw campaign document.
// A document without an identifier is malformed and cannot be tracked.
func SnapshotFromDoc(doc map[string]any) (Snapshot, error) {
	id := stringField(doc, "id")
	if id == "" {
		return Snapshot{}, fmt.Errorf("%w: campaign document has no id", apperr.ErrMalformedSnapshot)
	}
	name := stringField(doc, "name")
	if name == "" {
		name = "Unnamed Campaign"
	}
	return Snapshot{ID: id, Name: name, Fields: doc}, nil
}

// stringField reads doc[key] as a string, rendering numeric ids as integers.
func stringField(doc map[string]any, key string) string {
	switch v := doc[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}

// User is a tracked operator with platform credentials.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

// Account is one ad account belonging to a user.
type Account struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// AnalyticsQuery selects a performance report window for one account.
// An empty Campaigns list reports over the whole account.
type AnalyticsQuery struct {
	Start     time.Time
	End       time.Time
	Campaigns []string
}
