package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ChangeKind discriminates the variants a Change can hold.
type ChangeKind int

const (
	// KindValue is a plain before/after pair.
	KindValue ChangeKind = iota
	// KindSet is an added/removed pair for set-valued targeting fields.
	KindSet
	// KindCreatives is a list of creative serving-status transitions.
	KindCreatives
	// KindNested is a diff of a nested record.
	KindNested
)

// CreativeStatus records one creative whose serving state flipped.
type CreativeStatus struct {
	Name      string `json:"name"`
	IsServing bool   `json:"isServing"`
}

// Change is one entry in a diff tree. Exactly one variant is populated,
// selected by Kind. The JSON form matches the persisted record shape:
//
//	KindValue     {"oldValue": ..., "newValue": ...}
//	KindSet       {"added": [...], "removed": [...]}
//	KindCreatives [{"name": ..., "isServing": ...}, ...]
//	KindNested    a nested tree object
type Change struct {
	Kind      ChangeKind
	Old       any
	New       any
	Added     []any
	Removed   []any
	Creatives []CreativeStatus
	Nested    Tree
}

// Tree maps field names to their detected changes. An empty tree means the
// two snapshots did not differ.
type Tree map[string]*Change

// ValueChange builds a before/after pair entry.
func ValueChange(old, new any) *Change {
	return &Change{Kind: KindValue, Old: old, New: new}
}

// SetChange builds an added/removed entry. Nil slices serialize as [].
func SetChange(added, removed []any) *Change {
	if added == nil {
		added = []any{}
	}
	if removed == nil {
		removed = []any{}
	}
	return &Change{Kind: KindSet, Added: added, Removed: removed}
}

// CreativesChange builds a serving-status transition list entry.
func CreativesChange(transitions []CreativeStatus) *Change {
	return &Change{Kind: KindCreatives, Creatives: transitions}
}

// NestedChange wraps a sub-tree entry.
func NestedChange(sub Tree) *Change {
	return &Change{Kind: KindNested, Nested: sub}
}

// MarshalJSON serializes the populated variant only.
func (c *Change) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindValue:
		return json.Marshal(struct {
			Old any `json:"oldValue"`
			New any `json:"newValue"`
		}{c.Old, c.New})
	case KindSet:
		added, removed := c.Added, c.Removed
		if added == nil {
			added = []any{}
		}
		if removed == nil {
			removed = []any{}
		}
		return json.Marshal(struct {
			Added   []any `json:"added"`
			Removed []any `json:"removed"`
		}{added, removed})
	case KindCreatives:
		return json.Marshal(c.Creatives)
	case KindNested:
		return json.Marshal(c.Nested)
	}
	return nil, fmt.Errorf("models: unknown change kind %d", c.Kind)
}

// UnmarshalJSON reconstructs the variant from its serialized shape. The three
// leaf shapes are disambiguated by their JSON structure: an array is a
// creatives list, an object with oldValue/newValue is a value pair, an object
// with added/removed is a set pair, anything else is a nested tree.
func (c *Change) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		c.Kind = KindCreatives
		return json.Unmarshal(data, &c.Creatives)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	_, hasOld := probe["oldValue"]
	_, hasNew := probe["newValue"]
	if hasOld || hasNew {
		var pair struct {
			Old any `json:"oldValue"`
			New any `json:"newValue"`
		}
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		c.Kind = KindValue
		c.Old, c.New = pair.Old, pair.New
		return nil
	}
	_, hasAdded := probe["added"]
	_, hasRemoved := probe["removed"]
	if hasAdded || hasRemoved {
		var set struct {
			Added   []any `json:"added"`
			Removed []any `json:"removed"`
		}
		if err := json.Unmarshal(data, &set); err != nil {
			return err
		}
		c.Kind = KindSet
		c.Added, c.Removed = set.Added, set.Removed
		return nil
	}

	c.Kind = KindNested
	return json.Unmarshal(data, &c.Nested)
}

// Note is a free-text annotation on a change record.
type Note struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// DateLayout is the calendar-day granularity used for change records.
const DateLayout = "2006-01-02"

// ChangeRecord is one detected divergence for one campaign on one calendar
// date. Created by a diff pass; only its notes are mutated afterwards.
type ChangeRecord struct {
	ID           string            `json:"id"`
	CampaignName string            `json:"campaignName"`
	Date         string            `json:"date"`
	Changes      Tree              `json:"changes"`
	Notes        []Note            `json:"notes"`
	Resolved     map[string]string `json:"resolved,omitempty"`
}
