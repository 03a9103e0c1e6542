// Package diff compares two versions of a campaign document field by field.
//
// Set-valued targeting facets are compared as sets (added/removed elements),
// the creatives list is joined on creative id and reports serving-status
// flips only, nested records recurse, and everything else is a deep-equality
// before/after pair. Reference tokens encountered in differing values are
// collected so the caller can resolve them in one batch.
package diff

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"github.com/starford/driftwatch/internal/models"
)

// excludedFields are never compared: platform audit metadata and the schema
// version bump on every write would otherwise report spurious drift.
var excludedFields = map[string]struct{}{
	"changeAuditStamps": {},
	"version":           {},
}

const creativesField = "creatives"

// isFacetField reports whether name follows the targeting-facet naming
// convention used inside targetingCriteria documents.
func isFacetField(name string) bool {
	return strings.HasPrefix(name, "urn:li:adTargetingFacet:")
}

// Diff compares a previous and a current campaign document. Either side may
// be nil: a nil previous marks every current field as newly added. The
// returned tree is empty when nothing differs, and the ref set holds every
// reference token found in the differing values of both sides.
func Diff(prev, cur map[string]any) (models.Tree, models.RefSet) {
	tree := models.Tree{}
	refs := models.RefSet{}

	for _, name := range unionKeys(prev, cur) {
		if _, skip := excludedFields[name]; skip {
			continue
		}
		oldVal, hasOld := prev[name]
		newVal, hasNew := cur[name]

		if name == creativesField {
			if transitions := diffCreatives(oldVal, newVal); len(transitions) > 0 {
				tree[name] = models.CreativesChange(transitions)
			}
			continue
		}

		if isFacetField(name) {
			oldSeq, oldOK := oldVal.([]any)
			newSeq, newOK := newVal.([]any)
			if oldOK && newOK {
				added, removed := diffSets(oldSeq, newSeq)
				if len(added) > 0 || len(removed) > 0 {
					tree[name] = models.SetChange(added, removed)
					collectRefs(added, refs)
					collectRefs(removed, refs)
				}
				continue
			}
		}

		oldMap, oldIsMap := oldVal.(map[string]any)
		newMap, newIsMap := newVal.(map[string]any)
		if oldIsMap && newIsMap {
			sub, subRefs := Diff(oldMap, newMap)
			if len(sub) > 0 {
				tree[name] = models.NestedChange(sub)
				refs.Merge(subRefs)
			}
			continue
		}

		if hasOld && hasNew && reflect.DeepEqual(oldVal, newVal) {
			continue
		}
		tree[name] = models.ValueChange(oldVal, newVal)
		collectRefs(oldVal, refs)
		collectRefs(newVal, refs)
	}

	return tree, refs
}

// unionKeys returns the sorted union of field names from both documents.
func unionKeys(prev, cur map[string]any) []string {
	seen := make(map[string]struct{}, len(prev)+len(cur))
	for k := range prev {
		seen[k] = struct{}{}
	}
	for k := range cur {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// diffSets compares two sequences as sets. Elements are keyed by their JSON
// rendering so facet values may be strings or small objects. Order of the
// inputs is irrelevant; the outputs are sorted by key for determinism.
func diffSets(oldSeq, newSeq []any) (added, removed []any) {
	oldKeys := make(map[string]struct{}, len(oldSeq))
	for _, v := range oldSeq {
		oldKeys[elementKey(v)] = struct{}{}
	}
	newKeys := make(map[string]struct{}, len(newSeq))
	for _, v := range newSeq {
		newKeys[elementKey(v)] = struct{}{}
	}
	for _, v := range newSeq {
		if _, ok := oldKeys[elementKey(v)]; !ok {
			added = append(added, v)
		}
	}
	for _, v := range oldSeq {
		if _, ok := newKeys[elementKey(v)]; !ok {
			removed = append(removed, v)
		}
	}
	sort.Slice(added, func(i, j int) bool { return elementKey(added[i]) < elementKey(added[j]) })
	sort.Slice(removed, func(i, j int) bool { return elementKey(removed[i]) < elementKey(removed[j]) })
	return added, removed
}

func elementKey(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// diffCreatives joins the two creative lists on id and reports a transition
// for every creative whose serving flag differs. Creatives present on only
// one side are intentionally not reported; the journal tracks status flips,
// not roster membership.
func diffCreatives(oldVal, newVal any) []models.CreativeStatus {
	oldSeq, _ := oldVal.([]any)
	newSeq, _ := newVal.([]any)

	oldByID := make(map[string]map[string]any, len(oldSeq))
	for _, v := range oldSeq {
		if m, ok := v.(map[string]any); ok {
			if id := creativeID(m); id != "" {
				oldByID[id] = m
			}
		}
	}

	var transitions []models.CreativeStatus
	for _, v := range newSeq {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		id := creativeID(m)
		if id == "" {
			continue
		}
		prev, both := oldByID[id]
		if !both {
			continue
		}
		oldServing, _ := prev["isServing"].(bool)
		newServing, _ := m["isServing"].(bool)
		if oldServing == newServing {
			continue
		}
		name, _ := m["name"].(string)
		if name == "" {
			name = "Unknown Creative"
		}
		transitions = append(transitions, models.CreativeStatus{Name: name, IsServing: newServing})
	}
	return transitions
}

func creativeID(m map[string]any) string {
	switch v := m["id"].(type) {
	case string:
		return v
	case float64:
		return elementKey(v)
	default:
		return ""
	}
}

// collectRefs walks v and adds every string that is exactly a reference
// token to refs.
func collectRefs(v any, refs models.RefSet) {
	switch typed := v.(type) {
	case string:
		if ref, ok := models.ParseRef(typed); ok {
			refs.Add(ref)
		}
	case []any:
		for _, item := range typed {
			collectRefs(item, refs)
		}
	case map[string]any:
		for _, item := range typed {
			collectRefs(item, refs)
		}
	}
}
