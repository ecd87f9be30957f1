package workflow

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mmdatafocus/routesync_backend/importer"
	"github.com/mmdatafocus/routesync_backend/models"
)

// RemovalReason is attached to customers that are live but absent from the export.
const RemovalReason = "Not found in RouteOptimization CSV - may no longer be active"

// Comparison partitions an export against the live customer set.
// Every key appears in at most one of ToAdd, ToRemove and ToUpdate.
type Comparison struct {
	ToAdd    []models.ChangeProposal
	ToRemove []models.ChangeProposal
	ToUpdate []models.ChangeProposal
	// Unchanged counts keys present on both sides with no differing field.
	Unchanged int
	// DuplicateKeys lists source keys that appeared more than once with different data.
	DuplicateKeys []int
}

// Matching is the number of keys present on both sides.
func (c Comparison) Matching() int {
	return len(c.ToUpdate) + c.Unchanged
}

func (c Comparison) Empty() bool {
	return len(c.ToAdd) == 0 && len(c.ToRemove) == 0 && len(c.ToUpdate) == 0
}

// DiffFields compares two field renderings over the given specs. Values are
// trimmed and compared case-sensitively; the result follows the order of fields.
func DiffFields(fields []models.FieldSpec, existing, incoming map[string]string) []models.FieldDifference {
	var diffs []models.FieldDifference
	for _, f := range fields {
		oldValue := strings.TrimSpace(existing[f.Name])
		newValue := strings.TrimSpace(incoming[f.Name])
		if oldValue == newValue {
			continue
		}
		diffs = append(diffs, models.FieldDifference{
			Field:    f.Name,
			Label:    f.Label,
			OldValue: oldValue,
			NewValue: newValue,
		})
	}
	return diffs
}

func sameFields(fields []models.FieldSpec, a, b map[string]string) bool {
	return len(DiffFields(fields, a, b)) == 0
}

// Compare splits the export into additions, removals and updates against live.
// It does not read the store; callers pass the live set already filtered.
// The first occurrence of a duplicated source key wins and its proposal is
// flagged as a conflict when a later occurrence carries different data.
func Compare(source []importer.SourceRecord, live []models.Customer) Comparison {
	incoming := make(map[int]models.Customer, len(source))
	conflicts := make(map[int]bool)
	for _, rec := range source {
		c := rec.ToCustomer()
		if first, seen := incoming[c.CustomerNumber]; seen {
			if !sameFields(models.CustomerWritableFields, first.FieldValues(), c.FieldValues()) {
				conflicts[c.CustomerNumber] = true
			}
			continue
		}
		incoming[c.CustomerNumber] = c
	}

	existing := make(map[int]models.Customer, len(live))
	for _, c := range live {
		existing[c.CustomerNumber] = c
	}

	var cmp Comparison
	for _, key := range sortedKeys(incoming) {
		in := incoming[key]
		cur, ok := existing[key]
		if !ok {
			p := models.NewCreateProposal(in)
			p.Conflict = conflicts[key]
			cmp.ToAdd = append(cmp.ToAdd, p)
			continue
		}
		diffs := DiffFields(models.CustomerComparableFields, cur.FieldValues(), in.FieldValues())
		if len(diffs) == 0 {
			cmp.Unchanged++
			continue
		}
		p := models.NewUpdateProposal(cur, in, diffs)
		p.Conflict = conflicts[key]
		cmp.ToUpdate = append(cmp.ToUpdate, p)
	}
	for _, key := range sortedKeys(existing) {
		if _, ok := incoming[key]; ok {
			continue
		}
		cmp.ToRemove = append(cmp.ToRemove, models.NewRemoveProposal(existing[key], RemovalReason))
	}

	for key := range conflicts {
		cmp.DuplicateKeys = append(cmp.DuplicateKeys, key)
	}
	sort.Ints(cmp.DuplicateKeys)
	return cmp
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// planUpserts builds create and update proposals for an upload preview. Unlike
// Compare it never proposes removals: an upload may cover only part of a table.
// Blank incoming values are not treated as differences so partial files do not
// clear columns.
func planUpserts[T models.Reconcilable](incoming []T, existing map[string]T, fields []models.FieldSpec) []models.ChangeProposal {
	type entry struct {
		value    T
		conflict bool
	}
	order := make([]string, 0, len(incoming))
	byKey := make(map[string]*entry, len(incoming))
	for _, in := range incoming {
		key := in.NaturalKey()
		if e, seen := byKey[key]; seen {
			if !sameFields(fields, e.value.FieldValues(), in.FieldValues()) {
				e.conflict = true
			}
			continue
		}
		byKey[key] = &entry{value: in}
		order = append(order, key)
	}
	sort.SliceStable(order, func(i, j int) bool { return naturalKeyLess(order[i], order[j]) })

	proposals := make([]models.ChangeProposal, 0, len(order))
	for _, key := range order {
		e := byKey[key]
		cur, ok := existing[key]
		if !ok {
			p := models.NewCreateProposal(e.value)
			p.Conflict = e.conflict
			proposals = append(proposals, p)
			continue
		}
		inValues := e.value.FieldValues()
		for name, v := range inValues {
			if strings.TrimSpace(v) == "" {
				delete(inValues, name)
			}
		}
		curValues := cur.FieldValues()
		var present []models.FieldSpec
		for _, f := range fields {
			if _, ok := inValues[f.Name]; ok {
				present = append(present, f)
			}
		}
		diffs := DiffFields(present, curValues, inValues)
		if len(diffs) == 0 {
			continue
		}
		p := models.NewUpdateProposal(cur, e.value, diffs)
		p.Conflict = e.conflict
		proposals = append(proposals, p)
	}
	return proposals
}

// naturalKeyLess orders numeric keys numerically and everything else lexically.
func naturalKeyLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	if (aerr == nil) != (berr == nil) {
		return aerr == nil
	}
	return a < b
}

// customerUploadFields are the columns a customer upload may change. Amount and
// territory only come from the route-optimization export.
var customerUploadFields = func() []models.FieldSpec {
	out := append([]models.FieldSpec{}, models.CustomerComparableFields...)
	for _, name := range []string{"service_days", "service_frequency", "route_number"} {
		if f, ok := models.LookupWritableField(models.EntityTypeCustomer, name); ok {
			out = append(out, f)
		}
	}
	return out
}()
