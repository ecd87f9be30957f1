package workflow

import (
	"testing"
	"time"

	"github.com/mmdatafocus/routesync_backend/importer"
	"github.com/mmdatafocus/routesync_backend/models"
)

func proposalKeys(ps []models.ChangeProposal) []int {
	keys := make([]int, 0, len(ps))
	for _, p := range ps {
		keys = append(keys, p.CustomerNumber)
	}
	return keys
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCompare_AddRemoveUpdate(t *testing.T) {
	source := []importer.SourceRecord{
		testRecord(1, "Alpha", 33),
		testRecord(2, "Bravo", 33),
		testRecord(3, "Charlie", 33),
	}
	source[2].City = "Davis"
	live := []models.Customer{
		testCustomer(2, "Bravo", 33),
		testCustomer(3, "Charlie", 33),
		testCustomer(4, "Delta", 33),
	}

	cmp := Compare(source, live)

	if got := proposalKeys(cmp.ToAdd); !equalInts(got, []int{1}) {
		t.Fatalf("ToAdd = %v, want [1]", got)
	}
	if got := proposalKeys(cmp.ToRemove); !equalInts(got, []int{4}) {
		t.Fatalf("ToRemove = %v, want [4]", got)
	}
	if got := proposalKeys(cmp.ToUpdate); !equalInts(got, []int{3}) {
		t.Fatalf("ToUpdate = %v, want [3]", got)
	}
	if cmp.Unchanged != 1 || cmp.Matching() != 2 {
		t.Fatalf("Unchanged=%d Matching=%d, want 1 and 2", cmp.Unchanged, cmp.Matching())
	}

	diffs := cmp.ToUpdate[0].FieldDifferences
	if len(diffs) != 1 {
		t.Fatalf("expected 1 difference, got %+v", diffs)
	}
	if diffs[0].Field != "city" || diffs[0].Label != "City" || diffs[0].OldValue != "Sacramento" || diffs[0].NewValue != "Davis" {
		t.Fatalf("unexpected difference %+v", diffs[0])
	}
	if cmp.ToRemove[0].Reason != RemovalReason {
		t.Fatalf("removal reason = %q", cmp.ToRemove[0].Reason)
	}
	if len(cmp.ToAdd[0].ExistingData) != 0 || len(cmp.ToUpdate[0].ExistingData) == 0 || len(cmp.ToRemove[0].ExistingData) == 0 {
		t.Fatalf("existing data presence does not match action")
	}
}

func TestCompare_Partition(t *testing.T) {
	source := []importer.SourceRecord{
		testRecord(10, "A", 5), testRecord(11, "B", 5), testRecord(12, "C", 5), testRecord(14, "E", 5),
	}
	source[1].Address = "elsewhere"
	live := []models.Customer{
		testCustomer(11, "B", 5), testCustomer(12, "C", 5), testCustomer(13, "D", 5),
	}

	cmp := Compare(source, live)

	seen := map[int]string{}
	for name, set := range map[string][]models.ChangeProposal{"add": cmp.ToAdd, "remove": cmp.ToRemove, "update": cmp.ToUpdate} {
		for _, p := range set {
			if prev, ok := seen[p.CustomerNumber]; ok {
				t.Fatalf("customer %d in both %s and %s", p.CustomerNumber, prev, name)
			}
			seen[p.CustomerNumber] = name
		}
	}
	if got := proposalKeys(cmp.ToAdd); !equalInts(got, []int{10, 14}) {
		t.Fatalf("ToAdd = %v, want sorted [10 14]", got)
	}
}

func TestCompare_IsIdempotentOnceApplied(t *testing.T) {
	source := []importer.SourceRecord{testRecord(1, "Alpha", 7), testRecord(2, "Bravo", 7)}
	live := make([]models.Customer, 0, len(source))
	for _, r := range source {
		live = append(live, r.ToCustomer())
	}

	cmp := Compare(source, live)
	if !cmp.Empty() {
		t.Fatalf("expected no changes, got add=%d remove=%d update=%d", len(cmp.ToAdd), len(cmp.ToRemove), len(cmp.ToUpdate))
	}
}

func TestCompare_TrimmedCaseSensitiveEquality(t *testing.T) {
	tests := []struct {
		name        string
		liveAddress string
		csvAddress  string
		wantUpdate  bool
	}{
		{name: "surrounding spaces ignored", liveAddress: "1 Main St", csvAddress: "  1 Main St ", wantUpdate: false},
		{name: "case differs", liveAddress: "1 Main St", csvAddress: "1 MAIN ST", wantUpdate: true},
		{name: "blank in export clears value", liveAddress: "1 Main St", csvAddress: "", wantUpdate: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := testRecord(1, "Alpha", 7)
			rec.Address = tt.csvAddress
			cur := testCustomer(1, "Alpha", 7)
			cur.Address = tt.liveAddress

			cmp := Compare([]importer.SourceRecord{rec}, []models.Customer{cur})
			if got := len(cmp.ToUpdate) == 1; got != tt.wantUpdate {
				t.Fatalf("update proposed = %v, want %v", got, tt.wantUpdate)
			}
		})
	}
}

func TestCompare_ChangedKeyIsRemovePlusAdd(t *testing.T) {
	cmp := Compare([]importer.SourceRecord{testRecord(200, "Alpha", 7)}, []models.Customer{testCustomer(100, "Alpha", 7)})
	if len(cmp.ToAdd) != 1 || len(cmp.ToRemove) != 1 || len(cmp.ToUpdate) != 0 {
		t.Fatalf("expected one add and one remove, got add=%d remove=%d update=%d", len(cmp.ToAdd), len(cmp.ToRemove), len(cmp.ToUpdate))
	}
}

func TestCompare_DuplicateSourceKeyIsConflict(t *testing.T) {
	first := testRecord(5, "Echo", 7)
	second := testRecord(5, "Echo Two", 7)
	same := testRecord(6, "Foxtrot", 7)

	cmp := Compare([]importer.SourceRecord{first, second, same, same}, nil)

	if len(cmp.ToAdd) != 2 {
		t.Fatalf("expected 2 additions, got %d", len(cmp.ToAdd))
	}
	if !cmp.ToAdd[0].Conflict || cmp.ToAdd[1].Conflict {
		t.Fatalf("conflict flags = %v,%v, want true,false", cmp.ToAdd[0].Conflict, cmp.ToAdd[1].Conflict)
	}
	if cmp.ToAdd[0].Record != "Customer #5 (Echo)" {
		t.Fatalf("first occurrence should win, got %q", cmp.ToAdd[0].Record)
	}
	if !equalInts(cmp.DuplicateKeys, []int{5}) {
		t.Fatalf("DuplicateKeys = %v", cmp.DuplicateKeys)
	}
}

func TestBuildComparisonReport_ActionPlan(t *testing.T) {
	var source []importer.SourceRecord
	for n := 1; n <= 11; n++ {
		source = append(source, testRecord(n, "New", 7))
	}
	live := []models.Customer{testCustomer(500, "Gone", 7)}

	report, err := BuildComparisonReport(Compare(source, live), len(source), len(live), time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("BuildComparisonReport: %v", err)
	}
	if report.Summary.CSVCustomers != 11 || report.Summary.DatabaseCustomers != 1 || report.Summary.CustomersToAdd != 11 || report.Summary.CustomersToRemove != 1 {
		t.Fatalf("unexpected summary %+v", report.Summary)
	}
	if len(report.ActionsNeeded) != 2 {
		t.Fatalf("expected 2 actions, got %+v", report.ActionsNeeded)
	}
	add := report.ActionsNeeded[0]
	if add.Action != "ADD_CUSTOMERS" || add.Priority != "HIGH" || add.EstimatedTime != "2 minutes" {
		t.Fatalf("unexpected add action %+v", add)
	}
	remove := report.ActionsNeeded[1]
	if remove.Action != "REVIEW_REMOVALS" || remove.Priority != "MEDIUM" || remove.EstimatedTime != "1 minutes" {
		t.Fatalf("unexpected removal action %+v", remove)
	}
	if report.CustomersToRemove[0].CustomerNumber != 500 || !report.CustomersToRemove[0].IsActive {
		t.Fatalf("unexpected removal entry %+v", report.CustomersToRemove[0])
	}
}

func TestBuildComparisonReport_NoChanges(t *testing.T) {
	report, err := BuildComparisonReport(Comparison{}, 0, 0, time.Now())
	if err != nil {
		t.Fatalf("BuildComparisonReport: %v", err)
	}
	if len(report.ActionsNeeded) != 1 || report.ActionsNeeded[0].Action != "NO_CHANGES_NEEDED" || report.ActionsNeeded[0].EstimatedTime != "0 minutes" {
		t.Fatalf("unexpected actions %+v", report.ActionsNeeded)
	}
}

func TestBuildComparisonReport_CapsPotentialUpdates(t *testing.T) {
	var (
		source []importer.SourceRecord
		live   []models.Customer
	)
	for n := 1; n <= 60; n++ {
		rec := testRecord(n, "Same", 7)
		rec.City = "Davis"
		source = append(source, rec)
		live = append(live, testCustomer(n, "Same", 7))
	}
	report, err := BuildComparisonReport(Compare(source, live), len(source), len(live), time.Now())
	if err != nil {
		t.Fatalf("BuildComparisonReport: %v", err)
	}
	if report.Summary.PotentialUpdates != 60 || len(report.PotentialUpdates) != 50 {
		t.Fatalf("summary=%d listed=%d, want 60 and 50", report.Summary.PotentialUpdates, len(report.PotentialUpdates))
	}
	if report.ActionsNeeded[0].EstimatedTime != "3 minutes" {
		t.Fatalf("update estimate = %q", report.ActionsNeeded[0].EstimatedTime)
	}
}
