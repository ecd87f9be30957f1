package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type FieldDifference struct {
	Field    string `json:"field"`
	Label    string `json:"label"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

// ChangeProposal is one proposed live-store mutation.
// create has no ExistingData; update and remove always carry it.
type ChangeProposal struct {
	ID               string            `json:"id"`
	Action           ChangeAction      `json:"action"`
	Entity           EntityType        `json:"entity"`
	Key              string            `json:"key"`
	CustomerNumber   int               `json:"customer_number,omitempty"`
	Record           string            `json:"record"`
	SourceData       json.RawMessage   `json:"source_data,omitempty"`
	ExistingData     json.RawMessage   `json:"existing_data,omitempty"`
	FieldDifferences []FieldDifference `json:"field_differences"`
	Conflict         bool              `json:"conflict"`
	Summary          string            `json:"summary"`
	Reason           string            `json:"reason,omitempty"`
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// Entity structs hold only plain fields; a failure here is a programming error.
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return raw
}

func customerNumberOf(r Reconcilable) int {
	if r.Entity() != EntityTypeCustomer {
		return 0
	}
	n, _ := strconv.Atoi(r.NaturalKey())
	return n
}

// ProposalID identifies a proposal within one pending update, e.g. "customer:1042".
func ProposalID(entity EntityType, key string) string {
	return string(entity) + ":" + key
}

func NewCreateProposal(incoming Reconcilable) ChangeProposal {
	return ChangeProposal{
		ID:               ProposalID(incoming.Entity(), incoming.NaturalKey()),
		Action:           ChangeActionCreate,
		Entity:           incoming.Entity(),
		Key:              incoming.NaturalKey(),
		CustomerNumber:   customerNumberOf(incoming),
		Record:           incoming.DisplayName(),
		SourceData:       mustJSON(incoming),
		FieldDifferences: []FieldDifference{},
		Summary:          fmt.Sprintf("New %s will be created", incoming.Entity()),
	}
}

func NewUpdateProposal(existing Reconcilable, incoming Reconcilable, diffs []FieldDifference) ChangeProposal {
	labels := make([]string, 0, len(diffs))
	for _, d := range diffs {
		labels = append(labels, d.Label)
	}
	return ChangeProposal{
		ID:               ProposalID(existing.Entity(), existing.NaturalKey()),
		Action:           ChangeActionUpdate,
		Entity:           existing.Entity(),
		Key:              existing.NaturalKey(),
		CustomerNumber:   customerNumberOf(existing),
		Record:           existing.DisplayName(),
		SourceData:       mustJSON(incoming),
		ExistingData:     mustJSON(existing),
		FieldDifferences: diffs,
		Summary:          fmt.Sprintf("%d fields will be updated: %s", len(diffs), strings.Join(labels, ", ")),
	}
}

func NewRemoveProposal(existing Reconcilable, reason string) ChangeProposal {
	return ChangeProposal{
		ID:               ProposalID(existing.Entity(), existing.NaturalKey()),
		Action:           ChangeActionRemove,
		Entity:           existing.Entity(),
		Key:              existing.NaturalKey(),
		CustomerNumber:   customerNumberOf(existing),
		Record:           existing.DisplayName(),
		ExistingData:     mustJSON(existing),
		FieldDifferences: []FieldDifference{},
		Summary:          fmt.Sprintf("%s will be deactivated", cases.Title(language.English).String(string(existing.Entity()))),
		Reason:           reason,
	}
}

// DecodeSource unmarshals the proposal's source record into T.
func DecodeSource[T any](p ChangeProposal) (T, error) {
	var out T
	if len(p.SourceData) == 0 {
		return out, fmt.Errorf("%s %s has no source data", p.Entity, p.Key)
	}
	err := json.Unmarshal(p.SourceData, &out)
	return out, err
}

// DecodeExisting unmarshals the proposal's live-store snapshot into T.
func DecodeExisting[T any](p ChangeProposal) (T, error) {
	var out T
	if len(p.ExistingData) == 0 {
		return out, fmt.Errorf("%s %s has no existing data", p.Entity, p.Key)
	}
	err := json.Unmarshal(p.ExistingData, &out)
	return out, err
}
