package models

import (
	"errors"
	"fmt"
	"strings"
)

type ChangeAction string

const (
	ChangeActionCreate ChangeAction = "create"
	ChangeActionUpdate ChangeAction = "update"
	ChangeActionRemove ChangeAction = "remove"
)

type EntityType string

const (
	EntityTypeCustomer EntityType = "customer"
	EntityTypeRoute    EntityType = "route"
	EntityTypeItem     EntityType = "item"
)

type StagedChangeType string

const (
	StagedChangeTypeAddition  StagedChangeType = "addition"
	StagedChangeTypeRemoval   StagedChangeType = "removal"
	StagedChangeTypeUpdate    StagedChangeType = "update"
	StagedChangeTypeInventory StagedChangeType = "inventory"
)

func (t StagedChangeType) IsValid() bool {
	switch t {
	case StagedChangeTypeAddition, StagedChangeTypeRemoval, StagedChangeTypeUpdate, StagedChangeTypeInventory:
		return true
	}
	return false
}

// UpdateType selects how an uploaded file is mapped on /preview.
type UpdateType string

const (
	UpdateTypeCustomers UpdateType = "customers"
	UpdateTypeRoutes    UpdateType = "routes"
	UpdateTypeItems     UpdateType = "items"
	UpdateTypeMixed     UpdateType = "mixed"
	UpdateTypeSales     UpdateType = "sales"
	UpdateTypeInventory UpdateType = "inventory"
)

var ErrUnsupportedUpdateType = errors.New("unsupported update type")

func ParseUpdateType(s string) (UpdateType, error) {
	t := UpdateType(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case UpdateTypeCustomers, UpdateTypeRoutes, UpdateTypeItems, UpdateTypeMixed:
		return t, nil
	case "":
		return UpdateTypeCustomers, nil
	case UpdateTypeSales, UpdateTypeInventory:
		// Recognised by the upload form but never mapped: sales and inventory flow through staging.
		return "", fmt.Errorf("%w: %s (use the staging endpoints)", ErrUnsupportedUpdateType, t)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedUpdateType, s)
}

// Change event types written to the outbox.
const (
	ChangeEventUpdateApplied    = "update.applied"
	ChangeEventUpdateRolledBack = "update.rolled_back"
	ChangeEventChangesStaged    = "route_changes.staged"
	ChangeEventChangesValidated = "route_changes.validated"
	ChangeEventBackupRestored   = "backup.restored"
)
