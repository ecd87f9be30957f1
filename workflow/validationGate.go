package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type ValidationResult struct {
	ApprovedChanges        int    `json:"approved_changes"`
	RejectedChanges        int    `json:"rejected_changes"`
	DatabaseChangesApplied int    `json:"database_changes_applied"`
	BackupPath             string `json:"backup_path,omitempty"`
}

type changesValidatedPayload struct {
	RouteNumber int    `json:"route_number"`
	ApprovedIds []int  `json:"approved_ids"`
	RejectedIds []int  `json:"rejected_ids"`
	Applied     int    `json:"database_changes_applied"`
	BackupPath  string `json:"backup_path"`
}

// checkDecisionIds rejects duplicate or contradictory ids before anything is read.
func checkDecisionIds(approved, rejected []int) error {
	seen := make(map[int]string, len(approved)+len(rejected))
	for _, id := range approved {
		if seen[id] != "" {
			return &utils.ValidationGateError{ChangeID: id, Reason: "listed twice"}
		}
		seen[id] = "approved"
	}
	for _, id := range rejected {
		switch seen[id] {
		case "approved":
			return &utils.ValidationGateError{ChangeID: id, Reason: "listed as both approved and rejected"}
		case "rejected":
			return &utils.ValidationGateError{ChangeID: id, Reason: "listed twice"}
		}
		seen[id] = "rejected"
	}
	return nil
}

// loadDecisionRows loads every id and checks it belongs to route and is still pending.
func loadDecisionRows(ctx context.Context, db *gorm.DB, routeNumber int, ids []int) (map[int]models.StagedChange, error) {
	var rows []models.StagedChange
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[int]models.StagedChange, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	for _, id := range ids {
		r, ok := byID[id]
		switch {
		case !ok:
			return nil, &utils.ValidationGateError{ChangeID: id, Reason: "unknown change id"}
		case r.RouteNumber != routeNumber:
			return nil, &utils.ValidationGateError{ChangeID: id, Reason: fmt.Sprintf("belongs to route %d, not route %d", r.RouteNumber, routeNumber)}
		case r.Validated:
			return nil, &utils.ValidationGateError{ChangeID: id, Reason: "already validated"}
		}
	}
	return byID, nil
}

// applyStaged writes one approved staged row through the change applier.
func applyStaged(applier *changeApplier, row models.StagedChange) error {
	if row.ChangeType == models.StagedChangeTypeInventory {
		inv, err := row.Inventory()
		if err != nil {
			return &utils.ApplyError{Key: fmt.Sprintf("change:%d", row.ID), Err: err}
		}
		return applier.ApplyInventory(inv)
	}
	p, err := row.Proposal()
	if err != nil {
		return &utils.ApplyError{Key: fmt.Sprintf("change:%d", row.ID), Err: err}
	}
	want := map[models.StagedChangeType]models.ChangeAction{
		models.StagedChangeTypeAddition: models.ChangeActionCreate,
		models.StagedChangeTypeRemoval:  models.ChangeActionRemove,
		models.StagedChangeTypeUpdate:   models.ChangeActionUpdate,
	}[row.ChangeType]
	if p.Action != want {
		return &utils.ApplyError{Key: fmt.Sprintf("change:%d", row.ID), Err: fmt.Errorf("%s row carries a %s proposal", row.ChangeType, p.Action)}
	}
	return applier.Apply(p)
}

// ValidateChanges applies the approved staged rows of a route and deletes the
// rejected ones. The live store is backed up first and everything happens in one
// transaction: any bad id or failed write leaves both tables as they were.
func (s *StagingService) ValidateChanges(ctx context.Context, routeNumber int, approved, rejected []int, actor Actor) (ValidationResult, error) {
	if err := requireRoute(actor, routeNumber, fmt.Sprintf("validate changes for route %d", routeNumber)); err != nil {
		return ValidationResult{}, err
	}
	if err := checkDecisionIds(approved, rejected); err != nil {
		return ValidationResult{}, err
	}
	if len(approved) == 0 && len(rejected) == 0 {
		return ValidationResult{}, nil
	}

	ctx, span := tracer.Start(ctx, "StagingService.ValidateChanges")
	defer span.End()
	span.SetAttributes(attribute.Int("route_number", routeNumber), attribute.Int("approved", len(approved)), attribute.Int("rejected", len(rejected)))

	release, err := s.Store.Lock(ctx)
	if err != nil {
		return ValidationResult{}, err
	}
	defer release()

	ids := append(append([]int{}, approved...), rejected...)
	db := s.Store.DB()
	// Checked once before the backup so a bad request does not leave a backup behind.
	if _, err := loadDecisionRows(ctx, db, routeNumber, ids); err != nil {
		return ValidationResult{}, err
	}

	var backupPath string
	if len(approved) > 0 {
		backup, err := s.Store.snapshot(ctx, fmt.Sprintf("before_route_%d_validation", routeNumber))
		if err != nil {
			config.LogError(s.Logger, "workflow", "ValidateChanges", "backup before validation", routeNumber, err)
			return ValidationResult{}, fmt.Errorf("backup before validation: %w", err)
		}
		backupPath = backup.Path
	}

	approvedSorted := append([]int{}, approved...)
	sort.Ints(approvedSorted)
	applied := 0
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := loadDecisionRows(ctx, tx, routeNumber, ids)
		if err != nil {
			return err
		}
		applier := newChangeApplier(ctx, tx)
		for _, id := range approvedSorted {
			if err := applyStaged(applier, rows[id]); err != nil {
				return err
			}
			applied++
		}

		if len(approvedSorted) > 0 {
			now := s.clock()
			by := actor.Name()
			if err := tx.Model(&models.StagedChange{}).Where("id IN ?", approvedSorted).Updates(map[string]any{
				"validated":    true,
				"validated_at": now,
				"validated_by": by,
			}).Error; err != nil {
				return err
			}
		}
		if len(rejected) > 0 {
			if err := tx.Where("id IN ?", rejected).Delete(&models.StagedChange{}).Error; err != nil {
				return err
			}
		}
		route := routeNumber
		return models.RecordChangeEvent(ctx, tx, models.ChangeEventChangesValidated, fmt.Sprintf("route:%d", routeNumber), &route, actor.Name(), changesValidatedPayload{
			RouteNumber: routeNumber,
			ApprovedIds: approvedSorted,
			RejectedIds: rejected,
			Applied:     applied,
			BackupPath:  backupPath,
		})
	})
	if err != nil {
		applyFailures.Inc()
		span.RecordError(err)
		config.LogError(s.Logger, "workflow", "ValidateChanges", "validation transaction", routeNumber, err)
		return ValidationResult{}, err
	}

	changesValidated.WithLabelValues("approved").Add(float64(len(approved)))
	changesValidated.WithLabelValues("rejected").Add(float64(len(rejected)))
	s.Logger.WithFields(logrus.Fields{
		"field":        "ValidateChanges",
		"route_number": routeNumber,
		"approved":     len(approved),
		"rejected":     len(rejected),
		"applied":      applied,
	}).Info("staged changes validated")

	return ValidationResult{
		ApprovedChanges:        len(approved),
		RejectedChanges:        len(rejected),
		DatabaseChangesApplied: applied,
		BackupPath:             backupPath,
	}, nil
}
