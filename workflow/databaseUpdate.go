package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/importer"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const previewChangeLimit = 100

// DatabaseUpdateService previews uploads, applies them under a backup and rolls them back.
type DatabaseUpdateService struct {
	Store      *LiveStore
	Logger     *logrus.Logger
	PendingTTL time.Duration
	now        func() time.Time
}

func NewDatabaseUpdateService(store *LiveStore, logger *logrus.Logger, pendingTTL time.Duration) *DatabaseUpdateService {
	if logger == nil {
		logger = config.GetLogger()
	}
	if pendingTTL <= 0 {
		pendingTTL = 24 * time.Hour
	}
	return &DatabaseUpdateService{Store: store, Logger: logger, PendingTTL: pendingTTL, now: time.Now}
}

func (s *DatabaseUpdateService) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

type PreviewResult struct {
	UpdateId     string                  `json:"updateId"`
	UpdateType   models.UpdateType       `json:"updateType"`
	FileName     string                  `json:"fileName,omitempty"`
	TotalChanges int                     `json:"totalChanges"`
	NewRecords   int                     `json:"newRecords"`
	Updates      int                     `json:"updates"`
	Conflicts    int                     `json:"conflicts"`
	Changes      []models.ChangeProposal `json:"changes"`
	Summary      string                  `json:"summary"`
	RejectedRows []importer.RejectedRow  `json:"rejectedRows"`
	ExpiresAt    time.Time               `json:"expiresAt"`
}

type ApplyResult struct {
	Success        bool   `json:"success"`
	AppliedChanges int    `json:"appliedChanges"`
	Message        string `json:"message"`
	BackupPath     string `json:"backupPath,omitempty"`
}

func previewSummary(updateType models.UpdateType, proposals []models.ChangeProposal) (creates, updates, conflicts int, summary string) {
	for _, p := range proposals {
		switch p.Action {
		case models.ChangeActionCreate:
			creates++
		case models.ChangeActionUpdate:
			updates++
		}
		if p.Conflict {
			conflicts++
		}
	}
	summary = fmt.Sprintf("%d new %s, %d updates", creates, updateType, updates)
	if conflicts > 0 {
		summary += fmt.Sprintf(", %d conflicts", conflicts)
	}
	return creates, updates, conflicts, summary
}

func buildPreviewResult(p models.PendingUpdate, proposals []models.ChangeProposal, rejected []importer.RejectedRow) PreviewResult {
	creates, updates, conflicts, summary := previewSummary(p.UpdateType, proposals)
	shown := proposals
	if len(shown) > previewChangeLimit {
		shown = shown[:previewChangeLimit]
	}
	if rejected == nil {
		rejected = []importer.RejectedRow{}
	}
	return PreviewResult{
		UpdateId:     p.UpdateId,
		UpdateType:   p.UpdateType,
		FileName:     p.FileName,
		TotalChanges: len(proposals),
		NewRecords:   creates,
		Updates:      updates,
		Conflicts:    conflicts,
		Changes:      shown,
		Summary:      summary,
		RejectedRows: rejected,
		ExpiresAt:    p.ExpiresAt,
	}
}

// planProposals maps rows for updateType and diffs them against the live store.
func planProposals(ctx context.Context, db *gorm.DB, updateType models.UpdateType, rows []importer.RawRow) ([]models.ChangeProposal, []importer.RejectedRow, error) {
	switch updateType {
	case models.UpdateTypeCustomers:
		records, rejected := importer.MapCustomers(rows)
		proposals, err := planCustomers(ctx, db, records)
		return proposals, rejected, err
	case models.UpdateTypeRoutes:
		routes, rejected := importer.MapRoutes(rows)
		proposals, err := planRoutes(ctx, db, routes)
		return proposals, rejected, err
	case models.UpdateTypeItems:
		items, rejected := importer.MapItems(rows)
		proposals, err := planItems(ctx, db, items)
		return proposals, rejected, err
	case models.UpdateTypeMixed:
		mixed, rejected := importer.MapMixed(rows)
		var all []models.ChangeProposal
		customers, err := planCustomers(ctx, db, mixed.Customers)
		if err != nil {
			return nil, nil, err
		}
		routes, err := planRoutes(ctx, db, mixed.Routes)
		if err != nil {
			return nil, nil, err
		}
		items, err := planItems(ctx, db, mixed.Items)
		if err != nil {
			return nil, nil, err
		}
		all = append(append(append(all, customers...), routes...), items...)
		return all, rejected, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", models.ErrUnsupportedUpdateType, updateType)
}

func planCustomers(ctx context.Context, db *gorm.DB, records []importer.SourceRecord) ([]models.ChangeProposal, error) {
	incoming := make([]models.Customer, 0, len(records))
	numbers := make([]int, 0, len(records))
	for _, r := range records {
		incoming = append(incoming, r.ToCustomer())
		numbers = append(numbers, r.CustomerNumber)
	}
	byNumber, err := models.CustomersByNumber(ctx, db, utils.UniqueSlice(numbers))
	if err != nil {
		return nil, err
	}
	existing := make(map[string]models.Customer, len(byNumber))
	for n, c := range byNumber {
		existing[strconv.Itoa(n)] = c
	}
	return planUpserts(incoming, existing, customerUploadFields), nil
}

func planRoutes(ctx context.Context, db *gorm.DB, routes []models.Route) ([]models.ChangeProposal, error) {
	numbers := make([]int, 0, len(routes))
	for _, r := range routes {
		numbers = append(numbers, r.RouteNumber)
	}
	byNumber, err := models.RoutesByNumber(ctx, db, utils.UniqueSlice(numbers))
	if err != nil {
		return nil, err
	}
	existing := make(map[string]models.Route, len(byNumber))
	for n, r := range byNumber {
		existing[strconv.Itoa(n)] = r
	}
	return planUpserts(routes, existing, models.RouteWritableFields), nil
}

func planItems(ctx context.Context, db *gorm.DB, items []models.Item) ([]models.ChangeProposal, error) {
	numbers := make([]string, 0, len(items))
	for _, it := range items {
		numbers = append(numbers, it.ItemNumber)
	}
	existing, err := models.ItemsByNumber(ctx, db, utils.UniqueSlice(numbers))
	if err != nil {
		return nil, err
	}
	return planUpserts(items, existing, models.ItemWritableFields), nil
}

// Preview maps an uploaded file, diffs it against the live store and keeps the
// proposals as a pending update until they are applied or expire.
func (s *DatabaseUpdateService) Preview(ctx context.Context, updateType models.UpdateType, fileName string, rows []importer.RawRow, actor Actor) (PreviewResult, error) {
	if err := requireAdmin(actor, "preview database updates"); err != nil {
		return PreviewResult{}, err
	}
	ctx, span := tracer.Start(ctx, "DatabaseUpdateService.Preview")
	defer span.End()
	span.SetAttributes(attribute.String("update_type", string(updateType)), attribute.Int("rows", len(rows)))

	db := s.Store.DB()
	proposals, rejected, err := planProposals(ctx, db, updateType, rows)
	if err != nil {
		span.RecordError(err)
		return PreviewResult{}, err
	}
	if proposals == nil {
		proposals = []models.ChangeProposal{}
	}

	changes, err := json.Marshal(proposals)
	if err != nil {
		return PreviewResult{}, err
	}
	rejectedJSON, err := json.Marshal(rejected)
	if err != nil {
		return PreviewResult{}, err
	}

	now := s.clock()
	pending := models.PendingUpdate{
		UpdateId:     uuid.NewString(),
		UpdateType:   updateType,
		FileName:     fileName,
		Changes:      changes,
		RejectedRows: rejectedJSON,
		TotalChanges: len(proposals),
		CreatedBy:    actor.Name(),
		ExpiresAt:    now.Add(s.PendingTTL),
		CreatedAt:    now,
	}
	if err := db.WithContext(ctx).Create(&pending).Error; err != nil {
		config.LogError(s.Logger, "workflow", "Preview", "save pending update", fileName, err)
		return PreviewResult{}, err
	}
	previewsCreated.WithLabelValues(string(updateType)).Inc()

	s.Logger.WithFields(logrus.Fields{
		"field":         "Preview",
		"update_id":     pending.UpdateId,
		"update_type":   updateType,
		"total_changes": len(proposals),
		"rejected_rows": len(rejected),
	}).Info("update previewed")

	return buildPreviewResult(pending, proposals, rejected), nil
}

// GetUpdateStatus returns the preview of a pending update that has not expired.
func (s *DatabaseUpdateService) GetUpdateStatus(ctx context.Context, updateId string) (PreviewResult, error) {
	pending, err := models.GetPendingUpdate(ctx, s.Store.DB(), updateId, s.clock())
	if err != nil {
		return PreviewResult{}, err
	}
	proposals, err := pending.Proposals()
	if err != nil {
		return PreviewResult{}, err
	}
	var rejected []importer.RejectedRow
	if len(pending.RejectedRows) > 0 {
		if err := json.Unmarshal(pending.RejectedRows, &rejected); err != nil {
			return PreviewResult{}, err
		}
	}
	return buildPreviewResult(*pending, proposals, rejected), nil
}

// selectProposals keeps the proposals named in selected, in preview order.
// nil selects everything.
func selectProposals(updateId string, proposals []models.ChangeProposal, selected []string) ([]models.ChangeProposal, error) {
	if selected == nil {
		return proposals, nil
	}
	byID := make(map[string]bool, len(proposals))
	for _, p := range proposals {
		byID[p.ID] = true
	}
	want := make(map[string]bool, len(selected))
	for _, id := range selected {
		if !byID[id] {
			return nil, &utils.ValidationGateError{Reason: fmt.Sprintf("change %s is not part of update %s", id, updateId)}
		}
		want[id] = true
	}
	out := make([]models.ChangeProposal, 0, len(want))
	for _, p := range proposals {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

type updateAppliedPayload struct {
	UpdateId       string            `json:"update_id"`
	UpdateType     models.UpdateType `json:"update_type"`
	AppliedChanges int               `json:"applied_changes"`
	BackupPath     string            `json:"backup_path"`
	ChangeIds      []string          `json:"change_ids"`
}

// ApplyUpdates writes the selected proposals of a pending update. selected nil
// applies everything; an empty selection does nothing. A backup is taken before
// the transaction and any failure rolls the whole transaction back.
func (s *DatabaseUpdateService) ApplyUpdates(ctx context.Context, updateId string, selected []string, actor Actor) (ApplyResult, error) {
	if err := requireAdmin(actor, "apply database updates"); err != nil {
		return ApplyResult{}, err
	}
	ctx, span := tracer.Start(ctx, "DatabaseUpdateService.ApplyUpdates")
	defer span.End()
	span.SetAttributes(attribute.String("update_id", updateId))

	if selected != nil && len(selected) == 0 {
		return ApplyResult{Success: true, Message: "No changes selected"}, nil
	}

	release, err := s.Store.Lock(ctx)
	if err != nil {
		return ApplyResult{}, err
	}
	defer release()

	db := s.Store.DB()
	pending, err := models.GetPendingUpdate(ctx, db, updateId, s.clock())
	if err != nil {
		return ApplyResult{}, err
	}
	proposals, err := pending.Proposals()
	if err != nil {
		return ApplyResult{}, err
	}
	chosen, err := selectProposals(updateId, proposals, selected)
	if err != nil {
		return ApplyResult{}, err
	}
	if len(chosen) == 0 {
		return ApplyResult{Success: true, Message: "No changes selected"}, nil
	}

	backup, err := s.Store.snapshot(ctx, "before_update_"+updateId)
	if err != nil {
		config.LogError(s.Logger, "workflow", "ApplyUpdates", "backup before update", updateId, err)
		return ApplyResult{}, fmt.Errorf("backup before update: %w", err)
	}

	ids := make([]string, 0, len(chosen))
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applier := newChangeApplier(ctx, tx)
		for _, p := range chosen {
			if err := applier.Apply(p); err != nil {
				return err
			}
			ids = append(ids, p.ID)
		}

		history := models.UpdateHistory{
			UpdateId:       updateId,
			UpdateType:     pending.UpdateType,
			AppliedChanges: len(chosen),
			BackupPath:     backup.Path,
			AdminUser:      actor.Name(),
			CompletedAt:    s.clock(),
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
		if err := tx.Where("update_id = ?", updateId).Delete(&models.PendingUpdate{}).Error; err != nil {
			return err
		}
		return models.RecordChangeEvent(ctx, tx, models.ChangeEventUpdateApplied, updateId, nil, actor.Name(), updateAppliedPayload{
			UpdateId:       updateId,
			UpdateType:     pending.UpdateType,
			AppliedChanges: len(chosen),
			BackupPath:     backup.Path,
			ChangeIds:      ids,
		})
	})
	if err != nil {
		applyFailures.Inc()
		span.RecordError(err)
		config.LogError(s.Logger, "workflow", "ApplyUpdates", "apply transaction", updateId, err)
		var applyErr *utils.ApplyError
		if errors.As(err, &applyErr) {
			return ApplyResult{}, err
		}
		return ApplyResult{}, &utils.ApplyError{Err: err}
	}

	s.Logger.WithFields(logrus.Fields{
		"field":     "ApplyUpdates",
		"update_id": updateId,
		"applied":   len(chosen),
		"backup":    backup.Name,
	}).Info("update applied")

	return ApplyResult{
		Success:        true,
		AppliedChanges: len(chosen),
		Message:        fmt.Sprintf("Successfully applied %d changes", len(chosen)),
		BackupPath:     backup.Path,
	}, nil
}

func (s *DatabaseUpdateService) GetUpdateHistory(ctx context.Context, limit int) ([]models.UpdateHistory, error) {
	return models.ListUpdateHistory(ctx, s.Store.DB(), limit)
}

// CleanupExpiredPendingUpdates deletes previews past their TTL.
func (s *DatabaseUpdateService) CleanupExpiredPendingUpdates(ctx context.Context) (int64, error) {
	n, err := models.DeleteExpiredPendingUpdates(ctx, s.Store.DB(), s.clock())
	if err != nil {
		config.LogError(s.Logger, "workflow", "CleanupExpiredPendingUpdates", "delete expired", nil, err)
		return 0, err
	}
	if n > 0 {
		s.Logger.WithFields(logrus.Fields{"field": "CleanupExpiredPendingUpdates", "deleted": n}).Info("expired previews removed")
	}
	return n, nil
}

// RunPendingCleanup calls CleanupExpiredPendingUpdates every interval until ctx is done.
func (s *DatabaseUpdateService) RunPendingCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.CleanupExpiredPendingUpdates(ctx)
		}
	}
}
