package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/importer"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const defaultShellFrequency = "Weekly"

// StagingService writes proposed changes to pending_route_changes and reads them
// back for review. It never writes live-store tables.
type StagingService struct {
	Store          *LiveStore
	Logger         *logrus.Logger
	ExcludedRoutes []int
	now            func() time.Time
}

func NewStagingService(store *LiveStore, logger *logrus.Logger, excludedRoutes []int) *StagingService {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &StagingService{Store: store, Logger: logger, ExcludedRoutes: excludedRoutes, now: time.Now}
}

func (s *StagingService) clock() time.Time {
	if s.now == nil {
		return time.Now().UTC()
	}
	return s.now().UTC()
}

// StageResult reports one staging call.
type StageResult struct {
	BatchId      string                  `json:"batch_id"`
	ChangeType   models.StagedChangeType `json:"change_type"`
	Staged       int                     `json:"staged"`
	Skipped      []SkippedChange         `json:"skipped"`
	Changes      []models.StagedChange   `json:"changes"`
	RejectedRows []importer.RejectedRow  `json:"rejected_rows"`
	Message      string                  `json:"message"`
}

// SkippedChange is a proposal that was not staged, with the reason.
type SkippedChange struct {
	CustomerNumber int    `json:"customer_number"`
	Reason         string `json:"reason"`
}

// stageCandidate is one row about to be written to pending_route_changes.
type stageCandidate struct {
	RouteNumber    int
	CustomerNumber int
	CustomerName   string
	Data           any
}

func ensureBatchId(batchId string) string {
	if batchId == "" {
		return uuid.NewString()
	}
	return batchId
}

// Stage writes one unvalidated row per candidate in a single transaction.
// A customer that already has an unvalidated row of the same change type is skipped,
// so re-staging the same export is harmless.
func Stage(ctx context.Context, tx *gorm.DB, changeType models.StagedChangeType, candidates []stageCandidate, batchId string) ([]models.StagedChange, []SkippedChange, error) {
	if !changeType.IsValid() {
		return nil, nil, fmt.Errorf("invalid change type %q", changeType)
	}
	rows := make([]models.StagedChange, 0, len(candidates))
	var skipped []SkippedChange
	if len(candidates) == 0 {
		return rows, skipped, nil
	}

	numbers := make([]int, 0, len(candidates))
	for _, c := range candidates {
		numbers = append(numbers, c.CustomerNumber)
	}
	var pending []models.StagedChange
	if err := tx.WithContext(ctx).
		Select("customer_number", "change_data").
		Where("change_type = ? AND validated = ? AND customer_number IN ?", changeType, false, numbers).
		Find(&pending).Error; err != nil {
		return nil, nil, err
	}
	already := make(map[string]bool, len(pending))
	for _, p := range pending {
		already[pendingKey(changeType, p.CustomerNumber, p.ChangeData)] = true
	}

	for _, c := range candidates {
		raw, err := json.Marshal(c.Data)
		if err != nil {
			return nil, nil, err
		}
		key := pendingKey(changeType, c.CustomerNumber, raw)
		if already[key] {
			skipped = append(skipped, SkippedChange{CustomerNumber: c.CustomerNumber, Reason: "already pending review"})
			continue
		}
		already[key] = true
		rows = append(rows, models.StagedChange{
			ChangeType:     changeType,
			RouteNumber:    c.RouteNumber,
			CustomerNumber: c.CustomerNumber,
			CustomerName:   c.CustomerName,
			ChangeData:     raw,
			BatchId:        batchId,
			Validated:      false,
		})
	}
	if len(rows) == 0 {
		return rows, skipped, nil
	}
	if err := tx.WithContext(ctx).Create(&rows).Error; err != nil {
		return nil, nil, err
	}
	changesStaged.WithLabelValues(string(changeType)).Add(float64(len(rows)))
	return rows, skipped, nil
}

// pendingKey identifies a pending row for de-duplication. Inventory rows are
// per item, everything else per customer.
func pendingKey(changeType models.StagedChangeType, customerNumber int, data json.RawMessage) string {
	if changeType != models.StagedChangeTypeInventory {
		return fmt.Sprintf("%s:%d", changeType, customerNumber)
	}
	var inv models.InventoryChange
	_ = json.Unmarshal(data, &inv)
	return fmt.Sprintf("%s:%d:%s", changeType, customerNumber, inv.Item.ItemNumber)
}

type changesStagedPayload struct {
	BatchId    string                  `json:"batch_id"`
	ChangeType models.StagedChangeType `json:"change_type"`
	Staged     int                     `json:"staged"`
	ChangeIds  []int                   `json:"change_ids"`
}

func (s *StagingService) stage(ctx context.Context, changeType models.StagedChangeType, candidates []stageCandidate, skipped []SkippedChange, batchId string, rejected []importer.RejectedRow, actor Actor) (StageResult, error) {
	ctx, span := tracer.Start(ctx, "StagingService.stage")
	defer span.End()
	span.SetAttributes(attribute.String("change_type", string(changeType)), attribute.String("batch_id", batchId))

	var rows []models.StagedChange
	err := s.Store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		written, dup, err := Stage(ctx, tx, changeType, candidates, batchId)
		if err != nil {
			return err
		}
		rows = written
		skipped = append(skipped, dup...)
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		return models.RecordChangeEvent(ctx, tx, models.ChangeEventChangesStaged, batchId, nil, actor.Name(), changesStagedPayload{
			BatchId:    batchId,
			ChangeType: changeType,
			Staged:     len(rows),
			ChangeIds:  ids,
		})
	})
	if err != nil {
		span.RecordError(err)
		config.LogError(s.Logger, "workflow", "StagingService.stage", "stage "+string(changeType), batchId, err)
		return StageResult{}, err
	}
	if skipped == nil {
		skipped = []SkippedChange{}
	}
	if rejected == nil {
		rejected = []importer.RejectedRow{}
	}

	s.Logger.WithFields(logrus.Fields{
		"field":       "StagingService.stage",
		"batch_id":    batchId,
		"change_type": changeType,
		"staged":      len(rows),
		"skipped":     len(skipped),
	}).Info("changes staged")

	return StageResult{
		BatchId:      batchId,
		ChangeType:   changeType,
		Staged:       len(rows),
		Skipped:      skipped,
		Changes:      rows,
		RejectedRows: rejected,
		Message:      fmt.Sprintf("Staged %d %s changes for review", len(rows), changeType),
	}, nil
}

// compareLive diffs records against the active customers outside the excluded routes.
func (s *StagingService) compareLive(ctx context.Context, records []importer.SourceRecord) (Comparison, int, error) {
	live, err := models.ListActiveCustomersOutsideRoutes(ctx, s.Store.DB(), s.ExcludedRoutes)
	if err != nil {
		return Comparison{}, 0, err
	}
	return Compare(records, live), len(live), nil
}

// CompareRouteOptimization builds the review report for a route-optimization export.
func (s *StagingService) CompareRouteOptimization(ctx context.Context, records []importer.SourceRecord, actor Actor) (ComparisonReport, error) {
	if err := requireAdmin(actor, "compare route optimization data"); err != nil {
		return ComparisonReport{}, err
	}
	cmp, liveCount, err := s.compareLive(ctx, records)
	if err != nil {
		return ComparisonReport{}, err
	}
	return BuildComparisonReport(cmp, len(records), liveCount, s.clock())
}

func routeAllowed(actor Actor, route int) bool {
	return actor.CanAccessRoute(route)
}

// StageCustomerShells stages every export customer missing from the live store as an addition.
func (s *StagingService) StageCustomerShells(ctx context.Context, records []importer.SourceRecord, rejected []importer.RejectedRow, batchId string, actor Actor) (StageResult, error) {
	if err := requireStaff(actor, "stage changes"); err != nil {
		return StageResult{}, err
	}
	batchId = ensureBatchId(batchId)
	cmp, _, err := s.compareLive(ctx, records)
	if err != nil {
		return StageResult{}, err
	}

	var (
		candidates []stageCandidate
		skipped    []SkippedChange
	)
	for _, p := range cmp.ToAdd {
		c, err := models.DecodeSource[models.Customer](p)
		if err != nil {
			return StageResult{}, err
		}
		if c.RouteNumber == nil {
			skipped = append(skipped, SkippedChange{CustomerNumber: c.CustomerNumber, Reason: "no route in territory"})
			continue
		}
		if !routeAllowed(actor, *c.RouteNumber) {
			skipped = append(skipped, SkippedChange{CustomerNumber: c.CustomerNumber, Reason: "route not accessible"})
			continue
		}
		if c.ServiceFrequency == "" {
			c.ServiceFrequency = defaultShellFrequency
		}
		shell := models.NewCreateProposal(c)
		shell.Conflict = p.Conflict
		candidates = append(candidates, stageCandidate{
			RouteNumber:    *c.RouteNumber,
			CustomerNumber: c.CustomerNumber,
			CustomerName:   c.AccountName,
			Data:           shell,
		})
	}
	return s.stage(ctx, models.StagedChangeTypeAddition, candidates, skipped, batchId, rejected, actor)
}

// StageRemovals stages live customers absent from the export. Customers without a
// route cannot be reviewed by anyone and are skipped.
func (s *StagingService) StageRemovals(ctx context.Context, records []importer.SourceRecord, rejected []importer.RejectedRow, batchId string, actor Actor) (StageResult, error) {
	if err := requireStaff(actor, "stage changes"); err != nil {
		return StageResult{}, err
	}
	batchId = ensureBatchId(batchId)
	cmp, _, err := s.compareLive(ctx, records)
	if err != nil {
		return StageResult{}, err
	}

	var (
		candidates []stageCandidate
		skipped    []SkippedChange
	)
	for _, p := range cmp.ToRemove {
		c, err := models.DecodeExisting[models.Customer](p)
		if err != nil {
			return StageResult{}, err
		}
		if c.RouteNumber == nil {
			skipped = append(skipped, SkippedChange{CustomerNumber: c.CustomerNumber, Reason: "customer has no route"})
			continue
		}
		if !routeAllowed(actor, *c.RouteNumber) {
			skipped = append(skipped, SkippedChange{CustomerNumber: c.CustomerNumber, Reason: "route not accessible"})
			continue
		}
		candidates = append(candidates, stageCandidate{
			RouteNumber:    *c.RouteNumber,
			CustomerNumber: c.CustomerNumber,
			CustomerName:   c.AccountName,
			Data:           p,
		})
	}
	return s.stage(ctx, models.StagedChangeTypeRemoval, candidates, skipped, batchId, rejected, actor)
}

// StageUpdates stages field corrections for customers present on both sides.
// The row is filed under the customer's live route, or the export route when it has none.
func (s *StagingService) StageUpdates(ctx context.Context, records []importer.SourceRecord, rejected []importer.RejectedRow, batchId string, actor Actor) (StageResult, error) {
	if err := requireStaff(actor, "stage changes"); err != nil {
		return StageResult{}, err
	}
	batchId = ensureBatchId(batchId)
	cmp, _, err := s.compareLive(ctx, records)
	if err != nil {
		return StageResult{}, err
	}

	var (
		candidates []stageCandidate
		skipped    []SkippedChange
	)
	for _, p := range cmp.ToUpdate {
		cur, err := models.DecodeExisting[models.Customer](p)
		if err != nil {
			return StageResult{}, err
		}
		route := cur.RouteNumber
		if route == nil {
			in, err := models.DecodeSource[models.Customer](p)
			if err != nil {
				return StageResult{}, err
			}
			route = in.RouteNumber
		}
		if route == nil {
			skipped = append(skipped, SkippedChange{CustomerNumber: cur.CustomerNumber, Reason: "customer has no route"})
			continue
		}
		if !routeAllowed(actor, *route) {
			skipped = append(skipped, SkippedChange{CustomerNumber: cur.CustomerNumber, Reason: "route not accessible"})
			continue
		}
		candidates = append(candidates, stageCandidate{
			RouteNumber:    *route,
			CustomerNumber: cur.CustomerNumber,
			CustomerName:   cur.AccountName,
			Data:           p,
		})
	}
	return s.stage(ctx, models.StagedChangeTypeUpdate, candidates, skipped, batchId, rejected, actor)
}

// StageInventoryPopulation stages the items of customers that are pending as
// additions in batchId. Items of other customers are skipped.
func (s *StagingService) StageInventoryPopulation(ctx context.Context, rows []importer.InventoryRow, rejected []importer.RejectedRow, batchId string, actor Actor) (StageResult, error) {
	if err := requireStaff(actor, "stage changes"); err != nil {
		return StageResult{}, err
	}
	if batchId == "" {
		return StageResult{}, fmt.Errorf("batch_id is required to stage inventory")
	}
	var shells []models.StagedChange
	if err := s.Store.DB().WithContext(ctx).
		Where("batch_id = ? AND change_type = ? AND validated = ?", batchId, models.StagedChangeTypeAddition, false).
		Order("id ASC").
		Find(&shells).Error; err != nil {
		return StageResult{}, err
	}
	byCustomer := make(map[int]models.StagedChange, len(shells))
	for _, sh := range shells {
		byCustomer[sh.CustomerNumber] = sh
	}

	var (
		candidates []stageCandidate
		skipped    []SkippedChange
	)
	for _, row := range rows {
		shell, ok := byCustomer[row.CustomerNumber]
		if !ok {
			skipped = append(skipped, SkippedChange{CustomerNumber: row.CustomerNumber, Reason: "no pending customer shell in batch"})
			continue
		}
		if !routeAllowed(actor, shell.RouteNumber) {
			skipped = append(skipped, SkippedChange{CustomerNumber: row.CustomerNumber, Reason: "route not accessible"})
			continue
		}
		name := shell.CustomerName
		if name == "" {
			name = row.CustomerName
		}
		candidates = append(candidates, stageCandidate{
			RouteNumber:    shell.RouteNumber,
			CustomerNumber: row.CustomerNumber,
			CustomerName:   name,
			Data: models.InventoryChange{
				CustomerNumber:  row.CustomerNumber,
				CustomerName:    name,
				Item:            row.ToCustomerItem(),
				DeliveryFreq:    row.DeliveryFreq,
				AverageDelivery: row.AverageDelivery,
				ShellChangeId:   shell.ID,
			},
		})
	}
	return s.stage(ctx, models.StagedChangeTypeInventory, candidates, skipped, batchId, rejected, actor)
}

// GetPending returns unvalidated rows of route grouped by batch. Batches are
// ordered by their earliest row and rows within a batch by id.
func (s *StagingService) GetPending(ctx context.Context, routeNumber int, actor Actor) ([]models.PendingBatch, error) {
	if err := requireRoute(actor, routeNumber, fmt.Sprintf("view pending changes for route %d", routeNumber)); err != nil {
		return nil, err
	}
	rows, err := models.ListPendingChanges(ctx, s.Store.DB(), routeNumber)
	if err != nil {
		return nil, err
	}
	return groupPending(rows), nil
}

func groupPending(rows []models.StagedChange) []models.PendingBatch {
	index := map[string]int{}
	batches := []models.PendingBatch{}
	for _, r := range rows {
		i, ok := index[r.BatchId]
		if !ok {
			i = len(batches)
			index[r.BatchId] = i
			batches = append(batches, models.PendingBatch{
				BatchId:   r.BatchId,
				CreatedAt: r.CreatedAt,
				Counts:    map[string]int{},
			})
		}
		b := &batches[i]
		if r.CreatedAt.Before(b.CreatedAt) {
			b.CreatedAt = r.CreatedAt
		}
		b.Counts[string(r.ChangeType)]++
		b.Changes = append(b.Changes, r)
	}
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].CreatedAt.Before(batches[j].CreatedAt)
	})
	for i := range batches {
		changes := batches[i].Changes
		sort.SliceStable(changes, func(a, b int) bool { return changes[a].ID < changes[b].ID })
	}
	return batches
}
