package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/routesync_backend/importer"
	"github.com/mmdatafocus/routesync_backend/workflow"
)

type stageFunc func(ctx context.Context, records []importer.SourceRecord, rejected []importer.RejectedRow, batchId string, actor workflow.Actor) (workflow.StageResult, error)

func (app *application) parseRouteOptimization(path string) ([]importer.SourceRecord, []importer.RejectedRow, error) {
	return importer.ParseRouteOptimization(path, importer.RouteOptimizationOptions{ExcludedRoutes: app.staging.ExcludedRoutes})
}

func (app *application) compareHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdminHandler(c, "compare route optimization data") {
			return
		}
		app.withUpload(c, "compareHandler", func(ctx context.Context, upload spooledUpload) error {
			records, _, err := app.parseRouteOptimization(upload.Path)
			if err != nil {
				return err
			}
			report, err := app.staging.CompareRouteOptimization(ctx, records, actorOf(c))
			if err != nil {
				return err
			}
			c.JSON(http.StatusOK, report)
			return nil
		})
	}
}

// stageExportHandler parses a route-optimization upload and stages it with stage.
// stage is resolved per request because the services are attached after the router is built.
func (app *application) stageExportHandler(op string, stage func() stageFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		app.withUpload(c, op, func(ctx context.Context, upload spooledUpload) error {
			records, rejected, err := app.parseRouteOptimization(upload.Path)
			if err != nil {
				return err
			}
			res, err := stage()(ctx, records, rejected, c.PostForm("batch_id"), actorOf(c))
			if err != nil {
				return err
			}
			c.JSON(http.StatusOK, res)
			return nil
		})
	}
}

func (app *application) stageShellsHandler() gin.HandlerFunc {
	return app.stageExportHandler("stageShellsHandler", func() stageFunc { return app.staging.StageCustomerShells })
}

func (app *application) stageRemovalsHandler() gin.HandlerFunc {
	return app.stageExportHandler("stageRemovalsHandler", func() stageFunc { return app.staging.StageRemovals })
}

func (app *application) stageUpdatesHandler() gin.HandlerFunc {
	return app.stageExportHandler("stageUpdatesHandler", func() stageFunc { return app.staging.StageUpdates })
}

func (app *application) stageInventoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		app.withUpload(c, "stageInventoryHandler", func(ctx context.Context, upload spooledUpload) error {
			batchId := c.PostForm("batch_id")
			rows, rejected, err := importer.ParseCustomerMasterAnalysis(upload.Path)
			if err != nil {
				return err
			}
			res, err := app.staging.StageInventoryPopulation(ctx, rows, rejected, batchId, actorOf(c))
			if err != nil {
				return err
			}
			c.JSON(http.StatusOK, res)
			return nil
		})
	}
}

func routeNumberParam(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("routeNumber"))
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid route number"})
		return 0, false
	}
	return n, true
}

func (app *application) pendingChangesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, ok := routeNumberParam(c)
		if !ok {
			return
		}
		batches, err := app.staging.GetPending(c.Request.Context(), route, actorOf(c))
		if err != nil {
			respondError(c, err)
			return
		}
		total := 0
		for _, b := range batches {
			total += len(b.Changes)
		}
		c.JSON(http.StatusOK, gin.H{
			"route_number":  route,
			"total_changes": total,
			"batches":       batches,
		})
	}
}

func (app *application) pendingChangesExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, ok := routeNumberParam(c)
		if !ok {
			return
		}
		batches, err := app.staging.GetPending(c.Request.Context(), route, actorOf(c))
		if err != nil {
			respondError(c, err)
			return
		}
		var buf bytes.Buffer
		if err := workflow.WritePendingChangesXLSX(&buf, batches); err != nil {
			respondError(c, err)
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="route_%d_pending_changes.xlsx"`, route))
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	}
}

type validateChangesRequest struct {
	ApprovedChangeIds []int `json:"approved_change_ids"`
	RejectedChangeIds []int `json:"rejected_change_ids"`
}

func (app *application) validateChangesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		route, ok := routeNumberParam(c)
		if !ok {
			return
		}
		var req validateChangesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		res, err := app.staging.ValidateChanges(c.Request.Context(), route, req.ApprovedChangeIds, req.RejectedChangeIds, actorOf(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":                  true,
			"approved_changes":         res.ApprovedChanges,
			"rejected_changes":         res.RejectedChanges,
			"database_changes_applied": res.DatabaseChangesApplied,
			"backup_path":              res.BackupPath,
		})
	}
}
