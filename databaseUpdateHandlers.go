package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/routesync_backend/importer"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
)

// uploadOptions is the optional JSON "options" form field of /upload.
type uploadOptions struct {
	UpdateType string `json:"updateType"`
}

func (app *application) previewHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdminHandler(c, "preview database updates") {
			return
		}
		app.withUpload(c, "previewHandler", func(ctx context.Context, upload spooledUpload) error {
			rawType := c.PostForm("updateType")
			if raw := c.PostForm("options"); raw != "" {
				var opts uploadOptions
				if err := json.Unmarshal([]byte(raw), &opts); err != nil {
					return &utils.ParseError{Op: "options", Err: err}
				}
				if rawType == "" {
					rawType = opts.UpdateType
				}
			}
			updateType, err := models.ParseUpdateType(rawType)
			if err != nil {
				return err
			}

			rows, err := importer.ParseFile(upload.Path)
			if err != nil {
				return err
			}
			res, err := app.updates.Preview(ctx, updateType, upload.Name, rows, actorOf(c))
			if err != nil {
				return err
			}
			c.JSON(http.StatusOK, res)
			return nil
		})
	}
}

func (app *application) updateStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdminHandler(c, "view database updates") {
			return
		}
		res, err := app.updates.GetUpdateStatus(c.Request.Context(), c.Param("updateId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type applyRequest struct {
	UpdateId string `json:"updateId" binding:"required"`
	// nil applies every change; an empty list applies none.
	SelectedChanges *[]string `json:"selectedChanges"`
}

func (app *application) applyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req applyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "updateId is required"})
			return
		}
		var selected []string
		if req.SelectedChanges != nil {
			selected = append([]string{}, *req.SelectedChanges...)
		}
		res, err := app.updates.ApplyUpdates(c.Request.Context(), req.UpdateId, selected, actorOf(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

type rollbackRequest struct {
	UpdateId string `json:"updateId" binding:"required"`
}

func (app *application) rollbackHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req rollbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "updateId is required"})
			return
		}
		res, err := app.updates.RollbackUpdates(c.Request.Context(), req.UpdateId, actorOf(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (app *application) historyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdminHandler(c, "view update history") {
			return
		}
		limit := models.DefaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		history, err := app.updates.GetUpdateHistory(c.Request.Context(), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": history})
	}
}
