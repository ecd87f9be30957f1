package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type createBackupRequest struct {
	Reason string `json:"reason"`
}

func (app *application) createBackupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdminHandler(c, "create backups") {
			return
		}
		var req createBackupRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		if req.Reason == "" {
			req.Reason = "manual"
		}
		backup, err := app.store.CreateBackup(c.Request.Context(), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "backup": backup})
	}
}

func (app *application) listBackupsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdminHandler(c, "list backups") {
			return
		}
		backups, err := app.store.Backups.List()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"backups": backups})
	}
}

type restoreRequest struct {
	BackupName string `json:"backupName" binding:"required"`
}

func (app *application) restoreHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req restoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "backupName is required"})
			return
		}
		res, err := app.updates.RestoreFromBackup(c.Request.Context(), req.BackupName, actorOf(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}
