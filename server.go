package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/middlewares"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/mmdatafocus/routesync_backend/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "2210"

var tracer = otel.Tracer("routesync")

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// application holds the services behind the HTTP handlers. It is filled in after
// the database is reachable; until then ready is false and app endpoints answer 503.
type application struct {
	logger    *logrus.Logger
	store     *workflow.LiveStore
	updates   *workflow.DatabaseUpdateService
	staging   *workflow.StagingService
	uploadDir string
	ready     atomic.Bool
}

// attach wires the services to store and opens the app endpoints.
func (app *application) attach(store *workflow.LiveStore, uploadDir string) {
	app.store = store
	app.updates = workflow.NewDatabaseUpdateService(store, app.logger, config.PendingUpdateTTL())
	app.staging = workflow.NewStagingService(store, app.logger, config.ExcludedRoutes())
	app.uploadDir = uploadDir
	app.ready.Store(true)
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// respondError writes err with the status its type maps to.
func respondError(c *gin.Context, err error) {
	status := utils.StatusFromError(err)
	if errors.Is(err, models.ErrUnsupportedUpdateType) {
		status = http.StatusBadRequest
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func actorOf(c *gin.Context) workflow.Actor {
	return workflow.ActorFromContext(c.Request.Context())
}

func requireAdminHandler(c *gin.Context, action string) bool {
	if !actorOf(c).IsAdmin() {
		respondError(c, &utils.AuthorizationError{Action: action})
		return false
	}
	return true
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id" binding:"required,gt=0"`
}

// outboxReplayHandler re-queues a DEAD or FAILED change event for publishing.
func (app *application) outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireAdminHandler(c, "replay outbox events") {
			return
		}
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "record_id is required"})
			return
		}

		now := time.Now().UTC()
		res := app.store.DB().WithContext(c.Request.Context()).
			Model(&models.ChangeEvent{}).
			Where("id = ? AND publish_status IN ?", req.RecordId, []string{models.OutboxPublishStatusDead, models.OutboxPublishStatusFailed}).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusFailed,
				"publish_attempts":   0,
				"next_attempt_at":    &now,
				"locked_at":          nil,
				"locked_by":          nil,
				"last_publish_error": nil,
			})
		if res.Error != nil {
			respondError(c, res.Error)
			return
		}
		if res.RowsAffected == 0 {
			respondError(c, &utils.NotFoundError{Kind: "failed change event", Key: strconv.Itoa(req.RecordId)})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"record_id":       req.RecordId,
			"publish_status":  models.OutboxPublishStatusFailed,
			"next_attempt_at": now.Format(time.RFC3339Nano),
		})
	}
}

// logoutHandler revokes the caller's bearer token.
func (app *application) logoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := utils.GetTokenFromContext(c.Request.Context())
		if err := middlewares.RevokeToken(token, 24*time.Hour); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func corsMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		if len(corsConfig.AllowOrigins) == 0 {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return cors.New(corsConfig)
}

// newRouter builds the engine. app may still be filling in when requests arrive.
func newRouter(app *application) *gin.Engine {
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Use(func(c *gin.Context) {
		// Gate app endpoints on the store being open.
		if !app.ready.Load() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service starting"})
			return
		}
		c.Next()
	})

	r.Use(corsMiddleware())

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if config.RateLimitEnabled() && config.RedisAddress() != "" {
		client := getRedisClient(config.RedisAddress())
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(app.logger))
	r.Use(gin.Recovery())

	api := r.Group("/", middlewares.RequireAuth())
	api.POST("/logout", app.logoutHandler())

	// Database updates (admin).
	api.POST("/upload", app.previewHandler())
	api.POST("/preview", app.previewHandler())
	api.GET("/status/:updateId", app.updateStatusHandler())
	api.POST("/apply", app.applyHandler())
	api.POST("/rollback", app.rollbackHandler())
	api.GET("/history", app.historyHandler())

	// Route optimization review.
	api.POST("/route-optimization-compare", app.compareHandler())
	api.POST("/stage-customer-shells", app.stageShellsHandler())
	api.POST("/stage-customer-removals", app.stageRemovalsHandler())
	api.POST("/stage-removals", app.stageRemovalsHandler())
	api.POST("/stage-customer-updates", app.stageUpdatesHandler())
	api.POST("/stage-updates", app.stageUpdatesHandler())
	api.POST("/stage-inventory-population", app.stageInventoryHandler())
	api.GET("/pending-changes/:routeNumber", app.pendingChangesHandler())
	api.GET("/pending-changes/:routeNumber/export", app.pendingChangesExportHandler())
	api.POST("/validate-changes/:routeNumber", app.validateChangesHandler())

	// Backups.
	api.POST("/backup/create", app.createBackupHandler())
	api.GET("/backups", app.listBackupsHandler())
	api.POST("/restore", app.restoreHandler())

	// Ops tooling (admin only): replay change events that were marked DEAD/FAILED.
	api.POST("/internal/ops/outbox/replay", app.outboxReplayHandler())

	r.NoRoute(customNotFoundHandler)
	return r
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server first; until the store is open, app endpoints return 503.
	app := &application{logger: logger}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(app),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry(5)

	db := config.GetDB()
	if !config.SkipMigrations() {
		if err := models.AutoMigrateAll(db); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Fatal("AutoMigrate failed: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	backups := workflow.NewBackupManager(config.BackupDir(), logger)
	if config.MirrorBackupsToGCS() {
		backups.Mirror = workflow.GCSBackupMirror
	}
	// Reopening through ConnectDatabase keeps the shared handle pointing at the restored file.
	store := workflow.NewLiveStore(config.DatabasePath(), db, backups, logger, config.ConnectDatabase)

	app.attach(store, config.UploadDir())

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	// Start outbox dispatcher (publishes AFTER commit).
	if config.OutboxPublishEnabled() {
		go workflow.NewOutboxDispatcher(store, logger, nil).Run(workerCtx)
	}
	go app.updates.RunPendingCleanup(workerCtx, time.Hour)

	logger.WithFields(logrus.Fields{
		"info":     "Connection Established",
		"database": filepath.Clean(config.DatabasePath()),
	}).Info(fmt.Sprintf("listening on :%s", port))
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()

	// Drain HTTP requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	config.ClosePubSub()
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := store.DB().DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			ctx := c.Request.Context()
			cid, _ := utils.GetCorrelationIdFromContext(ctx)
			id, _ := utils.IdentityFromContext(ctx)
			logger.WithFields(logrus.Fields{
				"field":          "http",
				"path":           c.FullPath(),
				"correlation_id": cid,
				"username":       id.Username,
			}).Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()

	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		// Redis trouble must not take the API down.
		c.Next()
		return
	}
	if count == 1 {
		rl.client.Expire(c.Request.Context(), key, rl.window)
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}
