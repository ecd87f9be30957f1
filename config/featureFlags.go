package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// BackupDir holds whole-file copies of the live store.
//
// Set via env:
// - BACKUP_DIR=./database-backups
func BackupDir() string {
	if v := strings.TrimSpace(os.Getenv("BACKUP_DIR")); v != "" {
		return v
	}
	return filepath.Join(".", "database-backups")
}

// UploadDir is where multipart uploads are spooled before parsing.
func UploadDir() string {
	if v := strings.TrimSpace(os.Getenv("UPLOAD_DIR")); v != "" {
		return v
	}
	return filepath.Join(".", "uploads")
}

// PendingUpdateTTL bounds how long a previewed-but-not-applied update can be applied.
//
// Set via env:
// - PENDING_UPDATE_TTL_HOURS=24
func PendingUpdateTTL() time.Duration {
	return time.Duration(intFromEnv("PENDING_UPDATE_TTL_HOURS", 24)) * time.Hour
}

// ExcludedRoutes lists routes that are never reconciled against the route-optimization export.
// Customers on these routes are skipped on both sides of the comparison.
//
// Set via env:
// - EXCLUDED_ROUTES="1,3"
func ExcludedRoutes() []int {
	raw, ok := os.LookupEnv("EXCLUDED_ROUTES")
	if !ok {
		return []int{1, 3}
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

// MirrorBackupsToGCS uploads every new backup to GCS_BUCKET as well.
//
// Set via env:
// - BACKUP_MIRROR_GCS=true
func MirrorBackupsToGCS() bool {
	return envBool("BACKUP_MIRROR_GCS")
}

// OutboxPublishEnabled starts the change-event dispatcher.
func OutboxPublishEnabled() bool {
	return strings.TrimSpace(os.Getenv("PUBSUB_TOPIC")) != ""
}

func SkipMigrations() bool {
	return envBool("SKIP_MIGRATIONS")
}

func RateLimitEnabled() bool {
	return envBool("RATE_LIMIT_ENABLED")
}
