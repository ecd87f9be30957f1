// pending-cleanup deletes previews whose TTL has passed. The API server runs the
// same cleanup hourly; this is for deployments that schedule it as a job.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/workflow"
)

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized. Set DATABASE_PATH.")
		os.Exit(1)
	}

	logger := config.GetLogger()
	backups := workflow.NewBackupManager(config.BackupDir(), logger)
	store := workflow.NewLiveStore(config.DatabasePath(), db, backups, logger, config.ConnectDatabase)
	svc := workflow.NewDatabaseUpdateService(store, logger, config.PendingUpdateTTL())

	n, err := svc.CleanupExpiredPendingUpdates(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("deleted %d expired pending updates\n", n)
}
