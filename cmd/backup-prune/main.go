// backup-prune deletes all but the newest backups in BACKUP_DIR.
//
// Usage (from backend directory):
//
//	go run ./cmd/backup-prune --keep=30            # dry run
//	go run ./cmd/backup-prune --keep=30 --confirm  # delete
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	keep := flag.Int("keep", 30, "Number of newest backups to keep")
	confirm := flag.Bool("confirm", false, "Actually delete; without it only lists what would be deleted")
	flag.Parse()

	if *keep < 1 {
		fmt.Fprintln(os.Stderr, "--keep must be at least 1")
		os.Exit(1)
	}

	logger := config.GetLogger()
	m := workflow.NewBackupManager(config.BackupDir(), logger)

	if !*confirm {
		backups, err := m.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list backups: %v\n", err)
			os.Exit(1)
		}
		for i, b := range backups {
			if i < *keep {
				continue
			}
			fmt.Printf("would delete %s (%d bytes, %s)\n", b.Name, b.SizeBytes, b.Timestamp.Format("2006-01-02 15:04:05"))
		}
		fmt.Println("dry run; pass --confirm to delete")
		return
	}

	removed, err := m.Prune(*keep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "prune: %v\n", err)
		os.Exit(1)
	}
	if config.MirrorBackupsToGCS() {
		ctx := context.Background()
		for _, b := range removed {
			if err := workflow.DeleteGCSBackupMirror(ctx, b.Name); err != nil {
				config.LogError(logger, "backup-prune", "main", "delete mirrored backup", b.Name, err)
			}
		}
	}
	logger.WithFields(logrus.Fields{
		"field":   "backup-prune",
		"dir":     m.Dir,
		"kept":    *keep,
		"removed": len(removed),
	}).Info("backups pruned")
}
