// compare-backup shows what restoring a backup would change in the live store.
//
// Usage (from backend directory):
//
//	DATABASE_PATH=data/routesync.db go run ./cmd/compare-backup --backup=backup_2026-10-01T08-00-00-000Z_manual.db
//	go run ./cmd/compare-backup --backup=... --details
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/importer"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/workflow"
	"gorm.io/gorm"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func main() {
	name := flag.String("backup", "", "Required: backup file name as listed by GET /backups")
	details := flag.Bool("details", false, "Print field differences for every changed customer")
	flag.Parse()

	if *name == "" {
		fmt.Fprintln(os.Stderr, "--backup is required")
		os.Exit(1)
	}

	backups := workflow.NewBackupManager(config.BackupDir(), config.GetLogger())
	info, err := backups.Resolve(*name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve backup: %v\n", err)
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	live := config.GetDB()
	if live == nil {
		fmt.Fprintln(os.Stderr, "database not initialized. Set DATABASE_PATH.")
		os.Exit(1)
	}
	snapshot, err := config.OpenSQLite(info.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open backup: %v\n", err)
		os.Exit(1)
	}
	defer closeDB(snapshot)

	liveCustomers, err := loadCustomers(live)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load live customers: %v\n", err)
		os.Exit(1)
	}
	backupCustomers, err := loadCustomers(snapshot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load backup customers: %v\n", err)
		os.Exit(1)
	}
	liveItems, _ := countItems(live)
	backupItems, _ := countItems(snapshot)

	fmt.Println(bold("Backup ") + info.Name + bold(" taken ") + info.Timestamp.Format("2006-01-02 15:04:05") + " (" + info.Reason + ")")
	fmt.Printf("  customers:      live %d, backup %d\n", len(liveCustomers), len(backupCustomers))
	fmt.Printf("  customer items: live %d, backup %d\n", liveItems, backupItems)

	source := make([]importer.SourceRecord, 0, len(backupCustomers))
	for _, c := range backupCustomers {
		source = append(source, importer.SourceRecordFromCustomer(c))
	}
	cmp := workflow.Compare(source, liveCustomers)

	fmt.Println()
	fmt.Println(bold("Restoring this backup would:"))
	fmt.Printf("  %s %d customers\n", green("restore"), len(cmp.ToAdd))
	fmt.Printf("  %s %d customers\n", red("drop"), len(cmp.ToRemove))
	fmt.Printf("  %s %d customers\n", yellow("revert"), len(cmp.ToUpdate))
	fmt.Printf("  leave %d customers unchanged\n", cmp.Unchanged)

	if !*details {
		return
	}
	printProposals("restore", green, cmp.ToAdd)
	printProposals("drop", red, cmp.ToRemove)
	for _, p := range cmp.ToUpdate {
		fmt.Printf("%s %s\n", yellow("revert"), p.Record)
		for _, d := range p.FieldDifferences {
			fmt.Printf("    %s: %q -> %q\n", d.Label, d.OldValue, d.NewValue)
		}
	}
}

func loadCustomers(db *gorm.DB) ([]models.Customer, error) {
	var customers []models.Customer
	err := db.Order("customer_number ASC").Find(&customers).Error
	return customers, err
}

func countItems(db *gorm.DB) (int64, error) {
	var n int64
	err := db.Model(&models.CustomerItem{}).Count(&n).Error
	return n, err
}

func printProposals(verb string, paint func(a ...interface{}) string, proposals []models.ChangeProposal) {
	for _, p := range proposals {
		fmt.Printf("%s %s\n", paint(verb), p.Record)
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
