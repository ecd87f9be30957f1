package workflow

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/xuri/excelize/v2"
)

const pendingSheet = "Sheet1"

var pendingHeadings = []string{"BatchId", "ChangeId", "ChangeType", "CustomerNumber", "CustomerName", "Summary", "Details", "CreatedAt"}

// pendingRowDetails renders the reviewable part of a staged change as one line.
func pendingRowDetails(c models.StagedChange) (string, string) {
	if c.ChangeType == models.StagedChangeTypeInventory {
		inv, err := c.Inventory()
		if err != nil {
			return "", ""
		}
		return fmt.Sprintf("%s x%d", inv.Item.ItemNumber, inv.Item.Quantity), inv.Item.Notes
	}
	p, err := c.Proposal()
	if err != nil {
		return "", ""
	}
	parts := make([]string, 0, len(p.FieldDifferences))
	for _, d := range p.FieldDifferences {
		parts = append(parts, fmt.Sprintf("%s: %q -> %q", d.Label, d.OldValue, d.NewValue))
	}
	details := strings.Join(parts, "; ")
	if details == "" {
		details = p.Reason
	}
	return p.Summary, details
}

// WritePendingChangesXLSX writes the pending batches as a workbook with one row per staged change.
func WritePendingChangesXLSX(w io.Writer, batches []models.PendingBatch) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, h := range pendingHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(pendingSheet, cell, h); err != nil {
			return err
		}
	}

	rowNo := 2
	for _, b := range batches {
		for _, c := range b.Changes {
			summary, details := pendingRowDetails(c)
			values := []interface{}{
				b.BatchId,
				c.ID,
				string(c.ChangeType),
				c.CustomerNumber,
				c.CustomerName,
				summary,
				details,
				c.CreatedAt.UTC().Format(time.RFC3339),
			}
			for col, v := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, rowNo)
				if err != nil {
					return err
				}
				if err := f.SetCellValue(pendingSheet, cell, v); err != nil {
					return err
				}
			}
			rowNo++
		}
	}
	return f.Write(w)
}
