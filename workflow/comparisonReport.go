package workflow

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/shopspring/decimal"
)

const reportUpdateLimit = 50

type ReportSummary struct {
	CSVCustomers      int `json:"csv_customers"`
	DatabaseCustomers int `json:"database_customers"`
	MatchingCustomers int `json:"matching_customers"`
	CustomersToAdd    int `json:"customers_to_add"`
	CustomersToRemove int `json:"customers_to_remove"`
	PotentialUpdates  int `json:"potential_updates"`
}

type ReportAddition struct {
	CustomerNumber int             `json:"customer_number"`
	AccountName    string          `json:"account_name"`
	Address        string          `json:"address"`
	City           string          `json:"city"`
	State          string          `json:"state"`
	Territory      string          `json:"territory"`
	ServiceDays    string          `json:"service_days"`
	AmountPerCycle decimal.Decimal `json:"amount_per_cycle"`
}

type ReportRemoval struct {
	CustomerNumber int       `json:"customer_number"`
	AccountName    string    `json:"account_name"`
	Address        string    `json:"address"`
	City           string    `json:"city"`
	LastUpdated    time.Time `json:"last_updated"`
	IsActive       bool      `json:"is_active"`
}

type ReportUpdate struct {
	CustomerNumber int                      `json:"customer_number"`
	AccountName    string                   `json:"account_name"`
	Differences    []models.FieldDifference `json:"differences"`
}

type ReportAction struct {
	Action        string `json:"action"`
	Priority      string `json:"priority"`
	Count         int    `json:"count"`
	Description   string `json:"description"`
	EstimatedTime string `json:"estimated_time"`
}

// ComparisonReport is the review document for a route-optimization upload.
type ComparisonReport struct {
	Summary           ReportSummary    `json:"summary"`
	CustomersToAdd    []ReportAddition `json:"customers_to_add"`
	CustomersToRemove []ReportRemoval  `json:"customers_to_remove"`
	PotentialUpdates  []ReportUpdate   `json:"potential_updates"`
	ActionsNeeded     []ReportAction   `json:"actions_needed"`
	DuplicateKeys     []int            `json:"duplicate_customer_numbers,omitempty"`
	Timestamp         time.Time        `json:"timestamp"`
}

func ceilDiv(n, d int) int {
	return (n + d - 1) / d
}

// BuildComparisonReport renders cmp for review. sourceCount and liveCount are the
// sizes of the two sides before partitioning.
func BuildComparisonReport(cmp Comparison, sourceCount, liveCount int, now time.Time) (ComparisonReport, error) {
	report := ComparisonReport{
		Summary: ReportSummary{
			CSVCustomers:      sourceCount,
			DatabaseCustomers: liveCount,
			MatchingCustomers: cmp.Matching(),
			CustomersToAdd:    len(cmp.ToAdd),
			CustomersToRemove: len(cmp.ToRemove),
			PotentialUpdates:  len(cmp.ToUpdate),
		},
		CustomersToAdd:    make([]ReportAddition, 0, len(cmp.ToAdd)),
		CustomersToRemove: make([]ReportRemoval, 0, len(cmp.ToRemove)),
		PotentialUpdates:  make([]ReportUpdate, 0, min(len(cmp.ToUpdate), reportUpdateLimit)),
		ActionsNeeded:     actionPlan(cmp),
		DuplicateKeys:     cmp.DuplicateKeys,
		Timestamp:         now.UTC(),
	}

	for _, p := range cmp.ToAdd {
		c, err := models.DecodeSource[models.Customer](p)
		if err != nil {
			return ComparisonReport{}, err
		}
		report.CustomersToAdd = append(report.CustomersToAdd, ReportAddition{
			CustomerNumber: c.CustomerNumber,
			AccountName:    c.AccountName,
			Address:        c.Address,
			City:           c.City,
			State:          c.State,
			Territory:      c.Territory,
			ServiceDays:    c.ServiceDays,
			AmountPerCycle: c.AmountPerCycle,
		})
	}
	for _, p := range cmp.ToRemove {
		c, err := models.DecodeExisting[models.Customer](p)
		if err != nil {
			return ComparisonReport{}, err
		}
		report.CustomersToRemove = append(report.CustomersToRemove, ReportRemoval{
			CustomerNumber: c.CustomerNumber,
			AccountName:    c.AccountName,
			Address:        c.Address,
			City:           c.City,
			LastUpdated:    c.UpdatedAt,
			IsActive:       c.Active(),
		})
	}
	for i, p := range cmp.ToUpdate {
		if i == reportUpdateLimit {
			break
		}
		c, err := models.DecodeExisting[models.Customer](p)
		if err != nil {
			return ComparisonReport{}, err
		}
		report.PotentialUpdates = append(report.PotentialUpdates, ReportUpdate{
			CustomerNumber: c.CustomerNumber,
			AccountName:    c.AccountName,
			Differences:    p.FieldDifferences,
		})
	}
	return report, nil
}

func actionPlan(cmp Comparison) []ReportAction {
	var actions []ReportAction
	if n := len(cmp.ToAdd); n > 0 {
		actions = append(actions, ReportAction{
			Action:        "ADD_CUSTOMERS",
			Priority:      "HIGH",
			Count:         n,
			Description:   fmt.Sprintf("Add %d new customers from RouteOptimization data", n),
			EstimatedTime: fmt.Sprintf("%d minutes", ceilDiv(n, 10)),
		})
	}
	if n := len(cmp.ToRemove); n > 0 {
		actions = append(actions, ReportAction{
			Action:        "REVIEW_REMOVALS",
			Priority:      "MEDIUM",
			Count:         n,
			Description:   fmt.Sprintf("Review %d customers that may no longer be active", n),
			EstimatedTime: fmt.Sprintf("%d minutes", ceilDiv(n, 5)),
		})
	}
	if n := len(cmp.ToUpdate); n > 0 {
		actions = append(actions, ReportAction{
			Action:        "UPDATE_CUSTOMER_INFO",
			Priority:      "LOW",
			Count:         n,
			Description:   fmt.Sprintf("Update customer information for %d existing customers", n),
			EstimatedTime: fmt.Sprintf("%d minutes", ceilDiv(n, 20)),
		})
	}
	if len(actions) == 0 {
		actions = append(actions, ReportAction{
			Action:        "NO_CHANGES_NEEDED",
			Priority:      "INFO",
			Count:         0,
			Description:   "Customer database is already in sync with RouteOptimization data",
			EstimatedTime: "0 minutes",
		})
	}
	return actions
}
