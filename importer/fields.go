package importer

import (
	"strings"
)

// Column aliases seen across the different export tools.
var (
	customerNumberAliases   = []string{"customer_number", "customer_num", "account_number", "account_num", "id"}
	accountNameAliases      = []string{"account_name", "customer_name", "name", "company_name"}
	addressAliases          = []string{"address", "street_address", "address1"}
	cityAliases             = []string{"city"}
	stateAliases            = []string{"state", "st"}
	zipCodeAliases          = []string{"zip_code", "zip", "postal_code"}
	routeNumberAliases      = []string{"route_number", "route", "route_num"}
	serviceFrequencyAliases = []string{"service_frequency", "frequency"}
	serviceDaysAliases      = []string{"service_days", "days"}
	driverNameAliases       = []string{"driver_name", "driver", "name"}
	isActiveAliases         = []string{"is_active", "active", "status"}
	itemNumberAliases       = []string{"item_number", "item_num", "item_id", "sku"}
	itemDescriptionAliases  = []string{"description", "item_desc", "item_description", "item_name"}
	itemCategoryAliases     = []string{"category", "item_category", "type"}
	unitPriceAliases        = []string{"unit_price", "price"}
)

const defaultState = "CA"

// FindField returns the first non-empty value among the candidate columns, trimmed.
// Column names match case-insensitively; "" means none of them had a value.
func FindField(row RawRow, candidates ...string) string {
	for _, c := range candidates {
		if v, ok := row.Values[normalizeHeader(c)]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// hasAnyColumn reports whether the row carries one of the columns, empty or not.
func hasAnyColumn(row RawRow, candidates ...string) bool {
	for _, c := range candidates {
		if _, ok := row.Values[normalizeHeader(c)]; ok {
			return true
		}
	}
	return false
}

// Source exports write Thursday as R; internally Thursday is H.
var serviceDayReplacer = strings.NewReplacer("R", "H")

// NormalizeServiceDays maps a source day string (e.g. "MWR") onto internal day codes ("MWH").
func NormalizeServiceDays(days string) string {
	return serviceDayReplacer.Replace(strings.TrimSpace(days))
}
