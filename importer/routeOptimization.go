package importer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/shopspring/decimal"
)

var territoryRoutePattern = regexp.MustCompile(`-(\d+)$`)

// ExtractRouteFromTerritory reads the trailing route number of a territory code
// such as "SAC-33". ok is false when the territory has no numeric suffix.
func ExtractRouteFromTerritory(territory string) (int, bool) {
	m := territoryRoutePattern.FindStringSubmatch(strings.TrimSpace(territory))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// RouteOptimizationOptions tunes ParseRouteOptimization.
type RouteOptimizationOptions struct {
	// ExcludedRoutes are skipped; their rows come back as rejected.
	ExcludedRoutes []int
}

func isExcluded(route int, excluded []int) bool {
	for _, r := range excluded {
		if r == route {
			return true
		}
	}
	return false
}

// MapRouteOptimization maps rows of the route-optimization export. LocationID is
// the customer number and the route comes from the Territory suffix.
func MapRouteOptimization(rows []RawRow, opts RouteOptimizationOptions) ([]SourceRecord, []RejectedRow) {
	records := make([]SourceRecord, 0, len(rows))
	var rejected []RejectedRow

	for _, row := range rows {
		num, ok := parseKey(FindField(row, "LocationID", "location_id"))
		if !ok {
			rejected = append(rejected, reject(row, "missing or invalid LocationID"))
			continue
		}

		territory := FindField(row, "Territory")
		var routePtr *int
		if route, ok := ExtractRouteFromTerritory(territory); ok {
			if isExcluded(route, opts.ExcludedRoutes) {
				rejected = append(rejected, reject(row, "territory %s is on excluded route %d", territory, route))
				continue
			}
			routePtr = &route
		}

		name := FindField(row, "dlvr_name")
		if name == "" {
			rejected = append(rejected, reject(row, "missing dlvr_name for location %d", num))
			continue
		}

		amount := decimal.Zero
		if raw := FindField(row, "AmountPerCycle"); raw != "" {
			if d, err := utils.ParseMoney(raw); err == nil {
				amount = d
			}
		}

		rec := SourceRecord{
			Line:           row.Line,
			CustomerNumber: num,
			AccountName:    name,
			Address:        FindField(row, "dlvr_Addr"),
			City:           FindField(row, "dlvr_city"),
			State:          FindField(row, "dlvr_state"),
			ZipCode:        FindField(row, "dlvr_Zip"),
			ServiceDays:    NormalizeServiceDays(FindField(row, "DaysVisited")),
			RouteNumber:    routePtr,
			Territory:      territory,
			AmountPerCycle: amount,
			AccountType:    FindField(row, "AccountTypeID"),
			Plant:          FindField(row, "Plant"),
			DeliveryID:     FindField(row, "DeliveryID"),
			Latitude:       parseOptionalFloat(FindField(row, "latitude")),
			Longitude:      parseOptionalFloat(FindField(row, "longitude")),
		}
		if rec.State == "" {
			rec.State = defaultState
		}
		if err := validate.Struct(rec); err != nil {
			rejected = append(rejected, reject(row, "%s", validationReason(err)))
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

// ParseRouteOptimization reads and maps a route-optimization export file.
func ParseRouteOptimization(path string, opts RouteOptimizationOptions) ([]SourceRecord, []RejectedRow, error) {
	rows, err := ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	records, rejected := MapRouteOptimization(rows, opts)
	return records, rejected, nil
}
