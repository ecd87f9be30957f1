package importer

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/shopspring/decimal"
)

var validate = validator.New()

// SourceRecord is a customer row normalised from any supported export.
type SourceRecord struct {
	Line             int             `json:"line"`
	CustomerNumber   int             `json:"customer_number" validate:"required,gt=0"`
	AccountName      string          `json:"account_name" validate:"required"`
	Address          string          `json:"address"`
	City             string          `json:"city"`
	State            string          `json:"state" validate:"max=20"`
	ZipCode          string          `json:"zip_code" validate:"max=20"`
	ServiceDays      string          `json:"service_days"`
	ServiceFrequency string          `json:"service_frequency"`
	RouteNumber      *int            `json:"route_number"`
	Territory        string          `json:"territory,omitempty"`
	AmountPerCycle   decimal.Decimal `json:"amount_per_cycle"`
	AccountType      string          `json:"account_type,omitempty"`
	Plant            string          `json:"plant,omitempty"`
	DeliveryID       string          `json:"delivery_id,omitempty"`
	Latitude         *float64        `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude        *float64        `json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// ToCustomer converts the record into an active live-store customer.
func (r SourceRecord) ToCustomer() models.Customer {
	return models.Customer{
		CustomerNumber:   r.CustomerNumber,
		AccountName:      r.AccountName,
		Address:          r.Address,
		City:             r.City,
		State:            r.State,
		ZipCode:          r.ZipCode,
		RouteNumber:      r.RouteNumber,
		ServiceFrequency: r.ServiceFrequency,
		ServiceDays:      r.ServiceDays,
		Territory:        r.Territory,
		AccountType:      r.AccountType,
		Plant:            r.Plant,
		DeliveryID:       r.DeliveryID,
		AmountPerCycle:   r.AmountPerCycle,
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		IsActive:         utils.NewTrue(),
	}
}

// SourceRecordFromCustomer is the inverse of ToCustomer, used to diff one live
// store snapshot against another.
func SourceRecordFromCustomer(c models.Customer) SourceRecord {
	return SourceRecord{
		CustomerNumber:   c.CustomerNumber,
		AccountName:      c.AccountName,
		Address:          c.Address,
		City:             c.City,
		State:            c.State,
		ZipCode:          c.ZipCode,
		ServiceDays:      c.ServiceDays,
		ServiceFrequency: c.ServiceFrequency,
		RouteNumber:      c.RouteNumber,
		Territory:        c.Territory,
		AmountPerCycle:   c.AmountPerCycle,
		AccountType:      c.AccountType,
		Plant:            c.Plant,
		DeliveryID:       c.DeliveryID,
		Latitude:         c.Latitude,
		Longitude:        c.Longitude,
	}
}

// parseKey accepts integer keys, including spreadsheet renderings such as "1042.0".
func parseKey(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, n > 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f <= 0 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func parseOptionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func validationReason(err error) string {
	fields := utils.ProcessValidationErrors(err)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s failed %s", k, fields[k]))
	}
	return "invalid row: " + strings.Join(parts, ", ")
}

func mapCustomerRow(row RawRow) (SourceRecord, *RejectedRow) {
	num, ok := parseKey(FindField(row, customerNumberAliases...))
	if !ok {
		r := reject(row, "missing or invalid customer_number")
		return SourceRecord{}, &r
	}
	name := FindField(row, accountNameAliases...)
	if name == "" {
		r := reject(row, "missing account_name for customer %d", num)
		return SourceRecord{}, &r
	}

	rec := SourceRecord{
		Line:             row.Line,
		CustomerNumber:   num,
		AccountName:      name,
		Address:          FindField(row, addressAliases...),
		City:             FindField(row, cityAliases...),
		State:            FindField(row, stateAliases...),
		ZipCode:          FindField(row, zipCodeAliases...),
		ServiceDays:      NormalizeServiceDays(FindField(row, serviceDaysAliases...)),
		ServiceFrequency: FindField(row, serviceFrequencyAliases...),
		AmountPerCycle:   decimal.Zero,
	}
	if rec.State == "" {
		rec.State = defaultState
	}
	if route, ok := parseKey(FindField(row, routeNumberAliases...)); ok {
		rec.RouteNumber = &route
	}
	if err := validate.Struct(rec); err != nil {
		r := reject(row, "%s", validationReason(err))
		return SourceRecord{}, &r
	}
	return rec, nil
}

// MapCustomers maps rows onto customer records. Rows without a customer number or
// name are returned as rejected instead of failing the file.
func MapCustomers(rows []RawRow) ([]SourceRecord, []RejectedRow) {
	records := make([]SourceRecord, 0, len(rows))
	var rejected []RejectedRow
	for _, row := range rows {
		rec, rej := mapCustomerRow(row)
		if rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		records = append(records, rec)
	}
	return records, rejected
}

func mapRouteRow(row RawRow) (models.Route, *RejectedRow) {
	num, ok := parseKey(FindField(row, routeNumberAliases...))
	if !ok {
		r := reject(row, "missing or invalid route_number")
		return models.Route{}, &r
	}
	active := true
	if hasAnyColumn(row, isActiveAliases...) {
		active = utils.ParseBoolean(FindField(row, isActiveAliases...))
	}
	route := models.Route{
		RouteNumber: num,
		DriverName:  FindField(row, driverNameAliases...),
		IsActive:    &active,
	}
	if err := validate.Struct(route); err != nil {
		r := reject(row, "%s", validationReason(err))
		return models.Route{}, &r
	}
	return route, nil
}

func MapRoutes(rows []RawRow) ([]models.Route, []RejectedRow) {
	routes := make([]models.Route, 0, len(rows))
	var rejected []RejectedRow
	for _, row := range rows {
		route, rej := mapRouteRow(row)
		if rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		routes = append(routes, route)
	}
	return routes, rejected
}

func mapItemRow(row RawRow) (models.Item, *RejectedRow) {
	number := FindField(row, itemNumberAliases...)
	if number == "" {
		r := reject(row, "missing item_number")
		return models.Item{}, &r
	}
	item := models.Item{
		ItemNumber:  number,
		Description: FindField(row, itemDescriptionAliases...),
		Category:    FindField(row, itemCategoryAliases...),
		UnitPrice:   decimal.Zero,
	}
	if raw := FindField(row, unitPriceAliases...); raw != "" {
		price, err := utils.ParseMoney(raw)
		if err != nil {
			r := reject(row, "invalid unit_price %q", raw)
			return models.Item{}, &r
		}
		item.UnitPrice = price
	}
	return item, nil
}

func MapItems(rows []RawRow) ([]models.Item, []RejectedRow) {
	items := make([]models.Item, 0, len(rows))
	var rejected []RejectedRow
	for _, row := range rows {
		item, rej := mapItemRow(row)
		if rej != nil {
			rejected = append(rejected, *rej)
			continue
		}
		items = append(items, item)
	}
	return items, rejected
}

// MixedRecords is the result of mapping a file that interleaves record types.
type MixedRecords struct {
	Customers []SourceRecord
	Routes    []models.Route
	Items     []models.Item
}

// isCustomerRow reports whether a mixed-file row is a customer. "id" is also the
// key column of route exports, so a keyed row with a driver column and no account
// name is left for the route mapper.
func isCustomerRow(row RawRow) bool {
	if FindField(row, customerNumberAliases...) == "" {
		return false
	}
	return FindField(row, accountNameAliases...) != "" || !hasAnyColumn(row, driverNameAliases...)
}

// MapMixed routes each row by the columns it carries: customer rows first, then
// items, then routes. Unkeyed rows with only an account name are rejected as customers.
func MapMixed(rows []RawRow) (MixedRecords, []RejectedRow) {
	var (
		out      MixedRecords
		rejected []RejectedRow
	)
	for _, row := range rows {
		switch {
		case isCustomerRow(row):
			rec, rej := mapCustomerRow(row)
			if rej != nil {
				rejected = append(rejected, *rej)
				continue
			}
			out.Customers = append(out.Customers, rec)
		case FindField(row, itemNumberAliases...) != "":
			item, rej := mapItemRow(row)
			if rej != nil {
				rejected = append(rejected, *rej)
				continue
			}
			out.Items = append(out.Items, item)
		case FindField(row, routeNumberAliases...) != "":
			route, rej := mapRouteRow(row)
			if rej != nil {
				rejected = append(rejected, *rej)
				continue
			}
			out.Routes = append(out.Routes, route)
		case FindField(row, accountNameAliases...) != "":
			rejected = append(rejected, reject(row, "missing or invalid customer_number"))
		default:
			rejected = append(rejected, reject(row, "row matches no known record type"))
		}
	}
	return out, rejected
}
