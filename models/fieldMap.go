package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/shopspring/decimal"
)

// FieldSpec maps one reconcilable field onto its live-store column.
// The comparator only diffs fields listed here and the appliers only write
// columns listed here, so both sides stay in sync by construction.
type FieldSpec struct {
	Name   string
	Label  string
	Column string
	// Convert turns the textual field value into the value bound to the column.
	Convert func(string) (any, error)
}

// DBValue converts a textual value for the column, defaulting to the trimmed string.
func (f FieldSpec) DBValue(value string) (any, error) {
	if f.Convert == nil {
		return strings.TrimSpace(value), nil
	}
	v, err := f.Convert(value)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", f.Name, err)
	}
	return v, nil
}

func optionalInt(s string) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return strconv.Atoi(s)
}

func boolValue(s string) (any, error) {
	return utils.ParseBoolean(s), nil
}

func moneyValue(s string) (any, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	d, err := utils.ParseMoney(s)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// CustomerComparableFields is the fixed comparison list for route-optimization reconciliation.
var CustomerComparableFields = []FieldSpec{
	{Name: "account_name", Label: "Account Name", Column: "account_name"},
	{Name: "address", Label: "Address", Column: "address"},
	{Name: "city", Label: "City", Column: "city"},
	{Name: "state", Label: "State", Column: "state"},
	{Name: "zip_code", Label: "Zip Code", Column: "zip_code"},
}

// CustomerWritableFields extends the comparable list with the service fields a customer upload may set.
var CustomerWritableFields = append(append([]FieldSpec{}, CustomerComparableFields...),
	FieldSpec{Name: "service_days", Label: "Service Days", Column: "service_days"},
	FieldSpec{Name: "service_frequency", Label: "Service Frequency", Column: "service_frequency"},
	FieldSpec{Name: "route_number", Label: "Route", Column: "route_number", Convert: optionalInt},
	FieldSpec{Name: "territory", Label: "Territory", Column: "territory"},
	FieldSpec{Name: "amount_per_cycle", Label: "Amount Per Cycle", Column: "amount_per_cycle", Convert: moneyValue},
)

var RouteWritableFields = []FieldSpec{
	{Name: "driver_name", Label: "Driver", Column: "driver_name"},
	{Name: "is_active", Label: "Active", Column: "is_active", Convert: boolValue},
}

var ItemWritableFields = []FieldSpec{
	{Name: "description", Label: "Description", Column: "description"},
	{Name: "category", Label: "Category", Column: "category"},
	{Name: "unit_price", Label: "Unit Price", Column: "unit_price", Convert: moneyValue},
}

func WritableFields(entity EntityType) []FieldSpec {
	switch entity {
	case EntityTypeCustomer:
		return CustomerWritableFields
	case EntityTypeRoute:
		return RouteWritableFields
	case EntityTypeItem:
		return ItemWritableFields
	}
	return nil
}

// LookupWritableField reports whether name may be written for entity.
func LookupWritableField(entity EntityType, name string) (FieldSpec, bool) {
	for _, f := range WritableFields(entity) {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Reconcilable is implemented by every live-store entity that an upload can create or patch.
type Reconcilable interface {
	Entity() EntityType
	NaturalKey() string
	DisplayName() string
	FieldValues() map[string]string
}
