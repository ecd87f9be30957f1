package models

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Customer struct {
	ID               int             `gorm:"primary_key" json:"id"`
	CustomerNumber   int             `gorm:"uniqueIndex;not null" json:"customer_number" validate:"required,gt=0"`
	AccountName      string          `gorm:"size:255;not null" json:"account_name" validate:"required"`
	Address          string          `gorm:"size:255" json:"address"`
	City             string          `gorm:"size:100" json:"city"`
	State            string          `gorm:"size:20" json:"state"`
	ZipCode          string          `gorm:"size:20" json:"zip_code"`
	RouteNumber      *int            `gorm:"index" json:"route_number"`
	ServiceFrequency string          `gorm:"size:50" json:"service_frequency"`
	ServiceDays      string          `gorm:"size:20" json:"service_days"`
	Territory        string          `gorm:"size:50" json:"territory,omitempty"`
	AccountType      string          `gorm:"size:50" json:"account_type,omitempty"`
	Plant            string          `gorm:"size:50" json:"plant,omitempty"`
	DeliveryID       string          `gorm:"size:50" json:"delivery_id,omitempty"`
	AmountPerCycle   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount_per_cycle"`
	Latitude         *float64        `json:"latitude,omitempty"`
	Longitude        *float64        `json:"longitude,omitempty"`
	IsActive         *bool           `gorm:"not null;default:true;index" json:"is_active"`
	LoginCode        *string         `gorm:"size:20" json:"-"`
	LoginCodeExpires *time.Time      `json:"-"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c Customer) Entity() EntityType { return EntityTypeCustomer }

func (c Customer) NaturalKey() string { return strconv.Itoa(c.CustomerNumber) }

func (c Customer) DisplayName() string {
	return fmt.Sprintf("Customer #%d (%s)", c.CustomerNumber, c.AccountName)
}

func (c Customer) Active() bool {
	return c.IsActive == nil || *c.IsActive
}

// FieldValues renders every writable field as text, keyed by FieldSpec.Name.
func (c Customer) FieldValues() map[string]string {
	route := ""
	if c.RouteNumber != nil {
		route = strconv.Itoa(*c.RouteNumber)
	}
	return map[string]string{
		"account_name":      c.AccountName,
		"address":           c.Address,
		"city":              c.City,
		"state":             c.State,
		"zip_code":          c.ZipCode,
		"service_days":      c.ServiceDays,
		"service_frequency": c.ServiceFrequency,
		"route_number":      route,
		"territory":         c.Territory,
		"amount_per_cycle":  c.AmountPerCycle.StringFixed(2),
	}
}

// ListActiveCustomersOutsideRoutes loads the live comparison set: active customers
// whose route is not excluded. Customers with no route are included.
func ListActiveCustomersOutsideRoutes(ctx context.Context, db *gorm.DB, excluded []int) ([]Customer, error) {
	var customers []Customer
	q := db.WithContext(ctx).Model(&Customer{}).Where("is_active = ?", true)
	if len(excluded) > 0 {
		q = q.Where("route_number IS NULL OR route_number NOT IN ?", excluded)
	}
	if err := q.Order("customer_number ASC").Find(&customers).Error; err != nil {
		return nil, err
	}
	return customers, nil
}

// CustomersByNumber loads customers keyed by customer_number. Inactive rows are included.
func CustomersByNumber(ctx context.Context, db *gorm.DB, numbers []int) (map[int]Customer, error) {
	out := make(map[int]Customer, len(numbers))
	if len(numbers) == 0 {
		return out, nil
	}
	const chunk = 500
	for start := 0; start < len(numbers); start += chunk {
		end := start + chunk
		if end > len(numbers) {
			end = len(numbers)
		}
		var rows []Customer
		if err := db.WithContext(ctx).Where("customer_number IN ?", numbers[start:end]).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			out[r.CustomerNumber] = r
		}
	}
	return out, nil
}
