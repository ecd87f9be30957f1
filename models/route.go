package models

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
)

type Route struct {
	ID          int       `gorm:"primary_key" json:"id"`
	RouteNumber int       `gorm:"uniqueIndex;not null" json:"route_number" validate:"required,gt=0"`
	DriverName  string    `gorm:"size:100" json:"driver_name"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r Route) Entity() EntityType { return EntityTypeRoute }

func (r Route) NaturalKey() string { return strconv.Itoa(r.RouteNumber) }

func (r Route) DisplayName() string {
	if r.DriverName == "" {
		return fmt.Sprintf("Route #%d", r.RouteNumber)
	}
	return fmt.Sprintf("Route #%d (%s)", r.RouteNumber, r.DriverName)
}

func (r Route) FieldValues() map[string]string {
	return map[string]string{
		"driver_name": r.DriverName,
		"is_active":   strconv.FormatBool(r.IsActive == nil || *r.IsActive),
	}
}

func RoutesByNumber(ctx context.Context, db *gorm.DB, numbers []int) (map[int]Route, error) {
	out := make(map[int]Route, len(numbers))
	if len(numbers) == 0 {
		return out, nil
	}
	var rows []Route
	if err := db.WithContext(ctx).Where("route_number IN ?", numbers).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.RouteNumber] = r
	}
	return out, nil
}
