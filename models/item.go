package models

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Item is a catalogue entry (rental product).
type Item struct {
	ID          int             `gorm:"primary_key" json:"id"`
	ItemNumber  string          `gorm:"size:50;uniqueIndex;not null" json:"item_number" validate:"required"`
	Description string          `gorm:"size:255" json:"description"`
	Category    string          `gorm:"size:100" json:"category"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i Item) Entity() EntityType { return EntityTypeItem }

func (i Item) NaturalKey() string { return i.ItemNumber }

func (i Item) DisplayName() string {
	if i.Description == "" {
		return fmt.Sprintf("Item %s", i.ItemNumber)
	}
	return fmt.Sprintf("Item %s (%s)", i.ItemNumber, i.Description)
}

func (i Item) FieldValues() map[string]string {
	return map[string]string{
		"description": i.Description,
		"category":    i.Category,
		"unit_price":  i.UnitPrice.StringFixed(2),
	}
}

func ItemsByNumber(ctx context.Context, db *gorm.DB, numbers []string) (map[string]Item, error) {
	out := make(map[string]Item, len(numbers))
	if len(numbers) == 0 {
		return out, nil
	}
	var rows []Item
	if err := db.WithContext(ctx).Where("item_number IN ?", numbers).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ItemNumber] = r
	}
	return out, nil
}

const CustomerItemTypeRental = "rental"

// CustomerItem is an item kept at a customer site.
type CustomerItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	CustomerNumber int             `gorm:"index;not null" json:"customer_number"`
	ItemNumber     string          `gorm:"size:50;index;not null" json:"item_number"`
	Description    string          `gorm:"size:255" json:"description"`
	Quantity       int             `gorm:"not null;default:0" json:"quantity"`
	ItemType       string          `gorm:"size:20;not null;default:'rental'" json:"item_type"`
	Notes          string          `gorm:"type:text" json:"notes"`
	UnitPrice      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
