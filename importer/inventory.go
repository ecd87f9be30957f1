package importer

import (
	"strconv"
	"strings"

	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/shopspring/decimal"
)

// InventoryRow is one item line of the CustomerMasterAnalysis export.
type InventoryRow struct {
	Line            int
	CustomerNumber  int
	CustomerName    string
	ItemNumber      string
	Description     string
	Size            string
	Quantity        int
	UnitPrice       decimal.Decimal
	DeliveryFreq    string
	AverageDelivery string
}

func parseQuantity(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int(f)
	}
	return 0
}

// MapInventory maps CustomerMasterAnalysis rows. The regular quantity wins
// unless it is zero, in which case the special quantity is used.
func MapInventory(rows []RawRow) ([]InventoryRow, []RejectedRow) {
	out := make([]InventoryRow, 0, len(rows))
	var rejected []RejectedRow
	for _, row := range rows {
		num, ok := parseKey(FindField(row, "CustomerNum", "customer_number"))
		if !ok {
			rejected = append(rejected, reject(row, "missing or invalid CustomerNum"))
			continue
		}
		itemNum := FindField(row, "item_num", "item_number")
		if itemNum == "" {
			rejected = append(rejected, reject(row, "missing item_num for customer %d", num))
			continue
		}

		qty := parseQuantity(FindField(row, "reg_invty_qty"))
		if qty == 0 {
			qty = parseQuantity(FindField(row, "spec_invty_qty"))
		}
		price := decimal.Zero
		if raw := FindField(row, "unit_price"); raw != "" {
			if d, err := utils.ParseMoney(raw); err == nil {
				price = d
			}
		}

		out = append(out, InventoryRow{
			Line:            row.Line,
			CustomerNumber:  num,
			CustomerName:    FindField(row, "dlvr_name"),
			ItemNumber:      itemNum,
			Description:     FindField(row, "item_desc"),
			Size:            FindField(row, "size_misc"),
			Quantity:        qty,
			UnitPrice:       price,
			DeliveryFreq:    FindField(row, "dlvr_freq"),
			AverageDelivery: FindField(row, "avg_delivery"),
		})
	}
	return out, rejected
}

// Notes renders the size and price note stored on the customer item.
func (r InventoryRow) Notes() string {
	price := "$" + r.UnitPrice.StringFixed(2)
	if r.Size != "" {
		return "Size: " + r.Size + ", Price: " + price
	}
	return "Price: " + price
}

func (r InventoryRow) ToCustomerItem() models.CustomerItem {
	return models.CustomerItem{
		CustomerNumber: r.CustomerNumber,
		ItemNumber:     r.ItemNumber,
		Description:    r.Description,
		Quantity:       r.Quantity,
		ItemType:       models.CustomerItemTypeRental,
		Notes:          r.Notes(),
		UnitPrice:      r.UnitPrice,
	}
}

// ParseCustomerMasterAnalysis reads and maps an inventory export file.
func ParseCustomerMasterAnalysis(path string) ([]InventoryRow, []RejectedRow, error) {
	rows, err := ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	items, rejected := MapInventory(rows)
	return items, rejected, nil
}
