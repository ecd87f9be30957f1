package importer

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/xuri/excelize/v2"
)

func TestReadCSV(t *testing.T) {
	data := "\ufeffCustomer_Number, Account_Name ,City\n" +
		"1,Alpha,Sacramento\n" +
		"\n" +
		",,\n" +
		"2,Bravo\n"
	rows, err := ReadCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(rows), rows)
	}
	if rows[0].Line != 2 || rows[0].Values["customer_number"] != "1" || rows[0].Values["account_name"] != "Alpha" {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if v, ok := rows[1].Values["city"]; !ok || v != "" {
		t.Fatalf("short row should carry an empty city, got %q (present=%v)", v, ok)
	}
	if rows[1].Line != 5 {
		t.Fatalf("second row line = %d, want 5", rows[1].Line)
	}
}

func TestReadCSV_Empty(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader(""))
	if err != nil || len(rows) != 0 {
		t.Fatalf("ReadCSV(empty) = %+v, %v", rows, err)
	}
}

func TestReadXML(t *testing.T) {
	data := `<?xml version="1.0"?>
<export>
  <customers>
    <customer id="1">
      <account_name>Alpha</account_name>
      <address><city>Sacramento</city><zip>95814</zip></address>
    </customer>
    <customer id="2">
      <account_name>Bravo</account_name>
    </customer>
  </customers>
</export>`
	rows, err := ReadXML(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ReadXML: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %+v", rows)
	}
	first := rows[0].Values
	if first["id"] != "1" || first["account_name"] != "Alpha" || first["address_city"] != "Sacramento" || first["address_zip"] != "95814" {
		t.Fatalf("unexpected first row %+v", first)
	}

	records, rejected := MapCustomers(rows)
	if len(records) != 2 || len(rejected) != 0 {
		t.Fatalf("MapCustomers = %+v, %+v", records, rejected)
	}
}

func TestReadXML_Malformed(t *testing.T) {
	_, err := ReadXML(strings.NewReader("<export><customer></export>"))
	var parseErr *utils.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestReadXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "customers.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	cells := [][]any{
		{"CustomerNum", "AccountName", "Route"},
		{1042, "Alpha", 33},
		{1043, "Bravo", 34},
	}
	for i, r := range cells {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	_ = f.Close()

	rows, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(rows) != 2 || rows[0].Line != 2 || rows[1].Line != 3 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if rows[1].Values["customernum"] != "1043" || rows[1].Values["route"] != "34" {
		t.Fatalf("unexpected values %+v", rows[1].Values)
	}
}

func TestCheckSupported(t *testing.T) {
	tests := []struct {
		name    string
		wantErr error
	}{
		{name: "export.csv"},
		{name: "EXPORT.XLSX"},
		{name: "export.xml"},
		{name: "scan.jpg", wantErr: utils.ErrNotImplemented},
		{name: "scan.pdf", wantErr: utils.ErrNotImplemented},
		{name: "tool.exe", wantErr: utils.ErrUnsupportedFormat},
		{name: "noext", wantErr: utils.ErrUnsupportedFormat},
	}
	for _, tt := range tests {
		err := CheckSupported(tt.name)
		if tt.wantErr == nil {
			if err != nil {
				t.Fatalf("CheckSupported(%q) = %v", tt.name, err)
			}
			continue
		}
		if !errors.Is(err, tt.wantErr) {
			t.Fatalf("CheckSupported(%q) = %v, want %v", tt.name, err, tt.wantErr)
		}
	}
}

func TestParseFile_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.csv")
	if err := os.WriteFile(path, []byte("route_number,driver_name,active\n33,Pat,yes\nx,Sam,no\n34,Lee,no\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	routes, rejected := MapRoutes(rows)
	if len(routes) != 2 || len(rejected) != 1 || rejected[0].Line != 3 {
		t.Fatalf("MapRoutes = %+v, %+v", routes, rejected)
	}
	if !*routes[0].IsActive || *routes[1].IsActive {
		t.Fatalf("unexpected active flags %+v", routes)
	}
}

func testRow(line int, values map[string]string) RawRow {
	r := newRawRow(line)
	for k, v := range values {
		r.set(k, v)
	}
	return r
}

func TestMapCustomers(t *testing.T) {
	rows := []RawRow{
		testRow(2, map[string]string{"customer_num": "1042.0", "customer_name": "Alpha", "route": "33", "days": "MWR"}),
		testRow(3, map[string]string{"customer_num": "", "customer_name": "No Key"}),
		testRow(4, map[string]string{"customer_num": "1043", "customer_name": ""}),
		testRow(5, map[string]string{"customer_num": "1044", "customer_name": "Delta", "state": "NV"}),
		testRow(6, map[string]string{"customer_num": "-3", "customer_name": "Negative"}),
	}
	records, rejected := MapCustomers(rows)
	if len(records) != 2 || len(rejected) != 3 {
		t.Fatalf("MapCustomers = %+v, %+v", records, rejected)
	}
	alpha := records[0]
	if alpha.CustomerNumber != 1042 || alpha.RouteNumber == nil || *alpha.RouteNumber != 33 || alpha.ServiceDays != "MWH" || alpha.State != "CA" {
		t.Fatalf("unexpected record %+v", alpha)
	}
	if records[1].State != "NV" || records[1].RouteNumber != nil {
		t.Fatalf("unexpected record %+v", records[1])
	}
	if rejected[0].Line != 3 || rejected[1].Line != 4 || rejected[2].Line != 6 {
		t.Fatalf("unexpected rejected lines %+v", rejected)
	}
}

func TestMapMixed(t *testing.T) {
	tests := []struct {
		name     string
		values   map[string]string
		want     string
		wantKey  string
		wantName string
	}{
		{name: "customer by number and name", values: map[string]string{"customer_number": "1", "account_name": "Alpha", "route_number": "33"}, want: "customer", wantKey: "1", wantName: "Alpha"},
		{name: "id with name column is a customer", values: map[string]string{"id": "8", "name": "Bravo"}, want: "customer", wantKey: "8", wantName: "Bravo"},
		{name: "id with driver column is a route", values: map[string]string{"id": "7", "route_number": "33", "driver_name": "Pat"}, want: "route", wantKey: "33", wantName: "Pat"},
		{name: "route with driver in name column", values: map[string]string{"route_number": "34", "name": "Sam"}, want: "route", wantKey: "34", wantName: "Sam"},
		{name: "item", values: map[string]string{"item_number": "MAT-3X5", "description": "Mat"}, want: "item", wantKey: "MAT-3X5", wantName: "Mat"},
		{name: "account name without number", values: map[string]string{"account_name": "Orphan"}, want: "rejected"},
		{name: "unknown columns", values: map[string]string{"notes": "x"}, want: "rejected"},
	}
	for _, tt := range tests {
		out, rejected := MapMixed([]RawRow{testRow(2, tt.values)})
		var got, key, name string
		switch {
		case len(out.Customers) == 1:
			got, key, name = "customer", strconv.Itoa(out.Customers[0].CustomerNumber), out.Customers[0].AccountName
		case len(out.Routes) == 1:
			got, key, name = "route", strconv.Itoa(out.Routes[0].RouteNumber), out.Routes[0].DriverName
		case len(out.Items) == 1:
			got, key, name = "item", out.Items[0].ItemNumber, out.Items[0].Description
		case len(rejected) == 1:
			got = "rejected"
		}
		total := len(out.Customers) + len(out.Routes) + len(out.Items) + len(rejected)
		if total != 1 || got != tt.want {
			t.Fatalf("%s: MapMixed = %+v, %+v; want one %s", tt.name, out, rejected, tt.want)
		}
		if key != tt.wantKey || name != tt.wantName {
			t.Fatalf("%s: got key %q name %q, want %q %q", tt.name, key, name, tt.wantKey, tt.wantName)
		}
	}
}

func TestExtractRouteFromTerritory(t *testing.T) {
	tests := []struct {
		in     string
		want   int
		wantOK bool
	}{
		{in: "SAC-33", want: 33, wantOK: true},
		{in: " OAK-034 ", want: 34, wantOK: true},
		{in: "SAC", wantOK: false},
		{in: "SAC-", wantOK: false},
		{in: "", wantOK: false},
	}
	for _, tt := range tests {
		got, ok := ExtractRouteFromTerritory(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("ExtractRouteFromTerritory(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMapRouteOptimization(t *testing.T) {
	rows := []RawRow{
		testRow(2, map[string]string{"LocationID": "101", "dlvr_name": "Alpha", "dlvr_city": "Davis", "Territory": "SAC-33", "AmountPerCycle": "$42.50", "DaysVisited": "TR"}),
		testRow(3, map[string]string{"LocationID": "102", "dlvr_name": "Warehouse", "Territory": "SAC-1"}),
		testRow(4, map[string]string{"LocationID": "103", "dlvr_name": "Floating", "Territory": "UNASSIGNED"}),
		testRow(5, map[string]string{"LocationID": "abc", "dlvr_name": "Bad"}),
		testRow(6, map[string]string{"LocationID": "104", "Territory": "SAC-33"}),
	}
	records, rejected := MapRouteOptimization(rows, RouteOptimizationOptions{ExcludedRoutes: []int{1, 3}})
	if len(records) != 2 || len(rejected) != 3 {
		t.Fatalf("MapRouteOptimization = %+v, %+v", records, rejected)
	}
	a := records[0]
	if a.CustomerNumber != 101 || *a.RouteNumber != 33 || a.AmountPerCycle.String() != "42.5" || a.ServiceDays != "TH" || a.Territory != "SAC-33" {
		t.Fatalf("unexpected record %+v", a)
	}
	if records[1].CustomerNumber != 103 || records[1].RouteNumber != nil {
		t.Fatalf("record without route suffix = %+v", records[1])
	}
	if !strings.Contains(rejected[0].Reason, "excluded route 1") {
		t.Fatalf("unexpected reason %q", rejected[0].Reason)
	}
}

func TestMapInventory(t *testing.T) {
	rows := []RawRow{
		testRow(2, map[string]string{"CustomerNum": "101", "item_num": "MAT-3X5", "reg_invty_qty": "0", "spec_invty_qty": "3", "unit_price": "2.25"}),
		testRow(3, map[string]string{"CustomerNum": "101", "item_num": "TWL-01", "reg_invty_qty": "12.0"}),
		testRow(4, map[string]string{"CustomerNum": "101", "item_num": ""}),
	}
	items, rejected := MapInventory(rows)
	if len(items) != 2 || len(rejected) != 1 {
		t.Fatalf("MapInventory = %+v, %+v", items, rejected)
	}
	if items[0].Quantity != 3 || items[0].UnitPrice.String() != "2.25" {
		t.Fatalf("special quantity not used: %+v", items[0])
	}
	if items[1].Quantity != 12 {
		t.Fatalf("quantity = %d, want 12", items[1].Quantity)
	}
}
