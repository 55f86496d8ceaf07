package nash

import (
	"fmt"
	"strings"
)

// Required column names. Matching is case-sensitive.
const (
	ColCarrier         = "Carrier"
	ColDate            = "Date"
	ColStoreID         = "Store Id"
	ColTripID          = "Walmart Trip Id"
	ColCourierName     = "Courier Name"
	ColTotalOrders     = "Total Orders"
	ColDeliveredOrders = "Delivered Orders"
)

// RequiredColumns lists every column a Nash export must carry, in export order.
var RequiredColumns = []string{
	ColCarrier,
	ColDate,
	ColStoreID,
	ColTripID,
	ColCourierName,
	ColTotalOrders,
	ColDeliveredOrders,
}

// headerIndex maps exact column names to their position.
type headerIndex map[string]int

func makeHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		name := cleanCell(h)
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	return idx
}

// checkHeader returns the diagnostics for a header row, or nil if every
// required column is present.
func checkHeader(header []string) (headerIndex, []string) {
	idx := makeHeaderIndex(header)

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) == 0 {
		return idx, nil
	}

	found := make([]string, 0, len(header))
	for _, h := range header {
		found = append(found, cleanCell(h))
	}

	errs := []string{fmt.Sprintf(
		"Missing required columns: %s\nFound columns: %s\n\n"+
			"Diagnosis: Column names must match exactly (case-sensitive). "+
			"Common issue: \"Store ID\" vs \"Store Id\" (lowercase 'd')",
		strings.Join(missing, ", "),
		strings.Join(found, ", "),
	)}

	for _, col := range missing {
		for _, got := range found {
			if strings.EqualFold(got, col) {
				errs = append(errs, fmt.Sprintf(
					"Column %q found but should be %q (column names are case-sensitive)",
					got, col,
				))
				break
			}
		}
	}

	return idx, errs
}
