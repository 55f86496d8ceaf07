// Package carrier maps raw carrier labels from Nash exports to canonical
// carrier codes.
package carrier

import (
	"sort"
	"strings"
)

// Canonical carrier codes with rate cards.
const (
	FOX = "FOX"
	NTG = "NTG"
	FDC = "FDC"
)

// Aliases maps full vendor labels (exact match after trimming) to their
// canonical code. Canonical codes map to themselves so Normalize is idempotent.
var Aliases = map[string]string{
	"FOX":                  FOX,
	"Fox-Drop":             FOX,
	"NTG":                  NTG,
	"FDC":                  FDC,
	"FRONTDoor Collective": FDC,
}

// Excluded lists carriers whose trips are noise for van analytics.
var Excluded = map[string]bool{
	"JW Logistics": true,
	"DeliverOL":    true,
	"Roadie (WMT)": true,
}

// Normalize returns the canonical code for label and whether the carrier is
// excluded. Unknown labels pass through trimmed and are not excluded.
func Normalize(label string) (code string, excluded bool) {
	s := strings.TrimSpace(label)

	if Excluded[s] {
		return s, true
	}
	if c, ok := Aliases[s]; ok {
		return c, false
	}
	return s, false
}

// Known returns the canonical carrier codes in sorted order.
func Known() []string {
	codes := []string{FOX, NTG, FDC}
	sort.Strings(codes)
	return codes
}
