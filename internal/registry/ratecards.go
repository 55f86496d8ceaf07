package registry

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/nashingest/internal/carrier"
)

// Default pricing seeded for each known carrier.
const (
	DefaultBaseRate80            = 380.00
	DefaultBaseRate100           = 390.00
	DefaultContractualAdjustment = 1.00
)

// RateCard is the pricing for one carrier.
type RateCard struct {
	BaseRate80            float64    `json:"base_rate_80"`
	BaseRate100           float64    `json:"base_rate_100"`
	ContractualAdjustment float64    `json:"contractual_adjustment"`
	Notes                 string     `json:"notes,omitempty"`
	LastUpdated           *time.Time `json:"last_updated,omitempty"`
}

// RateCardTable is the on-disk rate card document.
type RateCardTable struct {
	Vendors     map[string]RateCard `json:"vendors"`
	LastUpdated time.Time           `json:"last_updated"`
	Version     string              `json:"version"`
}

// RateCardUpdate carries the fields to merge onto a rate card.
type RateCardUpdate struct {
	BaseRate80            *float64 `json:"base_rate_80"`
	BaseRate100           *float64 `json:"base_rate_100"`
	ContractualAdjustment *float64 `json:"contractual_adjustment"`
	Notes                 *string  `json:"notes"`
}

// DefaultRateCards returns the seeded table used before any file exists.
func DefaultRateCards() *RateCardTable {
	t := &RateCardTable{
		Vendors:     make(map[string]RateCard),
		LastUpdated: time.Now().UTC(),
		Version:     DefaultVersion,
	}
	for _, code := range carrier.Known() {
		t.Vendors[code] = RateCard{
			BaseRate80:            DefaultBaseRate80,
			BaseRate100:           DefaultBaseRate100,
			ContractualAdjustment: DefaultContractualAdjustment,
			Notes:                 fmt.Sprintf("Default %s rates", code),
		}
	}
	return t
}

// RateCards is the rate card table.
type RateCards struct {
	mu     sync.Mutex
	file   *File[RateCardTable]
	logger *slog.Logger
}

// NewRateCards returns a rate card table backed by path.
func NewRateCards(path string, logger *slog.Logger) *RateCards {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateCards{
		file: newFile("rate_cards", path, rateCardsSchema,
			DefaultRateCards,
			func(d *RateCardTable, t time.Time) {
				d.LastUpdated = t
				if d.Version == "" {
					d.Version = DefaultVersion
				}
			},
		),
		logger: logger,
	}
}

// Path returns the table file path.
func (r *RateCards) Path() string { return r.file.Path() }

// Snapshot returns the full table, seeded with defaults if no file exists.
func (r *RateCards) Snapshot() (*RateCardTable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Get returns one vendor's card. The bool is false when the vendor is unknown.
func (r *RateCards) Get(vendor string) (RateCard, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.load()
	if err != nil {
		return RateCard{}, false, err
	}
	c, ok := t.Vendors[vendor]
	return c, ok, nil
}

// Update merges u onto an existing card. Cards are never created here.
// The whole table is validated before saving; on failure nothing is written.
func (r *RateCards) Update(vendor string, u RateCardUpdate) (RateCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.load()
	if err != nil {
		return RateCard{}, err
	}

	c, ok := t.Vendors[vendor]
	if !ok {
		return RateCard{}, fmt.Errorf("%w: %s", ErrVendorNotFound, vendor)
	}

	if u.BaseRate80 != nil {
		c.BaseRate80 = *u.BaseRate80
	}
	if u.BaseRate100 != nil {
		c.BaseRate100 = *u.BaseRate100
	}
	if u.ContractualAdjustment != nil {
		c.ContractualAdjustment = *u.ContractualAdjustment
	}
	if u.Notes != nil {
		c.Notes = *u.Notes
	}
	now := time.Now().UTC()
	c.LastUpdated = &now
	t.Vendors[vendor] = c

	if err := validateTable(t); err != nil {
		return RateCard{}, err
	}

	if err := r.file.Save(t); err != nil {
		return RateCard{}, err
	}

	r.logger.Info("registry: rate card updated", "vendor", vendor)
	return c, nil
}

func (r *RateCards) load() (*RateCardTable, error) {
	t, err := r.file.Load()
	if err != nil {
		return nil, err
	}
	if t.Vendors == nil {
		t.Vendors = map[string]RateCard{}
	}
	return t, nil
}

// validateTable checks every card in vendor order so errors are stable.
func validateTable(t *RateCardTable) error {
	vendors := make([]string, 0, len(t.Vendors))
	for v := range t.Vendors {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)

	for _, v := range vendors {
		c := t.Vendors[v]
		fields := []struct {
			name  string
			value float64
		}{
			{"base_rate_80", c.BaseRate80},
			{"base_rate_100", c.BaseRate100},
			{"contractual_adjustment", c.ContractualAdjustment},
		}
		for _, f := range fields {
			if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
				return &InvalidRateError{Vendor: v, Field: f.name, Value: f.value}
			}
		}
	}
	return nil
}
