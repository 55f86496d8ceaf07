package registry

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/JonMunkholm/nashingest/internal/allowlist"
	"github.com/JonMunkholm/nashingest/internal/metrics"
)

// Status is the lifecycle state of a store.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// StoreMetadata is optional descriptive data for a store.
type StoreMetadata struct {
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	StoreName string `json:"store_name,omitempty"`
}

// Store is the per-store delivery economics record.
type Store struct {
	SparkYTDCPD      *float64       `json:"spark_ytd_cpd,omitempty"`
	TargetBatchSize  *int           `json:"target_batch_size,omitempty"`
	LastSeenInUpload *time.Time     `json:"last_seen_in_upload,omitempty"`
	Status           Status         `json:"status"`
	Metadata         *StoreMetadata `json:"metadata,omitempty"`
}

// StoreRegistry is the on-disk store registry document.
type StoreRegistry struct {
	Stores      map[string]Store `json:"stores"`
	LastUpdated time.Time        `json:"last_updated"`
	Version     string           `json:"version"`
}

// StoreUpdate carries the fields to merge onto a store. Nil fields are left alone.
type StoreUpdate struct {
	SparkYTDCPD      *float64       `json:"spark_ytd_cpd"`
	TargetBatchSize  *int           `json:"target_batch_size"`
	LastSeenInUpload *time.Time     `json:"last_seen_in_upload"`
	Status           *Status        `json:"status"`
	Metadata         *StoreMetadata `json:"metadata"`
}

// SparkEntry is one row of a Spark CPD bulk upload.
type SparkEntry struct {
	StoreID         string   `json:"storeId"`
	SparkCPD        *float64 `json:"sparkCpd"`
	TargetBatchSize *int     `json:"targetBatchSize"`
}

// BulkResult reports a Spark bulk upload. Errors is never nil.
type BulkResult struct {
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}

// OK reports whether every entry was applied.
func (r BulkResult) OK() bool { return len(r.Errors) == 0 }

// Membership decides which stores may receive bulk Spark data.
type Membership interface {
	IsMember(storeID string) bool
}

// Stores is the store registry.
type Stores struct {
	mu     sync.Mutex
	file   *File[StoreRegistry]
	allow  Membership
	logger *slog.Logger
}

// NewStores returns a store registry backed by path.
func NewStores(path string, allow Membership, logger *slog.Logger) *Stores {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stores{
		file: newFile("stores", path, storeRegistrySchema,
			func() *StoreRegistry {
				return &StoreRegistry{
					Stores:      map[string]Store{},
					LastUpdated: time.Now().UTC(),
					Version:     DefaultVersion,
				}
			},
			func(d *StoreRegistry, t time.Time) {
				d.LastUpdated = t
				if d.Version == "" {
					d.Version = DefaultVersion
				}
			},
		),
		allow:  allow,
		logger: logger,
	}
}

// Path returns the registry file path.
func (s *Stores) Path() string { return s.file.Path() }

// Snapshot returns the full registry document.
func (s *Stores) Snapshot() (*StoreRegistry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns one store. The bool is false when the store is unknown.
// Store ids are matched in canonical form, so "02082" finds store 2082.
func (s *Stores) Get(storeID string) (Store, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return Store{}, false, err
	}
	st, ok := reg.Stores[allowlist.Canonical(storeID)]
	return st, ok, nil
}

// Update merges u onto the store, creating a minimal active record first if
// the store is unknown. The allowlist is not consulted.
func (s *Stores) Update(storeID string, u StoreUpdate) (Store, error) {
	if err := u.validate(storeID); err != nil {
		return Store{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return Store{}, err
	}

	key := allowlist.Canonical(storeID)
	st, ok := reg.Stores[key]
	if !ok {
		st = Store{Status: StatusActive}
	}
	st = u.apply(st)
	reg.Stores[key] = st

	if err := s.file.Save(reg); err != nil {
		return Store{}, err
	}

	s.logger.Info("registry: store updated", "store_id", key, "created", !ok)
	return st, nil
}

// BulkUpdate applies Spark data for each allow-listed entry and records an
// error for every other entry. The registry is saved even when some entries
// were rejected, so one bad row never discards the rest of the batch.
func (s *Stores) BulkUpdate(entries []SparkEntry) (BulkResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := BulkResult{Errors: []string{}}

	reg, err := s.load()
	if err != nil {
		return res, err
	}

	for _, e := range entries {
		if s.allow == nil || !s.allow.IsMember(e.StoreID) {
			res.Errors = append(res.Errors, notCAStore(e.StoreID).Error())
			continue
		}

		u := StoreUpdate{SparkYTDCPD: e.SparkCPD, TargetBatchSize: e.TargetBatchSize}
		if err := u.validate(e.StoreID); err != nil {
			res.Errors = append(res.Errors, err.Error())
			continue
		}

		key := allowlist.Canonical(e.StoreID)
		st, ok := reg.Stores[key]
		if !ok {
			st = Store{Status: StatusActive}
		}
		reg.Stores[key] = u.apply(st)
		res.Updated++
	}

	metrics.BulkEntries.WithLabelValues("updated").Add(float64(res.Updated))
	metrics.BulkEntries.WithLabelValues("rejected").Add(float64(len(res.Errors)))

	if err := s.file.Save(reg); err != nil {
		return res, err
	}

	s.logger.Info("registry: spark bulk upload",
		"entries", len(entries),
		"updated", res.Updated,
		"rejected", len(res.Errors),
	)
	return res, nil
}

// MergeUpload records that storeIDs appeared in an accepted upload. Known
// stores get last_seen_in_upload refreshed and are marked active; unknown
// stores are created. Stores absent from the upload are not touched, so a
// store is never demoted to inactive here.
func (s *Stores) MergeUpload(storeIDs []string, seenAt time.Time) (int, error) {
	if len(storeIDs) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return 0, err
	}

	seen := seenAt.UTC()
	created := 0
	for _, id := range storeIDs {
		key := allowlist.Canonical(id)
		st, ok := reg.Stores[key]
		if !ok {
			created++
		}
		st.LastSeenInUpload = &seen
		st.Status = StatusActive
		reg.Stores[key] = st
	}

	if err := s.file.Save(reg); err != nil {
		return 0, err
	}

	s.logger.Info("registry: merged upload stores", "stores", len(storeIDs), "created", created)
	return len(storeIDs), nil
}

func (s *Stores) load() (*StoreRegistry, error) {
	reg, err := s.file.Load()
	if err != nil {
		return nil, err
	}
	if reg.Stores == nil {
		reg.Stores = map[string]Store{}
	}
	return reg, nil
}

func (u StoreUpdate) validate(storeID string) error {
	if u.SparkYTDCPD != nil {
		v := *u.SparkYTDCPD
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return &FieldError{StoreID: storeID, Field: "spark_ytd_cpd", Value: v, Reason: "must be a non-negative number"}
		}
	}
	if u.TargetBatchSize != nil && *u.TargetBatchSize < 0 {
		return &FieldError{StoreID: storeID, Field: "target_batch_size", Value: *u.TargetBatchSize, Reason: "must be non-negative"}
	}
	if u.Status != nil && *u.Status != StatusActive && *u.Status != StatusInactive {
		return &FieldError{StoreID: storeID, Field: "status", Value: *u.Status, Reason: fmt.Sprintf("must be %q or %q", StatusActive, StatusInactive)}
	}
	return nil
}

func (u StoreUpdate) apply(st Store) Store {
	if u.SparkYTDCPD != nil {
		v := *u.SparkYTDCPD
		st.SparkYTDCPD = &v
	}
	if u.TargetBatchSize != nil {
		v := *u.TargetBatchSize
		st.TargetBatchSize = &v
	}
	if u.LastSeenInUpload != nil {
		v := u.LastSeenInUpload.UTC()
		st.LastSeenInUpload = &v
	}
	if u.Status != nil {
		st.Status = *u.Status
	}
	if u.Metadata != nil {
		m := *u.Metadata
		st.Metadata = &m
	}
	return st
}
