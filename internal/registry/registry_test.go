package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/nashingest/internal/allowlist"
)

func ptr[T any](v T) *T { return &v }

func newTestStores(t *testing.T) *Stores {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "store-registry.json")
	return NewStores(path, allowlist.New("2082", "2242", "5930"), nil)
}

func newTestRateCards(t *testing.T) *RateCards {
	t.Helper()
	return NewRateCards(filepath.Join(t.TempDir(), "rate-cards.json"), nil)
}

func TestStores_LoadDefaultWhenMissing(t *testing.T) {
	s := newTestStores(t)

	reg, err := s.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, reg.Stores)
	assert.Equal(t, DefaultVersion, reg.Version)

	_, err = os.Stat(s.Path())
	assert.True(t, errors.Is(err, os.ErrNotExist), "load must not create the file")
}

func TestStores_BulkUpdateScenario(t *testing.T) {
	s := newTestStores(t)

	res, err := s.BulkUpdate([]SparkEntry{
		{StoreID: "2082", SparkCPD: ptr(4.25), TargetBatchSize: ptr(80)},
		{StoreID: "9999", SparkCPD: ptr(5.0), TargetBatchSize: ptr(100)},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, []string{"Store 9999 is not a CA store"}, res.Errors)
	assert.False(t, res.OK())

	st, ok, err := s.Get("2082")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4.25, *st.SparkYTDCPD)
	assert.Equal(t, 80, *st.TargetBatchSize)
	assert.Equal(t, StatusActive, st.Status)

	_, ok, err = s.Get("9999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStores_BulkUpdatePartitionStable(t *testing.T) {
	s := newTestStores(t)

	entries := []SparkEntry{
		{StoreID: "2082", SparkCPD: ptr(1.5), TargetBatchSize: ptr(10)},
		{StoreID: "1", SparkCPD: ptr(1.0), TargetBatchSize: ptr(1)},
		{StoreID: "2242", SparkCPD: ptr(2.5), TargetBatchSize: ptr(20)},
		{StoreID: "2", SparkCPD: ptr(1.0), TargetBatchSize: ptr(1)},
		{StoreID: "5930", SparkCPD: ptr(3.5), TargetBatchSize: ptr(30)},
	}

	res, err := s.BulkUpdate(entries)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)
	assert.Len(t, res.Errors, len(entries)-3)

	for _, e := range entries {
		st, ok, err := s.Get(e.StoreID)
		require.NoError(t, err)
		if e.StoreID == "1" || e.StoreID == "2" {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok, e.StoreID)
		assert.Equal(t, *e.SparkCPD, *st.SparkYTDCPD)
		assert.Equal(t, *e.TargetBatchSize, *st.TargetBatchSize)
	}
}

func TestStores_BulkUpdateAllRejectedStillSaves(t *testing.T) {
	s := newTestStores(t)

	res, err := s.BulkUpdate([]SparkEntry{{StoreID: "42"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Len(t, res.Errors, 1)

	_, err = os.Stat(s.Path())
	assert.NoError(t, err)
}

func TestStores_BulkUpdateNegativeEntry(t *testing.T) {
	s := newTestStores(t)

	res, err := s.BulkUpdate([]SparkEntry{
		{StoreID: "2082", SparkCPD: ptr(-1.0)},
		{StoreID: "2242", SparkCPD: ptr(2.0)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "spark_ytd_cpd")
}

func TestStores_UpdateCreatesAndMerges(t *testing.T) {
	s := newTestStores(t)

	// Not allow-listed: single updates do not consult the allowlist.
	st, err := s.Update("7777", StoreUpdate{SparkYTDCPD: ptr(3.0)})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, st.Status)
	assert.Equal(t, 3.0, *st.SparkYTDCPD)
	assert.Nil(t, st.TargetBatchSize)

	st, err = s.Update("7777", StoreUpdate{
		TargetBatchSize: ptr(90),
		Metadata:        &StoreMetadata{City: "Fresno", State: "CA"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3.0, *st.SparkYTDCPD, "existing fields are kept")
	assert.Equal(t, 90, *st.TargetBatchSize)
	assert.Equal(t, "Fresno", st.Metadata.City)

	inactive := StatusInactive
	st, err = s.Update("7777", StoreUpdate{Status: &inactive})
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, st.Status)
}

func TestStores_UpdateRejectsInvalidFields(t *testing.T) {
	s := newTestStores(t)
	_, err := s.Update("2082", StoreUpdate{SparkYTDCPD: ptr(1.0)})
	require.NoError(t, err)

	bogus := Status("closed")
	tests := []struct {
		name  string
		u     StoreUpdate
		field string
	}{
		{"negative cpd", StoreUpdate{SparkYTDCPD: ptr(-0.01)}, "spark_ytd_cpd"},
		{"negative batch", StoreUpdate{TargetBatchSize: ptr(-5)}, "target_batch_size"},
		{"unknown status", StoreUpdate{Status: &bogus}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Update("2082", tt.u)
			var fe *FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)

			st, _, err := s.Get("2082")
			require.NoError(t, err)
			assert.Equal(t, 1.0, *st.SparkYTDCPD)
			assert.Nil(t, st.TargetBatchSize)
			assert.Equal(t, StatusActive, st.Status)
		})
	}
}

func TestStores_MergeUploadNeverDemotes(t *testing.T) {
	s := newTestStores(t)

	inactive := StatusInactive
	_, err := s.Update("2082", StoreUpdate{SparkYTDCPD: ptr(4.0), Status: &inactive})
	require.NoError(t, err)
	_, err = s.Update("2242", StoreUpdate{SparkYTDCPD: ptr(5.0)})
	require.NoError(t, err)

	seen := time.Date(2025, 10, 8, 12, 0, 0, 0, time.UTC)
	n, err := s.MergeUpload([]string{"2082", "5930"}, seen)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reg, err := s.Snapshot()
	require.NoError(t, err)

	st := reg.Stores["2082"]
	assert.Equal(t, StatusActive, st.Status)
	assert.Equal(t, 4.0, *st.SparkYTDCPD, "spark data is kept")
	assert.True(t, seen.Equal(*st.LastSeenInUpload))

	assert.Equal(t, StatusActive, reg.Stores["5930"].Status)
	assert.True(t, seen.Equal(*reg.Stores["5930"].LastSeenInUpload))

	absent := reg.Stores["2242"]
	assert.Equal(t, StatusActive, absent.Status)
	assert.Nil(t, absent.LastSeenInUpload)
}

func TestStores_LeadingZeroIDsShareOneRecord(t *testing.T) {
	s := newTestStores(t)

	res, err := s.BulkUpdate([]SparkEntry{{StoreID: "02082", SparkCPD: ptr(1.5), TargetBatchSize: ptr(40)}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Empty(t, res.Errors)

	seen := time.Date(2025, 10, 8, 12, 0, 0, 0, time.UTC)
	_, err = s.MergeUpload([]string{"2082"}, seen)
	require.NoError(t, err)

	_, err = s.Update(" 002082", StoreUpdate{Metadata: &StoreMetadata{City: "Fresno"}})
	require.NoError(t, err)

	reg, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, reg.Stores, 1)
	require.Contains(t, reg.Stores, "2082")

	for _, id := range []string{"2082", "02082"} {
		st, ok, err := s.Get(id)
		require.NoError(t, err)
		require.True(t, ok, id)
		require.NotNil(t, st.SparkYTDCPD, id)
		assert.Equal(t, 1.5, *st.SparkYTDCPD)
		assert.Equal(t, 40, *st.TargetBatchSize)
		assert.True(t, seen.Equal(*st.LastSeenInUpload))
		require.NotNil(t, st.Metadata)
		assert.Equal(t, "Fresno", st.Metadata.City)
	}
}

func TestFile_SaveWritesSingleGenerationBackup(t *testing.T) {
	s := newTestStores(t)

	_, err := s.Update("2082", StoreUpdate{SparkYTDCPD: ptr(1.0)})
	require.NoError(t, err)
	_, err = os.Stat(s.file.BackupPath())
	assert.True(t, errors.Is(err, os.ErrNotExist), "first save has nothing to back up")

	first, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	_, err = s.Update("2082", StoreUpdate{SparkYTDCPD: ptr(2.0)})
	require.NoError(t, err)

	backup, err := os.ReadFile(s.file.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, first, backup, "backup is a byte copy of the previous file")

	second, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	_, err = s.Update("2082", StoreUpdate{SparkYTDCPD: ptr(3.0)})
	require.NoError(t, err)

	backup, err = os.ReadFile(s.file.BackupPath())
	require.NoError(t, err)
	assert.Equal(t, second, backup, "only the latest previous generation is kept")

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(s.Path()), "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "no temp files left behind")
}

func TestFile_RoundTripOnlyChangesLastUpdated(t *testing.T) {
	s := newTestStores(t)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.file.now = func() time.Time { return t0 }

	_, err := s.Update("2082", StoreUpdate{
		SparkYTDCPD:     ptr(4.5),
		TargetBatchSize: ptr(80),
		Metadata:        &StoreMetadata{StoreName: "Fresno SC"},
	})
	require.NoError(t, err)
	_, err = s.MergeUpload([]string{"2242"}, time.Date(2025, 10, 8, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	before, err := s.file.Load()
	require.NoError(t, err)

	t1 := t0.Add(time.Hour)
	s.file.now = func() time.Time { return t1 }
	require.NoError(t, s.file.Save(before))

	after, err := s.file.Load()
	require.NoError(t, err)

	assert.Equal(t, before.Stores, after.Stores)
	assert.Equal(t, before.Version, after.Version)
	assert.True(t, after.LastUpdated.Equal(t1))
}

func TestFile_LoadRejectsSchemaViolations(t *testing.T) {
	s := newTestStores(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"stores":{"1":{"status":"closed"}}}`), 0o644))

	_, err := s.Snapshot()
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.NotEmpty(t, se.Problems)
}

func TestFile_LoadAcceptsOriginalLayout(t *testing.T) {
	s := newTestStores(t)
	doc := `{
  "stores": {
    "2082": {"spark_ytd_cpd": 4.1, "target_batch_size": 85, "last_seen_in_upload": "2025-10-08T00:00:00.000Z", "status": "active"}
  },
  "last_updated": "2025-10-08T12:30:00.000Z",
  "version": "1.0"
}`
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o755))
	require.NoError(t, os.WriteFile(s.Path(), []byte(doc), 0o644))

	st, ok, err := s.Get("2082")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4.1, *st.SparkYTDCPD)
	assert.Equal(t, 85, *st.TargetBatchSize)
	assert.Equal(t, 2025, st.LastSeenInUpload.Year())
}

func TestStores_ConcurrentUpdatesAreSerialized(t *testing.T) {
	s := newTestStores(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"2082", "2242", "5930", "1", "2"}[i%5]
			_, err := s.Update(id, StoreUpdate{TargetBatchSize: ptr(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	reg, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, reg.Stores, 5, "no update is lost")
}

func TestRateCards_SeededDefaults(t *testing.T) {
	r := newTestRateCards(t)

	tbl, err := r.Snapshot()
	require.NoError(t, err)
	require.Len(t, tbl.Vendors, 3)
	for _, code := range []string{"FOX", "NTG", "FDC"} {
		c := tbl.Vendors[code]
		assert.Equal(t, 380.0, c.BaseRate80)
		assert.Equal(t, 390.0, c.BaseRate100)
		assert.Equal(t, 1.0, c.ContractualAdjustment)
		assert.Equal(t, "Default "+code+" rates", c.Notes)
	}
}

func TestRateCards_UpdateMergesPartialFields(t *testing.T) {
	r := newTestRateCards(t)

	c, err := r.Update("FOX", RateCardUpdate{BaseRate80: ptr(400.0)})
	require.NoError(t, err)
	assert.Equal(t, 400.0, c.BaseRate80)
	assert.Equal(t, 390.0, c.BaseRate100)
	require.NotNil(t, c.LastUpdated)

	got, ok, err := r.Get("FOX")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 400.0, got.BaseRate80)
	assert.Equal(t, "Default FOX rates", got.Notes)

	// The seeded cards are persisted alongside the update.
	other, ok, err := r.Get("NTG")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 380.0, other.BaseRate80)
}

func TestRateCards_UnknownVendor(t *testing.T) {
	r := newTestRateCards(t)

	_, err := r.Update("ACME", RateCardUpdate{BaseRate80: ptr(1.0)})
	assert.ErrorIs(t, err, ErrVendorNotFound)

	_, ok, err := r.Get("ACME")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateCards_RejectsNegativeFields(t *testing.T) {
	tests := []struct {
		name  string
		u     RateCardUpdate
		field string
	}{
		{"base_rate_80", RateCardUpdate{BaseRate80: ptr(-1.0)}, "base_rate_80"},
		{"base_rate_100", RateCardUpdate{BaseRate100: ptr(-0.5)}, "base_rate_100"},
		{"contractual_adjustment", RateCardUpdate{ContractualAdjustment: ptr(-2.0)}, "contractual_adjustment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRateCards(t)
			before, err := r.Update("NTG", RateCardUpdate{Notes: ptr("negotiated")})
			require.NoError(t, err)
			raw, err := os.ReadFile(r.Path())
			require.NoError(t, err)

			_, err = r.Update("NTG", tt.u)
			var ire *InvalidRateError
			require.ErrorAs(t, err, &ire)
			assert.Equal(t, "NTG", ire.Vendor)
			assert.Equal(t, tt.field, ire.Field)
			assert.Contains(t, err.Error(), tt.field)
			assert.Contains(t, err.Error(), "NTG")

			after, _, err := r.Get("NTG")
			require.NoError(t, err)
			assert.Equal(t, before.BaseRate80, after.BaseRate80)
			assert.Equal(t, before.BaseRate100, after.BaseRate100)
			assert.Equal(t, before.ContractualAdjustment, after.ContractualAdjustment)

			rawAfter, err := os.ReadFile(r.Path())
			require.NoError(t, err)
			assert.Equal(t, raw, rawAfter, "file untouched")
		})
	}
}

func TestRateCards_WholeTableValidation(t *testing.T) {
	r := newTestRateCards(t)
	tbl := DefaultRateCards()
	tbl.Vendors["FDC"] = RateCard{BaseRate80: -3, BaseRate100: 1, ContractualAdjustment: 1}
	data, err := json.Marshal(tbl)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(r.Path(), data, 0o644))

	// Updating a healthy card still fails because another card is invalid.
	_, err = r.Update("FOX", RateCardUpdate{BaseRate80: ptr(10.0)})
	var ire *InvalidRateError
	require.ErrorAs(t, err, &ire)
	assert.Equal(t, "FDC", ire.Vendor)
}
