package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"

	"github.com/JonMunkholm/nashingest/internal/logging"
	"github.com/JonMunkholm/nashingest/internal/registry"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 5 << 20

// bulkSchema accepts {"stores": [...]} or a bare array of Spark entries.
// Value checks beyond type happen per entry in the registry so one bad row
// does not reject the batch.
var bulkSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(`{
		"definitions": {
			"entry": {
				"type": "object",
				"required": ["storeId"],
				"properties": {
					"storeId": {"type": ["string", "integer"]},
					"sparkCpd": {"type": ["number", "null"]},
					"targetBatchSize": {"type": ["integer", "null"]}
				}
			},
			"entries": {"type": "array", "items": {"$ref": "#/definitions/entry"}}
		},
		"oneOf": [
			{"$ref": "#/definitions/entries"},
			{
				"type": "object",
				"required": ["stores"],
				"properties": {"stores": {"$ref": "#/definitions/entries"}}
			}
		]
	}`))
	if err != nil {
		panic(fmt.Sprintf("web: bulk schema: %v", err))
	}
	return s
}()

// bulkEntry is the wire form of registry.SparkEntry. Spreadsheet exports
// send store ids as either strings or numbers.
type bulkEntry struct {
	StoreID         idString `json:"storeId"`
	SparkCPD        *float64 `json:"sparkCpd"`
	TargetBatchSize *int     `json:"targetBatchSize"`
}

type idString string

func (s *idString) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = idString(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = idString(n.String())
	return nil
}

// BulkResponse reports a Spark bulk upload.
type BulkResponse struct {
	Success bool     `json:"success"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors"`
}

// parseBulk validates the body against bulkSchema and returns the entries.
func parseBulk(body []byte) ([]registry.SparkEntry, []string, error) {
	result, err := bulkSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, []string{err.Error()}, nil
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, problems, nil
	}

	var raw []bulkEntry
	if len(body) > 0 && firstNonSpace(body) == '[' {
		err = json.Unmarshal(body, &raw)
	} else {
		var wrapped struct {
			Stores []bulkEntry `json:"stores"`
		}
		err = json.Unmarshal(body, &wrapped)
		raw = wrapped.Stores
	}
	if err != nil {
		return nil, nil, err
	}

	entries := make([]registry.SparkEntry, len(raw))
	for i, e := range raw {
		entries[i] = registry.SparkEntry{
			StoreID:         string(e.StoreID),
			SparkCPD:        e.SparkCPD,
			TargetBatchSize: e.TargetBatchSize,
		}
	}
	return entries, nil, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return c
	}
	return 0
}

// handleBulkSpark applies a Spark CPD upload. Valid entries are committed
// even when others fail; the response is then 400 with the per-entry errors
// so the operator sees what was skipped.
func (s *Server) handleBulkSpark(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		badRequest(w, "stores array required")
		return
	}

	entries, problems, err := parseBulk(body)
	if err != nil || problems != nil {
		logging.FromContext(r.Context()).Warn("bulk spark body rejected", "problems", problems, "error", err)
		badRequest(w, "stores array required")
		return
	}

	res, err := s.deps.Stores.BulkUpdate(entries)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	status := http.StatusOK
	if !res.OK() {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, BulkResponse{Success: res.OK(), Updated: res.Updated, Errors: res.Errors})
}

func (s *Server) handleStoreRegistry(w http.ResponseWriter, r *http.Request) {
	reg, err := s.deps.Stores.Snapshot()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// StoreResponse is a single store with its id.
type StoreResponse struct {
	StoreID string `json:"storeId"`
	registry.Store
}

func (s *Server) handleGetStore(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")

	st, ok, err := s.deps.Stores.Get(storeID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !ok {
		writeFailure(w, http.StatusNotFound, fmt.Sprintf("Store %s not found", storeID))
		return
	}
	writeJSON(w, http.StatusOK, StoreResponse{StoreID: storeID, Store: st})
}

func (s *Server) handleUpdateStore(w http.ResponseWriter, r *http.Request) {
	storeID := chi.URLParam(r, "storeId")

	var u registry.StoreUpdate
	if err := decodeJSON(r, &u); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}

	st, err := s.deps.Stores.Update(storeID, u)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "store": st})
}

func (s *Server) handleRateCards(w http.ResponseWriter, r *http.Request) {
	table, err := s.deps.RateCards.Snapshot()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// RateCardResponse is a single rate card with its vendor code.
type RateCardResponse struct {
	Vendor string `json:"vendor"`
	registry.RateCard
}

func (s *Server) handleGetRateCard(w http.ResponseWriter, r *http.Request) {
	vendor := chi.URLParam(r, "vendor")

	card, ok, err := s.deps.RateCards.Get(vendor)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !ok {
		writeFailure(w, http.StatusNotFound, fmt.Sprintf("Vendor %s not found", vendor))
		return
	}
	writeJSON(w, http.StatusOK, RateCardResponse{Vendor: vendor, RateCard: card})
}

func (s *Server) handleUpdateRateCard(w http.ResponseWriter, r *http.Request) {
	vendor := chi.URLParam(r, "vendor")

	var u registry.RateCardUpdate
	if err := decodeJSON(r, &u); err != nil {
		badRequest(w, "Invalid JSON body")
		return
	}

	card, err := s.deps.RateCards.Update(vendor, u)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "rateCard": card})
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(v)
}
