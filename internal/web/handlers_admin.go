package web

import (
	"net/http"

	"github.com/JonMunkholm/nashingest/internal/allowlist"
	"github.com/JonMunkholm/nashingest/internal/logging"
)

// AllowlistResponse describes the CA store set in use.
type AllowlistResponse struct {
	Success  bool     `json:"success"`
	Source   string   `json:"source"`
	Count    int      `json:"count"`
	StoreIDs []string `json:"storeIds,omitempty"`
}

func (s *Server) handleAllowlist(w http.ResponseWriter, r *http.Request) {
	set := s.deps.Allowlist.Current()
	writeJSON(w, http.StatusOK, AllowlistResponse{
		Success:  true,
		Source:   set.Source(),
		Count:    set.Len(),
		StoreIDs: set.IDs(),
	})
}

// handleReloadAllowlist re-reads the reference file. On failure the set in
// use is kept and the error is reported.
func (s *Server) handleReloadAllowlist(w http.ResponseWriter, r *http.Request) {
	path, sheet := s.cfg.Storage.AllowlistPath, s.cfg.Storage.AllowlistSheet

	set, err := allowlist.Reload(path, sheet)
	if err != nil {
		logging.FromContext(r.Context()).Warn("allowlist reload failed", "path", path, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:  "Could not reload CA store list: " + err.Error(),
			Action: "Check the reference file and try again",
			Code:   "VAL003",
		})
		return
	}

	prev := s.deps.Allowlist.Swap(set)
	logging.FromContext(r.Context()).Info("allowlist reloaded",
		"path", path,
		"stores", set.Len(),
		"previous", prev.Len(),
	)
	writeJSON(w, http.StatusOK, AllowlistResponse{Success: true, Source: set.Source(), Count: set.Len()})
}
