package web

// errors.go maps component errors to HTTP responses.
//
// Failures are written as {success:false, error, code, action}.
// The code is quoted to support and groups errors by area:
//
//	FILE001 - Upload exceeds the size limit
//	FILE002 - Upload is not a .csv file
//	FILE003 - No file in the multipart form
//	UPL001  - Too many uploads in progress
//	UPL002  - No accepted Nash upload yet
//	UPL003  - Request cancelled or timed out
//	REG001  - Invalid rate card value
//	REG002  - Invalid store field
//	REG003  - Store is not in the CA allowlist
//	REG004  - Unknown rate card vendor
//	REG005  - Registry file is corrupt
//	VAL001  - Malformed request body
//	VAL002  - Store id is not numeric
//	VAL003  - CA store reference file could not be reloaded
//	ANL001  - Analytics script failed
//	ANL002  - Analytics output was not JSON
//	ERR000  - Anything else

import (
	"context"
	"errors"
	"net/http"

	"github.com/JonMunkholm/nashingest/internal/analytics"
	"github.com/JonMunkholm/nashingest/internal/ingest"
	"github.com/JonMunkholm/nashingest/internal/logging"
	"github.com/JonMunkholm/nashingest/internal/registry"
)

// UserMessage is the client-facing side of an error.
type UserMessage struct {
	Status  int
	Message string
	Action  string
	Code    string
}

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// MapError classifies err. Registry validation errors keep their own text
// since it names the offending field and vendor or store.
func MapError(err error) UserMessage {
	var (
		rateErr  *registry.InvalidRateError
		fieldErr *registry.FieldError
		schemaEr *registry.SchemaError
		procErr  *analytics.ProcessError
	)

	switch {
	case errors.Is(err, ingest.ErrFileTooLarge):
		return UserMessage{http.StatusRequestEntityTooLarge, "File too large", "Upload a file under the size limit", "FILE001"}
	case errors.Is(err, ingest.ErrNotCSV):
		return UserMessage{http.StatusBadRequest, "Only CSV files are allowed", "Export the Nash report as .csv", "FILE002"}
	case errors.Is(err, ingest.ErrTooManyUploads):
		return UserMessage{http.StatusServiceUnavailable, "Too many uploads in progress", "Please wait a moment and try again", "UPL001"}
	case errors.Is(err, ingest.ErrNoUpload):
		return UserMessage{http.StatusNotFound, "No Nash data has been uploaded yet", "Upload a Nash CSV first", "UPL002"}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return UserMessage{http.StatusServiceUnavailable, "Request cancelled or timed out", "Please try again", "UPL003"}
	case errors.As(err, &rateErr):
		return UserMessage{http.StatusBadRequest, rateErr.Error(), "Rates must be zero or positive numbers", "REG001"}
	case errors.As(err, &fieldErr):
		return UserMessage{http.StatusBadRequest, fieldErr.Error(), "", "REG002"}
	case errors.Is(err, registry.ErrNotCAStore):
		return UserMessage{http.StatusBadRequest, err.Error(), "Only CA stores can be updated", "REG003"}
	case errors.Is(err, registry.ErrVendorNotFound):
		return UserMessage{http.StatusInternalServerError, err.Error(), "", "REG004"}
	case errors.As(err, &schemaEr):
		return UserMessage{http.StatusInternalServerError, "Registry file is corrupt", "Restore it from the .bak copy", "REG005"}
	case errors.Is(err, analytics.ErrInvalidStoreID):
		return UserMessage{http.StatusBadRequest, "Store id must be numeric", "", "VAL002"}
	case errors.Is(err, analytics.ErrBadOutput):
		return UserMessage{http.StatusInternalServerError, "Analytics returned an unreadable result", "", "ANL002"}
	case errors.As(err, &procErr):
		return UserMessage{http.StatusInternalServerError, procErr.Error(), "", "ANL001"}
	default:
		return UserMessage{http.StatusInternalServerError, "An unexpected error occurred", "Please try again or contact support", "ERR000"}
	}
}

// respondError logs err with request context and writes its mapped response.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := MapError(err)

	level := logging.FromContext(r.Context()).Warn
	if msg.Status >= http.StatusInternalServerError {
		level = logging.FromContext(r.Context()).Error
	}
	level("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", msg.Status,
		"code", msg.Code,
		"error", err.Error(),
	)

	if msg.Code == "UPL001" {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, msg.Status, ErrorResponse{Error: msg.Message, Action: msg.Action, Code: msg.Code})
}

// badRequest writes a VAL001 response for a malformed body.
func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "VAL001"})
}
