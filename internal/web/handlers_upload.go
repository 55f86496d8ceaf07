package web

import (
	"errors"
	"net/http"

	"github.com/JonMunkholm/nashingest/internal/ingest"
	"github.com/JonMunkholm/nashingest/internal/logging"
)

// multipartOverhead is allowed on top of the file size limit for form
// boundaries and headers.
const multipartOverhead = 1 << 20

// UploadResponse is returned for an accepted Nash CSV.
type UploadResponse struct {
	Success          bool             `json:"success"`
	Message          string           `json:"message"`
	Filename         string           `json:"filename"`
	SavedAs          string           `json:"savedAs"`
	Size             int64            `json:"size"`
	ValidationResult ValidationResult `json:"validationResult"`
}

// ValidationResult summarises an accepted upload.
type ValidationResult struct {
	TotalRows           int      `json:"totalRows"`
	CAStores            int      `json:"caStores"`
	NonCAStoresExcluded int      `json:"nonCAStoresExcluded"`
	Carriers            []string `json:"carriers"`
	ExcludedCarriers    []string `json:"excludedCarriers"`
	Warnings            []string `json:"warnings"`
}

// RejectedResponse is returned when validation fails.
type RejectedResponse struct {
	Success          bool     `json:"success"`
	Error            string   `json:"error"`
	ValidationErrors []string `json:"validationErrors"`
	Warnings         []string `json:"warnings"`
}

// handleUpload accepts a multipart "file" field holding a Nash CSV.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.deps.Uploads.MaxFileSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, r, ingest.ErrFileTooLarge)
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "No file uploaded",
			Action: "Please select a CSV file to upload",
			Code:   "FILE003",
		})
		return
	}
	defer file.Close()

	if header.Size > maxSize {
		s.respondError(w, r, ingest.ErrFileTooLarge)
		return
	}

	accepted, rejected, err := s.deps.Uploads.Accept(r.Context(), header.Filename, file)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if rejected != nil {
		logging.FromContext(r.Context()).Info("upload failed validation",
			"filename", header.Filename,
			"errors", len(rejected.Errors),
		)
		writeJSON(w, http.StatusBadRequest, RejectedResponse{
			Error:            "File validation failed",
			ValidationErrors: nonNil(rejected.Errors),
			Warnings:         nonNil(rejected.Warnings),
		})
		return
	}

	writeJSON(w, http.StatusOK, UploadResponse{
		Success:  true,
		Message:  "File uploaded successfully",
		Filename: accepted.Filename,
		SavedAs:  accepted.SavedAs,
		Size:     accepted.Size,
		ValidationResult: ValidationResult{
			TotalRows:           accepted.Stats.TotalRows,
			CAStores:            accepted.CAStores,
			NonCAStoresExcluded: accepted.Stats.NonAllowlistedRows,
			Carriers:            nonNil(accepted.Stats.AcceptedCarriers),
			ExcludedCarriers:    nonNil(accepted.Stats.ExcludedCarriers),
			Warnings:            nonNil(accepted.Warnings),
		},
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
