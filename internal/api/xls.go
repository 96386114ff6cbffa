package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"medipos/m/internal/apperr"
	"medipos/m/internal/spreadsheet"
)

const maxImportBytes = 32 << 20

// Spreadsheet handlers

// exportXLS streams a workbook of the selected collections.
func (h *Handler) exportXLS(w http.ResponseWriter, r *http.Request) {
	var req spreadsheet.ExportRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	var buf bytes.Buffer
	summary, err := h.sheets.Export(r.Context(), req, &buf)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", spreadsheet.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", summary.Filename))
	w.Header().Set("Content-Length", fmt.Sprint(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Warn().Err(err).Str("filename", summary.Filename).Msg("export write interrupted")
	}
}

// importXLS accepts the workbook as a multipart "file" field or as the raw
// request body.
func (h *Handler) importXLS(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	var src io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImportBytes); err != nil {
			h.fail(w, r, apperr.Validation("invalid multipart upload").WithDetail("file", err.Error()))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			h.fail(w, r, apperr.Validation("file is required").WithDetail("file", "file is required"))
			return
		}
		defer file.Close()
		if !strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx") {
			h.fail(w, r, apperr.Validation("only .xlsx files are supported").WithDetail("file", header.Filename))
			return
		}
		src = file
	}

	res, err := h.sheets.Import(r.Context(), src)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
