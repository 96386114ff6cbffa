package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"medipos/m/domain"
	"medipos/m/internal/apperr"
	"medipos/m/internal/store"
)

const templateExportVersion = "1.0"

// Custom template handlers

type templateRequest struct {
	Name        string  `json:"name" validate:"required,max=200"`
	Description *string `json:"description,omitempty"`
	HTML        string  `json:"html" validate:"required"`
	CSS         *string `json:"css,omitempty"`
	Category    string  `json:"category,omitempty"`
	IsPublic    bool    `json:"is_public"`
}

type templateUpdate struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description,omitempty"`
	HTML        *string `json:"html,omitempty"`
	CSS         *string `json:"css,omitempty"`
	Category    *string `json:"category,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
}

// templateImport is the document produced by the export endpoint. The
// version and export time are accepted and ignored.
type templateImport struct {
	templateRequest
	Version    string `json:"version,omitempty"`
	ExportedAt string `json:"exported_at,omitempty"`
}

type templateExport struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	HTML        string  `json:"html"`
	CSS         *string `json:"css,omitempty"`
	Category    string  `json:"category"`
	Version     string  `json:"version"`
	ExportedAt  string  `json:"exported_at"`
}

func (h *Handler) insertTemplate(r *http.Request, req templateRequest) (domain.CustomTemplate, error) {
	if req.Category == "" {
		req.Category = "custom"
	}
	now := h.timestamp()
	createdBy := principal(r).Username
	t := domain.CustomTemplate{
		ID:          h.newID(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		HTML:        req.HTML,
		CSS:         req.CSS,
		Category:    req.Category,
		IsPublic:    req.IsPublic,
		CreatedBy:   nullIfEmpty(createdBy),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.templates.Insert(r.Context(), t); err != nil {
		return domain.CustomTemplate{}, apperr.Storage(err)
	}
	return t, nil
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.insertTemplate(r, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// listTemplates filters on category and is_public when given.
func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	var conds []store.Cond
	q := r.URL.Query()
	if c := q.Get("category"); c != "" {
		conds = append(conds, store.Eq("category", c))
	}
	if v := q.Get("is_public"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			h.fail(w, r, apperr.Validation("is_public must be true or false").WithDetail("is_public", v))
			return
		}
		conds = append(conds, store.Eq("is_public", b))
	}
	out, err := h.templates.Find(r.Context(), store.Where(conds...), store.SortBy("created_at", true))
	if err != nil {
		h.fail(w, r, apperr.Storage(err))
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.templates.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, lookupErr(err, "template", id))
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (h *Handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req templateUpdate
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	patch, err := patchOf(req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	patch["updated_at"] = h.timestamp()
	t, err := h.templates.Update(r.Context(), id, patch)
	if err != nil {
		h.fail(w, r, lookupErr(err, "template", id))
		return
	}
	respondJSON(w, http.StatusOK, t)
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.templates.Delete(r.Context(), id); err != nil {
		h.fail(w, r, lookupErr(err, "template", id))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Template deleted successfully"})
}

// duplicateTemplate copies a template as a private custom template named
// new_name, or "<name> (Copy)".
func (h *Handler) duplicateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	src, err := h.templates.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, lookupErr(err, "template", id))
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("new_name"))
	if name == "" {
		name = fmt.Sprintf("%s (Copy)", src.Name)
	}
	t, err := h.insertTemplate(r, templateRequest{
		Name:        name,
		Description: src.Description,
		HTML:        src.HTML,
		CSS:         src.CSS,
		Category:    "custom",
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

func (h *Handler) importTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateImport
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	t, err := h.insertTemplate(r, req.templateRequest)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

func (h *Handler) exportTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.templates.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, lookupErr(err, "template", id))
		return
	}
	respondJSON(w, http.StatusOK, templateExport{
		Name:        t.Name,
		Description: t.Description,
		HTML:        t.HTML,
		CSS:         t.CSS,
		Category:    t.Category,
		Version:     templateExportVersion,
		ExportedAt:  h.timestamp(),
	})
}
