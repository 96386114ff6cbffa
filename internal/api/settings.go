package api

import (
	"net/http"
)

// Settings handlers

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	doc, err := h.settings.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, doc)
}

// saveSettings merges the posted sections into the settings document and
// returns the result.
func (h *Handler) saveSettings(w http.ResponseWriter, r *http.Request) {
	var sections map[string]map[string]any
	if err := decodeBody(r, &sections); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.settings.Save(r.Context(), sections); err != nil {
		h.fail(w, r, err)
		return
	}
	doc, err := h.settings.Get(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message":  "Settings saved successfully",
		"settings": doc,
	})
}
