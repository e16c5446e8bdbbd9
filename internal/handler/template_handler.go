// internal/handler/template_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ecellhub/email-engine/internal/service"
)

type TemplateHandler struct {
	Service *service.EmailService
}

// Preview handles POST /templates/{id}/preview: render against sample
// data without dispatching anything.
func (h *TemplateHandler) Preview(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	var payload struct {
		TemplateData map[string]string `json:"templateData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rendered, placeholders, err := h.Service.Preview(r.Context(), id, payload.TemplateData)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subject":      rendered.Subject,
		"html":         rendered.HTML,
		"text":         rendered.Text,
		"placeholders": placeholders,
	})
}
