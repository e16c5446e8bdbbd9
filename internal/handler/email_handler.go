// internal/handler/email_handler.go
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ecellhub/email-engine/internal/dispatch"
	appErrors "github.com/ecellhub/email-engine/internal/errors"
	"github.com/ecellhub/email-engine/internal/queue"
	"github.com/ecellhub/email-engine/internal/repository"
	"github.com/ecellhub/email-engine/internal/service"
)

// EmailHandler holds the dependencies for the email HTTP surface.
type EmailHandler struct {
	Service   *service.EmailService
	Stats     *service.StatsService
	Transport dispatch.Transport
	Queue     queue.Publisher
}

// SendEmail handles POST /emails/send: the full synchronous pipeline.
func (h *EmailHandler) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req service.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.SentBy = adminID(r)

	result, err := h.Service.Send(r.Context(), req)
	if err != nil {
		if result != nil && result.Log != nil {
			// Canceled mid-dispatch; the partial log was still recorded.
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success":  false,
				"message":  "dispatch canceled before completion; partial log recorded",
				"log":      result.Log,
				"warnings": result.Warnings,
			})
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "email dispatch completed",
		"log":      result.Log,
		"warnings": result.Warnings,
	})
}

// SendBulkEmail handles POST /emails/send-bulk: validates the request
// and queues it for the worker.
func (h *EmailHandler) SendBulkEmail(w http.ResponseWriter, r *http.Request) {
	if h.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "bulk sending is disabled: no queue configured")
		return
	}

	var req service.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.SentBy = adminID(r)

	if err := validateBulkRequest(req); err != nil {
		writeServiceError(w, err)
		return
	}

	job := queue.DispatchJob{JobID: uuid.NewString(), Request: req}
	if err := h.Queue.PublishDispatchJob(job); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to queue dispatch job: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"message": "dispatch job queued",
		"jobId":   job.JobID,
	})
}

// ListLogs handles GET /emails/logs with filters and pagination.
func (h *EmailHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	page := 1
	pageSize := 20
	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && ps > 0 {
		pageSize = ps
	}
	if pageSize > 100 {
		pageSize = 100
	}

	filter := repository.LogFilter{
		Campaign: r.URL.Query().Get("campaign"),
		Status:   r.URL.Query().Get("status"),
	}
	if tid, err := strconv.Atoi(r.URL.Query().Get("templateId")); err == nil {
		filter.TemplateID = &tid
	}
	if t, err := time.Parse("2006-01-02", r.URL.Query().Get("startDate")); err == nil {
		filter.StartDate = &t
	}
	if t, err := time.Parse("2006-01-02", r.URL.Query().Get("endDate")); err == nil {
		end := t.Add(24*time.Hour - time.Nanosecond)
		filter.EndDate = &end
	}

	logs, pagination, err := h.Service.Logs.Query(r.Context(), filter, page, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch email logs: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":       logs,
		"pagination": pagination,
	})
}

// GetLog handles GET /emails/logs/{id}: one log with its full
// recipient breakdown.
func (h *EmailHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	log, err := h.Service.Logs.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"log": log})
}

// GetStats handles GET /emails/stats?period=30d.
func (h *EmailHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Stats.Stats(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to compute stats: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ResendFailed handles POST /emails/resend-failed/{logId}.
func (h *EmailHandler) ResendFailed(w http.ResponseWriter, r *http.Request) {
	logID := chi.URLParam(r, "logId")

	log, err := h.Service.ResendFailed(r.Context(), logID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "failed recipients re-dispatched",
		"log":     log,
	})
}

// TestConnection handles GET /emails/test-connection.
func (h *EmailHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Transport.Ping(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "transport connection failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "transport connection verified",
	})
}

// validateBulkRequest rejects obviously unsendable jobs before they
// reach the queue, so callers hear about it synchronously.
func validateBulkRequest(req service.SendRequest) error {
	if req.RecipientEmail == "" && len(req.Recipients) == 0 && req.Filters == nil {
		return appErrors.NewValidation("a recipient email, a recipient list, or a user filter is required")
	}
	if req.TemplateID == nil && (req.Subject == "" || req.HTMLContent == "") {
		return appErrors.NewValidation("subject and htmlContent are required when no template is referenced")
	}
	return nil
}

func adminID(r *http.Request) string {
	if id := r.Header.Get("X-Admin-ID"); id != "" {
		return id
	}
	return "admin"
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}

// writeServiceError maps the error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var validationErr *appErrors.ValidationError
	if errors.As(err, &validationErr) {
		writeError(w, http.StatusBadRequest, validationErr.Message)
		return
	}

	var logNotFound *appErrors.ErrLogNotFound
	if errors.As(err, &logNotFound) {
		writeError(w, http.StatusNotFound, logNotFound.Error())
		return
	}

	var templateNotFound *appErrors.ErrTemplateNotFound
	if errors.As(err, &templateNotFound) {
		writeError(w, http.StatusNotFound, templateNotFound.Error())
		return
	}

	var persistenceErr *appErrors.PersistenceError
	if errors.As(err, &persistenceErr) {
		// The dispatch may have reached recipients; the caller must not
		// assume either success or failure.
		writeError(w, http.StatusInternalServerError, "send outcome is indeterminate: "+err.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, err.Error())
}
