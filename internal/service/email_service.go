// internal/service/email_service.go
package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ecellhub/email-engine/internal/dispatch"
	appErrors "github.com/ecellhub/email-engine/internal/errors"
	"github.com/ecellhub/email-engine/internal/model"
	"github.com/ecellhub/email-engine/internal/repository"
	"github.com/ecellhub/email-engine/internal/resolver"
	"github.com/ecellhub/email-engine/internal/template"
)

// Dispatcher is what the service needs from the dispatch engine.
type Dispatcher interface {
	Dispatch(ctx context.Context, recipients []model.Recipient, content dispatch.ContentFunc) ([]model.RecipientOutcome, error)
}

// RecipientResolver is what the service needs from the resolver.
type RecipientResolver interface {
	Resolve(ctx context.Context, req resolver.Request) ([]model.Recipient, []string, error)
}

type EmailService struct {
	Logs      repository.EmailLogRepositoryInterface
	Templates repository.TemplateRepositoryInterface
	Resolver  RecipientResolver
	Engine    Dispatcher
}

// SendRequest mirrors the dashboard's send payload. Exactly one
// recipient source (recipientEmail, recipients, filters) and one
// content source (subject+htmlContent, or templateId) is expected.
type SendRequest struct {
	RecipientEmail string                    `json:"recipientEmail,omitempty"`
	Recipients     []model.Recipient         `json:"recipients,omitempty"`
	Filters        *resolver.DirectoryFilter `json:"filters,omitempty"`
	Subject        string                    `json:"subject,omitempty"`
	HTMLContent    string                    `json:"htmlContent,omitempty"`
	TextContent    string                    `json:"textContent,omitempty"`
	TemplateID     *int                      `json:"templateId,omitempty"`
	TemplateData   map[string]string         `json:"templateData,omitempty"`
	Campaign       string                    `json:"campaign,omitempty"`
	Tags           []string                  `json:"tags,omitempty"`
	SentBy         string                    `json:"sentBy,omitempty"`
}

type SendResult struct {
	Log      *model.EmailLog `json:"log"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Send runs the whole pipeline: resolve recipients, render per
// recipient, dispatch through the transport, and append one durable
// log. The caller gets either the complete log (partial failures
// enumerated inside it) or an error raised before any recipient was
// contacted — never an ambiguous in-between without the log to prove it.
func (s *EmailService) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	subject, html, text, placeholders, err := s.resolveContent(ctx, req)
	if err != nil {
		return nil, err
	}

	recipients, warnings, err := s.Resolver.Resolve(ctx, resolver.Request{
		Email:      req.RecipientEmail,
		Recipients: req.Recipients,
		Filters:    req.Filters,
	})
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		if len(warnings) > 0 {
			return nil, appErrors.NewValidation("no deliverable recipients: %s", strings.Join(warnings, "; "))
		}
		return nil, appErrors.NewValidation("recipient resolution produced no recipients")
	}

	content := func(r model.Recipient) dispatch.Message {
		data := template.MergeData(placeholders, req.TemplateData, r.TemplateData)
		rendered := template.RenderContent(subject, html, text, data)
		return dispatch.Message{To: r.Email, Subject: rendered.Subject, HTML: rendered.HTML, Text: rendered.Text}
	}

	outcomes, dispatchErr := s.Engine.Dispatch(ctx, recipients, content)
	if dispatchErr != nil && len(outcomes) == 0 {
		return nil, dispatchErr
	}

	emailLog := buildLog(req, subject, html, text, outcomes)
	// The append must survive the caller's cancellation: the dispatch
	// already reached recipients, and a canceled request context would
	// abort the transaction and drop the partial log.
	if _, err := s.Logs.Append(context.WithoutCancel(ctx), emailLog); err != nil {
		return nil, fmt.Errorf("dispatch finished but the outcome could not be recorded: %w", err)
	}

	if dispatchErr != nil {
		// Canceled mid-dispatch: the partial log is durably recorded,
		// the caller still learns the dispatch did not complete.
		log.Printf("dispatch %s canceled after %d of %d recipients", emailLog.ID, len(outcomes), len(recipients))
		return &SendResult{Log: emailLog, Warnings: warnings}, dispatchErr
	}
	return &SendResult{Log: emailLog, Warnings: warnings}, nil
}

// ResendFailed re-attempts only the failed subset of an existing log
// and folds the new outcomes back into the same record. It never
// creates a second log.
func (s *EmailService) ResendFailed(ctx context.Context, logID string) (*model.EmailLog, error) {
	emailLog, err := s.Logs.GetByID(ctx, logID)
	if err != nil {
		return nil, err
	}

	failed := emailLog.FailedRecipients()
	if len(failed) == 0 {
		return nil, appErrors.NewValidation("email log %s has no failed recipients to resend", logID)
	}

	recipients := make([]model.Recipient, 0, len(failed))
	for _, f := range failed {
		recipients = append(recipients, model.Recipient{Email: f.Email, UserID: f.UserID})
	}

	// Per-recipient template data is not retained on the log; the
	// resend renders from the stored content and log-level data.
	content := func(r model.Recipient) dispatch.Message {
		data := template.MergeData(nil, emailLog.TemplateData)
		rendered := template.RenderContent(emailLog.Subject, emailLog.HTMLContent, emailLog.TextContent, data)
		return dispatch.Message{To: r.Email, Subject: rendered.Subject, HTML: rendered.HTML, Text: rendered.Text}
	}

	outcomes, err := s.Engine.Dispatch(ctx, recipients, content)
	if err != nil && len(outcomes) == 0 {
		return nil, err
	}

	// Recorded on a context detached from the caller's cancellation,
	// same as the initial append: completed sends must reach the log.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.Logs.UpdateRecipientOutcomes(persistCtx, logID, outcomes); err != nil {
		return nil, fmt.Errorf("resend finished but the outcome could not be recorded: %w", err)
	}
	return s.Logs.GetByID(persistCtx, logID)
}

// Preview renders a template against sample data without dispatching.
// Unresolved tokens stay literal so authors can spot them.
func (s *EmailService) Preview(ctx context.Context, templateID int, sampleData map[string]string) (*template.Rendered, []string, error) {
	tpl, err := s.Templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, nil, err
	}

	data := template.MergeData(tpl.Placeholders, sampleData)
	rendered := template.RenderContent(tpl.Subject, tpl.HTMLContent, tpl.TextContent, data)
	detected := template.ExtractPlaceholders(tpl.Subject, tpl.HTMLContent)
	return &rendered, detected, nil
}

// resolveContent picks the message content: an explicit subject/body,
// or a referenced template whose rendered content gets copied into the
// log so the record outlives template edits.
func (s *EmailService) resolveContent(ctx context.Context, req SendRequest) (subject, html, text string, placeholders []model.Placeholder, err error) {
	if req.TemplateID != nil {
		tpl, err := s.Templates.GetByID(ctx, *req.TemplateID)
		if err != nil {
			return "", "", "", nil, err
		}
		if !tpl.IsActive {
			return "", "", "", nil, appErrors.NewValidation("template %q is not active", tpl.Name)
		}
		return tpl.Subject, tpl.HTMLContent, tpl.TextContent, tpl.Placeholders, nil
	}

	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.HTMLContent) == "" {
		return "", "", "", nil, appErrors.NewValidation("subject and htmlContent are required when no template is referenced")
	}
	return req.Subject, req.HTMLContent, req.TextContent, nil, nil
}

func buildLog(req SendRequest, subject, html, text string, outcomes []model.RecipientOutcome) *model.EmailLog {
	success, failure := 0, 0
	for _, o := range outcomes {
		if o.Status == model.StatusSent {
			success++
		} else {
			failure++
		}
	}

	sentBy := req.SentBy
	if sentBy == "" {
		sentBy = "admin"
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	return &model.EmailLog{
		ID:              uuid.NewString(),
		Subject:         subject,
		HTMLContent:     html,
		TextContent:     text,
		TemplateRef:     req.TemplateID,
		TemplateData:    req.TemplateData,
		Campaign:        req.Campaign,
		Tags:            tags,
		SentBy:          sentBy,
		Recipients:      outcomes,
		TotalRecipients: len(outcomes),
		SuccessCount:    success,
		FailureCount:    failure,
		CreatedAt:       time.Now().UTC(),
	}
}
