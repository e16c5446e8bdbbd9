// internal/model/email_log.go
package model

import "time"

// Recipient delivery statuses. A dispatch records sent or failed;
// the later states are advanced by the delivery webhook collaborator.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusBounced   = "bounced"
	StatusOpened    = "opened"
	StatusClicked   = "clicked"
)

// Recipient is one resolved delivery target for a dispatch.
type Recipient struct {
	Email        string            `json:"email"`
	UserID       *int              `json:"userId,omitempty"`
	TemplateData map[string]string `json:"templateData,omitempty"`
}

// RecipientOutcome is the terminal delivery result recorded for one
// recipient within one EmailLog.
type RecipientOutcome struct {
	Email        string     `db:"email" json:"email"`
	UserID       *int       `db:"user_id" json:"userId,omitempty"`
	Status       string     `db:"status" json:"status"`
	ErrorMessage string     `db:"error_message" json:"errorMessage,omitempty"`
	SentAt       *time.Time `db:"sent_at" json:"sentAt,omitempty"`
}

// EmailLog is the durable record of one dispatch operation. Rendered
// content is copied in so the record stays stable even if the template
// it came from is later edited or deleted.
//
// Invariant: SuccessCount + FailureCount == TotalRecipients == len(Recipients).
type EmailLog struct {
	ID              string             `db:"id" json:"id"`
	Subject         string             `db:"subject" json:"subject"`
	HTMLContent     string             `db:"html_content" json:"htmlContent"`
	TextContent     string             `db:"text_content" json:"textContent,omitempty"`
	TemplateRef     *int               `db:"template_id" json:"templateRef,omitempty"`
	TemplateData    map[string]string  `db:"template_data" json:"templateData,omitempty"`
	Campaign        string             `db:"campaign" json:"campaign,omitempty"`
	Tags            []string           `db:"tags" json:"tags"`
	SentBy          string             `db:"sent_by" json:"sentBy"`
	Recipients      []RecipientOutcome `json:"recipients,omitempty"`
	TotalRecipients int                `db:"total_recipients" json:"totalRecipients"`
	SuccessCount    int                `db:"success_count" json:"successCount"`
	FailureCount    int                `db:"failure_count" json:"failureCount"`
	CreatedAt       time.Time          `db:"created_at" json:"createdAt"`
}

// FailedRecipients returns the outcomes eligible for a resend.
func (l *EmailLog) FailedRecipients() []RecipientOutcome {
	failed := []RecipientOutcome{}
	for _, r := range l.Recipients {
		if r.Status == StatusFailed {
			failed = append(failed, r)
		}
	}
	return failed
}
