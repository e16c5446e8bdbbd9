// internal/model/template.go
package model

import "time"

// Placeholder is a declared substitution point in template content.
type Placeholder struct {
	Key          string `json:"key"`
	Description  string `json:"description"`
	DefaultValue string `json:"defaultValue"`
}

type Template struct {
	ID           int           `db:"id" json:"id"`
	Name         string        `db:"name" json:"name"`
	Type         string        `db:"type" json:"type"` // welcome, event_invitation, thank_you, custom
	Subject      string        `db:"subject" json:"subject"`
	HTMLContent  string        `db:"html_content" json:"htmlContent"`
	TextContent  string        `db:"text_content" json:"textContent,omitempty"`
	Placeholders []Placeholder `db:"placeholders" json:"placeholders"`
	IsActive     bool          `db:"is_active" json:"isActive"`
	CreatedAt    time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt    *time.Time    `db:"updated_at" json:"updatedAt,omitempty"`
}
