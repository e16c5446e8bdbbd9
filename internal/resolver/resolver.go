// internal/resolver/resolver.go
package resolver

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	appErrors "github.com/ecellhub/email-engine/internal/errors"
	"github.com/ecellhub/email-engine/internal/model"
)

// DirectoryFilter selects users from the directory. All supplied
// criteria apply conjunctively; a zero value means no filter on that
// dimension.
type DirectoryFilter struct {
	Department     string `json:"department,omitempty"`
	Year           string `json:"year,omitempty"`
	SubscribedOnly bool   `json:"subscribedOnly,omitempty"`
}

// UserDirectory is the external user directory consumed by the
// resolver.
type UserDirectory interface {
	Query(ctx context.Context, f DirectoryFilter) ([]model.User, error)
}

// Request carries one recipient-selection strategy. Exactly one of the
// fields is used, checked in order: single email, explicit list,
// directory filter.
type Request struct {
	Email      string
	Recipients []model.Recipient
	Filters    *DirectoryFilter
}

type Resolver struct {
	Directory UserDirectory
}

func NewResolver(directory UserDirectory) *Resolver {
	return &Resolver{Directory: directory}
}

// Resolve turns a selection request into a concrete, deduplicated list
// of delivery targets. Syntactically invalid addresses are dropped and
// reported as warnings, not errors; an empty result is valid and left
// for the dispatch engine to reject.
func (r *Resolver) Resolve(ctx context.Context, req Request) ([]model.Recipient, []string, error) {
	var candidates []model.Recipient

	switch {
	case req.Email != "":
		candidates = []model.Recipient{{Email: req.Email}}
	case len(req.Recipients) > 0:
		candidates = req.Recipients
	case req.Filters != nil:
		users, err := r.Directory.Query(ctx, *req.Filters)
		if err != nil {
			return nil, nil, fmt.Errorf("user directory query failed: %w", err)
		}
		for _, u := range users {
			id := u.ID
			candidates = append(candidates, model.Recipient{
				Email:  u.Email,
				UserID: &id,
				TemplateData: map[string]string{
					"firstName": u.FirstName,
					"lastName":  u.LastName,
					"fullName":  u.FullName(),
					"email":     u.Email,
				},
			})
		}
	default:
		return nil, nil, appErrors.NewValidation("a recipient email, a recipient list, or a user filter is required")
	}

	recipients := []model.Recipient{}
	warnings := []string{}
	seen := make(map[string]bool)

	for _, c := range candidates {
		email := strings.TrimSpace(c.Email)
		if !validEmail(email) {
			warnings = append(warnings, fmt.Sprintf("skipped invalid email address %q", c.Email))
			continue
		}
		key := strings.ToLower(email)
		if seen[key] {
			continue
		}
		seen[key] = true

		c.Email = email
		if c.TemplateData == nil {
			c.TemplateData = map[string]string{}
		}
		recipients = append(recipients, c)
	}

	return recipients, warnings, nil
}

func validEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
