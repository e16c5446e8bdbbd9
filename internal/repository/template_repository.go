// internal/repository/template_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	appErrors "github.com/ecellhub/email-engine/internal/errors"
	"github.com/ecellhub/email-engine/internal/model"
)

type TemplateRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Template, error)
}

// TemplateRepository is the template store collaborator. Template CRUD
// is owned elsewhere; the engine only fetches by id.
type TemplateRepository struct {
	DB *sql.DB
}

func (r *TemplateRepository) GetByID(ctx context.Context, id int) (*model.Template, error) {
	query := `
        SELECT id, name, type, subject, html_content, COALESCE(text_content, ''), placeholders, is_active, created_at, updated_at
        FROM templates WHERE id=$1
    `
	var (
		t            model.Template
		placeholders []byte
	)
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Type, &t.Subject, &t.HTMLContent, &t.TextContent,
		&placeholders, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewTemplateNotFound(id)
		}
		return nil, err
	}

	if len(placeholders) > 0 {
		if err := json.Unmarshal(placeholders, &t.Placeholders); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

var _ TemplateRepositoryInterface = (*TemplateRepository)(nil)
