// internal/repository/email_log_repository.go
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/ecellhub/email-engine/internal/errors"
	"github.com/ecellhub/email-engine/internal/model"
)

// LogFilter narrows a log query. Zero values mean no filter on that
// dimension. Status is the derived bucket: sent (no failures), failed
// (no successes) or partial.
type LogFilter struct {
	Campaign   string
	TemplateID *int
	Status     string
	StartDate  *time.Time
	EndDate    *time.Time
}

// Pagination mirrors the wire shape the dashboard consumes.
type Pagination struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalLogs   int  `json:"totalLogs"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
}

// Aggregate row shapes for the stats queries.
type StatsTotals struct {
	Emails     int
	Recipients int
	Success    int
	Failure    int
}

type CampaignRow struct {
	Campaign   string
	Count      int
	Recipients int
	Success    int
}

type TemplateRow struct {
	TemplateID int
	Name       string
	Count      int
	Recipients int
	Success    int
}

type DailyRow struct {
	Day        string
	Count      int
	Recipients int
	Success    int
	Failure    int
}

type EmailLogRepositoryInterface interface {
	Append(ctx context.Context, log *model.EmailLog) (string, error)
	GetByID(ctx context.Context, id string) (*model.EmailLog, error)
	Query(ctx context.Context, f LogFilter, page, pageSize int) ([]*model.EmailLog, *Pagination, error)
	UpdateRecipientOutcomes(ctx context.Context, logID string, outcomes []model.RecipientOutcome) error

	StatsTotals(ctx context.Context, since time.Time) (*StatsTotals, error)
	CampaignStats(ctx context.Context, since time.Time) ([]CampaignRow, error)
	TemplateStats(ctx context.Context, since time.Time) ([]TemplateRow, error)
	DailyStats(ctx context.Context, since time.Time) ([]DailyRow, error)
}

type EmailLogRepository struct {
	DB *sql.DB
}

// Append writes the log and its embedded recipients in one
// transaction: readers never observe a partially written dispatch.
func (r *EmailLogRepository) Append(ctx context.Context, log *model.EmailLog) (string, error) {
	templateData, err := marshalTemplateData(log.TemplateData)
	if err != nil {
		return "", appErrors.NewPersistence("log append", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", appErrors.NewPersistence("log append", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO email_logs
        (id, subject, html_content, text_content, template_id, template_data, campaign, tags, sent_by,
         total_recipients, success_count, failure_count, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
    `
	_, err = tx.ExecContext(ctx, query,
		log.ID, log.Subject, log.HTMLContent, nullString(log.TextContent),
		nullInt(log.TemplateRef), templateData, log.Campaign, pq.Array(log.Tags), log.SentBy,
		log.TotalRecipients, log.SuccessCount, log.FailureCount, log.CreatedAt,
	)
	if err != nil {
		return "", appErrors.NewPersistence("log append", err)
	}

	recipientQuery := `
        INSERT INTO email_recipients (log_id, email, user_id, status, error_message, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	for _, rec := range log.Recipients {
		_, err = tx.ExecContext(ctx, recipientQuery,
			log.ID, rec.Email, nullInt(rec.UserID), rec.Status, rec.ErrorMessage, rec.SentAt,
		)
		if err != nil {
			return "", appErrors.NewPersistence("log append", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", appErrors.NewPersistence("log append", err)
	}
	return log.ID, nil
}

func (r *EmailLogRepository) GetByID(ctx context.Context, id string) (*model.EmailLog, error) {
	query := `
        SELECT id, subject, html_content, text_content, template_id, template_data, campaign, tags,
               sent_by, total_recipients, success_count, failure_count, created_at
        FROM email_logs WHERE id=$1
    `
	log, err := scanLog(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewLogNotFound(id)
		}
		return nil, err
	}

	recipientQuery := `
        SELECT email, user_id, status, error_message, sent_at
        FROM email_recipients
        WHERE log_id=$1
        ORDER BY email
    `
	rows, err := r.DB.QueryContext(ctx, recipientQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var rec model.RecipientOutcome
		var userID sql.NullInt64
		if err := rows.Scan(&rec.Email, &userID, &rec.Status, &rec.ErrorMessage, &rec.SentAt); err != nil {
			return nil, err
		}
		if userID.Valid {
			uid := int(userID.Int64)
			rec.UserID = &uid
		}
		log.Recipients = append(log.Recipients, rec)
	}
	return log, rows.Err()
}

// Query returns one page of logs (without recipient breakdowns) plus
// pagination computed from the same filtered predicate, ordered by
// created_at descending.
func (r *EmailLogRepository) Query(ctx context.Context, f LogFilter, page, pageSize int) ([]*model.EmailLog, *Pagination, error) {
	where, args := buildLogFilter(f)

	query := `
        SELECT id, subject, html_content, text_content, template_id, template_data, campaign, tags,
               sent_by, total_recipients, success_count, failure_count, created_at
        FROM email_logs
    ` + where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)

	rows, err := r.DB.QueryContext(ctx, query, append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	logs := []*model.EmailLog{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, nil, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM email_logs` + where
	if err := r.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := &Pagination{
		CurrentPage: page,
		TotalPages:  totalPages,
		TotalLogs:   total,
		HasNextPage: page < totalPages,
		HasPrevPage: page > 1,
	}
	return logs, pagination, nil
}

// UpdateRecipientOutcomes overwrites the matching embedded recipients
// (keyed by email, case-insensitive) and recomputes the log's counters
// in the same transaction. Used by resend-failed.
func (r *EmailLogRepository) UpdateRecipientOutcomes(ctx context.Context, logID string, outcomes []model.RecipientOutcome) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return appErrors.NewPersistence("log update", err)
	}
	defer tx.Rollback()

	update := `
        UPDATE email_recipients
        SET status=$1, error_message=$2, sent_at=$3
        WHERE log_id=$4 AND LOWER(email)=LOWER($5)
    `
	for _, o := range outcomes {
		if _, err := tx.ExecContext(ctx, update, o.Status, o.ErrorMessage, o.SentAt, logID, o.Email); err != nil {
			return appErrors.NewPersistence("log update", err)
		}
	}

	recount := `
        UPDATE email_logs SET
            success_count = (SELECT COUNT(*) FROM email_recipients
                             WHERE log_id=$1 AND status IN ('sent','delivered','opened','clicked')),
            failure_count = (SELECT COUNT(*) FROM email_recipients
                             WHERE log_id=$1 AND status IN ('failed','bounced'))
        WHERE id=$1
    `
	if _, err := tx.ExecContext(ctx, recount, logID); err != nil {
		return appErrors.NewPersistence("log update", err)
	}

	if err := tx.Commit(); err != nil {
		return appErrors.NewPersistence("log update", err)
	}
	return nil
}

// ====================== Stats queries ======================

func (r *EmailLogRepository) StatsTotals(ctx context.Context, since time.Time) (*StatsTotals, error) {
	query := `
        SELECT COUNT(*),
               COALESCE(SUM(total_recipients), 0),
               COALESCE(SUM(success_count), 0),
               COALESCE(SUM(failure_count), 0)
        FROM email_logs WHERE created_at >= $1
    `
	var t StatsTotals
	err := r.DB.QueryRowContext(ctx, query, since).Scan(&t.Emails, &t.Recipients, &t.Success, &t.Failure)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *EmailLogRepository) CampaignStats(ctx context.Context, since time.Time) ([]CampaignRow, error) {
	query := `
        SELECT campaign, COUNT(*), SUM(total_recipients), SUM(success_count)
        FROM email_logs
        WHERE created_at >= $1 AND campaign <> ''
        GROUP BY campaign
        ORDER BY COUNT(*) DESC
    `
	rows, err := r.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []CampaignRow{}
	for rows.Next() {
		var row CampaignRow
		if err := rows.Scan(&row.Campaign, &row.Count, &row.Recipients, &row.Success); err != nil {
			return nil, err
		}
		stats = append(stats, row)
	}
	return stats, rows.Err()
}

func (r *EmailLogRepository) TemplateStats(ctx context.Context, since time.Time) ([]TemplateRow, error) {
	query := `
        SELECT l.template_id, t.name, COUNT(*), SUM(l.total_recipients), SUM(l.success_count)
        FROM email_logs l
        JOIN templates t ON t.id = l.template_id
        WHERE l.created_at >= $1 AND l.template_id IS NOT NULL
        GROUP BY l.template_id, t.name
        ORDER BY COUNT(*) DESC
    `
	rows, err := r.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []TemplateRow{}
	for rows.Next() {
		var row TemplateRow
		if err := rows.Scan(&row.TemplateID, &row.Name, &row.Count, &row.Recipients, &row.Success); err != nil {
			return nil, err
		}
		stats = append(stats, row)
	}
	return stats, rows.Err()
}

func (r *EmailLogRepository) DailyStats(ctx context.Context, since time.Time) ([]DailyRow, error) {
	query := `
        SELECT TO_CHAR(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
               COUNT(*), SUM(total_recipients), SUM(success_count), SUM(failure_count)
        FROM email_logs
        WHERE created_at >= $1
        GROUP BY day
        ORDER BY day
    `
	rows, err := r.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := []DailyRow{}
	for rows.Next() {
		var row DailyRow
		if err := rows.Scan(&row.Day, &row.Count, &row.Recipients, &row.Success, &row.Failure); err != nil {
			return nil, err
		}
		stats = append(stats, row)
	}
	return stats, rows.Err()
}

// ====================== helpers ======================

// buildLogFilter renders the WHERE clause once so the page query and
// the count query always share the same predicate.
func buildLogFilter(f LogFilter) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argPos := 1

	if f.Campaign != "" {
		where += fmt.Sprintf(" AND campaign ILIKE $%d", argPos)
		args = append(args, "%"+f.Campaign+"%")
		argPos++
	}
	if f.TemplateID != nil {
		where += fmt.Sprintf(" AND template_id=$%d", argPos)
		args = append(args, *f.TemplateID)
		argPos++
	}
	switch f.Status {
	case "sent":
		where += " AND failure_count = 0"
	case "failed":
		where += " AND success_count = 0"
	case "partial":
		where += " AND success_count > 0 AND failure_count > 0"
	}
	if f.StartDate != nil {
		where += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, *f.StartDate)
		argPos++
	}
	if f.EndDate != nil {
		where += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, *f.EndDate)
		argPos++
	}
	return where, args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLog(row rowScanner) (*model.EmailLog, error) {
	var (
		log          model.EmailLog
		textContent  sql.NullString
		templateID   sql.NullInt64
		templateData []byte
	)
	err := row.Scan(
		&log.ID, &log.Subject, &log.HTMLContent, &textContent, &templateID, &templateData,
		&log.Campaign, pq.Array(&log.Tags), &log.SentBy,
		&log.TotalRecipients, &log.SuccessCount, &log.FailureCount, &log.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	log.TextContent = textContent.String
	if templateID.Valid {
		id := int(templateID.Int64)
		log.TemplateRef = &id
	}
	if len(templateData) > 0 {
		if err := json.Unmarshal(templateData, &log.TemplateData); err != nil {
			return nil, err
		}
	}
	if log.Tags == nil {
		log.Tags = []string{}
	}
	return &log, nil
}

func marshalTemplateData(data map[string]string) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return json.Marshal(data)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

var _ EmailLogRepositoryInterface = (*EmailLogRepository)(nil)
