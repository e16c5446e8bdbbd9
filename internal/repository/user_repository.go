// internal/repository/user_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ecellhub/email-engine/internal/model"
	"github.com/ecellhub/email-engine/internal/resolver"
)

// UserRepository is the SQL-backed user directory consumed by the
// recipient resolver.
type UserRepository struct {
	DB *sql.DB
}

// Query applies all supplied criteria conjunctively; absent criteria
// place no filter on that dimension.
func (r *UserRepository) Query(ctx context.Context, f resolver.DirectoryFilter) ([]model.User, error) {
	query := `
        SELECT id, email, first_name, last_name, COALESCE(department, ''), COALESCE(year, ''), is_subscribed, created_at
        FROM users WHERE 1=1
    `
	args := []interface{}{}
	argPos := 1

	if f.Department != "" {
		query += fmt.Sprintf(" AND department=$%d", argPos)
		args = append(args, f.Department)
		argPos++
	}
	if f.Year != "" {
		query += fmt.Sprintf(" AND year=$%d", argPos)
		args = append(args, f.Year)
		argPos++
	}
	if f.SubscribedOnly {
		query += " AND is_subscribed = TRUE"
	}
	query += " ORDER BY email"

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Department, &u.Year, &u.IsSubscribed, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

var _ resolver.UserDirectory = (*UserRepository)(nil)
