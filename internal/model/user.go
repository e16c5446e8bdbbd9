// internal/model/user.go
package model

import (
	"strings"
	"time"
)

// User is a directory entry consumed by the recipient resolver. The
// directory itself (CRUD, imports, tagging) is owned elsewhere.
type User struct {
	ID           int       `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	FirstName    string    `db:"first_name" json:"firstName"`
	LastName     string    `db:"last_name" json:"lastName"`
	Department   string    `db:"department" json:"department,omitempty"`
	Year         string    `db:"year" json:"year,omitempty"`
	IsSubscribed bool      `db:"is_subscribed" json:"isSubscribed"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
