package models

import (
	"time"
)

// User represents a platform account: an investor, an agent, or an admin.
type User struct {
	ID           string    `bson:"_id" json:"id"`
	Name         string    `bson:"name" json:"name"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"password" json:"-"`
	Role         Role      `bson:"role" json:"role"`
	IsAdmin      bool      `bson:"is_admin" json:"is_admin"`
	Suspended    bool      `bson:"suspended" json:"suspended"`
	Deleted      bool      `bson:"deleted" json:"-"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}
