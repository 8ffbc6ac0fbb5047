// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data, similar to classes in other languages,
// but without inheritance. Go favours composition over inheritance.
package model

import "time"

// User is a person who submits reports.
//
// WHY *string FOR EMAIL AND AVATAR?
// Both columns are nullable. A nil pointer maps to SQL NULL and to JSON null,
// which keeps "no email" distinct from an empty string. This matters for the
// UNIQUE index on email: SQLite allows any number of NULLs but only one ''.
//
// Nickname is NOT unique in storage; the identity service treats it as a
// fallback key when no email is supplied.
type User struct {
	ID         int64     `json:"id"          db:"id"`
	Email      *string   `json:"email"       db:"email"`
	Nickname   string    `json:"nickname"    db:"nickname"`
	AvatarPath *string   `json:"avatar_path" db:"avatar_path"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
}

// NewUser is the input for creating a user row.
type NewUser struct {
	Email      *string
	Nickname   string
	AvatarPath *string
}
