package models

import "gorm.io/gorm"

// UserRole separates the two sides of the marketplace.
type UserRole string

const (
	RoleCoach  UserRole = "coach"
	RolePlayer UserRole = "player"
)

// User represents an account in the system (a coach or a player).
type User struct {
	gorm.Model
	Name         string   `gorm:"size:255;not null"`
	Email        string   `gorm:"size:255;unique;not null"`
	PasswordHash string   `gorm:"size:255;not null"`
	Role         UserRole `gorm:"size:50;not null;default:'player';index"`

	// Optional recruiting profile fields surfaced in search results.
	Position string `gorm:"size:100"`
	School   string `gorm:"size:255"`
}
