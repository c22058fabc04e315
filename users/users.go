package users

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// RoleType represents the role the API assigns to an account
type RoleType string

const (
	RoleUser  RoleType = "user"  // Regular reviewer
	RoleAdmin RoleType = "admin" // Can moderate reviews and manage companies
)

// User is the cached profile snapshot returned by login, registration and profile updates.
// It may be stale relative to the server and is never used to authorize a request.
type User struct {
	ID        int64     `json:"id"`                   // Unique identifier for the user
	Email     string    `json:"email"`                // User's email address
	Phone     string    `json:"phone,omitempty"`      // Contact phone number
	FirstName string    `json:"first_name,omitempty"` // First name of the user
	LastName  string    `json:"last_name,omitempty"`  // Last name of the user
	Role      RoleType  `json:"role,omitempty"`       // Role as reported by the API
	CreatedAt time.Time `json:"created_at,omitempty"` // When the account was registered
}

// FullName joins the first and last name, skipping empty parts
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// IsAdmin reports whether the cached record carries the admin role
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
