// Package types holds the marketplace domain records shared by storage,
// services and the HTTP/WebSocket surfaces.
package types

import (
	"regexp"
	"strings"
	"time"
)

// UserType distinguishes sellers from buyers.
type UserType string

const (
	UserTypeFarmer   UserType = "farmer"
	UserTypeConsumer UserType = "consumer"
)

// User is a registered account. PasswordHash never leaves the server.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	UserType     UserType  `json:"userType"`
	Location     string    `json:"location,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PublicUser is the view of a user returned by the API.
type PublicUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	UserType  UserType  `json:"userType"`
	Location  string    `json:"location,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:        u.ID,
		Username:  u.Username,
		Name:      u.Name,
		UserType:  u.UserType,
		Location:  u.Location,
		CreatedAt: u.CreatedAt,
	}
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// ValidUsername reports whether s can be used as a login name.
func ValidUsername(s string) bool {
	return usernamePattern.MatchString(s)
}

// NormalizeUserType maps free-form input ("Farmer", " consumer ") to a
// UserType. ok is false for anything else.
func NormalizeUserType(s string) (UserType, bool) {
	switch UserType(strings.ToLower(strings.TrimSpace(s))) {
	case UserTypeFarmer:
		return UserTypeFarmer, true
	case UserTypeConsumer:
		return UserTypeConsumer, true
	default:
		return "", false
	}
}
