package models

import "time"

// User is the profile shape the API returns for account owners and
// conversation counterparts.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	FirstName      string    `json:"firstName,omitempty"`
	LastName       string    `json:"lastName,omitempty"`
	DisplayName    string    `json:"displayName,omitempty"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
	University     string    `json:"university,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}

// Name returns the best human-readable label for the user.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.FirstName != "" || u.LastName != "" {
		if u.FirstName == "" {
			return u.LastName
		}
		if u.LastName == "" {
			return u.FirstName
		}
		return u.FirstName + " " + u.LastName
	}
	return u.Username
}
