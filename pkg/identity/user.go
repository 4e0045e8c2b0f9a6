package identity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Webhook event types sent by the identity backend.
const (
	EventUserCreated = "user.created"
	EventUserUpdated = "user.updated"
	EventUserDeleted = "user.deleted"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
}

// Name is the display name, empty when the user set none.
func (u User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// apiUser is the backend's user representation.
type apiUser struct {
	ID                    string `json:"id"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	ImageURL              string `json:"image_url"`
	PrimaryEmailAddressID string `json:"primary_email_address_id"`
	EmailAddresses        []struct {
		ID           string `json:"id"`
		EmailAddress string `json:"email_address"`
	} `json:"email_addresses"`
	Deleted bool `json:"deleted"`
}

func (a apiUser) user() User {
	u := User{ID: a.ID, FirstName: a.FirstName, LastName: a.LastName, ImageURL: a.ImageURL}
	for _, e := range a.EmailAddresses {
		if u.Email == "" || e.ID == a.PrimaryEmailAddressID {
			u.Email = e.EmailAddress
		}
	}
	return u
}

// UserEvent is the decoded data of a user webhook.
type UserEvent struct {
	User    User
	Deleted bool
}

// ParseUserEvent decodes the data object of a user.* webhook.
func ParseUserEvent(data json.RawMessage) (UserEvent, error) {
	var a apiUser
	if err := json.Unmarshal(data, &a); err != nil {
		return UserEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if a.ID == "" {
		return UserEvent{}, fmt.Errorf("%w: missing user id", ErrInvalidPayload)
	}
	return UserEvent{User: a.user(), Deleted: a.Deleted}, nil
}
