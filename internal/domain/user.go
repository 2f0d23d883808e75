package domain

import (
	"context"
	"time"
)

// User is the profile of an authenticated user, as far as payments need it.
// swagger:model User
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// UserRepository reads user profiles. Profile management lives elsewhere.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
}

// TokenIssuer issues tokens (e.g. JWT) for an authenticated user.
type TokenIssuer interface {
	Issue(userID, email string, roles []string, expiry time.Duration) (string, error)
}

// TokenVerifier verifies a token and returns the authenticated user ID.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}
