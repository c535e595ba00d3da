package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AccessTokenType is the only token type accepted by the API.
const AccessTokenType = "access"

// JWTService issues and validates access tokens. Accounts are managed
// elsewhere; the API only needs the owner ID carried by the token.
type JWTService interface {
	// GenerateToken creates a signed access token for ownerID.
	GenerateToken(ctx context.Context, ownerID uuid.UUID) (string, error)

	// ValidateToken checks signature, expiry and token type and returns the
	// claims of a valid token.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims are the validated contents of an access token.
type Claims struct {
	OwnerID   uuid.UUID `json:"uid,omitempty"`
	TokenType string    `json:"type,omitempty"`
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
