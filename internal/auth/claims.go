package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const TokenTypeAccess TokenType = "access"

// Claims are the only supported JWT claims shape for this service.
// AgentID identifies the CRM user whose triage sessions the token drives.
type Claims struct {
	jwt.RegisteredClaims

	AgentID   string    `json:"agent_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
