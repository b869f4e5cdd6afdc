package jwt

import "github.com/golang-jwt/jwt/v5"

// TokenType distinguishes the two token kinds minted by Round 3 of the
// session protocol (spec §4.4).
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims binds a minted token to the session id and DID hash it was issued
// for, so validation can reject a token presented outside its own session
// (spec §4.4 "both binding the session id and DID hash").
type Claims struct {
	jwt.RegisteredClaims
	SessionID string    `json:"sid"`
	DIDHash   string    `json:"didHash"`
	Type      TokenType `json:"typ"`
}
