package auth

import "github.com/golang-jwt/jwt/v5"

// Scope is what an operator token allows.
type Scope string

const ScopeCalls Scope = "calls"

// Claims are the operator token claims. Subject names the operator (a person
// or a CI job) that triggers test calls.
type Claims struct {
	jwt.RegisteredClaims

	Scope Scope `json:"scope"`
}
