package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Role is a capability granted to an actor. Every mutating operation
// checks for exactly one role before touching state.
type Role string

const (
	RoleReporter   Role = "reporter"
	RoleGovernance Role = "governance"
	RoleController Role = "controller"
	RoleAuditor    Role = "auditor"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleReporter, RoleGovernance, RoleController, RoleAuditor:
		return true
	}
	return false
}

type Actor struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Roles      []Role    `json:"roles"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

func (a *Actor) HasRole(role Role) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HashAPIKey returns the hex SHA-256 of a raw API key. Only hashes are stored.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
