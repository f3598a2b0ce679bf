package dto

import (
	"time"

	"github.com/agentauth/consentd/internal/consent"
)

// AuthorizeRequest es el body de POST /v1/authorize.
type AuthorizeRequest struct {
	DelegationToken string              `json:"delegation_token"`
	Action          string              `json:"action,omitempty"`
	Transaction     consent.Transaction `json:"transaction"`
}

// AuthorizeResponse es el objeto de decisión. Tanto ALLOW como DENY son
// 200: una denegación de política es una respuesta exitosa del motor.
type AuthorizeResponse struct {
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
	ConsentID string `json:"consent_id,omitempty"`

	// Sólo en ALLOW:
	AuthorizationCode string     `json:"authorization_code,omitempty"`
	AuthorizationID   string     `json:"authorization_id,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
}
