// Package dto contiene los request/response de la API pública.
package dto

import (
	"time"

	"github.com/agentauth/consentd/internal/consent"
)

// CreateConsentRequest es el body de POST /v1/consents.
type CreateConsentRequest struct {
	UserID      string              `json:"user_id"`
	AgentID     string              `json:"agent_id,omitempty"`
	Intent      string              `json:"intent_description,omitempty"`
	Constraints consent.Constraints `json:"constraints"`

	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	// Flujo no-custodial: clave pública y firma ed25519 (base64) del
	// usuario sobre el payload canónico del consent.
	PublicKey string `json:"public_key,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// CreateConsentResponse devuelve el consent creado junto con su
// delegation token.
type CreateConsentResponse struct {
	Consent         *consent.Consent `json:"consent"`
	DelegationToken string           `json:"delegation_token"`
	TokenExpiresAt  time.Time        `json:"token_expires_at"`
}

// ConsentResponse es la vista de un consent individual.
type ConsentResponse struct {
	Consent *consent.Consent `json:"consent"`
}

// ListConsentsResponse es la respuesta de GET /v1/consents?user_id=.
type ListConsentsResponse struct {
	Consents []consent.Consent `json:"consents"`
	Count    int               `json:"count"`
}
