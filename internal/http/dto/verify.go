package dto

import (
	"time"

	"github.com/agentauth/consentd/internal/engine"
)

// VerifyRequest es el body de POST /v1/verify: lo que el merchant está
// por cobrar realmente.
type VerifyRequest struct {
	AuthorizationCode string `json:"authorization_code"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	MerchantID        string `json:"merchant_id,omitempty"`
}

// VerifyResponse devuelve el proof bundle o {valid:false, error}.
type VerifyResponse struct {
	Valid           bool                `json:"valid"`
	Error           string              `json:"error,omitempty"`
	AuthorizationID string              `json:"authorization_id,omitempty"`
	Proof           *engine.ProofBundle `json:"proof,omitempty"`
	ProofToken      string              `json:"proof_token,omitempty"`
	VerifiedAt      time.Time           `json:"verified_at"`
}
