package token

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/agentauth/consentd/internal/consent"
)

// Errores de verificación. El caller mapea Expired/InvalidSignature/
// Malformed a la taxonomía de denials; los errores de firma en emisión
// son fatales (5xx).
var (
	ErrMalformed        = errors.New("token_malformed")
	ErrInvalidSignature = errors.New("token_invalid_signature")
	ErrExpired          = errors.New("token_expired")
	ErrWrongUse         = errors.New("token_wrong_use")
)

// Usos declarados en el claim "use". Además de este claim, cada uso firma
// con su propia clave, así que el namespace es doble.
const (
	useDelegation = "delegation"
	useAuthCode   = "auth_code"
	useProof      = "consent_proof"
)

// Codec emite y verifica las tres credenciales del motor.
type Codec struct {
	Issuer string
	Keys   *Keys
}

func NewCodec(issuer string, keys *Keys) *Codec {
	return &Codec{Issuer: issuer, Keys: keys}
}

// ─── Delegation tokens ───

// constraintsClaim es el snapshot de restricciones embebido en el token:
// los checks downstream no necesitan consultar el store para conocer los
// límites originales (el gasto vigente sí requiere el ledger).
type constraintsClaim struct {
	AllowedMerchants  []string `json:"allowed_merchants,omitempty"`
	DeniedMerchants   []string `json:"denied_merchants,omitempty"`
	AllowedCategories []string `json:"allowed_categories,omitempty"`
	DeniedCategories  []string `json:"denied_categories,omitempty"`
	MaxAmount         int64    `json:"max_amount"`
	DailyLimit        int64    `json:"daily_limit,omitempty"`
	MonthlyLimit      int64    `json:"monthly_limit,omitempty"`
	Currency          string   `json:"currency"`
}

type delegationClaims struct {
	jwtv5.RegisteredClaims
	Use         string           `json:"use"`
	ConsentID   string           `json:"consent_id"`
	Intent      string           `json:"intent,omitempty"`
	Constraints constraintsClaim `json:"constraints"`
}

// DelegationPayload es el resultado de verificar un delegation token.
type DelegationPayload struct {
	ConsentID   string
	UserID      string
	Intent      string
	Constraints consent.Constraints
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// IssueDelegation firma un delegation token atado al snapshot de
// restricciones del consent. Falla sólo por error interno de firma.
func (c *Codec) IssueDelegation(cons *consent.Consent, ttl time.Duration) (string, time.Time, error) {
	if c.Keys == nil || c.Keys.Delegation == nil {
		return "", time.Time{}, ErrMissingKey
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	if cons.ValidUntil.Before(exp) {
		exp = cons.ValidUntil
	}

	claims := delegationClaims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   cons.UserID,
			ID:        uuid.NewString(),
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
		},
		Use:       useDelegation,
		ConsentID: cons.ID,
		Intent:    cons.Intent,
		Constraints: constraintsClaim{
			AllowedMerchants:  cons.Constraints.AllowedMerchants,
			DeniedMerchants:   cons.Constraints.DeniedMerchants,
			AllowedCategories: cons.Constraints.AllowedCategories,
			DeniedCategories:  cons.Constraints.DeniedCategories,
			MaxAmount:         cons.Constraints.MaxAmount,
			DailyLimit:        cons.Constraints.DailyLimit,
			MonthlyLimit:      cons.Constraints.MonthlyLimit,
			Currency:          cons.Constraints.Currency,
		},
	}

	signed, err := c.sign(claims, c.Keys.Delegation)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// VerifyDelegation valida firma, exp/nbf y uso de un delegation token.
func (c *Codec) VerifyDelegation(raw string) (*DelegationPayload, error) {
	var claims delegationClaims
	if err := c.parse(raw, &claims, c.Keys.Delegation); err != nil {
		return nil, err
	}
	if claims.Use != useDelegation || claims.ConsentID == "" {
		return nil, ErrWrongUse
	}
	return &DelegationPayload{
		ConsentID: claims.ConsentID,
		UserID:    claims.Subject,
		Intent:    claims.Intent,
		Constraints: consent.Constraints{
			AllowedMerchants:  claims.Constraints.AllowedMerchants,
			DeniedMerchants:   claims.Constraints.DeniedMerchants,
			AllowedCategories: claims.Constraints.AllowedCategories,
			DeniedCategories:  claims.Constraints.DeniedCategories,
			MaxAmount:         claims.Constraints.MaxAmount,
			DailyLimit:        claims.Constraints.DailyLimit,
			MonthlyLimit:      claims.Constraints.MonthlyLimit,
			Currency:          claims.Constraints.Currency,
		},
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// ─── Authorization codes ───

type authCodeClaims struct {
	jwtv5.RegisteredClaims
	Use             string `json:"use"`
	ConsentID       string `json:"consent_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	MerchantID      string `json:"merchant_id"`
	Category        string `json:"category,omitempty"`
	FingerprintHash string `json:"fph"`
}

// AuthCodePayload es el contenido verificado de un authorization code.
type AuthCodePayload struct {
	CodeID          string
	ConsentID       string
	Amount          int64
	Currency        string
	MerchantID      string
	Category        string
	FingerprintHash string
	IssuedAt        time.Time
	ExpiresAt       time.Time
}

// IssueAuthCode firma un code single-use atado al fingerprint exacto de
// la transacción. El jti es el ID del registro de canje en el store.
func (c *Codec) IssueAuthCode(consentID string, tx consent.Transaction, ttl time.Duration) (string, *AuthCodePayload, error) {
	if c.Keys == nil || c.Keys.Code == nil {
		return "", nil, ErrMissingKey
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	codeID := "authz_" + uuid.NewString()

	claims := authCodeClaims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    c.Issuer,
			ID:        codeID,
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
		},
		Use:             useAuthCode,
		ConsentID:       consentID,
		Amount:          tx.Amount,
		Currency:        tx.Currency,
		MerchantID:      tx.MerchantID,
		Category:        tx.Category,
		FingerprintHash: consent.Fingerprint(tx),
	}

	signed, err := c.sign(claims, c.Keys.Code)
	if err != nil {
		return "", nil, err
	}
	return signed, &AuthCodePayload{
		CodeID:          codeID,
		ConsentID:       consentID,
		Amount:          tx.Amount,
		Currency:        tx.Currency,
		MerchantID:      tx.MerchantID,
		Category:        tx.Category,
		FingerprintHash: claims.FingerprintHash,
		IssuedAt:        now,
		ExpiresAt:       exp,
	}, nil
}

// VerifyAuthCode valida firma, expiración y uso de un authorization code.
func (c *Codec) VerifyAuthCode(raw string) (*AuthCodePayload, error) {
	var claims authCodeClaims
	if err := c.parse(raw, &claims, c.Keys.Code); err != nil {
		return nil, err
	}
	if claims.Use != useAuthCode || claims.ID == "" || claims.ConsentID == "" {
		return nil, ErrWrongUse
	}
	return &AuthCodePayload{
		CodeID:          claims.ID,
		ConsentID:       claims.ConsentID,
		Amount:          claims.Amount,
		Currency:        claims.Currency,
		MerchantID:      claims.MerchantID,
		Category:        claims.Category,
		FingerprintHash: claims.FingerprintHash,
		IssuedAt:        claims.IssuedAt.Time,
		ExpiresAt:       claims.ExpiresAt.Time,
	}, nil
}

// ─── Proof tokens ───

type proofClaims struct {
	jwtv5.RegisteredClaims
	Use             string `json:"use"`
	ConsentID       string `json:"consent_id"`
	AuthorizationID string `json:"authorization_id"`
	UserIntent      string `json:"user_intent,omitempty"`
	MaxAuthorized   int64  `json:"max_authorized_amount"`
	ActualAmount    int64  `json:"actual_amount"`
	Currency        string `json:"currency"`
	VerifiedAt      string `json:"verified_at"`
}

// ProofInput agrupa los campos que se firman dentro del proof token.
type ProofInput struct {
	ConsentID       string
	AuthorizationID string
	UserIntent      string
	MaxAuthorized   int64
	ActualAmount    int64
	Currency        string
	VerifiedAt      time.Time
}

// IssueProof firma el proof token que el merchant retiene para defensa
// de chargebacks. Verificable por terceros vía JWKS.
func (c *Codec) IssueProof(in ProofInput) (string, error) {
	if c.Keys == nil || c.Keys.Proof == nil {
		return "", ErrMissingKey
	}
	claims := proofClaims{
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:   c.Issuer,
			ID:       uuid.NewString(),
			IssuedAt: jwtv5.NewNumericDate(in.VerifiedAt),
		},
		Use:             useProof,
		ConsentID:       in.ConsentID,
		AuthorizationID: in.AuthorizationID,
		UserIntent:      in.UserIntent,
		MaxAuthorized:   in.MaxAuthorized,
		ActualAmount:    in.ActualAmount,
		Currency:        in.Currency,
		VerifiedAt:      in.VerifiedAt.UTC().Format(time.RFC3339),
	}
	return c.sign(claims, c.Keys.Proof)
}

// ─── Internos ───

func (c *Codec) sign(claims jwtv5.Claims, key *KeySet) (string, error) {
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = key.KID
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(key.Priv)
	if err != nil {
		return "", fmt.Errorf("token: sign failed: %w", err)
	}
	return signed, nil
}

func (c *Codec) parse(raw string, claims jwtv5.Claims, key *KeySet) error {
	if key == nil {
		return ErrMissingKey
	}
	keyfunc := func(t *jwtv5.Token) (any, error) {
		// KID informativo; la clave válida para este uso es una sola.
		return ed25519.PublicKey(key.Pub), nil
	}
	tok, err := jwtv5.ParseWithClaims(raw, claims, keyfunc,
		jwtv5.WithValidMethods([]string{"EdDSA"}),
		jwtv5.WithIssuer(c.Issuer),
	)
	switch {
	case err == nil && tok.Valid:
		return nil
	case errors.Is(err, jwtv5.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwtv5.ErrTokenSignatureInvalid),
		errors.Is(err, jwtv5.ErrTokenNotValidYet),
		errors.Is(err, jwtv5.ErrTokenInvalidIssuer):
		return ErrInvalidSignature
	default:
		return ErrMalformed
	}
}
