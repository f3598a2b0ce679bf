package consent

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrBadPublicKey = errors.New("bad_public_key")
	ErrBadSignature = errors.New("bad_signature")
)

// CanonicalPayload produce la representación canónica y determinista del
// consent que firma el usuario en flujos no-custodiales. Campos en orden
// fijo, separados por '\n'; las listas se serializan como JSON compacto.
func CanonicalPayload(userID, intent string, c Constraints, valid ValidityWindow) []byte {
	var b strings.Builder
	b.WriteString("agentauth.consent.v1\n")
	b.WriteString(userID + "\n")
	b.WriteString(intent + "\n")
	b.WriteString(jsonList(c.AllowedMerchants) + "\n")
	b.WriteString(jsonList(c.DeniedMerchants) + "\n")
	b.WriteString(jsonList(c.AllowedCategories) + "\n")
	b.WriteString(jsonList(c.DeniedCategories) + "\n")
	b.WriteString(strconv.FormatInt(c.MaxAmount, 10) + "\n")
	b.WriteString(strconv.FormatInt(c.DailyLimit, 10) + "\n")
	b.WriteString(strconv.FormatInt(c.MonthlyLimit, 10) + "\n")
	b.WriteString(c.Currency + "\n")
	b.WriteString(strconv.FormatInt(valid.From.UTC().Unix(), 10) + "\n")
	b.WriteString(strconv.FormatInt(valid.Until.UTC().Unix(), 10))
	return []byte(b.String())
}

// VerifyUserSignature valida la firma ed25519 del usuario sobre el payload
// canónico. publicKey y signature vienen en base64 estándar.
func VerifyUserSignature(publicKey, signature string, payload []byte) error {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return ErrBadPublicKey
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrBadSignature
	}
	// El usuario firma el digest blake2b del payload, no el payload crudo.
	digest := blake2b.Sum256(payload)
	if !ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig) {
		return ErrBadSignature
	}
	return nil
}

// Fingerprint calcula el fingerprint exacto de una transacción:
// blake2b sobre merchant|amount|currency|category. Ata un authorization
// code a una transacción concreta.
func Fingerprint(tx Transaction) string {
	payload := tx.MerchantID + "|" +
		strconv.FormatInt(tx.Amount, 10) + "|" +
		tx.Currency + "|" +
		tx.Category
	sum := blake2b.Sum256([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func jsonList(l []string) string {
	if len(l) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(l)
	return string(b)
}
