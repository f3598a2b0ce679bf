// Package token implementa el codec criptográfico del motor: emisión y
// verificación de delegation tokens, authorization codes y proof tokens
// como JWTs EdDSA. Sin estado: la revocación y el canje viven en el store,
// acá sólo firma y verificación.
package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// KeySet mantiene una clave ed25519 con su KID.
type KeySet struct {
	Priv ed25519.PrivateKey
	Pub  ed25519.PublicKey
	KID  string
	Alg  string // "EdDSA"
}

// NewKeySet genera una clave ed25519 en memoria con un KID dado.
func NewKeySet(kid string) (*KeySet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeySet{Priv: priv, Pub: pub, KID: kid, Alg: "EdDSA"}, nil
}

// KeySetFromSeed reconstruye la clave desde una seed ed25519 en base64
// (formato que escribe `consentd keygen`).
func KeySetFromSeed(kid, seedB64 string) (*KeySet, error) {
	seed, err := base64.StdEncoding.DecodeString(seedB64)
	if err != nil {
		return nil, fmt.Errorf("token: bad seed for %s: %w", kid, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("token: seed for %s must be %d bytes", kid, ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeySet{
		Priv: priv,
		Pub:  priv.Public().(ed25519.PublicKey),
		KID:  kid,
		Alg:  "EdDSA",
	}, nil
}

// Seed devuelve la seed privada en base64 (para keygen).
func (k *KeySet) Seed() string {
	return base64.StdEncoding.EncodeToString(k.Priv.Seed())
}

// Keys agrupa las claves por tipo de credencial. Claves separadas por
// namespace: un delegation token jamás valida como authorization code
// aunque el claim "use" se falsifique.
type Keys struct {
	Delegation *KeySet
	Code       *KeySet
	Proof      *KeySet
}

var ErrMissingKey = errors.New("token: missing signing key")

// NewDevKeys genera las tres claves en memoria (dev/tests).
func NewDevKeys() (*Keys, error) {
	d, err := NewKeySet("delegation-dev")
	if err != nil {
		return nil, err
	}
	c, err := NewKeySet("authcode-dev")
	if err != nil {
		return nil, err
	}
	p, err := NewKeySet("proof-dev")
	if err != nil {
		return nil, err
	}
	return &Keys{Delegation: d, Code: c, Proof: p}, nil
}

// ----- JWKS (serialización) -----

type jwk struct {
	Kty string `json:"kty"` // "OKP"
	Crv string `json:"crv"` // "Ed25519"
	Kid string `json:"kid"`
	Alg string `json:"alg"` // "EdDSA"
	Use string `json:"use"` // "sig"
	X   string `json:"x"`   // base64url(pub)
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// JWKSJSON expone las claves públicas de proof y de authorization codes
// para que terceros (ej: card networks) validen proof bundles sin llamar
// al servicio. La clave de delegation no se publica: sólo la consume el
// propio motor.
func (k *Keys) JWKSJSON() []byte {
	out := jwks{}
	for _, ks := range []*KeySet{k.Proof, k.Code} {
		if ks == nil {
			continue
		}
		out.Keys = append(out.Keys, jwk{
			Kty: "OKP",
			Crv: "Ed25519",
			Kid: ks.KID,
			Alg: ks.Alg,
			Use: "sig",
			X:   base64.RawURLEncoding.EncodeToString(ks.Pub),
		})
	}
	b, _ := json.Marshal(out)
	return b
}
