// Package keyset administra el ciclo de vida de las claves de firma:
// active → retiring → expired → (removida). Hay a lo sumo UNA clave active
// por instante; es la única con la que se firma. Las retiring siguen siendo
// válidas para verificación hasta que vence su ventana de solapamiento.
package keyset

import (
	"crypto"
	"errors"
	"time"
)

var (
	ErrNoActiveKey   = errors.New("no_active_signing_key")
	ErrKeyNotFound   = errors.New("kid_not_found")
	ErrKeyGeneration = errors.New("key_generation_failed")
)

// KeyStatus indica el estado de una clave.
type KeyStatus string

const (
	StatusActive   KeyStatus = "active"
	StatusRetiring KeyStatus = "retiring"
	StatusExpired  KeyStatus = "expired"
)

// SigningKey representa una clave de firma asimétrica.
type SigningKey struct {
	KID       string
	Alg       string // "EdDSA" | "RS256"
	Public    crypto.PublicKey
	Private   crypto.PrivateKey // nil en copias publicables
	Status    KeyStatus
	CreatedAt time.Time
	RetiredAt *time.Time // seteado al demotear active → retiring
	PurgeAt   *time.Time // retiring → expired cuando pasa este instante
}

// Publishable indica si la clave va al JWKS (active o retiring).
func (k *SigningKey) Publishable() bool {
	return k.Status == StatusActive || k.Status == StatusRetiring
}

// publicCopy devuelve una copia sin material privado.
func (k *SigningKey) publicCopy() SigningKey {
	cp := *k
	cp.Private = nil
	return cp
}
