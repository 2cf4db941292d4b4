// Package token emite y verifica tokens firmados (JWT) contra el keyset.
package token

import "errors"

// Sentinelas de verificación. El orden de chequeo es fijo: forma → clave →
// firma → expiración → issuer/audience → revocación. Un token malformado
// jamás reporta firma inválida, y uno con firma inválida jamás reporta
// expirado.
var (
	ErrMalformedToken         = errors.New("malformed_token")
	ErrUnknownKey             = errors.New("unknown_key")
	ErrInvalidSignature       = errors.New("invalid_signature")
	ErrTokenExpired           = errors.New("token_expired")
	ErrIssuerMismatch         = errors.New("issuer_mismatch")
	ErrAudienceMismatch       = errors.New("audience_mismatch")
	ErrTokenRevoked           = errors.New("token_revoked")
	ErrReservedClaimCollision = errors.New("reserved_claim_collision")
	ErrRevocationCheckFailed  = errors.New("revocation_check_failed")
	ErrEmptySubject           = errors.New("empty_subject")
)

// Reason mapea un error de verificación a una etiqueta estable para
// métricas y logs. Errores desconocidos caen en "internal".
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformedToken):
		return "malformed"
	case errors.Is(err, ErrUnknownKey):
		return "unknown_key"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrIssuerMismatch):
		return "issuer_mismatch"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	case errors.Is(err, ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, ErrRevocationCheckFailed):
		return "revocation_check_failed"
	default:
		return "internal"
	}
}
