package token

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/keywarden/internal/keyset"
	"github.com/dropDatabas3/keywarden/internal/metrics"
	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

// KeyReader es lo que el servicio necesita del keyset: la clave activa para
// firmar y resolución por KID para verificar.
type KeyReader interface {
	Active() (*keyset.SigningKey, error)
	ByKID(kid string) (*keyset.SigningKey, error)
}

// RevocationChecker consulta si un jti fue revocado. Un error acá se traduce
// según la política del registro (fail-closed propaga, fail-open absorbe).
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Config del emisor.
type Config struct {
	Issuer   string
	Audience string
	TTL      time.Duration
}

// Issued es el resultado de una firma.
type Issued struct {
	Token     string
	TokenID   string
	KID       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Service firma y verifica tokens contra el keyset.
type Service struct {
	cfg     Config
	keys    KeyReader
	revoked RevocationChecker // nil deshabilita el chequeo de revocación
	now     func() time.Time
}

// NewService crea el servicio de tokens. revoked puede ser nil.
func NewService(cfg Config, keys KeyReader, revoked RevocationChecker) *Service {
	return &Service{cfg: cfg, keys: keys, revoked: revoked, now: time.Now}
}

// Sign emite un token para subject con claims extra opcionales. Los claims
// reservados (sub, iss, aud, iat, exp, jti) no pueden venir en extra.
func (s *Service) Sign(ctx context.Context, subject string, extra map[string]any) (*Issued, error) {
	if subject == "" {
		return nil, ErrEmptySubject
	}
	for name := range extra {
		if IsReservedClaim(name) {
			return nil, fmt.Errorf("%w: %q", ErrReservedClaimCollision, name)
		}
	}

	key, err := s.keys.Active()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	claims := &Claims{
		Subject:   subject,
		Issuer:    s.cfg.Issuer,
		Audience:  s.cfg.Audience,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
		TokenID:   uuid.NewString(),
		Extra:     extra,
	}

	tok, err := encode(key.Alg, key.KID, claims)
	if err != nil {
		return nil, fmt.Errorf("token: encode: %w", err)
	}
	signed, err := tok.SignedString(key.Private)
	if err != nil {
		return nil, fmt.Errorf("token: sign con %s: %w", key.KID, err)
	}

	metrics.TokensSignedTotal.Inc()
	logger.Named("token").Debug("token emitido",
		logger.KID(key.KID), logger.TokenID(claims.TokenID), logger.Subject(subject))

	return &Issued{
		Token:     signed,
		TokenID:   claims.TokenID,
		KID:       key.KID,
		IssuedAt:  claims.IssuedAt,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

// Verify valida raw y devuelve sus claims. El orden de chequeo es estricto:
// estructura, clave, firma, expiración, issuer, audience, revocación. Cada
// fallo corta ahí; nunca se reporta una causa posterior a la primera.
func (s *Service) Verify(ctx context.Context, raw string) (*Claims, error) {
	claims, err := s.verify(ctx, raw)
	metrics.TokenVerificationsTotal.WithLabelValues(Reason(err)).Inc()
	return claims, err
}

func (s *Service) verify(ctx context.Context, raw string) (*Claims, error) {
	dec, err := Decode(raw)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.ByKID(dec.Header.KID)
	if err != nil {
		// Una clave purgada y una que nunca existió responden igual.
		return nil, fmt.Errorf("%w: kid %s", ErrUnknownKey, dec.Header.KID)
	}

	// Alg del token debe coincidir con el de la clave: un header adulterado
	// para cambiar de algoritmo es una firma inválida, no un token exótico.
	if dec.Header.Alg != key.Alg {
		return nil, fmt.Errorf("%w: alg %s no coincide con la clave", ErrInvalidSignature, dec.Header.Alg)
	}
	if err := dec.Method.Verify(dec.SigningInput, dec.Signature, key.Public); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	now := s.now().UTC()
	if now.After(dec.Claims.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	if dec.Claims.Issuer != s.cfg.Issuer {
		return nil, fmt.Errorf("%w: %q", ErrIssuerMismatch, dec.Claims.Issuer)
	}
	if dec.Claims.Audience != s.cfg.Audience {
		return nil, fmt.Errorf("%w: %q", ErrAudienceMismatch, dec.Claims.Audience)
	}

	if s.revoked != nil {
		revoked, err := s.revoked.IsRevoked(ctx, dec.Claims.TokenID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRevocationCheckFailed, err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}

	return &dec.Claims, nil
}
