// Package jwkspub publica el keyset como un documento JWKS (RFC 7517).
// Solo claves publicables (active y retiring) y solo material público.
package jwkspub

import (
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/keywarden/internal/keyset"
)

// JWK es una clave pública serializada. Campos según tipo:
// OKP (Ed25519) usa x; RSA usa n y e.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// JWKS es el documento completo.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// KeyLister expone las claves publicables del keyset.
type KeyLister interface {
	Publishable() []keyset.SigningKey
}

// Publisher arma y cachea el documento JWKS. El cache corto absorbe ráfagas
// de clientes sin servir claves viejas por mucho tiempo; una rotación lo
// invalida al instante vía Invalidate.
type Publisher struct {
	keys KeyLister
	ttl  time.Duration
	now  func() time.Time

	sf sync.Mutex // protege cached/etag/expiresAt
	g  singleflight.Group

	cached    []byte
	etag      string
	expiresAt time.Time
}

// NewPublisher crea el publisher con el TTL de cache dado.
func NewPublisher(keys KeyLister, ttl time.Duration) *Publisher {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Publisher{keys: keys, ttl: ttl, now: time.Now}
}

// KeySet arma el documento fresco, sin pasar por el cache.
func (p *Publisher) KeySet() (*JWKS, error) {
	pub := p.keys.Publishable()
	doc := &JWKS{Keys: make([]JWK, 0, len(pub))}
	for i := range pub {
		jwk, err := buildJWK(&pub[i])
		if err != nil {
			return nil, err
		}
		doc.Keys = append(doc.Keys, *jwk)
	}
	return doc, nil
}

// JSON devuelve el documento serializado y su ETag, sirviendo del cache
// mientras no venza. Regeneraciones concurrentes se colapsan en una sola.
func (p *Publisher) JSON() ([]byte, string, error) {
	p.sf.Lock()
	if p.cached != nil && p.now().Before(p.expiresAt) {
		body, etag := p.cached, p.etag
		p.sf.Unlock()
		return body, etag, nil
	}
	p.sf.Unlock()

	v, err, _ := p.g.Do("jwks", func() (any, error) {
		doc, err := p.KeySet()
		if err != nil {
			return nil, err
		}
		body, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("jwks: marshal: %w", err)
		}
		sum := sha256.Sum256(body)
		etag := `"` + hex.EncodeToString(sum[:16]) + `"`

		p.sf.Lock()
		p.cached = body
		p.etag = etag
		p.expiresAt = p.now().Add(p.ttl)
		p.sf.Unlock()
		return body, nil
	})
	if err != nil {
		return nil, "", err
	}

	p.sf.Lock()
	etag := p.etag
	p.sf.Unlock()
	return v.([]byte), etag, nil
}

// Invalidate descarta el cache. Se llama después de cada rotación o sweep
// para que el próximo JSON refleje el keyset actual.
func (p *Publisher) Invalidate() {
	p.sf.Lock()
	p.cached = nil
	p.etag = ""
	p.expiresAt = time.Time{}
	p.sf.Unlock()
}

func buildJWK(k *keyset.SigningKey) (*JWK, error) {
	switch pub := k.Public.(type) {
	case ed25519.PublicKey:
		return &JWK{
			Kty: "OKP",
			Kid: k.KID,
			Use: "sig",
			Alg: k.Alg,
			Crv: "Ed25519",
			X:   base64.RawURLEncoding.EncodeToString(pub),
		}, nil
	case *rsa.PublicKey:
		return &JWK{
			Kty: "RSA",
			Kid: k.KID,
			Use: "sig",
			Alg: k.Alg,
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}, nil
	default:
		return nil, fmt.Errorf("jwks: tipo de clave pública no soportado para %s: %T", k.KID, k.Public)
	}
}
