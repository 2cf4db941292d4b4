package keyset

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Factory genera pares de claves frescos. Stateless: no toca estado
// compartido, por eso la generación puede correr fuera de cualquier lock.
type Factory struct {
	alg     string
	rsaBits int
	now     func() time.Time
}

// NewFactory crea una factory para el algoritmo configurado ("EdDSA" | "RS256").
func NewFactory(alg string, rsaBits int) *Factory {
	if rsaBits == 0 {
		rsaBits = 2048
	}
	return &Factory{alg: alg, rsaBits: rsaBits, now: time.Now}
}

// Generate genera una clave nueva lista para ser promovida a active.
// Un fallo acá es recuperable: la clave activa anterior sigue firmando.
func (f *Factory) Generate() (*SigningKey, error) {
	now := f.now().UTC()
	kid := newKID(now)

	switch f.alg {
	case "EdDSA":
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("%w: ed25519: %v", ErrKeyGeneration, err)
		}
		return &SigningKey{
			KID:       kid,
			Alg:       "EdDSA",
			Public:    pub,
			Private:   priv,
			Status:    StatusActive,
			CreatedAt: now,
		}, nil
	case "RS256":
		priv, err := rsa.GenerateKey(rand.Reader, f.rsaBits)
		if err != nil {
			return nil, fmt.Errorf("%w: rsa-%d: %v", ErrKeyGeneration, f.rsaBits, err)
		}
		return &SigningKey{
			KID:       kid,
			Alg:       "RS256",
			Public:    &priv.PublicKey,
			Private:   priv,
			Status:    StatusActive,
			CreatedAt: now,
		}, nil
	default:
		return nil, fmt.Errorf("%w: algoritmo %q no soportado", ErrKeyGeneration, f.alg)
	}
}

// newKID arma un KID estable y único: timestamp + sufijo aleatorio.
// El sufijo evita colisiones en rotaciones dentro del mismo segundo.
func newKID(now time.Time) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return "kid-" + now.Format("20060102T150405Z") + "-" + suffix
}
