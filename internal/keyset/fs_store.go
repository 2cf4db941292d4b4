package keyset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dropDatabas3/keywarden/internal/observability/logger"
	"github.com/dropDatabas3/keywarden/internal/security/secretbox"
	"github.com/dropDatabas3/keywarden/internal/util/atomicwrite"
)

// FSStore persiste el keyset como un archivo JSON por clave (<kid>.json)
// bajo un directorio. El material privado va cifrado con secretbox; si la
// clave maestra no está disponible, el store se niega a escribir.
type FSStore struct {
	dir string
}

// keyFileData es el formato on-disk de una clave.
type keyFileData struct {
	KID           string     `json:"kid"`
	Algorithm     string     `json:"algorithm"`
	PublicKeyPEM  string     `json:"public_key_pem"`
	PrivateKeyEnc string     `json:"private_key_enc"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	RetiredAt     *time.Time `json:"retired_at,omitempty"`
	PurgeAt       *time.Time `json:"purge_at,omitempty"`
}

// NewFSStore crea el respaldo filesystem. Crea el directorio si no existe.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("fs store: directorio vacío")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("fs store: mkdir %s: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

// Load lee todas las claves del directorio. Archivos corruptos se loguean
// y se saltean en vez de abortar la carga completa.
func (s *FSStore) Load(ctx context.Context) ([]SigningKey, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("fs store: read dir: %w", err)
	}

	log := logger.Named("keyset.fs")
	var keys []SigningKey
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		k, err := s.loadOne(path)
		if err != nil {
			log.Warn("clave ilegible, salteada", logger.Err(err), logger.Path(path))
			continue
		}
		keys = append(keys, *k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

func (s *FSStore) loadOne(path string) (*SigningKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var d keyFileData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", path, err)
	}

	pub, err := ParsePublicPEM(d.PublicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.KID, err)
	}
	der, err := secretbox.Decrypt(d.PrivateKeyEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypt private de %s: %w", d.KID, err)
	}
	priv, err := ParsePrivateDER(der)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", d.KID, err)
	}

	return &SigningKey{
		KID:       d.KID,
		Alg:       d.Algorithm,
		Public:    pub,
		Private:   priv,
		Status:    KeyStatus(d.Status),
		CreatedAt: d.CreatedAt,
		RetiredAt: d.RetiredAt,
		PurgeAt:   d.PurgeAt,
	}, nil
}

// SaveSnapshot escribe todas las claves del snapshot y borra los archivos
// de claves ya removidas. Cada archivo se escribe de forma atómica.
func (s *FSStore) SaveSnapshot(ctx context.Context, keys []SigningKey) error {
	want := make(map[string]bool, len(keys))
	for i := range keys {
		k := &keys[i]
		want[k.KID+".json"] = true
		if err := s.saveOne(k); err != nil {
			return err
		}
	}

	// Claves removidas del snapshot desaparecen también del disco.
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("fs store: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") || want[e.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			logger.Named("keyset.fs").Warn("no se pudo borrar clave removida", logger.Err(err))
		}
	}
	return nil
}

func (s *FSStore) saveOne(k *SigningKey) error {
	pubPEM, err := MarshalPublicPEM(k.Public)
	if err != nil {
		return fmt.Errorf("fs store: %s: %w", k.KID, err)
	}
	der, err := MarshalPrivateDER(k.Private)
	if err != nil {
		return fmt.Errorf("fs store: %s: %w", k.KID, err)
	}
	enc, err := secretbox.Encrypt(der)
	if err != nil {
		return fmt.Errorf("fs store: encrypt private de %s: %w", k.KID, err)
	}

	d := keyFileData{
		KID:           k.KID,
		Algorithm:     k.Alg,
		PublicKeyPEM:  pubPEM,
		PrivateKeyEnc: enc,
		Status:        string(k.Status),
		CreatedAt:     k.CreatedAt,
		RetiredAt:     k.RetiredAt,
		PurgeAt:       k.PurgeAt,
	}
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("fs store: marshal %s: %w", k.KID, err)
	}

	path := filepath.Join(s.dir, k.KID+".json")
	if err := atomicwrite.AtomicWriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("fs store: write %s: %w", path, err)
	}
	return nil
}
