package keyset

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/keywarden/internal/security/secretbox"
)

// PGStore persiste el keyset en Postgres (tabla signing_keys). El material
// privado se cifra con secretbox antes de tocar la base, igual que en el
// respaldo filesystem.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore abre el pool y verifica conectividad.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg store: pool: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg store: ping: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

// EnsureSchema aplica la migración embebida de signing_keys. Idempotente.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migrationSigningKeys); err != nil {
		return fmt.Errorf("pg store: ensure schema: %w", err)
	}
	return nil
}

// Close libera el pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// Load lee todas las claves persistidas, más viejas primero.
func (s *PGStore) Load(ctx context.Context) ([]SigningKey, error) {
	const q = `
		SELECT kid, alg, public_key_pem, private_key_enc, status, created_at, retired_at, purge_at
		FROM signing_keys
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pg store: query: %w", err)
	}
	defer rows.Close()

	var keys []SigningKey
	for rows.Next() {
		var (
			k         SigningKey
			pubPEM    string
			privEnc   string
			status    string
			retiredAt *time.Time
			purgeAt   *time.Time
		)
		if err := rows.Scan(&k.KID, &k.Alg, &pubPEM, &privEnc, &status, &k.CreatedAt, &retiredAt, &purgeAt); err != nil {
			return nil, fmt.Errorf("pg store: scan: %w", err)
		}
		k.Status = KeyStatus(status)
		k.RetiredAt = retiredAt
		k.PurgeAt = purgeAt

		pub, err := ParsePublicPEM(pubPEM)
		if err != nil {
			return nil, fmt.Errorf("pg store: %s: %w", k.KID, err)
		}
		der, err := secretbox.Decrypt(privEnc)
		if err != nil {
			return nil, fmt.Errorf("pg store: decrypt private de %s: %w", k.KID, err)
		}
		priv, err := ParsePrivateDER(der)
		if err != nil {
			return nil, fmt.Errorf("pg store: %s: %w", k.KID, err)
		}
		k.Public = pub
		k.Private = priv
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg store: rows: %w", err)
	}
	return keys, nil
}

// SaveSnapshot upserta todas las claves del snapshot y borra las que ya no
// figuran (removidas). Todo en una transacción.
func (s *PGStore) SaveSnapshot(ctx context.Context, keys []SigningKey) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("pg store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	kids := make([]string, 0, len(keys))
	for i := range keys {
		k := &keys[i]
		kids = append(kids, k.KID)

		pubPEM, err := MarshalPublicPEM(k.Public)
		if err != nil {
			return fmt.Errorf("pg store: %s: %w", k.KID, err)
		}
		der, err := MarshalPrivateDER(k.Private)
		if err != nil {
			return fmt.Errorf("pg store: %s: %w", k.KID, err)
		}
		enc, err := secretbox.Encrypt(der)
		if err != nil {
			return fmt.Errorf("pg store: encrypt private de %s: %w", k.KID, err)
		}

		const upsert = `
			INSERT INTO signing_keys (kid, alg, public_key_pem, private_key_enc, status, created_at, retired_at, purge_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (kid) DO UPDATE
			SET status = EXCLUDED.status,
			    retired_at = EXCLUDED.retired_at,
			    purge_at = EXCLUDED.purge_at`
		if _, err := tx.Exec(ctx, upsert,
			k.KID, k.Alg, pubPEM, enc, string(k.Status), k.CreatedAt, k.RetiredAt, k.PurgeAt); err != nil {
			return fmt.Errorf("pg store: upsert %s: %w", k.KID, err)
		}
	}

	const prune = `DELETE FROM signing_keys WHERE NOT (kid = ANY($1))`
	if _, err := tx.Exec(ctx, prune, kids); err != nil {
		return fmt.Errorf("pg store: prune: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg store: commit: %w", err)
	}
	return nil
}
