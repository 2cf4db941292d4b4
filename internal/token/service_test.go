package token

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/keywarden/internal/keyset"
)

// fakeKeys serves a fixed keyset: one active key plus optional extras.
type fakeKeys struct {
	active *keyset.SigningKey
	byKID  map[string]*keyset.SigningKey
}

func newFakeKeys(t *testing.T, kids ...string) *fakeKeys {
	t.Helper()
	f := &fakeKeys{byKID: map[string]*keyset.SigningKey{}}
	factory := keyset.NewFactory("EdDSA", 0)
	for i, kid := range kids {
		k, err := factory.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		k.KID = kid
		f.byKID[kid] = k
		if i == 0 {
			f.active = k
		}
	}
	return f
}

func (f *fakeKeys) Active() (*keyset.SigningKey, error) {
	if f.active == nil {
		return nil, keyset.ErrNoActiveKey
	}
	cp := *f.active
	return &cp, nil
}

func (f *fakeKeys) ByKID(kid string) (*keyset.SigningKey, error) {
	k, ok := f.byKID[kid]
	if !ok {
		return nil, keyset.ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

// fakeRevocation is a scripted revocation checker.
type fakeRevocation struct {
	revoked map[string]bool
	err     error
}

func (f *fakeRevocation) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.revoked[jti], nil
}

func testConfig() Config {
	return Config{Issuer: "https://auth.example.com", Audience: "web-frontend", TTL: 30 * time.Minute}
}

func TestService_SignVerifyRoundtrip(t *testing.T) {
	keys := newFakeKeys(t, "kid-1")
	svc := NewService(testConfig(), keys, nil)
	ctx := context.Background()

	issued, err := svc.Sign(ctx, "user-42", map[string]any{"scope": "read"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if issued.KID != "kid-1" {
		t.Fatalf("expected kid-1, got %s", issued.KID)
	}
	if issued.TokenID == "" {
		t.Fatal("missing jti")
	}
	if !issued.ExpiresAt.Equal(issued.IssuedAt.Add(30 * time.Minute)) {
		t.Fatalf("unexpected expiry: iat=%v exp=%v", issued.IssuedAt, issued.ExpiresAt)
	}

	claims, err := svc.Verify(ctx, issued.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("subject lost: %s", claims.Subject)
	}
	if claims.TokenID != issued.TokenID {
		t.Fatalf("jti mismatch: %s vs %s", claims.TokenID, issued.TokenID)
	}
	if claims.Extra["scope"] != "read" {
		t.Fatalf("custom claim lost: %+v", claims.Extra)
	}
}

func TestService_SignRejectsEmptySubject(t *testing.T) {
	svc := NewService(testConfig(), newFakeKeys(t, "kid-1"), nil)
	if _, err := svc.Sign(context.Background(), "", nil); !errors.Is(err, ErrEmptySubject) {
		t.Fatalf("expected ErrEmptySubject, got %v", err)
	}
}

func TestService_SignRejectsReservedClaims(t *testing.T) {
	svc := NewService(testConfig(), newFakeKeys(t, "kid-1"), nil)
	for _, name := range []string{"sub", "iss", "aud", "iat", "exp", "jti"} {
		_, err := svc.Sign(context.Background(), "user-1", map[string]any{name: "x"})
		if !errors.Is(err, ErrReservedClaimCollision) {
			t.Fatalf("claim %s: expected ErrReservedClaimCollision, got %v", name, err)
		}
	}
}

func TestService_SignWithoutActiveKey(t *testing.T) {
	svc := NewService(testConfig(), &fakeKeys{byKID: map[string]*keyset.SigningKey{}}, nil)
	if _, err := svc.Sign(context.Background(), "user-1", nil); !errors.Is(err, keyset.ErrNoActiveKey) {
		t.Fatalf("expected ErrNoActiveKey, got %v", err)
	}
}

func TestService_VerifyMalformed(t *testing.T) {
	svc := NewService(testConfig(), newFakeKeys(t, "kid-1"), nil)
	for _, raw := range []string{"", "garbage", "a.b", "a.b.c.d", "!!!.@@@.###"} {
		if _, err := svc.Verify(context.Background(), raw); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("raw %q: expected ErrMalformedToken, got %v", raw, err)
		}
	}
}

func TestService_VerifyUnknownKID(t *testing.T) {
	keys := newFakeKeys(t, "kid-1")
	svc := NewService(testConfig(), keys, nil)
	ctx := context.Background()

	issued, err := svc.Sign(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Removing the key simulates a purged kid: indistinguishable from a kid
	// that never existed.
	delete(keys.byKID, "kid-1")
	if _, err := svc.Verify(ctx, issued.Token); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("expected ErrUnknownKey, got %v", err)
	}
}

func TestService_VerifyTamperedPayload(t *testing.T) {
	svc := NewService(testConfig(), newFakeKeys(t, "kid-1"), nil)
	ctx := context.Background()

	issued, err := svc.Sign(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Re-encode the payload with a different subject, keeping the original
	// signature. Structure stays valid; only the signature check can catch it.
	parts := strings.Split(issued.Token, ".")
	payload, err := jwtv5.NewParser().DecodeSegment(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	tampered := strings.Replace(string(payload), "user-1", "user-2", 1)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(tampered))

	if _, err := svc.Verify(ctx, strings.Join(parts, ".")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestService_VerifySignedByOtherKey(t *testing.T) {
	keysA := newFakeKeys(t, "kid-x")
	keysB := newFakeKeys(t, "kid-x") // same kid, different material
	svcA := NewService(testConfig(), keysA, nil)
	svcB := NewService(testConfig(), keysB, nil)
	ctx := context.Background()

	issued, err := svcA.Sign(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svcB.Verify(ctx, issued.Token); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestService_VerifyExpired(t *testing.T) {
	keys := newFakeKeys(t, "kid-1")
	svc := NewService(testConfig(), keys, nil)
	ctx := context.Background()

	issued, err := svc.Sign(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	if _, err := svc.Verify(ctx, issued.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestService_VerifyIssuerAndAudienceMismatch(t *testing.T) {
	keys := newFakeKeys(t, "kid-1")
	signer := NewService(testConfig(), keys, nil)
	ctx := context.Background()

	issued, err := signer.Sign(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	otherIss := testConfig()
	otherIss.Issuer = "https://other.example.com"
	if _, err := NewService(otherIss, keys, nil).Verify(ctx, issued.Token); !errors.Is(err, ErrIssuerMismatch) {
		t.Fatalf("expected ErrIssuerMismatch, got %v", err)
	}

	otherAud := testConfig()
	otherAud.Audience = "mobile-app"
	if _, err := NewService(otherAud, keys, nil).Verify(ctx, issued.Token); !errors.Is(err, ErrAudienceMismatch) {
		t.Fatalf("expected ErrAudienceMismatch, got %v", err)
	}
}

func TestService_VerifyRevoked(t *testing.T) {
	keys := newFakeKeys(t, "kid-1")
	rev := &fakeRevocation{revoked: map[string]bool{}}
	svc := NewService(testConfig(), keys, rev)
	ctx := context.Background()

	issued, err := svc.Sign(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	rev.revoked[issued.TokenID] = true
	if _, err := svc.Verify(ctx, issued.Token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}
}

func TestService_VerifyRevocationBackendDown(t *testing.T) {
	keys := newFakeKeys(t, "kid-1")
	rev := &fakeRevocation{err: errors.New("redis down")}
	svc := NewService(testConfig(), keys, rev)
	ctx := context.Background()

	issued, err := svc.Sign(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Verify(ctx, issued.Token); !errors.Is(err, ErrRevocationCheckFailed) {
		t.Fatalf("expected ErrRevocationCheckFailed, got %v", err)
	}
}

// Rotation grace window against the real store: a token signed with the old
// key keeps resolving that key after a rotation, so once its TTL passes the
// rejection is TokenExpired, never UnknownKey. New signatures pick up the
// promoted key immediately.
func TestService_RotationGraceWindow(t *testing.T) {
	store := keyset.NewStore(keyset.StoreConfig{
		OverlapWindow: 2 * time.Hour,
		MaxTokenTTL:   30 * time.Minute,
		MaxActiveKeys: 3,
	}, nil)
	factory := keyset.NewFactory("EdDSA", 0)
	ctx := context.Background()

	k0, err := factory.Generate()
	if err != nil {
		t.Fatalf("generate k0: %v", err)
	}
	if err := store.Promote(ctx, k0); err != nil {
		t.Fatalf("promote k0: %v", err)
	}

	svc := NewService(testConfig(), store, nil)
	t0 := time.Now().UTC()
	svc.now = func() time.Time { return t0 }

	issued0, err := svc.Sign(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("sign t0: %v", err)
	}
	if issued0.KID != k0.KID {
		t.Fatalf("expected %s, got %s", k0.KID, issued0.KID)
	}

	// Rotate at t0+61m.
	k1, err := factory.Generate()
	if err != nil {
		t.Fatalf("generate k1: %v", err)
	}
	if err := store.Promote(ctx, k1); err != nil {
		t.Fatalf("promote k1: %v", err)
	}

	// At t0+65m the old token is past its 30m TTL but its key is still
	// resolvable (retiring): the rejection must be expiry.
	svc.now = func() time.Time { return t0.Add(65 * time.Minute) }
	if _, err := svc.Verify(ctx, issued0.Token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	issued1, err := svc.Sign(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("sign after rotation: %v", err)
	}
	if issued1.KID != k1.KID {
		t.Fatalf("new token must use the promoted key, got %s", issued1.KID)
	}
	if _, err := svc.Verify(ctx, issued1.Token); err != nil {
		t.Fatalf("verify fresh token: %v", err)
	}
}

// An expired token with a tampered signature must report the signature, not
// the expiry: check order is structural.
func TestService_CheckOrderSignatureBeforeExpiry(t *testing.T) {
	keys := newFakeKeys(t, "kid-1")
	svc := NewService(testConfig(), keys, nil)
	ctx := context.Background()

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	issued, err := svc.Sign(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	svc.now = time.Now

	parts := strings.Split(issued.Token, ".")
	sig, err := jwtv5.NewParser().DecodeSegment(parts[2])
	if err != nil {
		t.Fatalf("decode sig: %v", err)
	}
	sig[0] ^= 0xff
	parts[2] = base64.RawURLEncoding.EncodeToString(sig)

	if _, err := svc.Verify(ctx, strings.Join(parts, ".")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature before ErrTokenExpired, got %v", err)
	}
}
