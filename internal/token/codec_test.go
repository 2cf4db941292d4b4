package token

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

func signRaw(t *testing.T, header, payload map[string]any, priv ed25519.PrivateKey) string {
	t.Helper()
	h, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	p, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	input := base64.RawURLEncoding.EncodeToString(h) + "." + base64.RawURLEncoding.EncodeToString(p)
	sig := ed25519.Sign(priv, []byte(input))
	return input + "." + base64.RawURLEncoding.EncodeToString(sig)
}

func validPayload() map[string]any {
	now := time.Now().Unix()
	return map[string]any{
		"sub": "user-1",
		"iss": "https://auth.example.com",
		"aud": "web-frontend",
		"iat": now,
		"exp": now + 1800,
		"jti": "jti-1",
	}
}

func TestDecode_ValidToken(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	payload := validPayload()
	payload["scope"] = "read write"
	raw := signRaw(t, map[string]any{"alg": "EdDSA", "typ": "JWT", "kid": "kid-1"}, payload, priv)

	dec, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Header.KID != "kid-1" || dec.Header.Alg != "EdDSA" {
		t.Fatalf("unexpected header: %+v", dec.Header)
	}
	if dec.Claims.Subject != "user-1" || dec.Claims.TokenID != "jti-1" {
		t.Fatalf("unexpected claims: %+v", dec.Claims)
	}
	if dec.Claims.Extra["scope"] != "read write" {
		t.Fatalf("extra claim lost: %+v", dec.Claims.Extra)
	}
	if dec.Method != jwtv5.SigningMethodEdDSA {
		t.Fatalf("unexpected method: %v", dec.Method)
	}
	// SigningInput + Signature must allow manual verification.
	pub := priv.Public().(ed25519.PublicKey)
	if !ed25519.Verify(pub, []byte(dec.SigningInput), dec.Signature) {
		t.Fatal("signing input or signature corrupted by decode")
	}
}

func TestDecode_MissingKID(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	raw := signRaw(t, map[string]any{"alg": "EdDSA", "typ": "JWT"}, validPayload(), priv)
	if _, err := Decode(raw); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken, got %v", err)
	}
}

func TestDecode_UnknownAlg(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	raw := signRaw(t, map[string]any{"alg": "XX999", "typ": "JWT", "kid": "kid-1"}, validPayload(), priv)
	if _, err := Decode(raw); !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected ErrMalformedToken, got %v", err)
	}
}

func TestDecode_MissingRequiredClaims(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	for _, drop := range []string{"sub", "iss", "aud", "iat", "exp", "jti"} {
		payload := validPayload()
		delete(payload, drop)
		raw := signRaw(t, map[string]any{"alg": "EdDSA", "typ": "JWT", "kid": "kid-1"}, payload, priv)
		if _, err := Decode(raw); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("without %s: expected ErrMalformedToken, got %v", drop, err)
		}
	}
}

func TestDecode_WrongClaimTypes(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	cases := map[string]any{
		"sub": 42,
		"exp": "mañana",
		"aud": []string{"a", "b"},
	}
	for name, v := range cases {
		payload := validPayload()
		payload[name] = v
		raw := signRaw(t, map[string]any{"alg": "EdDSA", "typ": "JWT", "kid": "kid-1"}, payload, priv)
		if _, err := Decode(raw); !errors.Is(err, ErrMalformedToken) {
			t.Fatalf("%s=%v: expected ErrMalformedToken, got %v", name, v, err)
		}
	}
}

func TestReason_Labels(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrMalformedToken, "malformed"},
		{ErrUnknownKey, "unknown_key"},
		{ErrInvalidSignature, "invalid_signature"},
		{ErrTokenExpired, "expired"},
		{ErrIssuerMismatch, "issuer_mismatch"},
		{ErrAudienceMismatch, "audience_mismatch"},
		{ErrTokenRevoked, "revoked"},
		{ErrRevocationCheckFailed, "revocation_check_failed"},
		{errors.New("boom"), "internal"},
	}
	for _, c := range cases {
		if got := Reason(c.err); got != c.want {
			t.Fatalf("Reason(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestIsReservedClaim(t *testing.T) {
	for _, name := range []string{"sub", "iss", "aud", "iat", "exp", "jti"} {
		if !IsReservedClaim(name) {
			t.Fatalf("%s should be reserved", name)
		}
	}
	if IsReservedClaim("scope") {
		t.Fatal("scope should not be reserved")
	}
}
