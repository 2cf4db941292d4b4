package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticJWKS struct {
	body []byte
	etag string
	err  error
}

func (s *staticJWKS) JSON() ([]byte, string, error) { return s.body, s.etag, s.err }

func TestJWKSHandler_ServesDocumentWithETag(t *testing.T) {
	src := &staticJWKS{body: []byte(`{"keys":[]}`), etag: `"abc123"`}
	h := NewJWKSHandler(src)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if got := rec.Header().Get("ETag"); got != `"abc123"` {
		t.Fatalf("etag: %s", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Fatalf("content-type: %s", got)
	}
	if rec.Body.String() != `{"keys":[]}` {
		t.Fatalf("body: %s", rec.Body.String())
	}
}

func TestJWKSHandler_NotModifiedOnMatchingETag(t *testing.T) {
	src := &staticJWKS{body: []byte(`{"keys":[]}`), etag: `"abc123"`}
	h := NewJWKSHandler(src)

	req := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	req.Header.Set("If-None-Match", `"abc123"`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotModified {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("304 must have empty body, got %s", rec.Body.String())
	}
}

func TestJWKSHandler_InternalError(t *testing.T) {
	src := &staticJWKS{err: errors.New("boom")}
	rec := httptest.NewRecorder()
	NewJWKSHandler(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestReadyzHandler(t *testing.T) {
	ok := ReadyChecker{Name: "keyset", Check: func(context.Context) error { return nil }}
	bad := ReadyChecker{Name: "revocation", Check: func(context.Context) error { return errors.New("down") }}

	rec := httptest.NewRecorder()
	NewReadyzHandler(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("all-ok readyz: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewReadyzHandler(ok, bad).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded readyz: %d", rec.Code)
	}
}
