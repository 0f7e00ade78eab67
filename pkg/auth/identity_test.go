package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"convo/pkg/config"
)

func sign(key, userID string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func echoUser() (http.Handler, *string) {
	var got string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return h, &got
}

func TestSignedUserAccepted(t *testing.T) {
	config.SetSigningKeys(map[string]struct{}{"secret-key": {}})
	t.Cleanup(func() { config.SetSigningKeys(nil) })

	inner, got := echoUser()
	h := RequireSignedUser(inner)

	req := httptest.NewRequest("GET", "/v1/conversations", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Signature", sign("secret-key", "alice"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *got != "alice" {
		t.Fatalf("context user = %q, want alice", *got)
	}
}

func TestBadSignatureRejected(t *testing.T) {
	config.SetSigningKeys(map[string]struct{}{"secret-key": {}})
	t.Cleanup(func() { config.SetSigningKeys(nil) })

	inner, _ := echoUser()
	h := RequireSignedUser(inner)

	req := httptest.NewRequest("GET", "/v1/conversations", nil)
	req.Header.Set("X-User-ID", "alice")
	req.Header.Set("X-User-Signature", sign("wrong-key", "alice"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestMissingHeadersRejected(t *testing.T) {
	config.SetSigningKeys(map[string]struct{}{"secret-key": {}})
	t.Cleanup(func() { config.SetSigningKeys(nil) })

	inner, _ := echoUser()
	h := RequireSignedUser(inner)

	req := httptest.NewRequest("GET", "/v1/conversations", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestBackendRoleSkipsSignature(t *testing.T) {
	inner, got := echoUser()
	h := RequireSignedUser(inner)

	req := httptest.NewRequest("GET", "/v1/conversations", nil)
	req.Header.Set("X-Role-Name", "backend")
	req.Header.Set("X-User-ID", "service-user")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if *got != "service-user" {
		t.Fatalf("context user = %q, want service-user", *got)
	}
}
