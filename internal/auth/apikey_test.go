package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func TestVerifierParsesEntries(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier("alpha-key:transfers|batches:10.0.0.0/8; beta-key")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}
	if !v.Enabled() {
		t.Fatal("verifier should be enabled")
	}

	p := v.Verify("alpha-key")
	if p == nil {
		t.Fatal("alpha-key should resolve to a principal")
	}
	if !p.HasScope("transfers") || !p.HasScope("batches") {
		t.Errorf("scopes = %v, want transfers and batches", p.Scopes)
	}
	if p.HasScope("admin") {
		t.Error("alpha-key should not have admin scope")
	}

	wildcard := v.Verify("beta-key")
	if wildcard == nil {
		t.Fatal("beta-key should resolve to a principal")
	}
	if !wildcard.HasScope("anything") {
		t.Error("key with no scopes should get the wildcard scope")
	}

	if v.Verify("unknown") != nil {
		t.Error("unknown key should not resolve")
	}
}

func TestVerifierRejectsInvalidCIDR(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier("key:scope:not-a-cidr"); err == nil {
		t.Fatal("expected error for invalid cidr")
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier("")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	app := newTestApp(v, "")
	resp := doRequest(t, app, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestMiddlewareRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier("real-key")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	app := newTestApp(v, "")

	resp := doRequest(t, app, "wrong-key")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}

	resp = doRequest(t, app, "real-key")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestMiddlewareEnforcesScope(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier("reader-key:read")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	app := newTestApp(v, "write")
	resp := doRequest(t, app, "reader-key")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestMiddlewareEnforcesCIDR(t *testing.T) {
	t.Parallel()

	v, err := NewVerifier("locked-key:*:10.0.0.0/8")
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	// fiber app.Test requests arrive from 0.0.0.0, outside 10.0.0.0/8.
	app := newTestApp(v, "")
	resp := doRequest(t, app, "locked-key")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func newTestApp(v *Verifier, scope string) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(v, scope, zap.NewNop()))
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString("pong")
	})
	return app
}

func doRequest(t *testing.T, app *fiber.App, key string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if key != "" {
		req.Header.Set(HeaderAPIKey, key)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}
