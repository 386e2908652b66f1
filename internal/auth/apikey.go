package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const HeaderAPIKey = "X-Api-Key"

// Principal is the identity bound to an accepted API key.
type Principal struct {
	Scopes       []string
	AllowedCIDRs []netip.Prefix
}

func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

func (p *Principal) allowsAddr(addr netip.Addr) bool {
	if len(p.AllowedCIDRs) == 0 {
		return true
	}
	for _, prefix := range p.AllowedCIDRs {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Verifier resolves presented API keys to principals. Keys are stored only
// as SHA-256 digests.
type Verifier struct {
	byHash map[string]*Principal
}

// NewVerifier parses semicolon-separated entries of the form
// key[:scope1|scope2[:cidr1|cidr2]]. An empty spec yields a verifier that
// rejects everything.
func NewVerifier(spec string) (*Verifier, error) {
	v := &Verifier{byHash: make(map[string]*Principal)}

	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		key := strings.TrimSpace(parts[0])
		if key == "" {
			return nil, fmt.Errorf("api key entry has empty key")
		}

		principal := &Principal{}
		if len(parts) > 1 {
			for _, scope := range strings.Split(parts[1], "|") {
				if scope = strings.TrimSpace(scope); scope != "" {
					principal.Scopes = append(principal.Scopes, scope)
				}
			}
		}
		if len(principal.Scopes) == 0 {
			principal.Scopes = []string{"*"}
		}
		if len(parts) > 2 {
			for _, raw := range strings.Split(parts[2], "|") {
				raw = strings.TrimSpace(raw)
				if raw == "" {
					continue
				}
				prefix, err := netip.ParsePrefix(raw)
				if err != nil {
					return nil, fmt.Errorf("invalid cidr %q: %w", raw, err)
				}
				principal.AllowedCIDRs = append(principal.AllowedCIDRs, prefix)
			}
		}

		v.byHash[hashKey(key)] = principal
	}

	return v, nil
}

// Enabled reports whether any keys are configured. With none, the
// middleware is a pass-through so local runs need no key setup.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.byHash) > 0
}

// Verify returns the principal for a presented key, or nil if unknown.
func (v *Verifier) Verify(presented string) *Principal {
	if v == nil {
		return nil
	}

	presentedHash := hashKey(strings.TrimSpace(presented))
	for storedHash, principal := range v.byHash {
		if subtle.ConstantTimeCompare([]byte(storedHash), []byte(presentedHash)) == 1 {
			return principal
		}
	}
	return nil
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Middleware authenticates requests by API key and source address. When no
// keys are configured it lets everything through.
func Middleware(verifier *Verifier, requiredScope string, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if !verifier.Enabled() {
			return c.Next()
		}

		principal := verifier.Verify(c.Get(HeaderAPIKey))
		if principal == nil {
			logger.Warn("rejected request: unknown api key",
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			return fiber.NewError(fiber.StatusUnauthorized, "invalid api key")
		}

		if addr, err := netip.ParseAddr(c.IP()); err == nil {
			if !principal.allowsAddr(addr) {
				logger.Warn("rejected request: source address not allowed",
					zap.String("path", c.Path()),
					zap.String("ip", c.IP()),
				)
				return fiber.NewError(fiber.StatusForbidden, "source address not allowed")
			}
		}

		if requiredScope != "" && !principal.HasScope(requiredScope) {
			return fiber.NewError(fiber.StatusForbidden, "missing required scope")
		}

		return c.Next()
	}
}
