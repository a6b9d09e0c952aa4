// Package secrets resolves the upstream host/credential pair the daemon
// authenticates with, memoizing each lookup for the life of the process
// and never logging raw secret material — only a blake2b fingerprint of
// it, following a JWT-assertion signing idiom common in this codebase.
package secrets

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"
)

// HostLookup resolves the upstream's base URL when it is not pinned in
// the config file's [shotgun] server option. It is an interface so the
// concrete secret-store (AWS SSM, Vault, etc.) is pluggable.
type HostLookup interface {
	LookupHost() (string, error)
}

// SecretLookup resolves a named secret's current value, keyed by script
// name.
type SecretLookup interface {
	LookupSecret(name string) (string, error)
}

// Cache memoizes host/secret lookups for the process lifetime: the
// upstream credentials do not rotate mid-run, and repeated secret-store
// round trips on every poll iteration would be wasteful and noisy.
type Cache struct {
	hosts   HostLookup
	secrets SecretLookup

	mu         sync.Mutex
	hostOnce   sync.Once
	hostVal    string
	hostErr    error
	secretOnce map[string]*onceResult
}

type onceResult struct {
	once sync.Once
	val  string
	err  error
}

// NewCache builds a Cache over the given lookups. Either may be nil if the
// daemon is configured to never need that fallback (e.g. server and key
// are both pinned in the config file).
func NewCache(hosts HostLookup, secrets SecretLookup) *Cache {
	return &Cache{hosts: hosts, secrets: secrets, secretOnce: make(map[string]*onceResult)}
}

// Host returns the cached upstream host, resolving it on first call.
func (c *Cache) Host() (string, error) {
	c.hostOnce.Do(func() {
		if c.hosts == nil {
			c.hostErr = fmt.Errorf("secrets: no host lookup configured")
			return
		}
		c.hostVal, c.hostErr = c.hosts.LookupHost()
	})
	return c.hostVal, c.hostErr
}

// Secret returns the cached secret value for name, resolving it on first
// call for that name.
func (c *Cache) Secret(name string) (string, error) {
	c.mu.Lock()
	r, ok := c.secretOnce[name]
	if !ok {
		r = &onceResult{}
		c.secretOnce[name] = r
	}
	c.mu.Unlock()

	r.once.Do(func() {
		if c.secrets == nil {
			r.err = fmt.Errorf("secrets: no secret lookup configured")
			return
		}
		r.val, r.err = c.secrets.LookupSecret(name)
	})
	return r.val, r.err
}

// Fingerprint returns a short, stable, non-reversible identifier for a
// secret value suitable for inclusion in log lines — never log the raw
// value itself.
func Fingerprint(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:8])
}

// AssertionSigner signs short-lived JWT assertions proving possession of
// the engine script key, for upstream APIs that accept signed assertions
// instead of a bare shared secret, narrowed to the ES256 case the daemon
// needs.
type AssertionSigner struct {
	key     *ecdsa.PrivateKey
	issuer  string
	subject string
}

// NewAssertionSigner generates a fresh ES256 key pair for this process and
// returns a signer that stamps the given issuer/subject into every
// assertion it mints.
func NewAssertionSigner(issuer, subject string) (*AssertionSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to generate assertion key: %w", err)
	}
	return &AssertionSigner{key: key, issuer: issuer, subject: subject}, nil
}

// Assert mints a signed JWT valid for ttl, with the given script name
// embedded as the "script" claim.
func (s *AssertionSigner) Assert(scriptName string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":    s.issuer,
		"sub":    s.subject,
		"script": scriptName,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	return token.SignedString(s.key)
}

// Verify checks a previously minted assertion and returns its claims.
func (s *AssertionSigner) Verify(token string) (jwt.MapClaims, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return &s.key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("secrets: invalid assertion")
	}
	return claims, nil
}

// ResolveKey implements the fallback rule for the engine script key: the
// secret-store fallback is gated on presence of the config file's "key"
// option, not "server". If key is present and non-empty, it is used
// directly; if key is present but empty, or absent entirely, the
// behaviour differs only in whether a fallback lookup is attempted at
// all: present-but-empty triggers the fallback, absent does not.
func ResolveKey(keyPresent bool, keyValue string, scriptName string, cache *Cache) (string, error) {
	if !keyPresent {
		return "", fmt.Errorf("secrets: no key option configured for script %s", scriptName)
	}
	if keyValue != "" {
		return keyValue, nil
	}
	return cache.Secret(scriptName)
}
