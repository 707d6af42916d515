// Package auth implements the shared-secret gate in front of the
// command endpoint. The gate fails closed: a missing service-side
// credential is a startup-fatal condition, never an open door.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/factgate/factgate/internal/model"
)

// ErrNoCredential means no service-side secret could be resolved at
// startup. Callers must treat this as fatal; the service never runs
// unauthenticated.
var ErrNoCredential = errors.New("auth: no service credential configured")

// Gate checks presented credentials against the configured secret.
type Gate struct {
	secret []byte
}

// Load resolves the service secret, environment variable first, then
// the secret file. Whitespace around a file-sourced secret is
// trimmed. Returns ErrNoCredential when neither source yields a
// non-empty value.
func Load(secretEnv, secretFile string) (*Gate, error) {
	if secretEnv != "" {
		if v := os.Getenv(secretEnv); v != "" {
			return &Gate{secret: []byte(v)}, nil
		}
	}
	if secretFile != "" {
		data, err := os.ReadFile(secretFile)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, ErrNoCredential
			}
			return nil, fmt.Errorf("auth: read secret file: %w", err)
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			return &Gate{secret: []byte(v)}, nil
		}
	}
	return nil, ErrNoCredential
}

// NewGate builds a gate from a literal secret, for tests and embedding.
func NewGate(secret string) (*Gate, error) {
	if secret == "" {
		return nil, ErrNoCredential
	}
	return &Gate{secret: []byte(secret)}, nil
}

// Verify checks a presented credential in constant time. Missing and
// mismatched credentials return the same error so the caller cannot
// distinguish them.
func (g *Gate) Verify(presented string) error {
	if presented == "" {
		return model.ErrAuthorization
	}
	if subtle.ConstantTimeCompare(g.secret, []byte(presented)) != 1 {
		return model.ErrAuthorization
	}
	return nil
}

// FromHeader extracts the credential from an Authorization header
// value, accepting both "Bearer <token>" and a bare token.
func FromHeader(header string) string {
	header = strings.TrimSpace(header)
	if v, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return header
}
