// Package auth resolves the caller identity for a request.  Token
// issuance, password handling, and key encryption live outside this
// service; all the core needs per request is either nothing (anonymous) or
// an account id with a usable model API key.
package auth

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"docongo/pkg/errs"
)

// Account identifies an authenticated caller together with that account's
// stored model API key.
type Account struct {
	ID     string
	APIKey string
}

// Resolver turns an HTTP request into an optional account.  A nil account
// with a nil error means the caller is anonymous; an invalid credential is
// an errs.ErrAuth.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (*Account, error)
}

// ValidKeyFormat performs the cheap sanity check on a Gemini-style API key
// before it is ever sent to the provider.
func ValidKeyFormat(key string) bool {
	return strings.HasPrefix(key, "AIza") && len(key) >= 30
}

// bearerToken extracts the bearer credential, or "" when absent.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// TokenResolver looks bearer tokens up in the api_tokens table.
type TokenResolver struct {
	DB *sql.DB
}

// NewTokenResolver wraps an existing sql.DB.
func NewTokenResolver(db *sql.DB) *TokenResolver { return &TokenResolver{DB: db} }

func (t *TokenResolver) Resolve(ctx context.Context, r *http.Request) (*Account, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	var account Account
	err := t.DB.QueryRowContext(ctx,
		`SELECT account_id, api_key FROM api_tokens WHERE token = $1`, token,
	).Scan(&account.ID, &account.APIKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrap(errs.ErrAuth, "unknown token")
		}
		return nil, errors.Wrap(err, "resolve token")
	}
	return &account, nil
}

// StaticResolver resolves tokens from a fixed map.  Used by tests and the
// no-database development mode.
type StaticResolver struct {
	Tokens map[string]Account
}

func (s *StaticResolver) Resolve(_ context.Context, r *http.Request) (*Account, error) {
	token := bearerToken(r)
	if token == "" {
		return nil, nil
	}
	account, ok := s.Tokens[token]
	if !ok {
		return nil, errors.Wrap(errs.ErrAuth, "unknown token")
	}
	return &account, nil
}
