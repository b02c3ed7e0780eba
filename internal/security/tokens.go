package security

import (
	"context"
	"errors"
	"strings"
)

// ErrNoToken is returned when no bearer token is available for the session.
var ErrNoToken = errors.New("no session token")

// TokenSource supplies the bearer token used to sign storage keys.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// TokenFunc adapts a function to the TokenSource interface.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// FromBearerHeader extracts the token from an Authorization header value.
// Returns nil when the header does not carry a bearer token.
func FromBearerHeader(header string) TokenSource {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return nil
	}
	return StaticToken(token)
}

// Fallback returns a TokenSource that tries primary first and then secondary.
// Nil sources are skipped.
func Fallback(primary, secondary TokenSource) TokenSource {
	if primary == nil {
		return secondary
	}
	if secondary == nil {
		return primary
	}
	return TokenFunc(func(ctx context.Context) (string, error) {
		token, err := primary.Token(ctx)
		if err == nil && token != "" {
			return token, nil
		}
		return secondary.Token(ctx)
	})
}
