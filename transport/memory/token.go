package memory

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmcleod/ironkey/internal/uuid"
	"github.com/jmcleod/ironkey/transport"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims carry the account and the credential generation the token was
// issued under.
type Claims struct {
	jwt.RegisteredClaims
	TokenType  string `json:"typ"`
	Generation int    `json:"gen"`
}

func (b *Backend) signToken(acct *account, tokenType string, ttl time.Duration) (string, error) {
	now := b.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.username,
			ID:        uuid.New(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TokenType:  tokenType,
		Generation: acct.generation,
	})
	return token.SignedString(b.signingKey)
}

func (b *Backend) issueTokens(acct *account) (transport.Tokens, error) {
	access, err := b.signToken(acct, tokenTypeAccess, b.tokenTTL)
	if err != nil {
		return transport.Tokens{}, fmt.Errorf("signing access token: %w", err)
	}
	refresh, err := b.signToken(acct, tokenTypeRefresh, b.refreshTTL)
	if err != nil {
		return transport.Tokens{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return transport.Tokens{AccessToken: access, RefreshToken: refresh}, nil
}

func (b *Backend) parseToken(raw, tokenType string) (*Claims, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: missing token", transport.ErrUnauthorized)
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return b.signingKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(b.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", transport.ErrUnauthorized, err)
	}
	if !token.Valid || claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: invalid token", transport.ErrUnauthorized)
	}
	return claims, nil
}
