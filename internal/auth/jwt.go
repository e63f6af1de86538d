package auth

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HostClaims are carried by a host token. The token ID (jti) is a random nonce whose
// bcrypt hash is stored with the sanctuary, so a token only works for the sanctuary
// that issued it.
type HostClaims struct {
	SanctuaryID string `json:"sid"`
	jwt.RegisteredClaims
}

// JWTConfig holds host token configuration.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// GenerateHostToken signs a host token for sanctuaryID issued at now.
func GenerateHostToken(cfg *JWTConfig, sanctuaryID, nonce string, now time.Time) (string, error) {
	claims := HostClaims{
		SanctuaryID: sanctuaryID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Subject:   sanctuaryID,
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(cfg.Secret)
}

// ValidateHostToken parses and validates a host token against the time reported by now.
func ValidateHostToken(cfg *JWTConfig, tokenString string, now func() time.Time) (*HostClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if now != nil {
		opts = append(opts, jwt.WithTimeFunc(now))
	}

	token, err := jwt.ParseWithClaims(tokenString, &HostClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*HostClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	// Validate issuer and audience if configured
	if cfg.Issuer != "" && claims.Issuer != cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer")
	}
	if cfg.Audience != "" && !slices.Contains(claims.Audience, cfg.Audience) {
		return nil, fmt.Errorf("invalid audience")
	}
	if claims.SanctuaryID == "" || claims.ID == "" {
		return nil, fmt.Errorf("token has no sanctuary or nonce")
	}

	return claims, nil
}
