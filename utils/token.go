package utils

import (
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// JwtCustomClaim carries the caller identity issued by the session provider.
type JwtCustomClaim struct {
	BusinessId string   `json:"business_id"`
	UserId     int      `json:"user_id"`
	UserName   string   `json:"user_name"`
	Role       string   `json:"role"`
	Grants     []string `json:"grants,omitempty"`
	jwt.StandardClaims
}

func JwtGenerate(secret []byte, claim JwtCustomClaim, lifespan time.Duration) (string, error) {
	now := time.Now()
	claim.StandardClaims = jwt.StandardClaims{
		ExpiresAt: now.Add(lifespan).Unix(),
		IssuedAt:  now.Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &claim)
	return t.SignedString(secret)
}

func JwtValidate(secret []byte, token string) (*JwtCustomClaim, error) {
	parsed, err := jwt.ParseWithClaims(token, &JwtCustomClaim{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("there's a problem with the signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claim, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claim, nil
}
