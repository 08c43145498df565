package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verifier is what the socket layer needs from auth: turn a credential
// token into a stable user identity, or fail.
type Verifier interface {
	VerifyIdentity(token string) (uuid.UUID, error)
}

type CustomClaims struct {
	UserID      uuid.UUID `json:"user_id"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	key []byte
}

func NewService(key string) *Service {
	if key == "" {
		log.Printf("[AUTH] WARNING: signing key is empty")
	}
	return &Service{key: []byte(key)}
}

func GenerateFingerprint(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "|" + userAgent))
	return hex.EncodeToString(sum[:])
}

func (s *Service) GenerateToken(userId uuid.UUID, userAgent, ip string) (string, error) {
	expiresAt := time.Now().Add(15 * time.Minute)

	claims := &CustomClaims{
		UserID:      userId,
		Fingerprint: GenerateFingerprint(ip, userAgent),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "chathub",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(s.key)
	if err != nil {
		log.Printf("[AUTH] ERROR: Failed to sign token for user %s: %v", userId, err)
		return "", err
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.key, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

// VerifyIdentity validates a token presented as a socket identity assertion.
// Fingerprint is not checked here: the socket may reach us over a different
// proxy hop than the HTTP login did, so only signature and expiry bind it.
func (s *Service) VerifyIdentity(tokenString string) (uuid.UUID, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	if claims.UserID == uuid.Nil {
		return uuid.Nil, errors.New("token carries no user id")
	}
	return claims.UserID, nil
}
