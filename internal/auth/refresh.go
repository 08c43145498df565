package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net"
	"time"

	"chathub/internal/models"

	"github.com/google/uuid"
)

const refreshTokenTTL = 7 * 24 * time.Hour

// CreateRefreshToken mints an opaque refresh token. The raw value goes to the
// client; only the sha256 of it is persisted.
func CreateRefreshToken(userID uuid.UUID, userAgent, ip string) (string, *models.RefreshToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}

	tokenString := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(tokenString))

	model := &models.RefreshToken{
		ID:          uuid.New(),
		UserID:      userID,
		TokenHashed: hex.EncodeToString(sum[:]),
		UserAgent:   userAgent,
		ClientIP:    net.ParseIP(ip),
		ExpiresAt:   time.Now().Add(refreshTokenTTL),
		CreatedAt:   time.Now(),
	}

	return tokenString, model, nil
}

// HashRefreshToken maps a raw refresh token to its stored lookup key.
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
