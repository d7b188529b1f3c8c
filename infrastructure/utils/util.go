package utils

import (
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/logger"

	"github.com/golang-jwt/jwt"
)

func GetCurrentTime() time.Time {
	return time.Now().UTC()
}

// GenerateServiceToken signs an HS256 token the publish API accepts for service.
// A non-positive ttl yields a token without expiry.
func GenerateServiceToken(service, secretKey string, ttl time.Duration) (string, error) {
	now := GetCurrentTime()
	claims := model.ServiceClaims{
		Service:        service,
		StandardClaims: jwt.StandardClaims{Subject: service, IssuedAt: now.Unix()},
	}
	if ttl > 0 {
		claims.ExpiresAt = now.Add(ttl).Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secretKey))
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while generate token")
		return "", err
	}
	return token, nil
}
