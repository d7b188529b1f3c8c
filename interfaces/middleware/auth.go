package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"publish-pipeline/domain/dto"
	"publish-pipeline/domain/model"
	"publish-pipeline/infrastructure/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
)

const ServiceKey = "service"

// Auth accepts HS256 bearer tokens signed with secretKey and stores the calling service name.
func Auth(secretKey string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		res := dto.Res{ResponseCode: "401", ResponseMessage: "Unauthorized"}
		authorization := ctx.Request.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(authorization, "Bearer ")
		if !ok || raw == "" || secretKey == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, res)
			return
		}
		claims, token, err := getClaim(raw, secretKey)
		if err != nil || token == nil || !token.Valid {
			res.ResponseMessage = reason(err)
			logger.GetLogger().WithField("reason", res.ResponseMessage).Warn("service token rejected")
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, res)
			return
		}
		service := claims.Service
		if service == "" {
			service = claims.Subject
		}
		ctx.Set(ServiceKey, service)
		ctx.Next()
	}
}

func reason(err error) string {
	var ve *jwt.ValidationError
	if errors.As(err, &ve) {
		switch {
		case ve.Errors&jwt.ValidationErrorMalformed != 0:
			return "That's not even a token"
		case ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0:
			return "Timing is everything"
		}
		return fmt.Sprintf("Couldn't handle this token:%v", err)
	}
	return "Unauthorized"
}

func getClaim(raw, secretKey string) (model.ServiceClaims, *jwt.Token, error) {
	var claims model.ServiceClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	})
	return claims, token, err
}
