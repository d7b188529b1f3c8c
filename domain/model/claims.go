package model

import "github.com/golang-jwt/jwt"

// ServiceClaims identify the internal service calling the publish API.
type ServiceClaims struct {
	Service string `json:"service"`
	jwt.StandardClaims
}
