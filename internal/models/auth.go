package models

import "github.com/golang-jwt/jwt/v5"

type Claims struct {
	jwt.RegisteredClaims
	Id     string `json:"id"`
	UserID string `json:"user_id"`
}
