package auth

import (
	"github.com/golang-jwt/jwt/v4"
)

// EmailFromIDToken extracts the email claim from an id_token without
// verifying the signature. The value is a display hint only; account identity
// is confirmed through the usage APIs.
func EmailFromIDToken(idToken string) string {
	if idToken == "" {
		return ""
	}
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	if email, ok := claims["email"].(string); ok {
		return email
	}
	return ""
}
