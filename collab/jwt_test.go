package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

func TestParseClientAuthUnverified(t *testing.T) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"username": "ashe",
	})
	signed, err := token.SignedString([]byte("external-secret"))
	assert.Equal(t, err, nil)

	// the signature is never checked, only the claims are read
	auth, err := ParseClientAuthUnverified(signed)
	assert.Equal(t, err, nil)
	assert.Equal(t, auth.Username, "ashe")

	_, err = ParseClientAuthUnverified("not a token")
	assert.NotEqual(t, err, nil)
}
