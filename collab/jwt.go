package collab

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// identity claims presented by a connecting client. The token is issued
// by an external authentication service; it is only parsed here, never
// verified or minted.
type ClientAuth struct {
	Username string
	ClientId Id
}

func ParseClientAuthUnverified(jwt string) (*ClientAuth, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	auth := &ClientAuth{}
	if username, ok := claims["username"]; ok {
		if usernameStr, ok := username.(string); ok {
			auth.Username = usernameStr
		}
	}
	if clientIdStr, ok := claims["client_id"]; ok {
		if str, ok := clientIdStr.(string); ok {
			if clientId, err := ParseId(str); err == nil {
				auth.ClientId = clientId
			}
		}
	}
	return auth, nil
}
