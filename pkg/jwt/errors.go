package jwt

import "errors"

var (
	ErrInvalidToken     = errors.New("jwt: invalid token")
	ErrExpiredToken     = errors.New("jwt: token is expired")
	ErrMissingKey       = errors.New("jwt: missing verification key")
	ErrInvalidKey       = errors.New("jwt: invalid verification key")
	ErrMissingSubject   = errors.New("jwt: token has no subject")
	ErrSigningForbidden = errors.New("jwt: signing requires a shared secret")
	ErrNoToken          = errors.New("jwt: no token in request")
)
