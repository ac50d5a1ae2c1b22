package clients

import "errors"

var (
	ErrNotFound           = errors.New("client not found")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrInvalidRedirectURI = errors.New("redirect uri not allowed")
)
