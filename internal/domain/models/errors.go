package models

import "errors"

var (
	ErrConfig               = errors.New("configuration error")
	ErrUnknownAsset         = errors.New("unknown asset")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrSessionExpired       = errors.New("session expired")
	ErrNotConnected         = errors.New("transport not connected")
	ErrPlaceTimeout         = errors.New("timeout")
)
