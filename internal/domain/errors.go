package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTokenExpired       = errors.New("auth token expired")
	ErrAddressMismatch    = errors.New("auth token subject does not match wallet address")
	ErrNoProof            = errors.New("wallet could not sign the proof")
	ErrWSDisconnect       = errors.New("websocket disconnected")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrLockHeld           = errors.New("lock held")
	ErrRateLimited        = errors.New("rate limited")
)
